package statemachine

import (
	"errors"
	"testing"
)

func TestHappyPathTransitions(t *testing.T) {
	sm := NewGenerationStateMachine()
	path := []GenerationStatus{
		StatusIdle,
		StatusGeneratingMetadata,
		StatusGeneratingDocs,
		StatusGeneratingConfig,
		StatusAwaitingConfirmation,
		StatusGeneratingCode,
		StatusAuditing,
		StatusInstalling,
		StatusDone,
	}
	for i := 0; i < len(path)-1; i++ {
		if !sm.CanTransition(path[i], path[i+1]) {
			t.Errorf("期望允许 %s -> %s", path[i], path[i+1])
		}
	}
}

func TestRepairLoopTransitions(t *testing.T) {
	sm := NewGenerationStateMachine()
	if !sm.CanTransition(StatusAuditing, StatusRepairing) {
		t.Error("auditing -> repairing 应当合法")
	}
	if !sm.CanTransition(StatusRepairing, StatusAuditing) {
		t.Error("repairing -> auditing 应当合法")
	}
	if !sm.CanTransition(StatusInstalling, StatusRepairing) {
		t.Error("installing -> repairing 应当合法")
	}
}

func TestRejectReturnsToIdle(t *testing.T) {
	sm := NewGenerationStateMachine()
	if !sm.CanTransition(StatusAwaitingConfirmation, StatusIdle) {
		t.Error("用户拒绝后应能回到 idle")
	}
	if !sm.CanTransition(StatusAwaitingConfirmation, StatusGeneratingMetadata) {
		t.Error("带反馈确认后应能回到 generating_metadata")
	}
}

func TestIllegalTransitions(t *testing.T) {
	sm := NewGenerationStateMachine()
	cases := []GenerationTransition{
		{StatusIdle, StatusGeneratingCode},
		{StatusGeneratingMetadata, StatusAuditing},
		{StatusDone, StatusAuditing},
		{StatusFailed, StatusGeneratingMetadata},
		{StatusAuditing, StatusAuditing},
		{StatusIdle, StatusFailed},
	}
	for _, c := range cases {
		if sm.CanTransition(c.From, c.To) {
			t.Errorf("不应允许 %s -> %s", c.From, c.To)
		}
	}
}

func TestAnyActiveStateCanFail(t *testing.T) {
	sm := NewGenerationStateMachine()
	for _, s := range []GenerationStatus{
		StatusGeneratingMetadata, StatusGeneratingDocs, StatusGeneratingConfig,
		StatusGeneratingCode, StatusAuditing, StatusRepairing, StatusInstalling,
	} {
		if !sm.CanTransition(s, StatusFailed) {
			t.Errorf("%s -> failed 应当合法", s)
		}
	}
}

func TestValidateTransitionErrorType(t *testing.T) {
	sm := NewGenerationStateMachine()
	err := sm.ValidateTransition(StatusDone, StatusIdle)
	if err == nil {
		t.Fatal("期望迁移被拒绝")
	}
	var invalid *InvalidStateTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("错误类型不符: %T", err)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []GenerationStatus{StatusIdle, StatusDone, StatusFailed} {
		if !IsTerminal(s) {
			t.Errorf("%s 应为终止态", s)
		}
	}
	for _, s := range []GenerationStatus{StatusAuditing, StatusAwaitingConfirmation, StatusInstalling} {
		if IsTerminal(s) {
			t.Errorf("%s 不应为终止态", s)
		}
		if !IsActive(s) {
			t.Errorf("%s 应占用生成槽位", s)
		}
	}
}
