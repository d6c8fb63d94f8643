package statemachine

import (
	"fmt"

	"k8s.io/klog/v2"
)

// GenerationStatus 定义插件生成任务的所有可能状态
type GenerationStatus string

const (
	StatusIdle                 GenerationStatus = "idle"                  // 空闲（初始态/重置态）
	StatusGeneratingMetadata   GenerationStatus = "generating_metadata"   // 生成元数据
	StatusGeneratingDocs       GenerationStatus = "generating_docs"       // 生成文档
	StatusGeneratingConfig     GenerationStatus = "generating_config"     // 生成配置文件
	StatusAwaitingConfirmation GenerationStatus = "awaiting_confirmation" // 等待用户确认
	StatusGeneratingCode       GenerationStatus = "generating_code"       // 生成插件代码
	StatusAuditing             GenerationStatus = "auditing"              // 静态审查
	StatusRepairing            GenerationStatus = "repairing"             // 修复代码
	StatusInstalling           GenerationStatus = "installing"            // 打包安装
	StatusDone                 GenerationStatus = "done"                  // 完成
	StatusFailed               GenerationStatus = "failed"                // 失败
)

// GenerationTransition 定义状态迁移
type GenerationTransition struct {
	From GenerationStatus
	To   GenerationStatus
}

// GenerationStateMachine 插件生成任务状态机
type GenerationStateMachine struct {
	allowedTransitions map[GenerationTransition]bool
}

// NewGenerationStateMachine 创建新的生成任务状态机
func NewGenerationStateMachine() *GenerationStateMachine {
	sm := &GenerationStateMachine{
		allowedTransitions: make(map[GenerationTransition]bool),
	}

	// 合法的状态迁移路径
	// idle -> generating_metadata -> generating_docs -> generating_config -> awaiting_confirmation
	// awaiting_confirmation -> generating_code（用户确认）/ idle（用户拒绝）
	// awaiting_confirmation -> awaiting_confirmation 由用户修改流程处理，不经过状态机
	// generating_code -> auditing -> (repairing <-> auditing)* -> installing -> done
	// 任何非终止状态 -> failed
	transitions := []GenerationTransition{
		{StatusIdle, StatusGeneratingMetadata},
		{StatusGeneratingMetadata, StatusGeneratingDocs},
		{StatusGeneratingDocs, StatusGeneratingConfig},
		{StatusGeneratingConfig, StatusAwaitingConfirmation},

		// 用户确认/拒绝
		{StatusAwaitingConfirmation, StatusGeneratingCode},
		{StatusAwaitingConfirmation, StatusIdle},
		// 确认后带反馈时会先重新生成元数据
		{StatusAwaitingConfirmation, StatusGeneratingMetadata},

		// 代码生成与审查循环
		{StatusGeneratingCode, StatusAuditing},
		{StatusAuditing, StatusRepairing},
		{StatusRepairing, StatusAuditing},
		{StatusAuditing, StatusInstalling},

		// 安装失败的日志会触发再次修复
		{StatusInstalling, StatusRepairing},
		{StatusInstalling, StatusDone},
	}
	for _, t := range transitions {
		sm.allowedTransitions[t] = true
	}

	// 除终止态外的任何状态都可以直接失败
	for _, s := range []GenerationStatus{
		StatusGeneratingMetadata, StatusGeneratingDocs, StatusGeneratingConfig,
		StatusAwaitingConfirmation, StatusGeneratingCode, StatusAuditing,
		StatusRepairing, StatusInstalling,
	} {
		sm.allowedTransitions[GenerationTransition{From: s, To: StatusFailed}] = true
	}

	return sm
}

// CanTransition 检查状态迁移是否合法
func (sm *GenerationStateMachine) CanTransition(from, to GenerationStatus) bool {
	if from == to {
		return false // 不允许状态不变
	}
	return sm.allowedTransitions[GenerationTransition{From: from, To: to}]
}

// ValidateTransition 验证状态迁移并返回错误
func (sm *GenerationStateMachine) ValidateTransition(from, to GenerationStatus) error {
	if !sm.CanTransition(from, to) {
		return &InvalidStateTransitionError{
			From: string(from),
			To:   string(to),
		}
	}
	return nil
}

// Transition 执行状态迁移（带日志）
func (sm *GenerationStateMachine) Transition(from, to GenerationStatus, taskID string) error {
	if err := sm.ValidateTransition(from, to); err != nil {
		klog.V(6).Infof("生成任务状态迁移被拒绝: taskID=%s, %s -> %s, error=%v",
			taskID, from, to, err)
		return err
	}

	klog.V(6).Infof("生成任务状态迁移成功: taskID=%s, %s -> %s", taskID, from, to)
	return nil
}

// InvalidStateTransitionError 无效的状态迁移错误
type InvalidStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid generation state transition: %s -> %s", e.From, e.To)
}

// IsTerminal 判断状态是否为终止态
func IsTerminal(status GenerationStatus) bool {
	return status == StatusDone || status == StatusFailed || status == StatusIdle
}

// IsActive 判断任务是否占用唯一的生成槽位
func IsActive(status GenerationStatus) bool {
	return !IsTerminal(status)
}
