package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsJob(t *testing.T) {
	r, err := New(2, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	done := make(chan struct{})
	if err := r.Submit("t1", func(ctx context.Context) {
		close(done)
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("任务未执行")
	}
}

func TestCancelStopsJob(t *testing.T) {
	r, err := New(1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	started := make(chan struct{})
	var canceled atomic.Bool
	if err := r.Submit("t1", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
	}); err != nil {
		t.Fatal(err)
	}
	<-started
	if !r.Cancel("t1") {
		t.Fatal("Cancel 应命中运行中的任务")
	}
	time.Sleep(100 * time.Millisecond)
	if !canceled.Load() {
		t.Error("任务 ctx 应已取消")
	}
	if r.Cancel("t1") {
		t.Error("任务结束后 Cancel 应返回 false")
	}
}

func TestSubmitAfterStop(t *testing.T) {
	r, err := New(1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	r.Stop()
	if err := r.Submit("t1", func(ctx context.Context) {}); err != ErrRunnerStopped {
		t.Errorf("期望 ErrRunnerStopped，实际 %v", err)
	}
}
