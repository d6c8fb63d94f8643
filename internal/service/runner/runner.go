package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"k8s.io/klog/v2"
)

var ErrRunnerStopped = errors.New("runner is stopped")

// Runner 用协程池执行后台生成任务。
// 生成流程本身是单飞的，池子只约束并发上限并提供统一的取消与退出。
type Runner struct {
	pool *ants.Pool

	jobTimeout time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	activeCancellations map[string]context.CancelFunc
	cancelMutex         sync.Mutex
}

func New(maxWorkers int, jobTimeout time.Duration) (*Runner, error) {
	ctx, cancel := context.WithCancel(context.Background())

	pool, err := ants.NewPool(maxWorkers,
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(100),
		ants.WithExpiryDuration(5*time.Minute),
	)
	if err != nil {
		cancel()
		klog.Errorf("ants pool initialization failed: %v", err)
		return nil, err
	}
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Minute
	}
	return &Runner{
		pool:                pool,
		jobTimeout:          jobTimeout,
		ctx:                 ctx,
		cancel:              cancel,
		activeCancellations: make(map[string]context.CancelFunc),
	}, nil
}

// Submit 把任务提交到池中执行。fn 收到的 ctx 在任务取消、超时或 Runner
// 停止时被取消。
func (r *Runner) Submit(taskID string, fn func(ctx context.Context)) error {
	select {
	case <-r.ctx.Done():
		return ErrRunnerStopped
	default:
	}

	return r.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.jobTimeout)
		defer cancel()

		r.registerCancel(taskID, cancel)
		defer r.unregisterCancel(taskID)

		defer func() {
			if rec := recover(); rec != nil {
				klog.Errorf("后台任务panic: taskID=%s, err=%v", taskID, rec)
			}
		}()

		klog.V(6).Infof("后台任务开始执行: taskID=%s", taskID)
		fn(ctx)
		klog.V(6).Infof("后台任务执行结束: taskID=%s", taskID)
	})
}

// Cancel 取消正在执行的任务，任务不在执行中时返回 false。
func (r *Runner) Cancel(taskID string) bool {
	r.cancelMutex.Lock()
	cancel, ok := r.activeCancellations[taskID]
	r.cancelMutex.Unlock()
	if !ok {
		return false
	}
	klog.V(6).Infof("取消后台任务: taskID=%s", taskID)
	cancel()
	return true
}

// Running 返回正在执行的任务数。
func (r *Runner) Running() int {
	return r.pool.Running()
}

// Stop 停止接收新任务并等待执行中的任务结束。
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		klog.V(6).Infof("Runner stopping...")
		r.cancel()

		if err := r.pool.ReleaseTimeout(time.Minute); err != nil {
			klog.Warningf("等待后台任务结束超时: %v", err)
		}
		klog.V(6).Infof("Runner stopped")
	})
}

func (r *Runner) registerCancel(taskID string, cancel context.CancelFunc) {
	r.cancelMutex.Lock()
	defer r.cancelMutex.Unlock()
	r.activeCancellations[taskID] = cancel
}

func (r *Runner) unregisterCancel(taskID string) {
	r.cancelMutex.Lock()
	defer r.cancelMutex.Unlock()
	delete(r.activeCancellations, taskID)
}
