package service

import "context"

// Notifier 把进度消息回送给任务发起方（通常是聊天会话）。
// 进程重启后持久化任务里不包含通知通道，需要在用户再次交互时重新挂接。
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// NotifierFunc 函数式适配器
type NotifierFunc func(ctx context.Context, message string)

func (f NotifierFunc) Notify(ctx context.Context, message string) {
	f(ctx, message)
}
