package eventbus

import "context"

type EventType string

const (
	EventStepStarted          EventType = "StepStarted"
	EventStepFailed           EventType = "StepFailed"
	EventAwaitingConfirmation EventType = "AwaitingConfirmation"
	EventPipelineCompleted    EventType = "PipelineCompleted"
	EventPipelineFailed       EventType = "PipelineFailed"
)

// Event 生成流程进度事件
type Event struct {
	Type    EventType
	TaskID  string
	Step    int
	Message string
}

type Handler func(ctx context.Context, event Event) error
