package notify

import (
	"context"
	"errors"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// Sink 通知协作者接口（对外导出）
// 调用方不关心投递结果，实现返回的错误只用于记录日志
type Sink interface {
	NotifyTaskStatusChange(ctx context.Context, task *types.Task, from, to types.TaskStatus) error
	NotifyTaskProgress(ctx context.Context, task *types.Task, progress Progress) error
	NotifyTaskError(ctx context.Context, task *types.Task, taskErr *types.TaskError) error
	NotifyAgentHealthChange(ctx context.Context, agentID string, from types.HealthStatus, record types.HealthRecord) error
}

// EmitFunc 投递单个事件
type EmitFunc func(ctx context.Context, e *Event) error

// EventSink 将四类通知统一转换为 Event 再投递，供各具体Sink复用
type EventSink struct {
	emit EmitFunc
}

// NewEventSink 用投递函数构造Sink
func NewEventSink(emit EmitFunc) *EventSink {
	return &EventSink{emit: emit}
}

func (s *EventSink) NotifyTaskStatusChange(ctx context.Context, task *types.Task, from, to types.TaskStatus) error {
	return s.emit(ctx, NewTaskStatusEvent(task, from, to))
}

func (s *EventSink) NotifyTaskProgress(ctx context.Context, task *types.Task, progress Progress) error {
	return s.emit(ctx, NewTaskProgressEvent(task, progress))
}

func (s *EventSink) NotifyTaskError(ctx context.Context, task *types.Task, taskErr *types.TaskError) error {
	return s.emit(ctx, NewTaskErrorEvent(task, taskErr))
}

func (s *EventSink) NotifyAgentHealthChange(ctx context.Context, agentID string, from types.HealthStatus, record types.HealthRecord) error {
	return s.emit(ctx, NewAgentHealthEvent(agentID, from, record))
}

// Multi 同步扇出到多个Sink，汇总全部错误
type Multi []Sink

func (m Multi) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyTaskStatusChange(ctx context.Context, task *types.Task, from, to types.TaskStatus) error {
	return m.each(func(s Sink) error { return s.NotifyTaskStatusChange(ctx, task, from, to) })
}

func (m Multi) NotifyTaskProgress(ctx context.Context, task *types.Task, progress Progress) error {
	return m.each(func(s Sink) error { return s.NotifyTaskProgress(ctx, task, progress) })
}

func (m Multi) NotifyTaskError(ctx context.Context, task *types.Task, taskErr *types.TaskError) error {
	return m.each(func(s Sink) error { return s.NotifyTaskError(ctx, task, taskErr) })
}

func (m Multi) NotifyAgentHealthChange(ctx context.Context, agentID string, from types.HealthStatus, record types.HealthRecord) error {
	return m.each(func(s Sink) error { return s.NotifyAgentHealthChange(ctx, agentID, from, record) })
}

// Nop 丢弃所有通知
type Nop struct{}

func (Nop) NotifyTaskStatusChange(context.Context, *types.Task, types.TaskStatus, types.TaskStatus) error {
	return nil
}
func (Nop) NotifyTaskProgress(context.Context, *types.Task, Progress) error { return nil }
func (Nop) NotifyTaskError(context.Context, *types.Task, *types.TaskError) error {
	return nil
}
func (Nop) NotifyAgentHealthChange(context.Context, string, types.HealthStatus, types.HealthRecord) error {
	return nil
}

var (
	_ Sink = (*EventSink)(nil)
	_ Sink = Multi(nil)
	_ Sink = Nop{}
)
