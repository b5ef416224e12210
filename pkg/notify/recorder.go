package notify

import (
	"context"
	"sync"
	"time"
)

// Recorder 记录全部事件的Sink，测试中用于断言通知
type Recorder struct {
	*EventSink
	mu     sync.Mutex
	events []*Event
	notify chan struct{}
}

// NewRecorder 创建Recorder
func NewRecorder() *Recorder {
	r := &Recorder{notify: make(chan struct{}, 1)}
	r.EventSink = NewEventSink(func(_ context.Context, e *Event) error {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		select {
		case r.notify <- struct{}{}:
		default:
		}
		return nil
	})
	return r
}

// Events 返回已记录事件的副本
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Event(nil), r.events...)
}

// OfType 按类型过滤事件
func (r *Recorder) OfType(t EventType) []*Event {
	var out []*Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// StatusTransitions 返回某任务的状态变更序列，形如 "PENDING->RUNNING"
func (r *Recorder) StatusTransitions(taskID string) []string {
	var out []string
	for _, e := range r.OfType(EventTaskStatusChanged) {
		if e.TaskID == taskID {
			out = append(out, e.OldStatus+"->"+e.NewStatus)
		}
	}
	return out
}

// WaitFor 等待直到cond满足或超时
func (r *Recorder) WaitFor(timeout time.Duration, cond func([]*Event) bool) bool {
	deadline := time.After(timeout)
	for {
		if cond(r.Events()) {
			return true
		}
		select {
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			return cond(r.Events())
		}
	}
}
