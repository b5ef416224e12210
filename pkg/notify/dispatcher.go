package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

type delivery struct {
	name string
	fn   func(ctx context.Context, s Sink) error
}

// Dispatcher 异步通知分发器（对外导出）
// 通知入队后立即返回；队列满时丢弃并记录日志，不阻塞调度与执行
type Dispatcher struct {
	sink    Sink
	queue   chan delivery
	log     *logrus.Entry
	timeout time.Duration

	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	mu      sync.RWMutex
}

// NewDispatcher 创建分发器，bufferSize<=0时使用1024
func NewDispatcher(sink Sink, bufferSize int, log *logrus.Entry) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan delivery, bufferSize),
		log:     log.WithField("component", "notify-dispatcher"),
		timeout: 5 * time.Second,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for item := range d.queue {
		d.deliver(item)
	}
}

func (d *Dispatcher) deliver(item delivery) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("event", item.name).Errorf("❌ 通知投递panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := item.fn(ctx, d.sink); err != nil {
		d.log.WithError(err).WithField("event", item.name).Warn("⚠️ 通知投递失败")
	}
}

func (d *Dispatcher) enqueue(name string, fn func(ctx context.Context, s Sink) error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return
	}
	select {
	case d.queue <- delivery{name: name, fn: fn}:
	default:
		d.dropped.Add(1)
		d.log.WithField("event", name).Warn("⚠️ 通知队列已满，事件被丢弃")
	}
}

// Dropped 因队列满被丢弃的通知数
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close 停止接收新通知并等待已入队通知投递完成
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed.Store(true)
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher) NotifyTaskStatusChange(_ context.Context, task *types.Task, from, to types.TaskStatus) error {
	snap := task.Clone()
	d.enqueue(string(EventTaskStatusChanged), func(ctx context.Context, s Sink) error {
		return s.NotifyTaskStatusChange(ctx, snap, from, to)
	})
	return nil
}

func (d *Dispatcher) NotifyTaskProgress(_ context.Context, task *types.Task, progress Progress) error {
	snap := task.Clone()
	d.enqueue(string(EventTaskProgress), func(ctx context.Context, s Sink) error {
		return s.NotifyTaskProgress(ctx, snap, progress)
	})
	return nil
}

func (d *Dispatcher) NotifyTaskError(_ context.Context, task *types.Task, taskErr *types.TaskError) error {
	snap := task.Clone()
	d.enqueue(string(EventTaskError), func(ctx context.Context, s Sink) error {
		return s.NotifyTaskError(ctx, snap, taskErr)
	})
	return nil
}

func (d *Dispatcher) NotifyAgentHealthChange(_ context.Context, agentID string, from types.HealthStatus, record types.HealthRecord) error {
	d.enqueue(string(EventAgentHealthChanged), func(ctx context.Context, s Sink) error {
		return s.NotifyAgentHealthChange(ctx, agentID, from, record)
	})
	return nil
}

var _ Sink = (*Dispatcher)(nil)
