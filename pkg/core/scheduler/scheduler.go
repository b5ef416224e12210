// Package scheduler 待执行任务队列：按优先级和计划时间排序，按空闲槽位周期派发
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/executor"
	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/logger"
)

const (
	defaultInterval = 30 * time.Second
	// dispatchRetryDelay 派发时出现非预期错误，任务延后重新尝试
	dispatchRetryDelay = time.Second
)

// Dispatcher 任务派发能力，由执行器实现
type Dispatcher interface {
	Dispatch(ctx context.Context, taskID string) error
	Available() int
}

// HoldFunc 判断任务当前是否需要暂缓派发（例如所属平台已断开）
type HoldFunc func(ctx context.Context, taskID, agentID string) bool

// Stats 队列深度
type Stats struct {
	Queued   int           `json:"queued"`
	Ready    int           `json:"ready"`
	Delayed  int           `json:"delayed"`
	Interval time.Duration `json:"interval"`
	LastTick time.Time     `json:"last_tick"`
}

// Scheduler 调度循环（对外导出）
type Scheduler struct {
	mu       sync.Mutex
	queue    *taskQueue
	dispatch Dispatcher
	hold     HoldFunc
	interval time.Duration
	lastTick time.Time
	now      func() time.Time
	log      *logrus.Entry

	kick    chan struct{}
	reset   chan struct{}
	tickMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler 创建调度器，interval<=0 时使用默认30秒
func NewScheduler(d Dispatcher, interval time.Duration, log *logrus.Entry) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{
		queue:    newTaskQueue(),
		dispatch: d,
		interval: interval,
		now:      time.Now,
		log:      logger.OrDefault(log).WithField("component", "scheduler"),
		kick:     make(chan struct{}, 1),
		reset:    make(chan struct{}, 1),
	}
}

// SetHold 设置暂缓判断，需在Start前调用
func (s *Scheduler) SetHold(fn HoldFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = fn
}

// Enqueue 将PENDING任务加入队列，同一任务重复加入时以最后一次为准
func (s *Scheduler) Enqueue(task *types.Task) error {
	if task == nil {
		return types.NewError(types.KindValidation, "任务不能为空")
	}
	if task.Status != types.TaskStatusPending {
		return types.NewError(types.KindValidation, "只有PENDING任务可以入队，当前: %s", task.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.push(task, s.now())
	return nil
}

// Remove 从队列移除任务，返回任务是否在队列中
func (s *Scheduler) Remove(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.remove(taskID)
}

// Contains 任务是否在队列中
func (s *Scheduler) Contains(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.contains(taskID)
}

// Len 队列中的任务数
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.size()
}

// Stats 队列统计，只读
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	ready, delayed := s.queue.counts(s.now())
	return Stats{
		Queued:   s.queue.size(),
		Ready:    ready,
		Delayed:  delayed,
		Interval: s.interval,
		LastTick: s.lastTick,
	}
}

// Interval 当前处理间隔
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval 调整处理间隔，从下一次tick起生效
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return types.NewError(types.KindValidation, "队列处理间隔必须大于0")
	}
	s.mu.Lock()
	changed := d != s.interval
	s.interval = d
	s.mu.Unlock()
	if changed {
		signal(s.reset)
		s.log.WithField("interval", d).Info("⚙️ 队列处理间隔已调整")
	}
	return nil
}

// Kick 请求尽快执行一次tick（例如有槽位释放时）
func (s *Scheduler) Kick() {
	signal(s.kick)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Start 启动调度循环
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("调度器已在运行")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.loop(loopCtx, s.done)
	s.log.WithField("interval", s.interval).Info("✅ 调度器已启动")
	return nil
}

// Stop 停止调度循环，等待当前tick结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info("✅ 调度器已停止")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(s.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.Tick(ctx)
			timer.Reset(s.Interval())
		case <-s.kick:
			s.Tick(ctx)
		case <-s.reset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.Interval())
		}
	}
}

// Tick 执行一次调度：到期任务转入就绪队列，按空闲槽位派发，返回派发数量
func (s *Scheduler) Tick(ctx context.Context) int {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	now := s.now()
	s.lastTick = now
	s.queue.promote(now)
	hold := s.hold
	s.mu.Unlock()

	available := s.dispatch.Available()
	if available <= 0 {
		return 0
	}

	var (
		dispatched int
		held       []*item
		deferred   []*item
	)
	for dispatched < available {
		s.mu.Lock()
		it, ok := s.queue.popReady()
		s.mu.Unlock()
		if !ok {
			break
		}
		if hold != nil && s.safeHold(ctx, hold, it) {
			held = append(held, it)
			continue
		}

		err := s.safeDispatch(ctx, it)
		switch {
		case err == nil:
			s.mu.Lock()
			s.queue.take(it)
			s.mu.Unlock()
			dispatched++
		case errors.Is(err, executor.ErrPoolFull):
			held = append(held, it)
			available = 0
		case errors.Is(err, executor.ErrTaskNotPending):
			// 任务已被取消、删除或已在执行，直接丢弃
			s.mu.Lock()
			s.queue.take(it)
			s.mu.Unlock()
		case errors.Is(err, executor.ErrClosed):
			held = append(held, it)
			available = 0
		default:
			s.log.WithError(err).WithField("task_id", it.taskID).Warn("⚠️ 任务派发失败，稍后重试")
			deferred = append(deferred, it)
		}
	}

	s.mu.Lock()
	now = s.now()
	for _, it := range held {
		s.queue.requeue(it, now)
	}
	for _, it := range deferred {
		it.scheduledAt = now.Add(dispatchRetryDelay)
		s.queue.requeue(it, now)
	}
	s.mu.Unlock()

	if dispatched > 0 {
		s.log.WithField("count", dispatched).Debug("🚀 已派发任务")
	}
	return dispatched
}

func (s *Scheduler) safeHold(ctx context.Context, hold HoldFunc, it *item) (held bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("task_id", it.taskID).Errorf("❌ 暂缓判断发生panic: %v", r)
			held = true
		}
	}()
	return hold(ctx, it.taskID, it.agentID)
}

func (s *Scheduler) safeDispatch(ctx context.Context, it *item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewError(types.KindInternal, "派发任务时发生panic: %v", r)
		}
	}()
	return s.dispatch.Dispatch(ctx, it.taskID)
}
