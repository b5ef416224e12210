// Package executor 任务执行器：单次执行尝试、结果分类、重试退避，并发由token池限制
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/adapter"
	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/notify"
)

const (
	maxGlobalWorkers = 1000 // 并发数上限
	storeTimeout     = 10 * time.Second
	shutdownTimeout  = 30 * time.Second
)

var (
	// ErrPoolFull 没有空闲的执行槽位
	ErrPoolFull = errors.New("执行槽位已满")
	// ErrTaskNotPending 任务已不处于PENDING（被取消、删除或已由其他调度派发）
	ErrTaskNotPending = errors.New("任务不处于PENDING状态")
	// ErrClosed 执行器已关闭
	ErrClosed = errors.New("执行器已关闭")

	errCancelRequested = errors.New("任务被取消")
	errShutdown        = errors.New("执行器关闭")
)

// Store 执行器需要的持久化能力
type Store interface {
	GetTask(ctx context.Context, id string) (*types.Task, error)
	CompareAndSwapTaskStatus(ctx context.Context, id string, expected types.TaskStatus, task *types.Task) (bool, error)
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
}

// Resolver 按平台解析适配器
type Resolver interface {
	Resolve(platformID string) (adapter.PlatformAdapter, error)
	MarkAuthExpired(platformID string) bool
}

// Hooks 执行结果回调，均在执行goroutine中同步调用
type Hooks struct {
	// OnRequeue 任务回到PENDING（退避重试或凭证失效）
	OnRequeue func(task *types.Task)
	// OnSuccess Agent执行成功，用于重置连续错误计数
	OnSuccess func(agentID string)
	// OnSlotFreed 槽位释放
	OnSlotFreed func()
}

// Config 执行器配置
type Config struct {
	MaxConcurrentTasks    int
	UnhealthyErrorCeiling int
	PollInterval          time.Duration
	Retry                 RetryPolicy
}

type attempt struct {
	taskID string
	pool   chan struct{} // 获取token的池，缩容后可能为nil
	cancel context.CancelCauseFunc
}

// Executor 任务执行器（对外导出）
type Executor struct {
	store    Store
	registry Resolver
	notifier notify.Sink
	log      *logrus.Entry

	mu       sync.Mutex
	limit    int
	pool     chan struct{}
	running  map[string]*attempt
	ceiling  int
	poll     time.Duration
	retry    RetryPolicy
	hooks    Hooks
	closed   bool
	baseCtx  context.Context
	stopBase context.CancelCauseFunc

	wg sync.WaitGroup
}

// NewExecutor 创建执行器实例
func NewExecutor(store Store, registry Resolver, notifier notify.Sink, cfg Config, log *logrus.Entry) (*Executor, error) {
	if store == nil || registry == nil {
		return nil, fmt.Errorf("store和registry不能为空")
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 10 // 默认值
	}
	if cfg.MaxConcurrentTasks > maxGlobalWorkers {
		return nil, fmt.Errorf("最大并发数不能超过 %d", maxGlobalWorkers)
	}
	if cfg.UnhealthyErrorCeiling <= 0 {
		cfg.UnhealthyErrorCeiling = types.DefaultUnhealthyErrorCeiling
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	base, stop := context.WithCancelCause(context.Background())
	return &Executor{
		store:    store,
		registry: registry,
		notifier: notifier,
		log:      log.WithField("component", "executor"),
		limit:    cfg.MaxConcurrentTasks,
		pool:     make(chan struct{}, cfg.MaxConcurrentTasks),
		running:  make(map[string]*attempt),
		ceiling:  cfg.UnhealthyErrorCeiling,
		poll:     cfg.PollInterval,
		retry:    cfg.Retry.withDefaults(),
		baseCtx:  base,
		stopBase: stop,
	}, nil
}

// SetHooks 设置回调，需在派发任务前调用
func (e *Executor) SetHooks(h Hooks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = h
}

// SetPoolSize 动态调整并发池大小，对正在执行的任务不做打断
func (e *Executor) SetPoolSize(maxSize int) error {
	if maxSize <= 0 {
		return types.NewError(types.KindValidation, "并发池大小必须大于0")
	}
	if maxSize > maxGlobalWorkers {
		return types.NewError(types.KindValidation, "并发池大小不能超过 %d", maxGlobalWorkers)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if maxSize == e.limit {
		return nil
	}
	old := e.limit
	newPool := make(chan struct{}, maxSize)
	// 在新池中为执行中的任务补足token，超出新容量的任务结束时不再归还
	for _, a := range e.running {
		if a.pool == nil {
			continue
		}
		select {
		case newPool <- struct{}{}:
			a.pool = newPool
		default:
			a.pool = nil
		}
	}
	e.pool = newPool
	e.limit = maxSize
	e.log.WithFields(logrus.Fields{"from": old, "to": maxSize}).Info("⚙️ 执行并发数已调整")
	return nil
}

// SetRetryPolicy 更新退避策略
func (e *Executor) SetRetryPolicy(p RetryPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retry = p.withDefaults()
}

// SetUnhealthyErrorCeiling 更新不健康阈值
func (e *Executor) SetUnhealthyErrorCeiling(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ceiling = n
}

// Limit 当前并发上限
func (e *Executor) Limit() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limit
}

// Running 执行中的任务数
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// Available 空闲槽位数
func (e *Executor) Available() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := e.limit - len(e.running); n > 0 {
		return n
	}
	return 0
}

// IsRunning 任务是否有进行中的执行尝试
func (e *Executor) IsRunning(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[taskID]
	return ok
}

func (e *Executor) reserve(taskID string) (*attempt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if _, ok := e.running[taskID]; ok {
		return nil, ErrTaskNotPending
	}
	if len(e.running) >= e.limit {
		return nil, ErrPoolFull
	}
	select {
	case e.pool <- struct{}{}:
	default:
		return nil, ErrPoolFull
	}
	a := &attempt{taskID: taskID, pool: e.pool}
	e.running[taskID] = a
	e.wg.Add(1)
	return a, nil
}

func (e *Executor) release(a *attempt) {
	e.mu.Lock()
	if a.pool != nil {
		<-a.pool
	}
	delete(e.running, a.taskID)
	freed := e.hooks.OnSlotFreed
	e.mu.Unlock()
	e.wg.Done()
	if freed != nil {
		freed()
	}
}

// Dispatch 派发一个PENDING任务，立即返回；执行在独立goroutine中进行
func (e *Executor) Dispatch(ctx context.Context, taskID string) error {
	a, err := e.reserve(taskID)
	if err != nil {
		return err
	}
	attemptCtx, cancel := context.WithCancelCause(e.baseCtx)
	e.mu.Lock()
	a.cancel = cancel
	e.mu.Unlock()

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		cancel(nil)
		e.release(a)
		return fmt.Errorf("加载任务失败: %w", err)
	}
	if task == nil || task.Status != types.TaskStatusPending {
		cancel(nil)
		e.release(a)
		return ErrTaskNotPending
	}

	now := time.Now()
	running := task.Clone()
	running.Status = types.TaskStatusRunning
	running.StartedAt = &now
	running.CompletedAt = nil
	running.ExecutionID = ""
	running.UpdatedAt = now
	ok, err := e.store.CompareAndSwapTaskStatus(ctx, taskID, types.TaskStatusPending, running)
	if err != nil || !ok {
		cancel(nil)
		e.release(a)
		if err != nil {
			return fmt.Errorf("更新任务状态失败: %w", err)
		}
		return ErrTaskNotPending
	}
	e.notifyStatus(running, types.TaskStatusPending, types.TaskStatusRunning)

	go e.run(attemptCtx, running, a)
	return nil
}

// Cancel 请求取消执行中的任务，返回是否存在进行中的尝试
func (e *Executor) Cancel(taskID string) bool {
	e.mu.Lock()
	var cancel context.CancelCauseFunc
	if a, ok := e.running[taskID]; ok {
		cancel = a.cancel
	}
	e.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel(errCancelRequested)
	return true
}

// Stop 停止接收新任务，取消执行中的任务并等待其退出
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	e.stopBase(errShutdown)

	if ctx == nil {
		ctx = context.Background()
	}
	waitCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("✅ 执行器已关闭")
		return nil
	case <-waitCtx.Done():
		e.log.Warn("⚠️ 执行器关闭超时，仍有任务未退出")
		return waitCtx.Err()
	}
}

func (e *Executor) run(ctx context.Context, task *types.Task, a *attempt) {
	defer e.release(a)
	defer a.cancel(nil)

	res, agent, err := e.safeAttempt(ctx, task)
	e.finish(ctx, task, agent, res, err)
}

func (e *Executor) safeAttempt(ctx context.Context, task *types.Task) (res *types.RunResult, agent *types.Agent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewError(types.KindInternal, "执行过程panic: %v", r)
		}
	}()
	return e.attempt(ctx, task)
}

// attempt 一次执行尝试：预检、调用平台、必要时轮询结果
func (e *Executor) attempt(ctx context.Context, task *types.Task) (*types.RunResult, *types.Agent, error) {
	agent, err := e.store.GetAgent(ctx, task.AgentID)
	if err != nil {
		return nil, nil, types.WrapError(types.KindInternal, err, "加载Agent失败")
	}
	if agent == nil {
		return nil, nil, types.NewError(types.KindNotFound, "Agent %s 不存在", task.AgentID)
	}

	if !agent.Status.Dispatchable() {
		return nil, agent, types.NewError(types.KindValidation, "Agent %s 当前状态 %s 不可派发", agent.ID, agent.Status)
	}

	e.mu.Lock()
	ceiling, pollEvery := e.ceiling, e.poll
	e.mu.Unlock()

	// 预检：不健康的Agent不调用平台
	if agent.Health.Status == types.HealthUnhealthy && agent.Health.ConsecutiveErrors >= ceiling {
		return nil, agent, types.NewError(types.KindAgentUnhealthy, "Agent %s 不健康 (连续错误 %d 次)", agent.ID, agent.Health.ConsecutiveErrors)
	}
	a, err := e.registry.Resolve(agent.PlatformID)
	if err != nil {
		return nil, agent, err
	}

	e.progress(task, notify.StageDispatching, 10, "")
	if err := ctxErr(ctx); err != nil {
		return nil, agent, err
	}

	deadline := time.Now().Add(task.Timeout())
	if task.StartedAt != nil {
		deadline = task.StartedAt.Add(task.Timeout())
	}
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	e.progress(task, notify.StageAwaitingPlatform, 40, "")
	res, err := awaitPlatform(ctx, runCtx, func() (*types.RunResult, error) {
		return a.RunAgent(runCtx, agent.Ref(), task.Parameters, deadline)
	})
	if err != nil {
		return nil, agent, err
	}
	if res == nil {
		return nil, agent, types.NewError(types.KindInternal, "平台返回空结果")
	}
	if res.Finished || res.ExecutionID == "" {
		return res, agent, nil
	}

	// 异步运行：轮询直到完成或截止
	task.ExecutionID = res.ExecutionID
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			if err := ctxErr(ctx); err != nil {
				return nil, agent, err
			}
			return nil, agent, types.NewError(types.KindPlatformTransient, "等待运行结果超时 (execution=%s)", res.ExecutionID)
		case <-ticker.C:
		}
		e.progress(task, notify.StagePolling, 70, res.ExecutionID)
		polled, err := awaitPlatform(ctx, runCtx, func() (*types.RunResult, error) {
			return a.GetRunResult(runCtx, agent.Ref(), res.ExecutionID)
		})
		if err != nil {
			return nil, agent, err
		}
		if polled != nil && polled.Finished {
			if polled.ExecutionID == "" {
				polled.ExecutionID = res.ExecutionID
			}
			return polled, agent, nil
		}
	}
}

type platformReply struct {
	res *types.RunResult
	err error
}

// awaitPlatform 在独立goroutine中调用平台，runCtx结束即放弃等待。
// 不响应ctx的适配器调用留在后台自行结束，结果写入带缓冲的channel后丢弃
func awaitPlatform(ctx, runCtx context.Context, call func() (*types.RunResult, error)) (*types.RunResult, error) {
	reply := make(chan platformReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				reply <- platformReply{err: types.NewError(types.KindInternal, "平台调用panic: %v", r)}
			}
		}()
		res, err := call()
		reply <- platformReply{res: res, err: err}
	}()

	select {
	case r := <-reply:
		return r.res, r.err
	case <-runCtx.Done():
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		return nil, types.NewError(types.KindPlatformTransient, "平台调用超时")
	}
}

// ctxErr 在调用边界检查取消
func ctxErr(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return types.WrapError(types.KindTaskCancelled, context.Cause(ctx), "执行被中断")
}

// emit 调用通知sink，失败与panic只记录日志，不影响任务结果
func (e *Executor) emit(event string, fn func(ctx context.Context, s notify.Sink) error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("event", event).Errorf("❌ 通知sink panic: %v", r)
		}
	}()
	if err := fn(context.Background(), e.notifier); err != nil {
		e.log.WithError(err).WithField("event", event).Debug("通知失败")
	}
}

func (e *Executor) progress(task *types.Task, stage string, percent int, msg string) {
	e.emit("task_progress", func(ctx context.Context, s notify.Sink) error {
		return s.NotifyTaskProgress(ctx, task, notify.Progress{Stage: stage, Percent: percent, Message: msg})
	})
}

func (e *Executor) notifyStatus(task *types.Task, from, to types.TaskStatus) {
	e.emit("task_status", func(ctx context.Context, s notify.Sink) error {
		return s.NotifyTaskStatusChange(ctx, task, from, to)
	})
}

// finish 分类结果并以CAS写入最终状态
func (e *Executor) finish(ctx context.Context, task *types.Task, agent *types.Agent, res *types.RunResult, err error) {
	now := time.Now()
	next := task.Clone()
	next.UpdatedAt = now
	if res != nil && res.ExecutionID != "" {
		next.ExecutionID = res.ExecutionID
	}
	cause := context.Cause(ctx)
	log := e.log.WithFields(logrus.Fields{"task_id": task.ID, "agent_id": task.AgentID})

	if err == nil && res != nil && res.Finished && !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "平台运行失败"
		}
		err = types.NewError(types.KindPlatformRejected, "%s", msg)
	}
	// 已拿到成功结果时不因迟到的取消而丢弃
	if err == nil {
		next.Status = types.TaskStatusCompleted
		next.Result = res.Output
		next.Error = nil
		next.CompletedAt = &now
		if e.commit(task, next, log) {
			log.Info("✅ 任务执行成功")
			e.mu.Lock()
			onSuccess := e.hooks.OnSuccess
			e.mu.Unlock()
			if onSuccess != nil {
				onSuccess(task.AgentID)
			}
		}
		return
	}

	switch {
	case errors.Is(cause, errShutdown):
		// 进程退出：回到PENDING等待下次启动恢复，不消耗重试预算
		next.Status = types.TaskStatusPending
		next.StartedAt = nil
		next.ScheduledAt = now
		next.Error = types.NewTaskError(types.WrapError(types.KindTaskCancelled, err, "执行器关闭"))
		e.commit(task, next, log)
		return
	case errors.Is(cause, errCancelRequested):
		next.Status = types.TaskStatusCancelled
		next.CompletedAt = &now
		next.Error = types.NewTaskError(types.WrapError(types.KindTaskCancelled, errCancelRequested, "任务被取消"))
		if e.commit(task, next, log) {
			log.Info("🛑 任务已取消")
		}
		return
	}

	classified := types.Classify(err)
	next.Error = types.NewTaskError(classified)
	e.mu.Lock()
	policy := e.retry
	e.mu.Unlock()

	switch {
	case classified.Kind == types.KindAuthExpired:
		if agent != nil && e.registry.MarkAuthExpired(agent.PlatformID) {
			log.WithField("platform_id", agent.PlatformID).Warn("🔑 平台凭证失效，平台已标记为断开")
		}
		next.Status = types.TaskStatusPending
		next.StartedAt = nil
		next.ScheduledAt = now.Add(policy.BaseBackoff)
	case classified.Kind.Retryable() && task.RetryCount < task.MaxRetries:
		next.RetryCount = task.RetryCount + 1
		backoff := policy.Backoff(next.RetryCount)
		next.Status = types.TaskStatusPending
		next.StartedAt = nil
		next.ScheduledAt = now.Add(backoff)
		log = log.WithFields(logrus.Fields{"retry": next.RetryCount, "backoff": backoff.String()})
	default:
		next.Status = types.TaskStatusFailed
		next.CompletedAt = &now
	}

	if !e.commit(task, next, log) {
		return
	}
	e.emit("task_error", func(ctx context.Context, s notify.Sink) error {
		return s.NotifyTaskError(ctx, next, next.Error)
	})
	if next.Status == types.TaskStatusPending {
		log.WithError(classified).Warn("🔄 任务执行失败，等待重试")
		e.mu.Lock()
		requeue := e.hooks.OnRequeue
		e.mu.Unlock()
		if requeue != nil {
			requeue(next.Clone())
		}
		return
	}
	log.WithError(classified).Error("❌ 任务执行失败")
}

// commit CAS RUNNING -> next.Status，成功时发送状态通知
func (e *Executor) commit(prev, next *types.Task, log *logrus.Entry) bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	ok, err := e.store.CompareAndSwapTaskStatus(ctx, prev.ID, types.TaskStatusRunning, next)
	if err != nil {
		log.WithError(err).Error("❌ 写入任务状态失败")
		return false
	}
	if !ok {
		log.Warn("⚠️ 任务状态已被修改，放弃写入执行结果")
		return false
	}
	e.notifyStatus(next, types.TaskStatusRunning, next.Status)
	return true
}
