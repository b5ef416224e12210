// Package engine Agent Hub 核心门面：组装适配器注册表、执行器、调度器、健康监控与持久化
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/adapter"
	"github.com/LENAX/agent-hub/pkg/core/executor"
	"github.com/LENAX/agent-hub/pkg/core/health"
	"github.com/LENAX/agent-hub/pkg/core/scheduler"
	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/logger"
	"github.com/LENAX/agent-hub/pkg/notify"
	"github.com/LENAX/agent-hub/pkg/storage"
)

// ErrEngineStopped 引擎停止后不支持重新启动，需要重新构建
var ErrEngineStopped = errors.New("引擎已停止，不能再次启动")

const (
	authTimeout = 30 * time.Second
	hookTimeout = 10 * time.Second
	stopTimeout = 30 * time.Second
)

// Engine 调度引擎核心结构体（对外导出）
type Engine struct {
	store    storage.Store
	registry *adapter.Registry
	exec     *executor.Executor
	sched    *scheduler.Scheduler
	monitor  *health.Monitor
	cron     *CronScheduler
	notifier notify.Sink
	log      *logrus.Entry
	now      func() time.Time

	mu        sync.RWMutex
	cfg       Config
	running   bool
	stopped   bool                 // Stop后执行器与资源已关闭，不能再次启动
	bootstrap []types.PlatformSpec // 启动时注册的平台
	closers   []io.Closer          // Stop时关闭的资源
}

// NewEngine 创建Engine实例（对外导出的工厂方法）
func NewEngine(store storage.Store, registry *adapter.Registry, notifier notify.Sink, cfg Config, log *logrus.Entry) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store不能为空")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry不能为空")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	cfg = cfg.withDefaults()
	log = logger.OrDefault(log)

	exec, err := executor.NewExecutor(store, registry, notifier, executor.Config{
		MaxConcurrentTasks:    cfg.MaxConcurrentTasks,
		UnhealthyErrorCeiling: cfg.UnhealthyErrorCeiling,
		PollInterval:          cfg.PollInterval,
		Retry:                 cfg.Retry,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("创建执行器失败: %w", err)
	}

	e := &Engine{
		store:    store,
		registry: registry,
		exec:     exec,
		sched:    scheduler.NewScheduler(exec, cfg.QueueProcessingInterval, log),
		monitor:  health.NewMonitor(store, registry, notifier, cfg.Health, log),
		notifier: notifier,
		log:      log.WithField("component", "engine"),
		now:      time.Now,
		cfg:      cfg,
	}
	e.cron = NewCronScheduler(e.fireSchedule, log)
	e.sched.SetHold(e.holdTask)
	exec.SetHooks(executor.Hooks{
		OnRequeue:   e.requeue,
		OnSuccess:   e.agentSucceeded,
		OnSlotFreed: e.sched.Kick,
	})
	registry.OnStatusChange(e.platformStatusChanged)
	return e, nil
}

// Registry 适配器注册表
func (e *Engine) Registry() *adapter.Registry {
	return e.registry
}

// Store 持久化协作者
func (e *Engine) Store() storage.Store {
	return e.store
}

// Features 当前功能开关的副本
func (e *Engine) Features() map[string]bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]bool, len(e.cfg.Features))
	for k, v := range e.cfg.Features {
		out[k] = v
	}
	return out
}

// SetFeature 开启或关闭功能开关
func (e *Engine) SetFeature(name string, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Features[name] = enabled
}

func (e *Engine) requireFeature(name string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return RequireFeature(e.cfg.Features, name)
}

// AddCloser 登记Stop时需要关闭的资源
func (e *Engine) AddCloser(c io.Closer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closers = append(e.closers, c)
}

// IsRunning 引擎是否已启动
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Start 启动引擎：恢复平台与Agent监控，回收中断的任务，启动调度循环
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	if e.stopped {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	e.running = true
	bootstrap := e.bootstrap
	e.bootstrap = nil
	e.mu.Unlock()

	for _, spec := range bootstrap {
		if _, err := e.RegisterPlatform(ctx, spec); err != nil {
			e.log.WithError(err).WithField("platform_id", spec.ID).Warn("⚠️ 配置中的平台注册失败")
		}
	}
	if err := e.restorePlatforms(ctx); err != nil {
		e.log.WithError(err).Warn("⚠️ 恢复平台失败")
	}
	if err := e.restoreAgents(ctx); err != nil {
		e.log.WithError(err).Warn("⚠️ 恢复Agent监控失败")
	}
	if err := e.recoverTasks(ctx); err != nil {
		return fmt.Errorf("恢复任务失败: %w", err)
	}
	if err := e.restoreSchedules(ctx); err != nil {
		e.log.WithError(err).Warn("⚠️ 恢复周期任务失败")
	}

	e.cron.Start()
	if err := e.monitor.Start(ctx); err != nil {
		return err
	}
	if err := e.sched.Start(ctx); err != nil {
		return err
	}
	e.sched.Kick()
	e.log.Info("✅ Agent Hub 引擎已启动")
	return nil
}

// Stop 停止引擎，执行中的任务回到PENDING等待下次启动
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.stopped = true
	closers := e.closers
	e.closers = nil
	e.mu.Unlock()

	e.sched.Stop()
	e.cron.Stop()
	e.monitor.Stop()

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	err := e.exec.Stop(stopCtx)

	for i := len(closers) - 1; i >= 0; i-- {
		if cerr := closers[i].Close(); cerr != nil {
			e.log.WithError(cerr).Warn("⚠️ 关闭资源失败")
		}
	}
	e.log.Info("✅ Agent Hub 引擎已停止")
	return err
}

// recoverTasks 进程中断时遗留的RUNNING任务回到PENDING，所有PENDING任务重新入队
func (e *Engine) recoverTasks(ctx context.Context) error {
	stale, err := e.store.ListTasksByStatus(ctx, types.TaskStatusRunning)
	if err != nil {
		return err
	}
	for _, t := range stale {
		if e.exec.IsRunning(t.ID) {
			continue
		}
		next := t.Clone()
		next.Status = types.TaskStatusPending
		next.StartedAt = nil
		next.ExecutionID = ""
		next.UpdatedAt = e.now()
		ok, err := e.store.CompareAndSwapTaskStatus(ctx, t.ID, types.TaskStatusRunning, next)
		if err != nil {
			return err
		}
		if ok {
			e.notifyStatus(ctx, next, types.TaskStatusRunning, types.TaskStatusPending)
		}
	}

	pending, err := e.store.ListTasksByStatus(ctx, types.TaskStatusPending)
	if err != nil {
		return err
	}
	for _, t := range pending {
		if err := e.sched.Enqueue(t); err != nil {
			e.log.WithError(err).WithField("task_id", t.ID).Warn("⚠️ 任务重新入队失败")
		}
	}
	if len(stale) > 0 || len(pending) > 0 {
		e.log.WithFields(logrus.Fields{"recovered": len(stale), "queued": len(pending)}).Info("🔄 启动恢复完成")
	}
	return nil
}

func (e *Engine) restorePlatforms(ctx context.Context) error {
	platforms, err := e.store.ListPlatforms(ctx)
	if err != nil {
		return err
	}
	for _, p := range platforms {
		if _, ok := e.registry.Platform(p.ID); ok {
			continue
		}
		if _, err := e.connectPlatform(ctx, p); err != nil {
			e.log.WithError(err).WithField("platform_id", p.ID).Warn("⚠️ 恢复平台适配器失败")
		}
	}
	return nil
}

func (e *Engine) restoreAgents(ctx context.Context) error {
	agents, err := e.store.ListAgents(ctx, types.AgentFilter{})
	if err != nil {
		return err
	}
	for _, a := range agents {
		if _, watched := e.monitor.Config(a.ID); !watched {
			e.monitor.Watch(a.ID, agentHealthConfig(a, e.monitor.Defaults()))
		}
	}
	return nil
}

// holdTask 所属平台凭证失效期间任务留在队列中
func (e *Engine) holdTask(ctx context.Context, taskID, agentID string) bool {
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil || agent == nil {
		return false
	}
	return e.registry.IsDisconnected(agent.PlatformID)
}

func (e *Engine) requeue(task *types.Task) {
	if err := e.sched.Enqueue(task); err != nil {
		e.log.WithError(err).WithField("task_id", task.ID).Warn("⚠️ 任务重新入队失败")
	}
}

func (e *Engine) agentSucceeded(agentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if err := e.monitor.MarkHealthy(ctx, agentID); err != nil {
		e.log.WithError(err).WithField("agent_id", agentID).Warn("⚠️ 重置连续错误计数失败")
	}
}

// platformStatusChanged 平台状态变化时持久化，恢复连接后立即尝试派发被暂缓的任务
func (e *Engine) platformStatusChanged(platformID string, from, to types.PlatformStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	p, err := e.store.GetPlatform(ctx, platformID)
	if err == nil && p != nil && p.Status != to {
		p.Status = to
		p.UpdatedAt = e.now()
		if err := e.store.SavePlatform(ctx, p); err != nil {
			e.log.WithError(err).WithField("platform_id", platformID).Warn("⚠️ 保存平台状态失败")
		}
	}
	e.log.WithFields(logrus.Fields{"platform_id": platformID, "from": from, "to": to}).Info("🔌 平台状态变化")
	if to == types.PlatformConnected {
		e.sched.Kick()
	}
}

func (e *Engine) notifyStatus(ctx context.Context, task *types.Task, from, to types.TaskStatus) {
	if err := e.notifier.NotifyTaskStatusChange(ctx, task, from, to); err != nil {
		e.log.WithError(err).WithField("task_id", task.ID).Warn("⚠️ 状态通知失败")
	}
}
