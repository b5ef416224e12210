package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/agent-hub/pkg/config"
	"github.com/LENAX/agent-hub/pkg/core/adapter"
	"github.com/LENAX/agent-hub/pkg/core/adapter/adaptertest"
	"github.com/LENAX/agent-hub/pkg/core/executor"
	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/logger"
	"github.com/LENAX/agent-hub/pkg/notify"
	"github.com/LENAX/agent-hub/pkg/storage/memory"
)

type harness struct {
	eng   *Engine
	store *memory.Store
	fake  *adaptertest.Fake
	rec   *notify.Recorder
	agent *types.Agent
}

func testConfig() Config {
	return Config{
		MaxConcurrentTasks:      5,
		QueueProcessingInterval: time.Hour, // 测试中手动调用Tick
		DefaultTimeoutMs:        5_000,
		DefaultMaxRetries:       3,
		PollInterval:            10 * time.Millisecond,
		Retry:                   executor.RetryPolicy{BaseBackoff: 10 * time.Millisecond, Multiplier: 2, MaxBackoff: 40 * time.Millisecond},
		Health: types.HealthConfig{
			Interval: time.Hour,
			Timeout:  200 * time.Millisecond,
			Retries:  3,
			Enabled:  true,
		},
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		store: memory.NewStore(),
		fake:  adaptertest.New(types.PlatformN8N),
		rec:   notify.NewRecorder(),
	}
	registry := adapter.NewRegistry(adapter.Options{Log: logger.Discard()})
	eng, err := NewEngine(h.store, registry, h.rec, cfg, logger.Discard())
	require.NoError(t, err)
	h.eng = eng

	_, err = eng.AttachAdapter(ctx, &types.Platform{ID: "p1", Name: "n8n test", Type: types.PlatformN8N}, h.fake)
	require.NoError(t, err)
	h.agent, err = eng.RegisterAgent(ctx, types.AgentSpec{PlatformID: "p1", ExternalID: "wf-1", Name: "lead sync"})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = eng.Stop(context.Background())
		_ = eng.exec.Stop(context.Background())
	})
	return h
}

func (h *harness) createTask(t *testing.T, name string, priority types.TaskPriority, maxRetries int) *types.Task {
	t.Helper()
	task, err := h.eng.CreateTask(context.Background(), types.TaskSpec{
		AgentID:    h.agent.ID,
		Name:       name,
		Priority:   priority,
		MaxRetries: &maxRetries,
	})
	require.NoError(t, err)
	return task
}

func (h *harness) waitStatus(t *testing.T, id string, want types.TaskStatus) *types.Task {
	t.Helper()
	var last *types.Task
	ok := assert.Eventually(t, func() bool {
		task, err := h.eng.GetTask(context.Background(), id)
		if err != nil {
			return false
		}
		last = task
		return task.Status == want
	}, 3*time.Second, 5*time.Millisecond)
	require.True(t, ok, "任务 %s 未到达状态 %s", id, want)
	return last
}

func TestEngine_RetryUntilBudgetExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.QueueProcessingInterval = 20 * time.Millisecond
	h := newHarness(t, cfg)
	transient := types.NewError(types.KindPlatformTransient, "503 Service Unavailable")
	h.fake.OnRun("wf-1", adaptertest.RunStep{Err: transient})

	require.NoError(t, h.eng.Start(context.Background()))
	task := h.createTask(t, "flaky", types.PriorityMedium, 2)

	got := h.waitStatus(t, task.ID, types.TaskStatusFailed)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.Error)
	assert.Equal(t, types.KindPlatformTransient, got.Error.Kind)
	assert.Equal(t, 3, h.fake.RunCalls("wf-1"))
	assert.Equal(t, []string{
		"PENDING->RUNNING", "RUNNING->PENDING",
		"PENDING->RUNNING", "RUNNING->PENDING",
		"PENDING->RUNNING", "RUNNING->FAILED",
	}, h.rec.StatusTransitions(task.ID))
}

func TestEngine_PriorityJumpsQueue(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentTasks = 1
	h := newHarness(t, cfg)
	ctx := context.Background()
	h.fake.OnRun("wf-1",
		adaptertest.RunStep{Result: &types.RunResult{Finished: true, Success: true}, Delay: 150 * time.Millisecond},
		adaptertest.RunStep{Result: &types.RunResult{Finished: true, Success: true}},
	)

	slow := h.createTask(t, "slow", types.PriorityLow, 0)
	assert.Equal(t, 1, h.eng.sched.Tick(ctx))

	lows := make([]*types.Task, 0, 5)
	for i := 0; i < 5; i++ {
		lows = append(lows, h.createTask(t, fmt.Sprintf("low-%d", i), types.PriorityLow, 0))
	}
	critical := h.createTask(t, "urgent", types.PriorityCritical, 0)
	assert.Equal(t, 0, h.eng.sched.Tick(ctx), "槽位已满时不应派发")

	h.waitStatus(t, slow.ID, types.TaskStatusCompleted)
	require.Eventually(t, func() bool { return h.eng.exec.Available() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.eng.sched.Tick(ctx))

	h.waitStatus(t, critical.ID, types.TaskStatusCompleted)
	for _, low := range lows {
		got, err := h.eng.GetTask(ctx, low.ID)
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusPending, got.Status)
	}
}

func TestEngine_UnhealthyAgentFailsWithoutPlatformCall(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.fake.OnProbe("wf-1", adaptertest.ProbeStep{Err: types.NewError(types.KindPlatformTransient, "connection refused")})

	for i := 0; i < 3; i++ {
		_, err := h.eng.PerformHealthCheck(ctx, h.agent.ID)
		require.NoError(t, err)
	}
	rec, err := h.eng.GetAgentHealthStatus(ctx, h.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.HealthUnhealthy, rec.Status)
	assert.Equal(t, 3, rec.ConsecutiveErrors)

	agent, err := h.eng.GetAgent(ctx, h.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusError, agent.Status)

	task := h.createTask(t, "doomed", types.PriorityHigh, 0)
	assert.Equal(t, 1, h.eng.sched.Tick(ctx))
	got := h.waitStatus(t, task.ID, types.TaskStatusFailed)
	require.NotNil(t, got.Error)
	assert.Equal(t, types.KindAgentUnhealthy, got.Error.Kind)
	assert.Equal(t, 0, h.fake.RunCalls("wf-1"), "不健康的Agent不应调用平台")
}

func TestEngine_CancelRunningTask(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.fake.OnRun("wf-1", adaptertest.RunStep{Block: true})

	task := h.createTask(t, "stuck", types.PriorityMedium, 3)
	assert.Equal(t, 1, h.eng.sched.Tick(ctx))
	require.Eventually(t, func() bool { return h.fake.RunCalls("wf-1") == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	_, err := h.eng.CancelTask(ctx, task.ID)
	require.NoError(t, err)
	got := h.waitStatus(t, task.ID, types.TaskStatusCancelled)
	assert.Less(t, time.Since(start), time.Second)
	require.NotNil(t, got.Error)
	assert.Equal(t, types.KindTaskCancelled, got.Error.Kind)
	assert.Equal(t, 0, got.RetryCount, "取消不消耗重试预算")

	transitions := h.rec.StatusTransitions(task.ID)
	require.NotEmpty(t, transitions)
	assert.Equal(t, "RUNNING->CANCELLED", transitions[len(transitions)-1])
}

func TestEngine_CancelPendingTask(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	task := h.createTask(t, "never", types.PriorityMedium, 3)
	got, err := h.eng.CancelTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	assert.Equal(t, 0, h.eng.sched.Tick(ctx))
	assert.Equal(t, 0, h.fake.RunCalls("wf-1"))
	assert.Equal(t, []string{"PENDING->CANCELLED"}, h.rec.StatusTransitions(task.ID))

	_, err = h.eng.CancelTask(ctx, task.ID)
	assert.True(t, errors.Is(err, types.ErrValidation), "终态任务不能再次取消")
}

func TestEngine_ConcurrencyLimitPerTick(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentTasks = 2
	h := newHarness(t, cfg)
	ctx := context.Background()
	h.fake.OnRun("wf-1", adaptertest.RunStep{Block: true})

	for i := 0; i < 4; i++ {
		h.createTask(t, fmt.Sprintf("t-%d", i), types.PriorityMedium, 0)
	}
	assert.Equal(t, 2, h.eng.sched.Tick(ctx))
	assert.Equal(t, 0, h.eng.sched.Tick(ctx))

	st, err := h.eng.GetQueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Running)
	assert.Equal(t, 2, st.Counts[types.TaskStatusPending])
	assert.Equal(t, 2, st.Counts[types.TaskStatusRunning])
	assert.Equal(t, 0, st.Available)
	assert.InDelta(t, 1.0, st.Utilization, 0.001)
}

func TestEngine_QueueStatusIsReadOnly(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.createTask(t, "a", types.PriorityLow, 0)
	h.createTask(t, "b", types.PriorityHigh, 0)

	first, err := h.eng.GetQueueStatus(ctx)
	require.NoError(t, err)
	second, err := h.eng.GetQueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, first.Total)
	assert.Equal(t, 2, first.Queued)
	assert.Equal(t, 2, first.Ready)
	assert.Equal(t, 5, first.MaxConcurrentTasks)
	assert.Equal(t, 0, h.fake.RunCalls("wf-1"))
}

func TestEngine_CreateTaskValidation(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.eng.CreateTask(ctx, types.TaskSpec{AgentID: "ghost", Name: "x"})
	assert.True(t, errors.Is(err, types.ErrValidation))

	_, err = h.eng.CreateTask(ctx, types.TaskSpec{AgentID: h.agent.ID, Name: "x", TimeoutMs: 10})
	assert.True(t, errors.Is(err, types.ErrValidation), "超时低于下限")

	maint := types.AgentStatusMaintenance
	_, err = h.eng.UpdateAgent(ctx, h.agent.ID, types.AgentUpdate{Status: &maint})
	require.NoError(t, err)
	_, err = h.eng.CreateTask(ctx, types.TaskSpec{AgentID: h.agent.ID, Name: "x"})
	assert.True(t, errors.Is(err, types.ErrValidation), "维护中的Agent不接收任务")

	page, err := h.eng.GetTasks(ctx, types.TaskFilter{}, types.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
}

func TestEngine_DefaultsApplied(t *testing.T) {
	h := newHarness(t, testConfig())
	task, err := h.eng.CreateTask(context.Background(), types.TaskSpec{AgentID: h.agent.ID, Name: "defaults"})
	require.NoError(t, err)
	assert.Equal(t, types.PriorityMedium, task.Priority)
	assert.Equal(t, 3, task.MaxRetries)
	assert.Equal(t, 5_000, task.TimeoutMs)
	assert.Equal(t, types.TaskStatusPending, task.Status)
	assert.False(t, task.ScheduledAt.IsZero())
}

func TestEngine_RetryAndUpdateTask(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.fake.OnRun("wf-1",
		adaptertest.RunStep{Result: &types.RunResult{Finished: true, Success: false, Message: "bad input"}},
		adaptertest.RunStep{Result: &types.RunResult{Finished: true, Success: true}},
	)

	task := h.createTask(t, "rejected", types.PriorityMedium, 2)
	assert.Equal(t, 1, h.eng.sched.Tick(ctx))
	failed := h.waitStatus(t, task.ID, types.TaskStatusFailed)
	assert.Equal(t, types.KindPlatformRejected, failed.Error.Kind)
	assert.Equal(t, 0, failed.RetryCount, "平台拒绝不自动重试")

	name := "rejected v2"
	updated, err := h.eng.UpdateTask(ctx, task.ID, types.TaskUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, types.TaskStatusFailed, updated.Status)

	retried, err := h.eng.RetryTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)

	assert.Equal(t, 1, h.eng.sched.Tick(ctx))
	h.waitStatus(t, task.ID, types.TaskStatusCompleted)

	_, err = h.eng.RetryTask(ctx, task.ID)
	assert.True(t, errors.Is(err, types.ErrValidation))
	_, err = h.eng.UpdateTask(ctx, task.ID, types.TaskUpdate{Name: &name})
	assert.True(t, errors.Is(err, types.ErrValidation), "已完成的任务不能修改")
}

func TestEngine_DeleteTask(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	task := h.createTask(t, "temp", types.PriorityMedium, 0)

	require.NoError(t, h.eng.DeleteTask(ctx, task.ID))
	_, err := h.eng.GetTask(ctx, task.ID)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	assert.Equal(t, 0, h.eng.sched.Tick(ctx))

	err = h.eng.DeleteTask(ctx, task.ID)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestEngine_DisconnectedPlatformHoldsTasks(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	require.True(t, h.eng.Registry().MarkAuthExpired("p1"))

	task := h.createTask(t, "held", types.PriorityHigh, 0)
	assert.Equal(t, 0, h.eng.sched.Tick(ctx))
	assert.True(t, h.eng.sched.Contains(task.ID), "平台断开期间任务留在队列中")

	p, err := h.eng.GetPlatform(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.PlatformDisconnected, p.Status)

	h.eng.Registry().SetStatus("p1", types.PlatformConnected)
	assert.Equal(t, 1, h.eng.sched.Tick(ctx))
	h.waitStatus(t, task.ID, types.TaskStatusCompleted)
}

func TestEngine_UnsupportedPlatform(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.eng.RegisterPlatform(context.Background(), types.PlatformSpec{Type: "IFTTT", BaseURL: "https://example.com"})
	require.Error(t, err)
	assert.Equal(t, types.KindUnsupportedPlatform, types.KindOf(err))
}

func TestEngine_PlatformAndAgentRules(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.eng.RegisterAgent(ctx, types.AgentSpec{PlatformID: "p1", ExternalID: "wf-1"})
	assert.True(t, errors.Is(err, types.ErrValidation), "同一平台重复注册")
	_, err = h.eng.RegisterAgent(ctx, types.AgentSpec{PlatformID: "nope", ExternalID: "wf-9"})
	assert.True(t, errors.Is(err, types.ErrValidation), "平台不存在")

	err = h.eng.DeletePlatform(ctx, "p1")
	assert.True(t, errors.Is(err, types.ErrValidation), "仍有Agent引用时不能删除平台")

	require.NoError(t, h.eng.DeleteAgent(ctx, h.agent.ID))
	_, err = h.eng.GetAgent(ctx, h.agent.ID)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	require.NoError(t, h.eng.DeletePlatform(ctx, "p1"))
	list, err := h.eng.ListPlatforms(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEngine_FeatureGating(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	_, err := h.eng.DiscoverAgents(ctx, "p1")
	var disabled *FeatureDisabledError
	require.True(t, errors.As(err, &disabled))
	assert.Equal(t, FeatureAgentDiscovery, disabled.Feature)
	assert.True(t, errors.Is(err, types.ErrValidation))

	_, err = h.eng.CreateSchedule(ctx, types.ScheduleSpec{CronExpr: "@hourly", Template: types.TaskSpec{AgentID: h.agent.ID, Name: "n"}})
	require.True(t, errors.As(err, &disabled))
	assert.Equal(t, FeatureRecurringTasks, disabled.Feature)
}

func TestEngine_DiscoverAgents(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.eng.SetFeature(FeatureAgentDiscovery, true)
	h.fake.SetAgents(
		types.AgentDescriptor{ExternalID: "wf-1", Name: "lead sync v2", Active: true, Capabilities: []string{"crm"}},
		types.AgentDescriptor{ExternalID: "wf-2", Name: "invoice", Active: false},
	)

	res, err := h.eng.DiscoverAgents(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, res.Updated, 1)
	require.Len(t, res.Created, 1)
	assert.Equal(t, h.agent.ID, res.Updated[0].ID)
	assert.Equal(t, "lead sync v2", res.Updated[0].Name)
	assert.Contains(t, res.Updated[0].Capabilities, "crm")
	assert.Equal(t, "wf-2", res.Created[0].ExternalID)
	assert.Equal(t, types.AgentStatusInactive, res.Created[0].Status)

	again, err := h.eng.DiscoverAgents(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, again.Created, "重复发现不应创建新Agent")
	agents, err := h.eng.ListAgents(ctx, types.AgentFilter{PlatformID: "p1"})
	require.NoError(t, err)
	assert.Len(t, agents, 2)
}

func TestEngine_Schedules(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.eng.SetFeature(FeatureRecurringTasks, true)

	_, err := h.eng.CreateSchedule(ctx, types.ScheduleSpec{CronExpr: "not a cron", Template: types.TaskSpec{AgentID: h.agent.ID, Name: "n"}})
	assert.True(t, errors.Is(err, types.ErrValidation))

	sc, err := h.eng.CreateSchedule(ctx, types.ScheduleSpec{
		Name:     "nightly",
		CronExpr: "0 0 2 * * *",
		Template: types.TaskSpec{AgentID: h.agent.ID, Name: "nightly sync", Priority: types.PriorityHigh},
	})
	require.NoError(t, err)
	assert.Contains(t, h.eng.cron.Registered(), sc.ID)

	h.eng.fireSchedule(ctx, sc)
	stored, err := h.store.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.LastTask)
	assert.NotNil(t, stored.LastRunAt)

	task, err := h.eng.GetTask(ctx, stored.LastTask)
	require.NoError(t, err)
	assert.Equal(t, "schedule:"+sc.ID, task.CreatedBy)
	assert.Equal(t, types.PriorityHigh, task.Priority)

	require.NoError(t, h.eng.DeleteSchedule(ctx, sc.ID))
	list, err := h.eng.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NotContains(t, h.eng.cron.Registered(), sc.ID)
	assert.True(t, errors.Is(h.eng.DeleteSchedule(ctx, sc.ID), types.ErrNotFound))
}

func TestEngine_StartRecoversInterruptedTasks(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	now := time.Now()
	started := now.Add(-time.Minute)
	for id, st := range map[string]types.TaskStatus{"stale": types.TaskStatusRunning, "waiting": types.TaskStatusPending} {
		task := &types.Task{
			ID:          id,
			AgentID:     h.agent.ID,
			Name:        id,
			Priority:    types.PriorityMedium,
			Status:      st,
			MaxRetries:  1,
			TimeoutMs:   5_000,
			ScheduledAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if st == types.TaskStatusRunning {
			task.StartedAt = &started
		}
		require.NoError(t, h.store.SaveTask(ctx, task))
	}

	require.NoError(t, h.eng.Start(ctx))
	assert.True(t, h.eng.IsRunning())
	stale := h.waitStatus(t, "stale", types.TaskStatusCompleted)
	h.waitStatus(t, "waiting", types.TaskStatusCompleted)
	assert.Equal(t, 0, stale.RetryCount)
	transitions := h.rec.StatusTransitions("stale")
	require.NotEmpty(t, transitions)
	assert.Equal(t, "RUNNING->PENDING", transitions[0])
}

func TestEngine_ConfigureExecution(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	err := h.eng.ConfigureExecution(ctx, ExecutionSettings{MaxConcurrentTasks: -1})
	assert.True(t, errors.Is(err, types.ErrValidation))
	err = h.eng.ConfigureExecution(ctx, ExecutionSettings{QueueProcessingInterval: -time.Second})
	assert.True(t, errors.Is(err, types.ErrValidation))

	require.NoError(t, h.eng.ConfigureExecution(ctx, ExecutionSettings{MaxConcurrentTasks: 7, QueueProcessingInterval: 5 * time.Second}))
	st, err := h.eng.GetQueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, st.MaxConcurrentTasks)
	assert.Equal(t, 7, st.Available)
	assert.Equal(t, 5*time.Second, st.QueueProcessingInterval)
}

func TestEngine_SuccessResetsHealth(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	h.fake.OnProbe("wf-1", adaptertest.ProbeStep{Err: types.NewError(types.KindPlatformTransient, "timeout")})
	_, err := h.eng.PerformHealthCheck(ctx, h.agent.ID)
	require.NoError(t, err)
	rec, err := h.eng.GetAgentHealthStatus(ctx, h.agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.HealthDegraded, rec.Status)

	task := h.createTask(t, "ok", types.PriorityMedium, 0)
	assert.Equal(t, 1, h.eng.sched.Tick(ctx))
	h.waitStatus(t, task.ID, types.TaskStatusCompleted)
	assert.Eventually(t, func() bool {
		rec, err := h.eng.GetAgentHealthStatus(ctx, h.agent.ID)
		return err == nil && rec.ConsecutiveErrors == 0
	}, time.Second, 5*time.Millisecond)
}

func TestEngineBuilder(t *testing.T) {
	fake := adaptertest.New(types.PlatformMake)
	store := memory.NewStore()
	eng, err := NewEngineBuilder("").
		WithStore(store).
		WithLogger(logger.Discard()).
		WithAdapter(&types.Platform{ID: "make-1", Name: "make", Type: types.PlatformMake}, fake).
		Build()
	require.NoError(t, err)

	p, err := eng.GetPlatform(context.Background(), "make-1")
	require.NoError(t, err)
	assert.Equal(t, types.PlatformConnected, p.Status)

	_, err = NewEngineBuilder("").WithStore(nil).Build()
	assert.Error(t, err)

	cfg := config.Default()
	cfg.AgentHub.Storage.Database.Type = "memory"
	cfg.AgentHub.Features[FeatureRecurringTasks] = true
	eng, err = NewEngineBuilder("").WithConfig(cfg).WithLogger(logger.Discard()).Build()
	require.NoError(t, err)
	assert.True(t, eng.Features()[FeatureRecurringTasks])
	require.NoError(t, eng.Start(context.Background()))
	require.NoError(t, eng.Stop(context.Background()))
}

// interleavingStore 在下一次 GetAgent 返回后执行 hook，模拟读改写窗口内落地的健康探测
type interleavingStore struct {
	*memory.Store
	hook func()
}

func (s *interleavingStore) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	agent, err := s.Store.GetAgent(ctx, id)
	if h := s.hook; h != nil {
		s.hook = nil
		h()
	}
	return agent, err
}

func TestEngine_UpdateAgentKeepsNewerHealth(t *testing.T) {
	ctx := context.Background()
	store := &interleavingStore{Store: memory.NewStore()}
	fake := adaptertest.New(types.PlatformN8N)
	eng, err := NewEngine(store, adapter.NewRegistry(adapter.Options{Log: logger.Discard()}), notify.NewRecorder(), testConfig(), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	_, err = eng.AttachAdapter(ctx, &types.Platform{ID: "p1", Name: "n8n test", Type: types.PlatformN8N}, fake)
	require.NoError(t, err)
	agent, err := eng.RegisterAgent(ctx, types.AgentSpec{PlatformID: "p1", ExternalID: "wf-1", Name: "lead sync"})
	require.NoError(t, err)
	fake.OnProbe("wf-1", adaptertest.ProbeStep{Err: types.NewError(types.KindPlatformTransient, "connection refused")})

	store.hook = func() {
		for i := 0; i < 3; i++ {
			_, err := eng.PerformHealthCheck(ctx, agent.ID)
			require.NoError(t, err)
		}
	}
	desc := "按小时同步"
	_, err = eng.UpdateAgent(ctx, agent.ID, types.AgentUpdate{Description: &desc})
	require.NoError(t, err)

	rec, err := eng.GetAgentHealthStatus(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.HealthUnhealthy, rec.Status)
	assert.Equal(t, 3, rec.ConsecutiveErrors)
	assert.Equal(t, 3, rec.ErrorCount)
}

func TestEngine_StartAfterStop(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	require.NoError(t, h.eng.Start(ctx))
	require.NoError(t, h.eng.Stop(ctx))

	assert.ErrorIs(t, h.eng.Start(ctx), ErrEngineStopped)
	assert.False(t, h.eng.IsRunning())
}

// slowSink 每次投递阻塞直到release关闭
type slowSink struct {
	notify.Nop
	release chan struct{}
}

func (s slowSink) NotifyTaskStatusChange(context.Context, *types.Task, types.TaskStatus, types.TaskStatus) error {
	<-s.release
	return nil
}

func TestEngineBuilder_SlowSinkDoesNotBlockExecution(t *testing.T) {
	ctx := context.Background()
	fake := adaptertest.New(types.PlatformN8N)
	fake.OnRun("wf-1", adaptertest.RunStep{Result: &types.RunResult{Finished: true, Success: true}})
	sink := slowSink{release: make(chan struct{})}
	eng, err := NewEngineBuilder("").
		WithStore(memory.NewStore()).
		WithLogger(logger.Discard()).
		WithNotifier(sink).
		WithAdapter(&types.Platform{ID: "p1", Name: "n8n", Type: types.PlatformN8N}, fake).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() {
		close(sink.release)
		_ = eng.Stop(context.Background())
	})

	agent, err := eng.RegisterAgent(ctx, types.AgentSpec{PlatformID: "p1", ExternalID: "wf-1"})
	require.NoError(t, err)
	task, err := eng.CreateTask(ctx, types.TaskSpec{AgentID: agent.ID, Name: "sync"})
	require.NoError(t, err)
	assert.Equal(t, 1, eng.sched.Tick(ctx))

	assert.Eventually(t, func() bool {
		got, err := eng.GetTask(ctx, task.ID)
		return err == nil && got.Status == types.TaskStatusCompleted
	}, 3*time.Second, 10*time.Millisecond)
}

func TestEngine_HealthConfigSurvivesRestart(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	custom := types.HealthConfig{Interval: 2 * time.Minute, Timeout: time.Second, Retries: 5, Enabled: true}
	require.NoError(t, h.eng.ConfigureHealthMonitoring(ctx, h.agent.ID, custom))

	// 同一存储上新建引擎，模拟进程重启
	restarted, err := NewEngine(h.store, adapter.NewRegistry(adapter.Options{Log: logger.Discard()}), notify.NewRecorder(), testConfig(), logger.Discard())
	require.NoError(t, err)
	require.NoError(t, restarted.restoreAgents(ctx))

	cfg, ok := restarted.monitor.Config(h.agent.ID)
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, cfg.Interval)
	assert.Equal(t, 5, cfg.Retries)
}
