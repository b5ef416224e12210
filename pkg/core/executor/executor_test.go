package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/agent-hub/pkg/core/adapter"
	"github.com/LENAX/agent-hub/pkg/core/adapter/adaptertest"
	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/logger"
	"github.com/LENAX/agent-hub/pkg/notify"
	"github.com/LENAX/agent-hub/pkg/storage/memory"
)

type fixture struct {
	store     *memory.Store
	fake      *adaptertest.Fake
	registry  *adapter.Registry
	rec       *notify.Recorder
	exec      *Executor
	mu        sync.Mutex
	requeued  []*types.Task
	successes atomic.Int32
	freed     atomic.Int32
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		fake:     adaptertest.New(types.PlatformN8N),
		registry: adapter.NewRegistry(adapter.Options{Log: logger.Discard()}),
		rec:      notify.NewRecorder(),
	}
	require.NoError(t, f.registry.RegisterAdapter(&types.Platform{ID: "p1", Type: types.PlatformN8N}, f.fake))
	now := time.Now()
	require.NoError(t, f.store.SaveAgent(context.Background(), &types.Agent{
		ID:         "agent-1",
		PlatformID: "p1",
		ExternalID: "wf-1",
		Name:       "lead sync",
		Status:     types.AgentStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))
	require.NoError(t, f.store.SaveHealthRecord(context.Background(), &types.HealthRecord{AgentID: "agent-1", Status: types.HealthHealthy}))
	if cfg.Retry.BaseBackoff == 0 {
		cfg.Retry = RetryPolicy{BaseBackoff: 100 * time.Millisecond, Multiplier: 2, MaxBackoff: time.Second}
	}
	exec, err := NewExecutor(f.store, f.registry, f.rec, cfg, logger.Discard())
	require.NoError(t, err)
	exec.SetHooks(Hooks{
		OnRequeue: func(task *types.Task) {
			f.mu.Lock()
			f.requeued = append(f.requeued, task)
			f.mu.Unlock()
		},
		OnSuccess:   func(string) { f.successes.Add(1) },
		OnSlotFreed: func() { f.freed.Add(1) },
	})
	f.exec = exec
	t.Cleanup(func() { _ = exec.Stop(context.Background()) })
	return f
}

func (f *fixture) addTask(t *testing.T, id string, mutate func(*types.Task)) *types.Task {
	t.Helper()
	now := time.Now()
	task := &types.Task{
		ID:          id,
		AgentID:     "agent-1",
		Name:        "task " + id,
		Priority:    types.PriorityMedium,
		Status:      types.TaskStatusPending,
		Parameters:  map[string]interface{}{"lead": "acme"},
		MaxRetries:  3,
		TimeoutMs:   5_000,
		ScheduledAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if mutate != nil {
		mutate(task)
	}
	require.NoError(t, f.store.SaveTask(context.Background(), task))
	return task
}

func (f *fixture) waitStatus(t *testing.T, id string, status types.TaskStatus) *types.Task {
	t.Helper()
	var got *types.Task
	require.Eventually(t, func() bool {
		got, _ = f.store.GetTask(context.Background(), id)
		return got != nil && got.Status == status && !f.exec.IsRunning(id)
	}, 5*time.Second, 10*time.Millisecond, "任务 %s 未到达状态 %s", id, status)
	return got
}

func (f *fixture) requeuedTasks() []*types.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Task(nil), f.requeued...)
}

func TestExecutor_Success(t *testing.T) {
	f := newFixture(t, Config{})
	f.fake.OnRun("wf-1", adaptertest.RunStep{Result: &types.RunResult{Finished: true, Success: true, Output: map[string]interface{}{"rows": 2}}})
	f.addTask(t, "t1", nil)

	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	got := f.waitStatus(t, "t1", types.TaskStatusCompleted)

	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.Error)
	assert.Equal(t, map[string]interface{}{"rows": 2}, got.Result)
	assert.Equal(t, []string{"PENDING->RUNNING", "RUNNING->COMPLETED"}, f.rec.StatusTransitions("t1"))
	assert.Equal(t, int32(1), f.successes.Load())
	assert.Eventually(t, func() bool { return f.freed.Load() == 1 }, time.Second, 5*time.Millisecond)

	stages := map[string]bool{}
	for _, e := range f.rec.OfType(notify.EventTaskProgress) {
		stages[e.Progress.Stage] = true
	}
	assert.True(t, stages[notify.StageDispatching])
	assert.True(t, stages[notify.StageAwaitingPlatform])

	deadline := f.fake.LastDeadline("wf-1")
	assert.WithinDuration(t, got.StartedAt.Add(5*time.Second), deadline, 50*time.Millisecond, "截止时间应为StartedAt+TimeoutMs")
}

// TestExecutor_TransientRetry 瞬时错误：RetryCount递增，按退避时间回到PENDING
func TestExecutor_TransientRetry(t *testing.T) {
	f := newFixture(t, Config{})
	f.fake.OnRun("wf-1", adaptertest.RunStep{Err: types.NewError(types.KindPlatformTransient, "HTTP 503")})
	f.addTask(t, "t1", func(task *types.Task) { task.MaxRetries = 2 })

	before := time.Now()
	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	got := f.waitStatus(t, "t1", types.TaskStatusPending)

	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.Error)
	assert.Equal(t, types.KindPlatformTransient, got.Error.Kind)
	assert.True(t, got.Error.Retryable)
	// 100ms × 2^1
	assert.WithinDuration(t, before.Add(200*time.Millisecond), got.ScheduledAt, 150*time.Millisecond)
	require.Len(t, f.requeuedTasks(), 1)
	assert.Equal(t, []string{"PENDING->RUNNING", "RUNNING->PENDING"}, f.rec.StatusTransitions("t1"))
	assert.Len(t, f.rec.OfType(notify.EventTaskError), 1)
}

// TestExecutor_RetryBudgetExhausted 预算用尽后进入FAILED
func TestExecutor_RetryBudgetExhausted(t *testing.T) {
	f := newFixture(t, Config{})
	f.fake.OnRun("wf-1", adaptertest.RunStep{Err: types.NewError(types.KindPlatformTransient, "HTTP 429")})
	f.addTask(t, "t1", func(task *types.Task) {
		task.MaxRetries = 2
		task.RetryCount = 2
	})

	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	got := f.waitStatus(t, "t1", types.TaskStatusFailed)
	assert.Equal(t, 2, got.RetryCount)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, f.requeuedTasks())
}

func TestExecutor_RejectedFailsImmediately(t *testing.T) {
	f := newFixture(t, Config{})
	f.fake.OnRun("wf-1", adaptertest.RunStep{Err: types.NewError(types.KindPlatformRejected, "HTTP 422 invalid payload")})
	f.addTask(t, "t1", nil)

	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	got := f.waitStatus(t, "t1", types.TaskStatusFailed)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, types.KindPlatformRejected, got.Error.Kind)
	assert.False(t, got.Error.Retryable)
}

func TestExecutor_FailedRunResultIsRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.fake.OnRun("wf-1", adaptertest.RunStep{Result: &types.RunResult{Finished: true, Success: false, Message: "node crashed"}})
	f.addTask(t, "t1", nil)

	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	got := f.waitStatus(t, "t1", types.TaskStatusFailed)
	assert.Equal(t, types.KindPlatformRejected, got.Error.Kind)
	assert.Contains(t, got.Error.Message, "node crashed")
}

// TestExecutor_Timeout 超过TimeoutMs后按瞬时错误处理并及时返回
func TestExecutor_Timeout(t *testing.T) {
	f := newFixture(t, Config{})
	f.fake.OnRun("wf-1", adaptertest.RunStep{Block: true})
	f.addTask(t, "t1", func(task *types.Task) { task.TimeoutMs = types.MinTimeoutMs })

	start := time.Now()
	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	got := f.waitStatus(t, "t1", types.TaskStatusPending)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, types.KindPlatformTransient, got.Error.Kind)
}

// TestExecutor_CancelMidFlight 取消执行中的任务
func TestExecutor_CancelMidFlight(t *testing.T) {
	f := newFixture(t, Config{})
	f.fake.OnRun("wf-1", adaptertest.RunStep{Block: true})
	f.addTask(t, "t1", func(task *types.Task) { task.TimeoutMs = 60_000 })

	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	require.Eventually(t, func() bool { return f.fake.RunCalls("wf-1") == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	assert.True(t, f.exec.Cancel("t1"))
	got := f.waitStatus(t, "t1", types.TaskStatusCancelled)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, types.KindTaskCancelled, got.Error.Kind)
	assert.Equal(t, 0, got.RetryCount)
	assert.False(t, f.exec.Cancel("t1"), "结束后不再有进行中的尝试")
}

// TestExecutor_UnhealthyPreflight 不健康Agent不调用平台，计入重试预算
func TestExecutor_UnhealthyPreflight(t *testing.T) {
	f := newFixture(t, Config{UnhealthyErrorCeiling: 3})
	require.NoError(t, f.store.SaveHealthRecord(context.Background(), &types.HealthRecord{
		AgentID: "agent-1", Status: types.HealthUnhealthy, ConsecutiveErrors: 3, ErrorCount: 3,
	}))
	f.addTask(t, "t1", nil)

	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	got := f.waitStatus(t, "t1", types.TaskStatusPending)
	assert.Equal(t, 0, f.fake.RunCalls("wf-1"), "预检失败不应调用平台")
	assert.Equal(t, types.KindAgentUnhealthy, got.Error.Kind)
	assert.Equal(t, 1, got.RetryCount)
}

// TestExecutor_AuthExpired 凭证失效：平台断开，任务保持可重新派发且不消耗预算
func TestExecutor_AuthExpired(t *testing.T) {
	f := newFixture(t, Config{})
	f.fake.OnRun("wf-1", adaptertest.RunStep{Err: types.NewError(types.KindAuthExpired, "refresh failed")})
	f.addTask(t, "t1", nil)

	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	got := f.waitStatus(t, "t1", types.TaskStatusPending)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, types.KindAuthExpired, got.Error.Kind)
	assert.True(t, f.registry.IsDisconnected("p1"))

	// 平台断开期间再次派发直接失败，不调用平台
	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	got = f.waitStatus(t, "t1", types.TaskStatusPending)
	assert.Equal(t, 1, f.fake.RunCalls("wf-1"))
	assert.Equal(t, 0, got.RetryCount)
}

type panicAdapter struct {
	*adaptertest.Fake
}

func (p panicAdapter) RunAgent(ctx context.Context, ref types.AgentRef, params map[string]interface{}, deadline time.Time) (*types.RunResult, error) {
	panic("adapter bug")
}

// TestExecutor_PanicIsInternal panic归类为内部错误，不消耗预算
func TestExecutor_PanicIsInternal(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.registry.RegisterAdapter(&types.Platform{ID: "p1", Type: types.PlatformN8N}, panicAdapter{f.fake}))
	f.addTask(t, "t1", nil)

	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	got := f.waitStatus(t, "t1", types.TaskStatusFailed)
	assert.Equal(t, types.KindInternal, got.Error.Kind)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, 0, f.exec.Running())
}

// stuckAdapter 忽略ctx，直到release关闭才返回
type stuckAdapter struct {
	*adaptertest.Fake
	calls   atomic.Int32
	release chan struct{}
}

func (s *stuckAdapter) RunAgent(ctx context.Context, ref types.AgentRef, params map[string]interface{}, deadline time.Time) (*types.RunResult, error) {
	s.calls.Add(1)
	<-s.release
	return &types.RunResult{Finished: true, Success: true}, nil
}

func newStuckAdapter(t *testing.T, f *fixture) *stuckAdapter {
	t.Helper()
	stuck := &stuckAdapter{Fake: f.fake, release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })
	require.NoError(t, f.registry.RegisterAdapter(&types.Platform{ID: "p1", Type: types.PlatformN8N}, stuck))
	return stuck
}

// TestExecutor_CancelWhilePlatformHangs 平台调用不返回时取消仍能结束任务并释放槽位
func TestExecutor_CancelWhilePlatformHangs(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentTasks: 1})
	stuck := newStuckAdapter(t, f)
	f.addTask(t, "t1", func(task *types.Task) { task.TimeoutMs = 60_000 })

	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	require.Eventually(t, func() bool { return stuck.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	assert.True(t, f.exec.Cancel("t1"))
	got := f.waitStatus(t, "t1", types.TaskStatusCancelled)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, types.KindTaskCancelled, got.Error.Kind)
	assert.Equal(t, 1, f.exec.Available())
}

// TestExecutor_TimeoutWhilePlatformHangs 平台调用不返回时按超时失败
func TestExecutor_TimeoutWhilePlatformHangs(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentTasks: 1})
	newStuckAdapter(t, f)
	f.addTask(t, "t1", func(task *types.Task) {
		task.TimeoutMs = types.MinTimeoutMs
		task.MaxRetries = 0
	})

	start := time.Now()
	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	got := f.waitStatus(t, "t1", types.TaskStatusFailed)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, types.KindPlatformTransient, got.Error.Kind)
	assert.Equal(t, 1, f.exec.Available())
	assert.Eventually(t, func() bool { return f.freed.Load() == 1 }, time.Second, 5*time.Millisecond)
}

// TestExecutor_AsyncRunPolling 异步运行需轮询结果
func TestExecutor_AsyncRunPolling(t *testing.T) {
	f := newFixture(t, Config{PollInterval: 20 * time.Millisecond})
	f.fake.OnRun("wf-1", adaptertest.RunStep{Result: &types.RunResult{ExecutionID: "ex-1"}})
	f.fake.OnPoll("ex-1",
		&types.RunResult{ExecutionID: "ex-1"},
		&types.RunResult{ExecutionID: "ex-1", Finished: true, Success: true, Output: "done"},
	)
	f.addTask(t, "t1", nil)

	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	got := f.waitStatus(t, "t1", types.TaskStatusCompleted)
	assert.Equal(t, "ex-1", got.ExecutionID)
	assert.Equal(t, "done", got.Result)
	assert.NotEmpty(t, f.rec.OfType(notify.EventTaskProgress))
}

// TestExecutor_PoolLimit 并发槽位限制与动态调整
func TestExecutor_PoolLimit(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrentTasks: 1})
	f.fake.OnRun("wf-1", adaptertest.RunStep{Block: true})
	for _, id := range []string{"t1", "t2", "t3"} {
		f.addTask(t, id, func(task *types.Task) { task.TimeoutMs = 60_000 })
	}

	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	assert.ErrorIs(t, f.exec.Dispatch(context.Background(), "t2"), ErrPoolFull)
	assert.Equal(t, 0, f.exec.Available())

	require.NoError(t, f.exec.SetPoolSize(2))
	require.NoError(t, f.exec.Dispatch(context.Background(), "t2"))
	assert.ErrorIs(t, f.exec.Dispatch(context.Background(), "t3"), ErrPoolFull)
	assert.Equal(t, 2, f.exec.Running())

	// 缩容后执行中的任务不受影响，但新任务需等待
	require.NoError(t, f.exec.SetPoolSize(1))
	assert.ErrorIs(t, f.exec.Dispatch(context.Background(), "t3"), ErrPoolFull)
	f.exec.Cancel("t1")
	f.waitStatus(t, "t1", types.TaskStatusCancelled)
	assert.ErrorIs(t, f.exec.Dispatch(context.Background(), "t3"), ErrPoolFull, "仍有1个任务在执行，已达上限")
	f.exec.Cancel("t2")
	f.waitStatus(t, "t2", types.TaskStatusCancelled)
	require.NoError(t, f.exec.Dispatch(context.Background(), "t3"))

	assert.Error(t, f.exec.SetPoolSize(0))
	assert.Error(t, f.exec.SetPoolSize(maxGlobalWorkers+1))
}

func TestExecutor_DispatchNotPending(t *testing.T) {
	f := newFixture(t, Config{})
	f.addTask(t, "t1", func(task *types.Task) { task.Status = types.TaskStatusCancelled })
	assert.ErrorIs(t, f.exec.Dispatch(context.Background(), "t1"), ErrTaskNotPending)
	assert.ErrorIs(t, f.exec.Dispatch(context.Background(), "missing"), ErrTaskNotPending)
	assert.Equal(t, 0, f.exec.Running())
}

// TestExecutor_StopReturnsTasksToPending 关闭时执行中的任务回到PENDING
func TestExecutor_StopReturnsTasksToPending(t *testing.T) {
	f := newFixture(t, Config{})
	f.fake.OnRun("wf-1", adaptertest.RunStep{Block: true})
	f.addTask(t, "t1", func(task *types.Task) { task.TimeoutMs = 60_000 })

	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	require.Eventually(t, func() bool { return f.fake.RunCalls("wf-1") == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.exec.Stop(context.Background()))

	got, err := f.store.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.ErrorIs(t, f.exec.Dispatch(context.Background(), "t1"), ErrClosed)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseBackoff: time.Second, Multiplier: 2, MaxBackoff: 60 * time.Second}
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 32*time.Second, p.Backoff(5))
	assert.Equal(t, 60*time.Second, p.Backoff(6))
	assert.Equal(t, 60*time.Second, p.Backoff(1000))
	assert.Equal(t, time.Second, p.Backoff(0))

	d := RetryPolicy{}.withDefaults()
	assert.Equal(t, DefaultRetryPolicy(), d)
}

// panicSink 每次通知都panic
type panicSink struct{ notify.Nop }

func (panicSink) NotifyTaskStatusChange(context.Context, *types.Task, types.TaskStatus, types.TaskStatus) error {
	panic("sink bug")
}

func (panicSink) NotifyTaskProgress(context.Context, *types.Task, notify.Progress) error {
	panic("sink bug")
}

// TestExecutor_SinkPanicDoesNotAffectTask 通知sink异常不影响任务结果
func TestExecutor_SinkPanicDoesNotAffectTask(t *testing.T) {
	f := newFixture(t, Config{})
	f.exec.notifier = panicSink{}
	f.fake.OnRun("wf-1", adaptertest.RunStep{Result: &types.RunResult{Finished: true, Success: true}})
	f.addTask(t, "t1", nil)

	require.NoError(t, f.exec.Dispatch(context.Background(), "t1"))
	f.waitStatus(t, "t1", types.TaskStatusCompleted)
	assert.Equal(t, int32(1), f.successes.Load())
}
