package health

import (
	"context"
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
	store    *memory.Store
	fake     *adaptertest.Fake
	registry *adapter.Registry
	rec      *notify.Recorder
	mon      *Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		fake:     adaptertest.New(types.PlatformMake),
		registry: adapter.NewRegistry(adapter.Options{Log: logger.Discard()}),
		rec:      notify.NewRecorder(),
	}
	require.NoError(t, f.registry.RegisterAdapter(&types.Platform{ID: "p1", Type: types.PlatformMake}, f.fake))
	f.addAgent(t, "agent-1", "sc-1", types.AgentStatusActive)

	defaults := types.HealthConfig{
		Interval:                time.Hour,
		Timeout:                 time.Second,
		Retries:                 3,
		Enabled:                 true,
		ResponseTimeThresholdMs: 5_000,
	}
	f.mon = NewMonitor(f.store, f.registry, f.rec, defaults, logger.Discard())
	t.Cleanup(f.mon.Stop)
	return f
}

func (f *fixture) addAgent(t *testing.T, id, externalID string, status types.AgentStatus) {
	now := time.Now()
	require.NoError(t, f.store.SaveAgent(context.Background(), &types.Agent{
		ID:         id,
		PlatformID: "p1",
		ExternalID: externalID,
		Name:       id,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))
	require.NoError(t, f.store.SaveHealthRecord(context.Background(), &types.HealthRecord{AgentID: id, Status: types.HealthHealthy}))
}

func (f *fixture) agent(t *testing.T, id string) *types.Agent {
	a, err := f.store.GetAgent(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func (f *fixture) healthTransitions() []string {
	var out []string
	for _, e := range f.rec.OfType(notify.EventAgentHealthChanged) {
		out = append(out, e.OldStatus+"->"+e.NewStatus)
	}
	return out
}

var errUnavailable = types.NewError(types.KindPlatformTransient, "503 service unavailable")

func TestPerformHealthCheck_Success(t *testing.T) {
	f := newFixture(t)
	res, err := f.mon.PerformHealthCheck(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, types.HealthHealthy, res.Record.Status)
	assert.Equal(t, 0, res.Record.ConsecutiveErrors)
	assert.False(t, res.Record.LastCheck.IsZero())
	assert.Equal(t, 1, f.fake.ProbeCalls("sc-1"))
	assert.Empty(t, f.healthTransitions(), "状态未变化时不发通知")
}

func TestPerformHealthCheck_UnknownAgent(t *testing.T) {
	f := newFixture(t)
	_, err := f.mon.PerformHealthCheck(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestFailuresDegradeThenRecover(t *testing.T) {
	f := newFixture(t)
	f.fake.OnProbe("sc-1",
		adaptertest.ProbeStep{Err: errUnavailable},
		adaptertest.ProbeStep{Err: errUnavailable},
		adaptertest.ProbeStep{Err: errUnavailable},
		adaptertest.ProbeStep{OK: true},
	)
	ctx := context.Background()

	res, err := f.mon.PerformHealthCheck(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthDegraded, res.Record.Status)
	assert.Equal(t, 1, res.Record.ConsecutiveErrors)
	assert.Contains(t, res.Record.LastError, "503")

	_, err = f.mon.PerformHealthCheck(ctx, "agent-1")
	require.NoError(t, err)
	res, err = f.mon.PerformHealthCheck(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthUnhealthy, res.Record.Status)
	assert.Equal(t, 3, res.Record.ConsecutiveErrors)
	assert.Equal(t, types.AgentStatusError, f.agent(t, "agent-1").Status, "不健康时Agent转为ERROR")

	res, err = f.mon.PerformHealthCheck(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthHealthy, res.Record.Status)
	assert.Equal(t, 0, res.Record.ConsecutiveErrors)
	assert.Equal(t, 3, res.Record.ErrorCount, "累计错误数不随恢复清零")
	assert.Empty(t, res.Record.LastError)
	assert.Equal(t, types.AgentStatusActive, f.agent(t, "agent-1").Status, "恢复后Agent转回ACTIVE")

	assert.Equal(t, []string{"healthy->degraded", "degraded->unhealthy", "unhealthy->healthy"}, f.healthTransitions())
}

func TestSlowResponseIsDegraded(t *testing.T) {
	f := newFixture(t)
	f.mon.Watch("agent-1", types.HealthConfig{Interval: time.Hour, Timeout: time.Second, Retries: 3, Enabled: true, ResponseTimeThresholdMs: 10})
	f.fake.OnProbe("sc-1", adaptertest.ProbeStep{OK: true, Delay: 50 * time.Millisecond})

	res, err := f.mon.PerformHealthCheck(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthDegraded, res.Record.Status)
	assert.Equal(t, 0, res.Record.ConsecutiveErrors)
	assert.GreaterOrEqual(t, res.Record.ResponseTimeMs, int64(50))
	assert.Equal(t, types.AgentStatusActive, f.agent(t, "agent-1").Status, "degraded不改变Agent状态")
}

func TestProbeTimeoutCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	f.mon.Watch("agent-1", types.HealthConfig{Interval: time.Hour, Timeout: 30 * time.Millisecond, Retries: 1, Enabled: true})
	f.fake.OnProbe("sc-1", adaptertest.ProbeStep{OK: true, Delay: time.Second})

	start := time.Now()
	res, err := f.mon.PerformHealthCheck(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "探测受超时约束")
	assert.Equal(t, types.HealthUnhealthy, res.Record.Status)
	assert.Equal(t, 1, res.Record.ErrorCount)
}

func TestMaintenanceAgentKeepsStatus(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, "agent-m", "sc-m", types.AgentStatusMaintenance)
	f.fake.OnProbe("sc-m", adaptertest.ProbeStep{Err: errUnavailable})
	f.mon.Watch("agent-m", types.HealthConfig{Retries: 1, Enabled: true})

	res, err := f.mon.PerformHealthCheck(context.Background(), "agent-m")
	require.NoError(t, err)
	assert.Equal(t, types.HealthUnhealthy, res.Record.Status)
	assert.Equal(t, types.AgentStatusMaintenance, f.agent(t, "agent-m").Status)
}

func TestDisconnectedPlatformCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	f.registry.MarkAuthExpired("p1")

	res, err := f.mon.PerformHealthCheck(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthDegraded, res.Record.Status)
	assert.Equal(t, 0, f.fake.ProbeCalls("sc-1"), "平台断开时不发起探测")
}

func TestManualCheckSkippedWhileProbeInFlight(t *testing.T) {
	f := newFixture(t)
	f.fake.OnProbe("sc-1", adaptertest.ProbeStep{OK: true, Delay: 300 * time.Millisecond}, adaptertest.ProbeStep{OK: true})

	first := make(chan *types.HealthCheckResult, 1)
	go func() {
		res, err := f.mon.PerformHealthCheck(context.Background(), "agent-1")
		if err == nil {
			first <- res
		}
		close(first)
	}()
	require.Eventually(t, func() bool { return f.fake.ProbeCalls("sc-1") == 1 }, time.Second, 5*time.Millisecond)

	res, err := f.mon.PerformHealthCheck(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, res.Skipped, "探测进行中时手动检查应跳过")
	assert.Equal(t, types.HealthHealthy, res.Record.Status)

	got := <-first
	require.NotNil(t, got)
	assert.False(t, got.Skipped)
	assert.Equal(t, 1, f.fake.ProbeCalls("sc-1"))
	assert.Equal(t, 1, f.fake.MaxConcurrentProbes())
}

func TestLoopProbesWithoutOverlap(t *testing.T) {
	f := newFixture(t)
	f.fake.OnProbe("sc-1",
		adaptertest.ProbeStep{Err: errUnavailable, Delay: 30 * time.Millisecond},
		adaptertest.ProbeStep{OK: true, Delay: 30 * time.Millisecond},
	)
	f.mon.Watch("agent-1", types.HealthConfig{Interval: 10 * time.Millisecond, Timeout: time.Second, Retries: 3, Enabled: true})
	require.NoError(t, f.mon.Start(context.Background()))

	manualDone := make(chan struct{})
	go func() {
		defer close(manualDone)
		for i := 0; i < 5; i++ {
			_, _ = f.mon.PerformHealthCheck(context.Background(), "agent-1")
			time.Sleep(7 * time.Millisecond)
		}
	}()

	assert.Eventually(t, func() bool { return f.fake.ProbeCalls("sc-1") >= 4 }, 3*time.Second, 10*time.Millisecond,
		"探测失败后循环继续")
	<-manualDone
	f.mon.Stop()
	assert.Equal(t, 1, f.fake.MaxConcurrentProbes(), "同一Agent不会并发探测")

	calls := f.fake.ProbeCalls("sc-1")
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, f.fake.ProbeCalls("sc-1"), "停止后不再探测")
}

func TestMarkHealthyResetsConsecutiveErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveHealthRecord(ctx, &types.HealthRecord{
		AgentID: "agent-1", Status: types.HealthUnhealthy, ConsecutiveErrors: 3, ErrorCount: 7, ResponseTimeMs: 20,
	}))

	require.NoError(t, f.mon.MarkHealthy(ctx, "agent-1"))
	rec, err := f.mon.Current(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthHealthy, rec.Status)
	assert.Equal(t, 0, rec.ConsecutiveErrors)
	assert.Equal(t, 7, rec.ErrorCount)
	assert.Equal(t, []string{"unhealthy->healthy"}, f.healthTransitions())

	require.NoError(t, f.mon.MarkHealthy(ctx, "agent-1"))
	assert.Len(t, f.healthTransitions(), 1, "无连续错误时不做修改")
}

func TestConfigureAndStatus(t *testing.T) {
	f := newFixture(t)
	f.addAgent(t, "agent-2", "sc-2", types.AgentStatusActive)
	ctx := context.Background()

	require.NoError(t, f.mon.Configure(ctx, "agent-1", types.HealthConfig{Interval: time.Minute, Enabled: true}))
	require.NoError(t, f.mon.Configure(ctx, "agent-2", types.HealthConfig{Enabled: false}))
	err := f.mon.Configure(ctx, "missing", types.HealthConfig{Enabled: true})
	assert.ErrorIs(t, err, types.ErrNotFound)

	cfg, ok := f.mon.Config("agent-1")
	require.True(t, ok)
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 3, cfg.Retries, "零值字段使用默认值")

	saved := f.agent(t, "agent-1").HealthConfig
	require.NotNil(t, saved, "监控配置随Agent持久化")
	assert.Equal(t, cfg, *saved)
	require.NotNil(t, f.agent(t, "agent-2").HealthConfig)
	assert.False(t, f.agent(t, "agent-2").HealthConfig.Enabled)

	st := f.mon.Status()
	assert.False(t, st.Running)
	assert.Equal(t, 1, st.MonitoredCount)
	assert.Len(t, st.Agents, 2)
	assert.Equal(t, 2, st.StatusCounts[types.HealthUnknown])

	_, err = f.mon.PerformHealthCheck(ctx, "agent-1")
	require.NoError(t, err)
	st = f.mon.Status()
	assert.Equal(t, 1, st.StatusCounts[types.HealthHealthy])

	f.mon.Unwatch("agent-2")
	assert.Len(t, f.mon.Status().Agents, 1)
}
