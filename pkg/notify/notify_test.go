package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/logger"
)

func sampleTask() *types.Task {
	return &types.Task{ID: "task-1", AgentID: "agent-1", Name: "sync leads", Status: types.TaskStatusRunning}
}

// TestDispatcher_Delivers 测试异步分发
func TestDispatcher_Delivers(t *testing.T) {
	rec := NewRecorder()
	d := NewDispatcher(rec, 16, logger.Discard())

	task := sampleTask()
	require.NoError(t, d.NotifyTaskStatusChange(context.Background(), task, types.TaskStatusPending, types.TaskStatusRunning))
	require.NoError(t, d.NotifyTaskProgress(context.Background(), task, Progress{Stage: StageDispatching, Percent: 10}))
	require.NoError(t, d.NotifyAgentHealthChange(context.Background(), "agent-1", types.HealthHealthy,
		types.HealthRecord{AgentID: "agent-1", Status: types.HealthDegraded}))

	// 入队后修改任务不影响已入队的快照
	task.Name = "mutated"
	d.Close()

	events := rec.Events()
	require.Len(t, events, 3)
	assert.Equal(t, []string{"PENDING->RUNNING"}, rec.StatusTransitions("task-1"))
	assert.Equal(t, "sync leads", events[0].TaskName)
	assert.Equal(t, StageDispatching, events[1].Progress.Stage)
	assert.Equal(t, "degraded", events[2].NewStatus)
}

// TestDispatcher_DropsWhenFull 测试队列满时不阻塞调用方
func TestDispatcher_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	sink := NewEventSink(func(ctx context.Context, e *Event) error {
		<-release
		return nil
	})
	d := NewDispatcher(sink, 1, logger.Discard())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = d.NotifyTaskError(context.Background(), sampleTask(), &types.TaskError{Kind: types.KindInternal})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("通知调用不应阻塞")
	}
	assert.Greater(t, d.Dropped(), int64(0))
	close(release)
	d.Close()
}

// TestMulti_JoinsErrors 测试扇出错误汇总
func TestMulti_JoinsErrors(t *testing.T) {
	rec := NewRecorder()
	failing := NewEventSink(func(ctx context.Context, e *Event) error { return errors.New("down") })
	m := Multi{rec, failing}
	err := m.NotifyTaskStatusChange(context.Background(), sampleTask(), types.TaskStatusRunning, types.TaskStatusCompleted)
	assert.Error(t, err)
	assert.Len(t, rec.Events(), 1, "单个Sink失败不影响其他Sink")
}

// TestBus_Subscribe 测试总线订阅
func TestBus_Subscribe(t *testing.T) {
	bus, err := NewBus(logger.Discard())
	require.NoError(t, err)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, EventTaskStatusChanged)
	require.NoError(t, err)

	require.NoError(t, bus.NotifyTaskStatusChange(ctx, sampleTask(), types.TaskStatusRunning, types.TaskStatusCompleted))

	select {
	case e := <-ch:
		assert.Equal(t, EventTaskStatusChanged, e.Type)
		assert.Equal(t, "COMPLETED", e.NewStatus)
	case <-time.After(2 * time.Second):
		t.Fatal("未收到总线事件")
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subjects)
}

// TestNATSBridge_AttachToBus 测试NATS桥接通过总线路由器转发
func TestNATSBridge_AttachToBus(t *testing.T) {
	bus, err := NewBus(logger.Discard())
	require.NoError(t, err)
	defer bus.Close()

	pub := &fakePublisher{}
	bridge := NewNATSBridge(pub, "agenthub.", logger.Discard())
	bridge.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bus.Start(ctx))

	require.NoError(t, bus.NotifyAgentHealthChange(ctx, "agent-1", types.HealthHealthy,
		types.HealthRecord{AgentID: "agent-1", Status: types.HealthUnhealthy}))

	require.Eventually(t, func() bool { return pub.count() == 1 }, 3*time.Second, 20*time.Millisecond)
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, "agenthub.agent.health_changed", pub.subjects[0])
	var e Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &e))
	assert.Equal(t, "unhealthy", e.NewStatus)
}

// TestConnectNATS_Unreachable 测试NATS不可达时返回错误
func TestConnectNATS_Unreachable(t *testing.T) {
	_, err := ConnectNATS("nats://127.0.0.1:1", "agenthub", "test", logger.Discard())
	assert.Error(t, err)
}
