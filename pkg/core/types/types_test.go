package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPriorityRank 测试优先级排序
func TestPriorityRank(t *testing.T) {
	assert.Greater(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	assert.Greater(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Greater(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Equal(t, -1, TaskPriority("URGENT").Rank())

	p, err := ParsePriority(" high ")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)

	_, err = ParsePriority("urgent")
	assert.True(t, errors.Is(err, ErrValidation), "未知优先级应返回ValidationError")
}

// TestTaskTransitions 测试任务状态机
func TestTaskTransitions(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		ok       bool
	}{
		{TaskStatusPending, TaskStatusRunning, true},
		{TaskStatusPending, TaskStatusCancelled, true},
		{TaskStatusPending, TaskStatusCompleted, false},
		{TaskStatusRunning, TaskStatusCompleted, true},
		{TaskStatusRunning, TaskStatusFailed, true},
		{TaskStatusRunning, TaskStatusPending, true},
		{TaskStatusRunning, TaskStatusCancelled, true},
		{TaskStatusFailed, TaskStatusPending, true},
		{TaskStatusFailed, TaskStatusCancelled, false},
		{TaskStatusCompleted, TaskStatusPending, false},
		{TaskStatusCancelled, TaskStatusPending, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

// TestTaskValidate 测试任务字段边界
func TestTaskValidate(t *testing.T) {
	base := func() *Task {
		return &Task{
			AgentID:    "agent-1",
			Name:       "sync",
			Priority:   PriorityMedium,
			MaxRetries: 3,
			TimeoutMs:  30_000,
		}
	}
	require.NoError(t, base().Validate())

	task := base()
	task.TimeoutMs = 999
	assert.Error(t, task.Validate(), "超时下限为1000ms")

	task = base()
	task.TimeoutMs = 300_001
	assert.Error(t, task.Validate(), "超时上限为300000ms")

	task = base()
	task.MaxRetries = 11
	assert.Error(t, task.Validate())

	task = base()
	task.RetryCount = 4
	assert.Error(t, task.Validate(), "retry_count不能超过max_retries")
}

// TestTaskIsFinal 测试终态判断
func TestTaskIsFinal(t *testing.T) {
	task := &Task{Status: TaskStatusFailed, MaxRetries: 2, RetryCount: 1}
	assert.False(t, task.IsFinal(), "仍有重试预算的失败任务不是终态")
	task.RetryCount = 2
	assert.True(t, task.IsFinal())
	assert.True(t, (&Task{Status: TaskStatusCompleted}).IsFinal())
}

// TestTaskClone 测试复制隔离
func TestTaskClone(t *testing.T) {
	task := &Task{ID: "t1", Parameters: map[string]interface{}{"k": "v"}}
	c := task.Clone()
	c.Parameters["k"] = "changed"
	assert.Equal(t, "v", task.Parameters["k"])
}

// TestErrorKinds 测试错误分类
func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("执行失败: %w", NewError(KindPlatformTransient, "503"))
	assert.True(t, errors.Is(err, ErrPlatformTransient))
	assert.False(t, errors.Is(err, ErrPlatformRejected))
	assert.Equal(t, KindPlatformTransient, KindOf(err))
	assert.True(t, KindOf(err).Retryable())

	assert.Equal(t, KindPlatformTransient, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindTaskCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))

	assert.True(t, KindAgentUnhealthy.Retryable())
	assert.False(t, KindPlatformRejected.Retryable())
	assert.False(t, KindInternal.ConsumesRetryBudget())
	assert.True(t, KindPlatformTransient.ConsumesRetryBudget())

	te := NewTaskError(NewError(KindPlatformRejected, "bad request"))
	require.NotNil(t, te)
	assert.Equal(t, KindPlatformRejected, te.Kind)
	assert.False(t, te.Retryable)
}

// TestComputeHealthStatus 测试健康状态计算
func TestComputeHealthStatus(t *testing.T) {
	assert.Equal(t, HealthHealthy, ComputeHealthStatus(0, 100, 3, 5000))
	assert.Equal(t, HealthDegraded, ComputeHealthStatus(0, 6000, 3, 5000))
	assert.Equal(t, HealthDegraded, ComputeHealthStatus(2, 100, 3, 5000))
	assert.Equal(t, HealthUnhealthy, ComputeHealthStatus(3, 100, 3, 5000))
	assert.Equal(t, HealthUnhealthy, ComputeHealthStatus(3, 100, 0, 0), "retries为0时使用默认值3")
}

// TestParsePlatformType 测试平台类型解析
func TestParsePlatformType(t *testing.T) {
	pt, err := ParsePlatformType("n8n")
	require.NoError(t, err)
	assert.Equal(t, PlatformN8N, pt)

	_, err = ParsePlatformType("ifttt")
	assert.True(t, errors.Is(err, ErrUnsupportedPlatform))
}

// TestNormalizeCapabilities 测试能力去重
func TestNormalizeCapabilities(t *testing.T) {
	assert.Equal(t, []string{"email", "crm"}, NormalizeCapabilities([]string{"email", " crm", "email", ""}))
	assert.Nil(t, NormalizeCapabilities(nil))
}
