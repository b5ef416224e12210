// Package storagetest 存储实现的通用契约测试，sqlite 与 memory 实现共用
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/storage"
)

func newTask(id string, status types.TaskStatus, created time.Time) *types.Task {
	return &types.Task{
		ID:          id,
		AgentID:     "agent-1",
		Name:        "task " + id,
		Priority:    types.PriorityMedium,
		Status:      status,
		Parameters:  map[string]interface{}{"n": float64(1)},
		MaxRetries:  3,
		TimeoutMs:   5_000,
		ScheduledAt: created,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

// RunStoreContract 对 storage.Store 实现执行通用行为校验
func RunStoreContract(t *testing.T, s storage.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	t.Run("TaskCRUD", func(t *testing.T) {
		task := newTask("task-crud", types.TaskStatusPending, base)
		task.Error = &types.TaskError{Kind: types.KindPlatformTransient, Message: "503", Retryable: true, Timestamp: base}
		require.NoError(t, s.SaveTask(ctx, task))

		got, err := s.GetTask(ctx, "task-crud")
		require.NoError(t, err)
		require.NotNil(t, got, "保存后应能查询到任务")
		assert.Equal(t, task.Name, got.Name)
		assert.Equal(t, types.TaskStatusPending, got.Status)
		assert.Equal(t, float64(1), got.Parameters["n"])
		require.NotNil(t, got.Error)
		assert.Equal(t, types.KindPlatformTransient, got.Error.Kind)
		assert.WithinDuration(t, base, got.ScheduledAt, time.Second)

		require.NoError(t, s.DeleteTask(ctx, "task-crud"))
		got, err = s.GetTask(ctx, "task-crud")
		require.NoError(t, err)
		assert.Nil(t, got, "删除后应返回nil")
	})

	t.Run("CompareAndSwap", func(t *testing.T) {
		task := newTask("task-cas", types.TaskStatusPending, base)
		require.NoError(t, s.SaveTask(ctx, task))

		running := task.Clone()
		running.Status = types.TaskStatusRunning
		ok, err := s.CompareAndSwapTaskStatus(ctx, task.ID, types.TaskStatusPending, running)
		require.NoError(t, err)
		assert.True(t, ok, "状态匹配时应写入成功")

		again := task.Clone()
		again.Status = types.TaskStatusRunning
		ok, err = s.CompareAndSwapTaskStatus(ctx, task.ID, types.TaskStatusPending, again)
		require.NoError(t, err)
		assert.False(t, ok, "状态不匹配时不应写入")

		ok, err = s.CompareAndSwapTaskStatus(ctx, "missing", types.TaskStatusPending, again)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusRunning, got.Status)
		require.NoError(t, s.DeleteTask(ctx, task.ID))
	})

	t.Run("ListAndCount", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			st := types.TaskStatusPending
			if i%2 == 1 {
				st = types.TaskStatusCompleted
			}
			require.NoError(t, s.SaveTask(ctx, newTask(fmt.Sprintf("list-%d", i), st, base.Add(time.Duration(i)*time.Second))))
		}

		items, total, err := s.ListTasks(ctx, types.TaskFilter{}, types.Pagination{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, items, 2)
		assert.Equal(t, "list-4", items[0].ID, "按创建时间倒序")

		items, total, err = s.ListTasks(ctx, types.TaskFilter{Statuses: []types.TaskStatus{types.TaskStatusPending}}, types.Pagination{})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, items, 3)

		pending, err := s.ListTasksByStatus(ctx, types.TaskStatusPending)
		require.NoError(t, err)
		assert.Len(t, pending, 3)

		counts, err := s.CountTasksByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, counts[types.TaskStatusPending])
		assert.Equal(t, 2, counts[types.TaskStatusCompleted])
		assert.Equal(t, 0, counts[types.TaskStatusRunning])

		for i := 0; i < 5; i++ {
			require.NoError(t, s.DeleteTask(ctx, fmt.Sprintf("list-%d", i)))
		}
	})

	t.Run("AgentWithHealth", func(t *testing.T) {
		agent := &types.Agent{
			ID:            "agent-store",
			PlatformID:    "p1",
			ExternalID:    "wf-42",
			Name:          "lead sync",
			Capabilities:  []string{"crm", "email"},
			Configuration: map[string]interface{}{"webhookPath": "lead"},
			Status:        types.AgentStatusActive,
			Health:        types.HealthRecord{AgentID: "agent-store", Status: types.HealthHealthy, ErrorCount: 9},
			HealthConfig:  &types.HealthConfig{Interval: time.Minute, Timeout: 3 * time.Second, Retries: 4, Enabled: true, ResponseTimeThresholdMs: 800},
			CreatedAt:     base,
			UpdatedAt:     base,
		}
		require.NoError(t, s.SaveAgent(ctx, agent))

		got, err := s.GetAgent(ctx, agent.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []string{"crm", "email"}, got.Capabilities)
		assert.Equal(t, "lead", got.Configuration["webhookPath"])
		require.NotNil(t, got.HealthConfig)
		assert.Equal(t, *agent.HealthConfig, *got.HealthConfig)
		assert.Equal(t, types.HealthUnknown, got.Health.Status, "SaveAgent不写健康记录")
		assert.Equal(t, 0, got.Health.ErrorCount)

		rec := types.HealthRecord{AgentID: agent.ID, Status: types.HealthDegraded, ConsecutiveErrors: 1, ErrorCount: 4, LastCheck: base}
		require.NoError(t, s.SaveHealthRecord(ctx, &rec))
		got, err = s.GetAgent(ctx, agent.ID)
		require.NoError(t, err)
		assert.Equal(t, types.HealthDegraded, got.Health.Status)
		assert.Equal(t, 4, got.Health.ErrorCount)

		// 带旧健康记录的Agent再次保存，不覆盖已有记录
		got.Name = "lead sync v2"
		got.Health = types.HealthRecord{AgentID: agent.ID, Status: types.HealthHealthy}
		require.NoError(t, s.SaveAgent(ctx, got))
		got, err = s.GetAgent(ctx, agent.ID)
		require.NoError(t, err)
		assert.Equal(t, "lead sync v2", got.Name)
		assert.Equal(t, types.HealthDegraded, got.Health.Status)
		assert.Equal(t, 1, got.Health.ConsecutiveErrors)

		found, err := s.FindAgentByExternalID(ctx, "p1", "wf-42")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, agent.ID, found.ID)

		list, err := s.ListAgents(ctx, types.AgentFilter{Capability: "crm"})
		require.NoError(t, err)
		assert.Len(t, list, 1)
		list, err = s.ListAgents(ctx, types.AgentFilter{Capability: "sms"})
		require.NoError(t, err)
		assert.Len(t, list, 0)

		require.NoError(t, s.DeleteAgent(ctx, agent.ID))
		got, err = s.GetAgent(ctx, agent.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
		r, err := s.GetHealthRecord(ctx, agent.ID)
		require.NoError(t, err)
		assert.Nil(t, r, "删除Agent时应同时删除健康记录")
	})

	t.Run("Platform", func(t *testing.T) {
		p := &types.Platform{
			ID:         "p-store",
			Name:       "n8n prod",
			Type:       types.PlatformN8N,
			BaseURL:    "https://n8n.example.com",
			AuthConfig: types.AuthConfig{Type: types.AuthAPIKey, Credentials: map[string]string{"api_key": "k"}},
			Status:     types.PlatformConnected,
			CreatedAt:  base,
			UpdatedAt:  base,
		}
		require.NoError(t, s.SavePlatform(ctx, p))
		got, err := s.GetPlatform(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "k", got.AuthConfig.Credentials["api_key"])
		assert.Equal(t, types.AuthAPIKey, got.AuthConfig.Type)

		list, err := s.ListPlatforms(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, s.DeletePlatform(ctx, p.ID))
		got, err = s.GetPlatform(ctx, p.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Schedule", func(t *testing.T) {
		sc := &types.Schedule{
			ID:        "sc-1",
			Name:      "nightly",
			CronExpr:  "0 0 2 * * *",
			Template:  types.TaskSpec{AgentID: "agent-1", Name: "nightly sync", Priority: types.PriorityHigh},
			Enabled:   true,
			CreatedAt: base,
			UpdatedAt: base,
		}
		require.NoError(t, s.SaveSchedule(ctx, sc))
		got, err := s.GetSchedule(ctx, sc.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.Enabled)
		assert.Equal(t, types.PriorityHigh, got.Template.Priority)

		list, err := s.ListSchedules(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, s.DeleteSchedule(ctx, sc.ID))
		got, err = s.GetSchedule(ctx, sc.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
