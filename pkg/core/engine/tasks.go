package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// CreateTask 创建任务并加入调度队列
func (e *Engine) CreateTask(ctx context.Context, spec types.TaskSpec) (*types.Task, error) {
	if _, err := e.dispatchableAgent(ctx, spec.AgentID); err != nil {
		return nil, err
	}

	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	now := e.now()
	task := &types.Task{
		ID:          uuid.NewString(),
		AgentID:     spec.AgentID,
		WorkflowID:  spec.WorkflowID,
		Name:        strings.TrimSpace(spec.Name),
		Description: spec.Description,
		Priority:    types.PriorityMedium,
		Status:      types.TaskStatusPending,
		Parameters:  spec.Parameters,
		MaxRetries:  cfg.DefaultMaxRetries,
		TimeoutMs:   cfg.DefaultTimeoutMs,
		ScheduledAt: now,
		CreatedBy:   spec.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if spec.Priority != "" {
		p, err := types.ParsePriority(string(spec.Priority))
		if err != nil {
			return nil, err
		}
		task.Priority = p
	}
	if spec.MaxRetries != nil {
		task.MaxRetries = *spec.MaxRetries
	}
	if spec.TimeoutMs != 0 {
		task.TimeoutMs = spec.TimeoutMs
	}
	if spec.ScheduledAt != nil && !spec.ScheduledAt.IsZero() {
		task.ScheduledAt = *spec.ScheduledAt
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}

	if err := e.store.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("保存任务失败: %w", err)
	}
	if err := e.sched.Enqueue(task); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"agent_id": task.AgentID,
		"priority": task.Priority,
	}).Info("📝 任务已创建")
	return task.Clone(), nil
}

// dispatchableAgent 校验任务引用的Agent存在且可接收任务
func (e *Engine) dispatchableAgent(ctx context.Context, agentID string) (*types.Agent, error) {
	if agentID == "" {
		return nil, types.NewError(types.KindValidation, "agent_id不能为空")
	}
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("加载Agent失败: %w", err)
	}
	if agent == nil {
		return nil, types.NewError(types.KindValidation, "引用了不存在的Agent: %s", agentID)
	}
	if !agent.Status.Dispatchable() {
		return nil, types.NewError(types.KindValidation, "Agent %s 当前状态 %s 不接收任务", agentID, agent.Status)
	}
	return agent, nil
}

// GetTask 查询任务
func (e *Engine) GetTask(ctx context.Context, id string) (*types.Task, error) {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("加载任务失败: %w", err)
	}
	if task == nil {
		return nil, types.NewError(types.KindNotFound, "任务不存在: %s", id)
	}
	return task, nil
}

// UpdateTask 修改PENDING或FAILED任务的定义，PENDING任务按新参数重新排队
func (e *Engine) UpdateTask(ctx context.Context, id string, upd types.TaskUpdate) (*types.Task, error) {
	cur, err := e.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != types.TaskStatusPending && cur.Status != types.TaskStatusFailed {
		return nil, types.NewError(types.KindValidation, "任务状态为 %s，只能修改PENDING或FAILED任务", cur.Status)
	}

	next := cur.Clone()
	if upd.Name != nil {
		next.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Description != nil {
		next.Description = *upd.Description
	}
	if upd.Priority != nil {
		p, err := types.ParsePriority(string(*upd.Priority))
		if err != nil {
			return nil, err
		}
		next.Priority = p
	}
	if upd.Parameters != nil {
		next.Parameters = upd.Parameters
	}
	if upd.MaxRetries != nil {
		next.MaxRetries = *upd.MaxRetries
	}
	if upd.TimeoutMs != nil {
		next.TimeoutMs = *upd.TimeoutMs
	}
	if upd.ScheduledAt != nil {
		next.ScheduledAt = *upd.ScheduledAt
	}
	next.UpdatedAt = e.now()
	if err := next.Validate(); err != nil {
		return nil, err
	}

	ok, err := e.store.CompareAndSwapTaskStatus(ctx, id, cur.Status, next)
	if err != nil {
		return nil, fmt.Errorf("保存任务失败: %w", err)
	}
	if !ok {
		return nil, types.NewError(types.KindValidation, "任务状态已变化，请重试")
	}
	if next.Status == types.TaskStatusPending {
		if err := e.sched.Enqueue(next); err != nil {
			return nil, err
		}
	}
	e.log.WithField("task_id", id).Info("✏️ 任务已更新")
	return next, nil
}

// DeleteTask 删除任务，执行中的任务需先取消
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	task, err := e.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status == types.TaskStatusRunning || e.exec.IsRunning(id) {
		return types.NewError(types.KindValidation, "任务正在执行，请先取消")
	}
	e.sched.Remove(id)
	if err := e.store.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("删除任务失败: %w", err)
	}
	e.log.WithField("task_id", id).Info("🗑️ 任务已删除")
	return nil
}

// CancelTask 取消任务：PENDING任务同步转为CANCELLED；RUNNING任务发出取消信号后立即返回
func (e *Engine) CancelTask(ctx context.Context, id string) (*types.Task, error) {
	for attempt := 0; attempt < 3; attempt++ {
		task, err := e.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		switch task.Status {
		case types.TaskStatusPending:
			next := e.cancelled(task)
			ok, err := e.store.CompareAndSwapTaskStatus(ctx, id, types.TaskStatusPending, next)
			if err != nil {
				return nil, fmt.Errorf("更新任务状态失败: %w", err)
			}
			if !ok {
				continue // 与派发竞争，按最新状态重试
			}
			e.sched.Remove(id)
			e.notifyStatus(ctx, next, types.TaskStatusPending, types.TaskStatusCancelled)
			e.log.WithField("task_id", id).Info("🛑 任务已取消")
			return next, nil

		case types.TaskStatusRunning:
			if e.exec.Cancel(id) {
				e.log.WithField("task_id", id).Info("🛑 已发出取消信号")
				return task, nil
			}
			// 没有进行中的执行尝试（例如恢复前的遗留状态）
			next := e.cancelled(task)
			ok, err := e.store.CompareAndSwapTaskStatus(ctx, id, types.TaskStatusRunning, next)
			if err != nil {
				return nil, fmt.Errorf("更新任务状态失败: %w", err)
			}
			if !ok {
				continue
			}
			e.notifyStatus(ctx, next, types.TaskStatusRunning, types.TaskStatusCancelled)
			return next, nil

		default:
			return nil, types.NewError(types.KindValidation, "任务状态为 %s，无法取消", task.Status)
		}
	}
	return nil, types.NewError(types.KindValidation, "任务状态频繁变化，取消失败")
}

func (e *Engine) cancelled(task *types.Task) *types.Task {
	now := e.now()
	next := task.Clone()
	next.Status = types.TaskStatusCancelled
	next.CompletedAt = &now
	next.UpdatedAt = now
	next.Error = types.NewTaskError(types.NewError(types.KindTaskCancelled, "任务被取消"))
	return next
}

// RetryTask 手动重试FAILED任务，消耗一次重试预算
func (e *Engine) RetryTask(ctx context.Context, id string) (*types.Task, error) {
	task, err := e.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status != types.TaskStatusFailed {
		return nil, types.NewError(types.KindValidation, "只能重试FAILED任务，当前: %s", task.Status)
	}
	if !task.CanRetry() {
		return nil, types.NewError(types.KindValidation, "任务重试次数已用尽(%d/%d)", task.RetryCount, task.MaxRetries)
	}

	now := e.now()
	next := task.Clone()
	next.Status = types.TaskStatusPending
	next.RetryCount++
	next.ScheduledAt = now
	next.StartedAt = nil
	next.CompletedAt = nil
	next.ExecutionID = ""
	next.UpdatedAt = now
	ok, err := e.store.CompareAndSwapTaskStatus(ctx, id, types.TaskStatusFailed, next)
	if err != nil {
		return nil, fmt.Errorf("更新任务状态失败: %w", err)
	}
	if !ok {
		return nil, types.NewError(types.KindValidation, "任务状态已变化，请重试")
	}
	e.notifyStatus(ctx, next, types.TaskStatusFailed, types.TaskStatusPending)
	if err := e.sched.Enqueue(next); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"task_id": id, "retry": next.RetryCount}).Info("🔁 任务已手动重试")
	return next, nil
}

// GetTasks 分页查询任务
func (e *Engine) GetTasks(ctx context.Context, filter types.TaskFilter, page types.Pagination) (*types.TaskPage, error) {
	page = page.Normalize()
	items, total, err := e.store.ListTasks(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("查询任务失败: %w", err)
	}
	return &types.TaskPage{
		Items:   items,
		Total:   total,
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.Offset+len(items) < total,
	}, nil
}
