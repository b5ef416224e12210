package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// CreateSchedule 创建周期任务，每次触发按模板创建一个Task
func (e *Engine) CreateSchedule(ctx context.Context, spec types.ScheduleSpec) (*types.Schedule, error) {
	if err := e.requireFeature(FeatureRecurringTasks); err != nil {
		return nil, err
	}
	if err := ValidateCronExpr(strings.TrimSpace(spec.CronExpr)); err != nil {
		return nil, err
	}
	if _, err := e.dispatchableAgent(ctx, spec.Template.AgentID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.Template.Name) == "" {
		return nil, types.NewError(types.KindValidation, "任务模板名称不能为空")
	}

	now := e.now()
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = spec.Template.Name
	}
	sc := &types.Schedule{
		ID:        uuid.NewString(),
		Name:      name,
		CronExpr:  strings.TrimSpace(spec.CronExpr),
		Template:  spec.Template,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.SaveSchedule(ctx, sc); err != nil {
		return nil, fmt.Errorf("保存周期任务失败: %w", err)
	}
	if err := e.cron.Register(sc); err != nil {
		_ = e.store.DeleteSchedule(ctx, sc.ID)
		return nil, err
	}
	return sc, nil
}

// DeleteSchedule 删除周期任务
func (e *Engine) DeleteSchedule(ctx context.Context, id string) error {
	sc, err := e.store.GetSchedule(ctx, id)
	if err != nil {
		return fmt.Errorf("加载周期任务失败: %w", err)
	}
	if sc == nil {
		return types.NewError(types.KindNotFound, "周期任务不存在: %s", id)
	}
	e.cron.Unregister(id)
	if err := e.store.DeleteSchedule(ctx, id); err != nil {
		return fmt.Errorf("删除周期任务失败: %w", err)
	}
	e.log.WithField("schedule_id", id).Info("🗑️ 周期任务已删除")
	return nil
}

// ListSchedules 查询全部周期任务
func (e *Engine) ListSchedules(ctx context.Context) ([]*types.Schedule, error) {
	list, err := e.store.ListSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询周期任务失败: %w", err)
	}
	return list, nil
}

// fireSchedule 周期任务触发时创建任务并记录最近一次运行
func (e *Engine) fireSchedule(ctx context.Context, sc *types.Schedule) {
	spec := sc.Template
	if spec.CreatedBy == "" {
		spec.CreatedBy = "schedule:" + sc.ID
	}
	task, err := e.CreateTask(ctx, spec)
	if err != nil {
		e.log.WithError(err).WithField("schedule_id", sc.ID).Warn("⚠️ 周期任务创建Task失败")
		return
	}

	stored, err := e.store.GetSchedule(ctx, sc.ID)
	if err != nil || stored == nil {
		return
	}
	now := e.now()
	stored.LastRunAt = &now
	stored.LastTask = task.ID
	stored.UpdatedAt = now
	if err := e.store.SaveSchedule(ctx, stored); err != nil {
		e.log.WithError(err).WithField("schedule_id", sc.ID).Warn("⚠️ 更新周期任务失败")
		return
	}
	e.log.WithFields(logrus.Fields{"schedule_id": sc.ID, "task_id": task.ID}).Info("🕐 周期任务已创建Task")
}

func (e *Engine) restoreSchedules(ctx context.Context) error {
	if e.requireFeature(FeatureRecurringTasks) != nil {
		return nil
	}
	list, err := e.store.ListSchedules(ctx)
	if err != nil {
		return err
	}
	for _, sc := range list {
		if !sc.Enabled {
			continue
		}
		if err := e.cron.Register(sc); err != nil {
			e.log.WithError(err).WithField("schedule_id", sc.ID).Warn("⚠️ 恢复周期任务失败")
		}
	}
	return nil
}
