package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// QueueStatus 队列与执行槽位的快照
type QueueStatus struct {
	Counts                  map[types.TaskStatus]int `json:"counts"`
	Total                   int                      `json:"total"`
	Queued                  int                      `json:"queued"`
	Ready                   int                      `json:"ready"`
	Delayed                 int                      `json:"delayed"`
	Running                 int                      `json:"running"`
	MaxConcurrentTasks      int                      `json:"max_concurrent_tasks"`
	Available               int                      `json:"available"`
	Utilization             float64                  `json:"utilization"`
	QueueProcessingInterval time.Duration            `json:"queue_processing_interval"`
}

// GetQueueStatus 返回各状态任务数与槽位利用率，只读
func (e *Engine) GetQueueStatus(ctx context.Context) (*QueueStatus, error) {
	counts, err := e.store.CountTasksByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("统计任务失败: %w", err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	stats := e.sched.Stats()
	limit := e.exec.Limit()
	running := e.exec.Running()
	st := &QueueStatus{
		Counts:                  counts,
		Total:                   total,
		Queued:                  stats.Queued,
		Ready:                   stats.Ready,
		Delayed:                 stats.Delayed,
		Running:                 running,
		MaxConcurrentTasks:      limit,
		Available:               e.exec.Available(),
		QueueProcessingInterval: stats.Interval,
	}
	if limit > 0 {
		st.Utilization = float64(running) / float64(limit)
	}
	return st, nil
}

// ConfigureExecution 动态调整并发数与队列处理间隔，从下一次tick起生效
func (e *Engine) ConfigureExecution(ctx context.Context, s ExecutionSettings) error {
	if s.MaxConcurrentTasks < 0 {
		return types.NewError(types.KindValidation, "max_concurrent_tasks不能为负数")
	}
	if s.QueueProcessingInterval < 0 {
		return types.NewError(types.KindValidation, "queue_processing_interval不能为负数")
	}
	if s.MaxConcurrentTasks > 0 {
		if err := e.exec.SetPoolSize(s.MaxConcurrentTasks); err != nil {
			return err
		}
	}
	if s.QueueProcessingInterval > 0 {
		if err := e.sched.SetInterval(s.QueueProcessingInterval); err != nil {
			return err
		}
	}
	if s.UnhealthyErrorCeiling > 0 {
		e.exec.SetUnhealthyErrorCeiling(s.UnhealthyErrorCeiling)
	}
	if s.Retry != nil {
		e.exec.SetRetryPolicy(*s.Retry)
	}

	e.mu.Lock()
	if s.MaxConcurrentTasks > 0 {
		e.cfg.MaxConcurrentTasks = s.MaxConcurrentTasks
	}
	if s.QueueProcessingInterval > 0 {
		e.cfg.QueueProcessingInterval = s.QueueProcessingInterval
	}
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"max_concurrent_tasks": e.exec.Limit(),
		"interval":             e.sched.Interval(),
	}).Info("⚙️ 执行配置已更新")
	e.sched.Kick()
	return nil
}
