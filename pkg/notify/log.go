package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// NewLogSink 以结构化日志记录所有通知
func NewLogSink(log *logrus.Entry) *EventSink {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "notify-log")
	return NewEventSink(func(_ context.Context, e *Event) error {
		entry := log.WithFields(logrus.Fields{
			"event":   e.Type,
			"task_id": e.TaskID,
			"agent":   e.AgentID,
		})
		switch e.Type {
		case EventTaskStatusChanged:
			entry.Infof("📌 任务状态变更: %s -> %s", e.OldStatus, e.NewStatus)
		case EventTaskProgress:
			if e.Progress == nil {
				return nil
			}
			entry.Debugf("⏳ 任务进度: %s %d%%", e.Progress.Stage, e.Progress.Percent)
		case EventTaskError:
			if e.Error == nil {
				return nil
			}
			entry.Warnf("❌ 任务错误: [%s] %s", e.Error.Kind, e.Error.Message)
		case EventAgentHealthChanged:
			entry.Infof("💓 Agent健康状态变更: %s -> %s", e.OldStatus, e.NewStatus)
		}
		return nil
	})
}
