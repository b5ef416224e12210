package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/logger"
)

type sentMail struct {
	subject string
	body    string
}

func newTestAlerter(t *testing.T) (*emailAlerter, *[]sentMail) {
	t.Helper()
	a, err := newEmailAlerter(EmailConfig{
		SMTPHost: "smtp.example.com",
		From:     "hub@example.com",
		To:       []string{" ops@example.com ", ""},
	}, logger.Discard())
	require.NoError(t, err)
	sent := &[]sentMail{}
	a.send = func(subject, body string) error {
		*sent = append(*sent, sentMail{subject, body})
		return nil
	}
	return a, sent
}

func TestEmailAlerter_Config(t *testing.T) {
	_, err := newEmailAlerter(EmailConfig{From: "a@b.c", To: []string{"x@y.z"}}, nil)
	assert.Error(t, err, "缺少smtp_host")
	_, err = newEmailAlerter(EmailConfig{SMTPHost: "h", To: []string{"x@y.z"}}, nil)
	assert.Error(t, err, "缺少from")
	_, err = newEmailAlerter(EmailConfig{SMTPHost: "h", From: "a@b.c", To: []string{" "}}, nil)
	assert.Error(t, err, "缺少to")

	a, _ := newTestAlerter(t)
	assert.Equal(t, 25, a.cfg.SMTPPort)
	assert.Equal(t, []string{"ops@example.com"}, a.cfg.To)
	assert.Equal(t, "smtp.example.com:25", a.addr())
}

func TestEmailAlerter_OnlyAlertsOnFailures(t *testing.T) {
	a, sent := newTestAlerter(t)
	sink := NewEventSink(a.handle)
	ctx := context.Background()

	task := &types.Task{ID: "t-1", Name: "同步线索", AgentID: "a-1"}
	require.NoError(t, sink.NotifyTaskStatusChange(ctx, task, types.TaskStatusPending, types.TaskStatusRunning))
	require.NoError(t, sink.NotifyTaskProgress(ctx, task, Progress{Stage: StagePolling, Percent: 50}))
	assert.Empty(t, *sent)

	task.Error = &types.TaskError{Kind: types.KindPlatformRejected, Message: "workflow inactive"}
	require.NoError(t, sink.NotifyTaskStatusChange(ctx, task, types.TaskStatusRunning, types.TaskStatusFailed))
	require.Len(t, *sent, 1)
	assert.Equal(t, "[Task失败] 同步线索 - t-1", (*sent)[0].subject)
	assert.Contains(t, (*sent)[0].body, "workflow inactive")

	rec := types.HealthRecord{AgentID: "a-1", Status: types.HealthDegraded}
	require.NoError(t, sink.NotifyAgentHealthChange(ctx, "a-1", types.HealthHealthy, rec))
	assert.Len(t, *sent, 1)

	rec.Status = types.HealthUnhealthy
	rec.ConsecutiveErrors = 5
	require.NoError(t, sink.NotifyAgentHealthChange(ctx, "a-1", types.HealthDegraded, rec))
	require.Len(t, *sent, 2)
	assert.Equal(t, "[Agent不健康] a-1", (*sent)[1].subject)
	assert.Contains(t, (*sent)[1].body, "连续错误: 5")
}

func TestEmailAlerter_Message(t *testing.T) {
	a, _ := newTestAlerter(t)
	msg := string(a.message("subj", "line"))
	assert.True(t, strings.HasPrefix(msg, "From: hub@example.com\r\nTo: ops@example.com\r\nSubject: subj\r\n"))
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nline"))
}
