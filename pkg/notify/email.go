package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// EmailConfig 告警邮件配置
type EmailConfig struct {
	SMTPHost string
	SMTPPort int // 默认25，465时使用隐式TLS
	Username string
	Password string
	From     string
	To       []string
}

// emailAlerter 仅对任务最终失败和Agent转为不健康发送邮件
type emailAlerter struct {
	cfg  EmailConfig
	log  *logrus.Entry
	send func(subject, body string) error
}

// NewEmailSink 创建邮件告警Sink
func NewEmailSink(cfg EmailConfig, log *logrus.Entry) (*EventSink, error) {
	a, err := newEmailAlerter(cfg, log)
	if err != nil {
		return nil, err
	}
	return NewEventSink(a.handle), nil
}

func newEmailAlerter(cfg EmailConfig, log *logrus.Entry) (*emailAlerter, error) {
	if cfg.SMTPHost == "" {
		return nil, errors.New("smtp_host不能为空")
	}
	if cfg.From == "" {
		return nil, errors.New("from不能为空")
	}
	to := make([]string, 0, len(cfg.To))
	for _, addr := range cfg.To {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	if len(to) == 0 {
		return nil, errors.New("to不能为空")
	}
	cfg.To = to
	if cfg.SMTPPort <= 0 {
		cfg.SMTPPort = 25
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	a := &emailAlerter{cfg: cfg, log: log.WithField("component", "notify-email")}
	a.send = a.sendSMTP
	a.log.WithFields(logrus.Fields{"smtp": a.addr(), "to": cfg.To}).Info("✅ 邮件告警已启用")
	return a, nil
}

func (a *emailAlerter) handle(_ context.Context, e *Event) error {
	subject, ok := a.subject(e)
	if !ok {
		return nil
	}
	if err := a.send(subject, a.body(e)); err != nil {
		a.log.WithError(err).WithField("event", e.Type).Warn("❌ 告警邮件发送失败")
		return err
	}
	a.log.WithField("subject", subject).Debug("📧 告警邮件已发送")
	return nil
}

// subject 返回邮件主题，不需要告警的事件返回false
func (a *emailAlerter) subject(e *Event) (string, bool) {
	switch e.Type {
	case EventTaskStatusChanged:
		if e.NewStatus == string(types.TaskStatusFailed) {
			return fmt.Sprintf("[Task失败] %s - %s", e.TaskName, e.TaskID), true
		}
	case EventAgentHealthChanged:
		if e.NewStatus == string(types.HealthUnhealthy) {
			return fmt.Sprintf("[Agent不健康] %s", e.AgentID), true
		}
	}
	return "", false
}

func (a *emailAlerter) body(e *Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "事件类型: %s\n", e.Type)
	fmt.Fprintf(&b, "状态: %s -> %s\n", e.OldStatus, e.NewStatus)
	fmt.Fprintf(&b, "时间: %s\n", e.Timestamp.Format(time.RFC3339))
	if e.TaskID != "" {
		fmt.Fprintf(&b, "Task ID: %s\n", e.TaskID)
	}
	if e.TaskName != "" {
		fmt.Fprintf(&b, "Task名称: %s\n", e.TaskName)
	}
	if e.AgentID != "" {
		fmt.Fprintf(&b, "Agent ID: %s\n", e.AgentID)
	}
	if e.Error != nil {
		fmt.Fprintf(&b, "错误信息: [%s] %s\n", e.Error.Kind, e.Error.Message)
	}
	if e.Health != nil {
		fmt.Fprintf(&b, "连续错误: %d\n", e.Health.ConsecutiveErrors)
		if e.Health.LastError != "" {
			fmt.Fprintf(&b, "最近错误: %s\n", e.Health.LastError)
		}
	}
	return b.String()
}

func (a *emailAlerter) addr() string {
	return net.JoinHostPort(a.cfg.SMTPHost, strconv.Itoa(a.cfg.SMTPPort))
}

func (a *emailAlerter) message(subject, body string) []byte {
	var m strings.Builder
	fmt.Fprintf(&m, "From: %s\r\n", a.cfg.From)
	fmt.Fprintf(&m, "To: %s\r\n", strings.Join(a.cfg.To, ", "))
	fmt.Fprintf(&m, "Subject: %s\r\n", subject)
	m.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	m.WriteString(body)
	return []byte(m.String())
}

func (a *emailAlerter) sendSMTP(subject, body string) error {
	msg := a.message(subject, body)
	var auth smtp.Auth
	if a.cfg.Username != "" && a.cfg.Password != "" {
		auth = smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.SMTPHost)
	}
	if a.cfg.SMTPPort == 465 {
		return a.sendTLS(auth, msg)
	}
	return smtp.SendMail(a.addr(), auth, a.cfg.From, a.cfg.To, msg)
}

// sendTLS 465端口隐式TLS
func (a *emailAlerter) sendTLS(auth smtp.Auth, msg []byte) error {
	conn, err := tls.Dial("tcp", a.addr(), &tls.Config{ServerName: a.cfg.SMTPHost})
	if err != nil {
		return fmt.Errorf("TLS连接失败: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, a.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("创建SMTP客户端失败: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP认证失败: %w", err)
		}
	}
	if err := client.Mail(a.cfg.From); err != nil {
		return fmt.Errorf("设置发件人失败: %w", err)
	}
	for _, to := range a.cfg.To {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("设置收件人失败: %w", err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("获取数据写入器失败: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("写入邮件内容失败: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("关闭数据写入器失败: %w", err)
	}
	return client.Quit()
}
