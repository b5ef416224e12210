package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Publisher 最小化的NATS发布接口，便于测试替换
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBridge 将事件转发到外部NATS，subject 形如 <prefix>.task.status_changed
type NATSBridge struct {
	*EventSink
	pub    Publisher
	conn   *nats.Conn
	prefix string
	log    *logrus.Entry
}

// ConnectNATS 连接NATS并创建桥接
func ConnectNATS(url, prefix, clientName string, log *logrus.Entry) (*NATSBridge, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "nats-bridge")
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("⚠️ NATS连接断开")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.WithField("url", c.ConnectedUrl()).Info("🔌 NATS已重连")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接NATS失败: %w", err)
	}
	b := NewNATSBridge(nc, prefix, log)
	b.conn = nc
	return b, nil
}

// NewNATSBridge 使用已有发布者创建桥接
func NewNATSBridge(pub Publisher, prefix string, log *logrus.Entry) *NATSBridge {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	b := &NATSBridge{pub: pub, prefix: strings.TrimSuffix(prefix, "."), log: log}
	b.EventSink = NewEventSink(b.Forward)
	return b
}

// Subject 事件对应的NATS subject
func (b *NATSBridge) Subject(t EventType) string {
	if b.prefix == "" {
		return string(t)
	}
	return b.prefix + "." + string(t)
}

// Forward 发布单个事件
func (b *NATSBridge) Forward(_ context.Context, e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if err := b.pub.Publish(b.Subject(e.Type), data); err != nil {
		return fmt.Errorf("发布到NATS失败: %w", err)
	}
	return nil
}

// Attach 挂到事件总线上，由总线路由器驱动转发
func (b *NATSBridge) Attach(bus *Bus) {
	for _, t := range AllEventTypes {
		bus.AddHandler("nats-bridge-"+string(t), t, func(e *Event) error {
			// 返回错误会导致总线重投，转发失败只记录日志
			if err := b.Forward(context.Background(), e); err != nil {
				b.log.WithError(err).WithField("event", e.Type).Warn("⚠️ NATS转发失败")
			}
			return nil
		})
	}
}

// Close 排空并关闭连接
func (b *NATSBridge) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}
