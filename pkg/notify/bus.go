package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/sirupsen/logrus"
)

// EventHandler 总线事件处理函数
type EventHandler func(e *Event) error

// Bus 基于watermill gochannel的进程内事件总线（对外导出）
// 作为Sink接收通知，供WebSocket推送与NATS桥接订阅
type Bus struct {
	*EventSink
	pubsub *gochannel.GoChannel
	router *message.Router
	log    *logrus.Entry

	mu       sync.Mutex
	handlers int
	running  bool
}

// NewBus 创建事件总线
func NewBus(log *logrus.Entry) (*Bus, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "event-bus")
	wmLogger := newLogrusAdapter(log)

	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		wmLogger,
	)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 5 * time.Second}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("创建消息路由器失败: %w", err)
	}

	b := &Bus{pubsub: pubsub, router: router, log: log}
	b.EventSink = NewEventSink(b.Publish)
	return b, nil
}

// Publish 发布事件，topic为事件类型
func (b *Bus) Publish(_ context.Context, e *Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	msg := message.NewMessage(e.ID, payload)
	msg.Metadata.Set("event_type", string(e.Type))
	msg.Metadata.Set("task_id", e.TaskID)
	msg.Metadata.Set("agent_id", e.AgentID)
	msg.Metadata.Set("timestamp", e.Timestamp.Format(time.RFC3339Nano))
	if err := b.pubsub.Publish(string(e.Type), msg); err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}
	return nil
}

// AddHandler 注册常驻事件处理器，需在 Start 之前调用
func (b *Bus) AddHandler(name string, eventType EventType, handler EventHandler) {
	b.mu.Lock()
	b.handlers++
	b.mu.Unlock()
	b.router.AddNoPublisherHandler(
		name,
		string(eventType),
		b.pubsub,
		func(msg *message.Message) error {
			var e Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				// 无法解析的消息直接丢弃，避免反复重投
				b.log.WithError(err).Warn("⚠️ 无法解析总线消息")
				return nil
			}
			return handler(&e)
		},
	)
}

// Start 启动消息路由器，没有常驻处理器时无需启动
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running || b.handlers == 0 {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.mu.Unlock()

	go func() {
		if err := b.router.Run(ctx); err != nil {
			b.log.WithError(err).Error("消息路由器退出")
		}
	}()

	select {
	case <-b.router.Running():
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("消息路由器启动超时")
	}
}

// Subscribe 订阅一个或多个事件类型，ctx取消后返回的channel关闭
// 未指定类型时订阅全部事件
func (b *Bus) Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error) {
	if len(eventTypes) == 0 {
		eventTypes = AllEventTypes
	}
	out := make(chan *Event, 64)
	var wg sync.WaitGroup
	for _, t := range eventTypes {
		msgs, err := b.pubsub.Subscribe(ctx, string(t))
		if err != nil {
			return nil, fmt.Errorf("订阅事件 %s 失败: %w", t, err)
		}
		wg.Add(1)
		go func(msgs <-chan *message.Message) {
			defer wg.Done()
			for msg := range msgs {
				var e Event
				if err := json.Unmarshal(msg.Payload, &e); err == nil {
					select {
					case out <- &e:
					case <-ctx.Done():
					}
				}
				msg.Ack()
			}
		}(msgs)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// Close 关闭路由器与pubsub
func (b *Bus) Close() error {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if running {
		if err := b.router.Close(); err != nil {
			b.log.WithError(err).Warn("关闭消息路由器失败")
		}
	}
	return b.pubsub.Close()
}
