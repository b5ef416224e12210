package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/api/dto"
	"github.com/LENAX/agent-hub/pkg/logger"
	"github.com/LENAX/agent-hub/pkg/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Subscriber 事件订阅源
type Subscriber interface {
	Subscribe(ctx context.Context, eventTypes ...notify.EventType) (<-chan *notify.Event, error)
}

// StreamHandler 通过websocket向看板推送通知事件
type StreamHandler struct {
	events   Subscriber
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewStreamHandler 创建StreamHandler
func NewStreamHandler(events Subscriber, log *logrus.Entry) *StreamHandler {
	return &StreamHandler{
		events: events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.OrDefault(log).WithField("component", "stream"),
	}
}

// parseEventTypes 解析逗号分隔的事件类型，为空表示全部
func parseEventTypes(raw string) ([]notify.EventType, bool) {
	var out []notify.EventType
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		t := notify.EventType(s)
		known := false
		for _, k := range notify.AllEventTypes {
			if k == t {
				known = true
				break
			}
		}
		if !known {
			return nil, false
		}
		out = append(out, t)
	}
	return out, true
}

// Stream 升级为websocket并持续推送事件
// GET /api/v1/events/stream?types=task.status_changed,agent.health_changed
func (h *StreamHandler) Stream(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(http.StatusServiceUnavailable, "事件总线未启用"))
		return
	}
	eventTypes, ok := parseEventTypes(c.Query("types"))
	if !ok {
		badRequest(c, "未知的事件类型: "+c.Query("types"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("⚠️ websocket升级失败")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	events, err := h.events.Subscribe(ctx, eventTypes...)
	if err != nil {
		h.log.WithError(err).Warn("⚠️ 订阅事件失败")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		return
	}
	h.log.WithField("remote", c.Request.RemoteAddr).Info("📡 看板已连接")

	// 读循环只处理pong与关闭帧
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				h.log.WithError(err).Debug("推送事件失败")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
