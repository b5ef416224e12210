package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/agent-hub/pkg/api/dto"
	"github.com/LENAX/agent-hub/pkg/core/engine"
)

// QueueHandler 队列与执行配置API处理器
type QueueHandler struct {
	engine *engine.Engine
}

// NewQueueHandler 创建QueueHandler
func NewQueueHandler(eng *engine.Engine) *QueueHandler {
	return &QueueHandler{engine: eng}
}

// Status 队列状态
// GET /api/v1/queue
func (h *QueueHandler) Status(c *gin.Context) {
	st, err := h.engine.GetQueueStatus(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.QueueStatusResponse{
		Counts:                    st.Counts,
		Total:                     st.Total,
		Queued:                    st.Queued,
		Ready:                     st.Ready,
		Delayed:                   st.Delayed,
		Running:                   st.Running,
		MaxConcurrentTasks:        st.MaxConcurrentTasks,
		Available:                 st.Available,
		Utilization:               st.Utilization,
		QueueProcessingIntervalMs: st.QueueProcessingInterval.Milliseconds(),
	}))
}

// Configure 调整执行配置
// PUT /api/v1/queue/config
func (h *QueueHandler) Configure(c *gin.Context) {
	var req dto.ExecutionConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("请求体错误: %v", err))
		return
	}
	if err := h.engine.ConfigureExecution(c.Request.Context(), req.Settings()); err != nil {
		writeError(c, err)
		return
	}
	h.Status(c)
}
