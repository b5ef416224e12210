package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/agent-hub/pkg/api/dto"
	"github.com/LENAX/agent-hub/pkg/core/engine"
	"github.com/LENAX/agent-hub/pkg/core/types"
)

// ScheduleHandler 周期任务API处理器
type ScheduleHandler struct {
	engine *engine.Engine
}

// NewScheduleHandler 创建ScheduleHandler
func NewScheduleHandler(eng *engine.Engine) *ScheduleHandler {
	return &ScheduleHandler{engine: eng}
}

// List 查询周期任务
// GET /api/v1/schedules
func (h *ScheduleHandler) List(c *gin.Context) {
	list, err := h.engine.ListSchedules(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[*types.Schedule]{
		Total: len(list),
		Items: list,
	}))
}

// Create 创建周期任务
// POST /api/v1/schedules
func (h *ScheduleHandler) Create(c *gin.Context) {
	var spec types.ScheduleSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, fmt.Sprintf("请求体错误: %v", err))
		return
	}
	sc, err := h.engine.CreateSchedule(c.Request.Context(), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(sc))
}

// Delete 删除周期任务
// DELETE /api/v1/schedules/:id
func (h *ScheduleHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.DeleteSchedule(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"message": "周期任务已删除",
		"id":      id,
	}))
}
