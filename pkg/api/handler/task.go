package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/agent-hub/pkg/api/dto"
	"github.com/LENAX/agent-hub/pkg/core/engine"
	"github.com/LENAX/agent-hub/pkg/core/types"
)

// TaskHandler Task API处理器
type TaskHandler struct {
	engine *engine.Engine
}

// NewTaskHandler 创建TaskHandler
func NewTaskHandler(eng *engine.Engine) *TaskHandler {
	return &TaskHandler{engine: eng}
}

// List 分页查询任务
// GET /api/v1/tasks
func (h *TaskHandler) List(c *gin.Context) {
	var query dto.TaskQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, fmt.Sprintf("查询参数错误: %v", err))
		return
	}
	filter, err := query.Filter()
	if err != nil {
		writeError(c, err)
		return
	}
	page, err := h.engine.GetTasks(c.Request.Context(), filter, query.Page())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewTaskList(page)))
}

// Create 创建任务
// POST /api/v1/tasks
func (h *TaskHandler) Create(c *gin.Context) {
	var spec types.TaskSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, fmt.Sprintf("请求体错误: %v", err))
		return
	}
	if spec.CreatedBy == "" {
		spec.CreatedBy = "api"
	}
	task, err := h.engine.CreateTask(c.Request.Context(), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(task))
}

// Get 查询任务详情
// GET /api/v1/tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.engine.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(task))
}

// Update 修改任务
// PATCH /api/v1/tasks/:id
func (h *TaskHandler) Update(c *gin.Context) {
	var upd types.TaskUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, fmt.Sprintf("请求体错误: %v", err))
		return
	}
	task, err := h.engine.UpdateTask(c.Request.Context(), c.Param("id"), upd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(task))
}

// Delete 删除任务
// DELETE /api/v1/tasks/:id
func (h *TaskHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.DeleteTask(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"message": "任务已删除",
		"id":      id,
	}))
}

// Cancel 取消任务
// POST /api/v1/tasks/:id/cancel
func (h *TaskHandler) Cancel(c *gin.Context) {
	task, err := h.engine.CancelTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	// RUNNING任务的取消是异步的，返回202
	status := http.StatusOK
	if task.Status == types.TaskStatusRunning {
		status = http.StatusAccepted
	}
	c.JSON(status, dto.NewSuccessResponse(task))
}

// Retry 手动重试失败任务
// POST /api/v1/tasks/:id/retry
func (h *TaskHandler) Retry(c *gin.Context) {
	task, err := h.engine.RetryTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(task))
}
