package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/agent-hub/pkg/api/dto"
	"github.com/LENAX/agent-hub/pkg/core/engine"
	"github.com/LENAX/agent-hub/pkg/core/types"
)

// AgentHandler Agent API处理器
type AgentHandler struct {
	engine *engine.Engine
}

// NewAgentHandler 创建AgentHandler
func NewAgentHandler(eng *engine.Engine) *AgentHandler {
	return &AgentHandler{engine: eng}
}

// List 查询Agent
// GET /api/v1/agents
func (h *AgentHandler) List(c *gin.Context) {
	var query dto.AgentQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, fmt.Sprintf("查询参数错误: %v", err))
		return
	}
	agents, err := h.engine.ListAgents(c.Request.Context(), query.Filter())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[*types.Agent]{
		Total: len(agents),
		Items: agents,
	}))
}

// Register 注册Agent
// POST /api/v1/agents
func (h *AgentHandler) Register(c *gin.Context) {
	var req dto.RegisterAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("请求体错误: %v", err))
		return
	}
	agent, err := h.engine.RegisterAgent(c.Request.Context(), req.Spec())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(agent))
}

// Get 查询Agent详情
// GET /api/v1/agents/:id
func (h *AgentHandler) Get(c *gin.Context) {
	agent, err := h.engine.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(agent))
}

// Update 修改Agent
// PATCH /api/v1/agents/:id
func (h *AgentHandler) Update(c *gin.Context) {
	var upd types.AgentUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, fmt.Sprintf("请求体错误: %v", err))
		return
	}
	agent, err := h.engine.UpdateAgent(c.Request.Context(), c.Param("id"), upd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(agent))
}

// Delete 删除Agent
// DELETE /api/v1/agents/:id
func (h *AgentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.DeleteAgent(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"message": "Agent已删除",
		"id":      id,
	}))
}

// Health 当前健康记录
// GET /api/v1/agents/:id/health
func (h *AgentHandler) Health(c *gin.Context) {
	rec, err := h.engine.GetAgentHealthStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(rec))
}

// Check 立即执行一次健康探测
// POST /api/v1/agents/:id/health/check
func (h *AgentHandler) Check(c *gin.Context) {
	res, err := h.engine.PerformHealthCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(res))
}

// ConfigureHealth 修改健康监控配置
// PUT /api/v1/agents/:id/health/config
func (h *AgentHandler) ConfigureHealth(c *gin.Context) {
	var req dto.HealthConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("请求体错误: %v", err))
		return
	}
	cfg := req.Config()
	if err := h.engine.ConfigureHealthMonitoring(c.Request.Context(), c.Param("id"), cfg); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.NewHealthConfigView(cfg.WithDefaults())))
}

// Monitoring 健康监控整体状态
// GET /api/v1/health/monitoring
func (h *AgentHandler) Monitoring(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(h.engine.GetHealthMonitoringStatus()))
}
