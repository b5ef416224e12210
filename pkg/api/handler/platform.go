package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/agent-hub/pkg/api/dto"
	"github.com/LENAX/agent-hub/pkg/core/engine"
	"github.com/LENAX/agent-hub/pkg/core/types"
)

// PlatformHandler 平台API处理器，返回的凭证均已脱敏
type PlatformHandler struct {
	engine *engine.Engine
}

// NewPlatformHandler 创建PlatformHandler
func NewPlatformHandler(eng *engine.Engine) *PlatformHandler {
	return &PlatformHandler{engine: eng}
}

// List 查询平台
// GET /api/v1/platforms
func (h *PlatformHandler) List(c *gin.Context) {
	platforms, err := h.engine.ListPlatforms(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]*types.Platform, 0, len(platforms))
	for _, p := range platforms {
		items = append(items, p.Redacted())
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[*types.Platform]{
		Total: len(items),
		Items: items,
	}))
}

// Register 注册平台
// POST /api/v1/platforms
func (h *PlatformHandler) Register(c *gin.Context) {
	var spec types.PlatformSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, fmt.Sprintf("请求体错误: %v", err))
		return
	}
	p, err := h.engine.RegisterPlatform(c.Request.Context(), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(p.Redacted()))
}

// Get 查询平台详情
// GET /api/v1/platforms/:id
func (h *PlatformHandler) Get(c *gin.Context) {
	p, err := h.engine.GetPlatform(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(p.Redacted()))
}

// Delete 删除平台
// DELETE /api/v1/platforms/:id
func (h *PlatformHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.DeletePlatform(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"message": "平台已删除",
		"id":      id,
	}))
}

// Discover 从平台发现Agent
// POST /api/v1/platforms/:id/discover
func (h *PlatformHandler) Discover(c *gin.Context) {
	res, err := h.engine.DiscoverAgents(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(res))
}
