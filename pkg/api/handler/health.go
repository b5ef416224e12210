package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/LENAX/agent-hub/pkg/api/dto"
	"github.com/LENAX/agent-hub/pkg/core/engine"
)

// HealthHandler 服务健康检查处理器
type HealthHandler struct {
	engine    *engine.Engine
	version   string
	startTime time.Time
}

// NewHealthHandler 创建HealthHandler
func NewHealthHandler(eng *engine.Engine, version string) *HealthHandler {
	return &HealthHandler{
		engine:    eng,
		version:   version,
		startTime: time.Now(),
	}
}

// Health 健康检查，附带宿主机资源概况
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	uptime := time.Since(h.startTime)
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    dto.FormatDuration(uptime),
		Timestamp: time.Now().Format(time.RFC3339),
		System:    systemInfo(),
	}))
}

// Ready 就绪检查，引擎未启动时返回503
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.engine == nil || !h.engine.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(http.StatusServiceUnavailable, "engine not running"))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"status": "ready",
	}))
}

// systemInfo 采集失败的指标保持零值
func systemInfo() *dto.SystemInfo {
	info := &dto.SystemInfo{Goroutines: runtime.NumGoroutine()}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		info.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryPercent = vm.UsedPercent
		info.MemoryUsedMB = vm.Used / 1024 / 1024
	}
	if hi, err := host.Info(); err == nil {
		info.Hostname = hi.Hostname
		info.OS = hi.OS
	}
	return info
}
