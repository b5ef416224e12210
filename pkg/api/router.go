package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/api/handler"
	"github.com/LENAX/agent-hub/pkg/api/middleware"
	"github.com/LENAX/agent-hub/pkg/core/engine"
	"github.com/LENAX/agent-hub/pkg/logger"
)

// RouterOptions 路由可选依赖
type RouterOptions struct {
	Version string
	Mode    string             // gin模式，为空时使用release
	Events  handler.Subscriber // 为nil时不提供事件流
	Log     *logrus.Entry
}

// SetupRouter 设置路由
func SetupRouter(eng *engine.Engine, opts RouterOptions) *gin.Engine {
	// 设置gin模式
	switch opts.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(opts.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	log := logger.OrDefault(opts.Log).WithField("component", "api")

	router := gin.New()

	// 全局中间件
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS())

	// 创建handlers
	taskHandler := handler.NewTaskHandler(eng)
	queueHandler := handler.NewQueueHandler(eng)
	agentHandler := handler.NewAgentHandler(eng)
	platformHandler := handler.NewPlatformHandler(eng)
	scheduleHandler := handler.NewScheduleHandler(eng)
	healthHandler := handler.NewHealthHandler(eng, opts.Version)

	// 健康检查路由（不带前缀）
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// API v1 路由组
	v1 := router.Group("/api/v1")
	{
		tasks := v1.Group("/tasks")
		{
			tasks.GET("", taskHandler.List)
			tasks.POST("", taskHandler.Create)
			tasks.GET("/:id", taskHandler.Get)
			tasks.PATCH("/:id", taskHandler.Update)
			tasks.DELETE("/:id", taskHandler.Delete)
			tasks.POST("/:id/cancel", taskHandler.Cancel)
			tasks.POST("/:id/retry", taskHandler.Retry)
		}

		queue := v1.Group("/queue")
		{
			queue.GET("", queueHandler.Status)
			queue.PUT("/config", queueHandler.Configure)
		}

		agents := v1.Group("/agents")
		{
			agents.GET("", agentHandler.List)
			agents.POST("", agentHandler.Register)
			agents.GET("/:id", agentHandler.Get)
			agents.PATCH("/:id", agentHandler.Update)
			agents.DELETE("/:id", agentHandler.Delete)
			agents.GET("/:id/health", agentHandler.Health)
			agents.POST("/:id/health/check", agentHandler.Check)
			agents.PUT("/:id/health/config", agentHandler.ConfigureHealth)
		}
		v1.GET("/health/monitoring", agentHandler.Monitoring)

		platforms := v1.Group("/platforms")
		{
			platforms.GET("", platformHandler.List)
			platforms.POST("", platformHandler.Register)
			platforms.GET("/:id", platformHandler.Get)
			platforms.DELETE("/:id", platformHandler.Delete)
			platforms.POST("/:id/discover", platformHandler.Discover)
		}

		schedules := v1.Group("/schedules")
		{
			schedules.GET("", scheduleHandler.List)
			schedules.POST("", scheduleHandler.Create)
			schedules.DELETE("/:id", scheduleHandler.Delete)
		}

		if opts.Events != nil {
			v1.GET("/events/stream", handler.NewStreamHandler(opts.Events, log).Stream)
		}
	}

	return router
}
