// Package api Agent Hub 的HTTP接口
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/config"
	"github.com/LENAX/agent-hub/pkg/core/engine"
	"github.com/LENAX/agent-hub/pkg/logger"
)

// ServerConfig API服务器配置
type ServerConfig struct {
	Host         string        // 监听地址
	Port         int           // 监听端口
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时
	Mode         string        // gin模式
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		Mode:         "release",
	}
}

// ServerConfigFromHub 从框架配置转换
func ServerConfigFromHub(cfg *config.HubConfig) ServerConfig {
	s := cfg.AgentHub.Server
	return ServerConfig{
		Host:         s.Host,
		Port:         s.Port,
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
		Mode:         s.Mode,
	}
}

// APIServer HTTP API服务器
type APIServer struct {
	engine     *engine.Engine
	httpServer *http.Server
	config     ServerConfig
	opts       RouterOptions
	log        *logrus.Entry
}

// NewAPIServer 创建API服务器
func NewAPIServer(eng *engine.Engine, config ServerConfig, opts RouterOptions) *APIServer {
	if opts.Mode == "" {
		opts.Mode = config.Mode
	}
	return &APIServer{
		engine: eng,
		config: config,
		opts:   opts,
		log:    logger.OrDefault(opts.Log).WithField("component", "api"),
	}
}

// Start 启动服务器，阻塞直到Shutdown
func (s *APIServer) Start() error {
	router := SetupRouter(s.engine, s.opts)

	s.httpServer = &http.Server{
		Addr:         s.Addr(),
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.WithField("addr", s.Addr()).Info("🚀 Agent Hub API Server 启动")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server listen failed: %w", err)
	}

	return nil
}

// Shutdown 优雅关闭服务器
func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.log.Info("🛑 正在关闭 API Server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("✅ API Server 已停止")
	return nil
}

// Addr 获取服务器地址
func (s *APIServer) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}
