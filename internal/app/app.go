// Package app 组装 Agent Hub 服务端运行时：日志、事件总线、引擎、HTTP服务与配置热更新
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/api"
	"github.com/LENAX/agent-hub/pkg/config"
	"github.com/LENAX/agent-hub/pkg/core/engine"
	"github.com/LENAX/agent-hub/pkg/logger"
	"github.com/LENAX/agent-hub/pkg/notify"
)

const shutdownTimeout = 30 * time.Second

// Options 服务启动参数，Host/Port 非零时覆盖配置文件
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// LoadConfig 加载配置并应用命令行覆盖，ConfigPath为空时使用默认配置
func LoadConfig(opts Options) (*config.HubConfig, error) {
	var (
		cfg *config.HubConfig
		err error
	)
	if opts.ConfigPath == "" {
		cfg = config.Default()
	} else if cfg, err = config.Load(opts.ConfigPath); err != nil {
		return nil, err
	}
	if opts.Host != "" {
		cfg.AgentHub.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.AgentHub.Server.Port = opts.Port
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Run 启动完整服务并阻塞，ctx取消后按依赖逆序关闭
func Run(ctx context.Context, opts Options) error {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	general := cfg.AgentHub.General
	root, logCloser, err := logger.New(logger.Options{
		Level:  general.LogLevel,
		Format: general.LogFormat,
		File:   general.LogFile,
	})
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logCloser.Close()
	log := root.WithField("instance", general.InstanceName)
	log.WithFields(logrus.Fields{"version": opts.Version, "config": opts.ConfigPath}).Info("🚀 Agent Hub 启动中")

	bus, err := notify.NewBus(log)
	if err != nil {
		return fmt.Errorf("创建事件总线失败: %w", err)
	}
	defer bus.Close()

	notifCfg := cfg.AgentHub.Notifications
	if notifCfg.NATSURL != "" {
		bridge, err := notify.ConnectNATS(notifCfg.NATSURL, notifCfg.NATSSubjectPrefix, general.InstanceName, log)
		if err != nil {
			log.WithError(err).Warn("⚠️ NATS 连接失败，事件仅在本地分发")
		} else {
			bridge.Attach(bus)
			defer bridge.Close()
		}
	}
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("启动事件总线失败: %w", err)
	}

	sinks := notify.Multi{notify.NewEventSink(bus.Publish)}
	if notifCfg.LogEvents {
		sinks = append(sinks, notify.NewLogSink(log))
	}
	if mail := notifCfg.Email; mail.SMTPHost != "" {
		emailSink, err := notify.NewEmailSink(notify.EmailConfig{
			SMTPHost: mail.SMTPHost,
			SMTPPort: mail.SMTPPort,
			Username: mail.Username,
			Password: mail.Password,
			From:     mail.From,
			To:       mail.To,
		}, log)
		if err != nil {
			return fmt.Errorf("邮件告警配置错误: %w", err)
		}
		sinks = append(sinks, emailSink)
	}
	dispatcher := notify.NewDispatcher(sinks, notifCfg.BufferSize, log)
	defer dispatcher.Close()

	eng, err := engine.NewEngineBuilder("").
		WithConfig(cfg).
		WithLogger(log).
		WithNotifier(dispatcher).
		Build()
	if err != nil {
		return fmt.Errorf("创建引擎失败: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("启动引擎失败: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := eng.Stop(stopCtx); err != nil {
			log.WithError(err).Warn("⚠️ 引擎停止异常")
		}
	}()

	if opts.ConfigPath != "" {
		watcher, err := config.NewWatcher(opts.ConfigPath, func(c *config.HubConfig) {
			if err := eng.ConfigureExecution(ctx, engine.ExecutionFromHub(c)); err != nil {
				log.WithError(err).Warn("⚠️ 执行参数热更新失败")
			}
		}, log)
		if err != nil {
			log.WithError(err).Warn("⚠️ 配置监听创建失败，热更新不可用")
		} else if err := watcher.Start(ctx); err != nil {
			log.WithError(err).Warn("⚠️ 配置监听启动失败，热更新不可用")
		} else {
			defer watcher.Stop()
		}
	}

	server := api.NewAPIServer(eng, api.ServerConfigFromHub(cfg), api.RouterOptions{
		Version: opts.Version,
		Events:  bus,
		Log:     log,
	})
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	log.WithField("addr", server.Addr()).Info("✅ Agent Hub 已启动")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("🛑 收到退出信号，正在关闭服务...")
	case runErr = <-errCh:
		if runErr != nil {
			log.WithError(runErr).Error("❌ API Server 异常退出")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("⚠️ 关闭API服务器失败")
	}
	log.Info("✅ 服务已停止")
	return runErr
}
