package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	internalstorage "github.com/LENAX/agent-hub/internal/storage"
	"github.com/LENAX/agent-hub/pkg/config"
	"github.com/LENAX/agent-hub/pkg/core/adapter"
	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/logger"
	"github.com/LENAX/agent-hub/pkg/notify"
	"github.com/LENAX/agent-hub/pkg/storage"
	"github.com/LENAX/agent-hub/pkg/storage/sqlstore"
)

const dialTimeout = 5 * time.Second

type attachedAdapter struct {
	platform *types.Platform
	adapter  adapter.PlatformAdapter
}

// EngineBuilder 引擎构建器（链式调用）
type EngineBuilder struct {
	configPath string
	cfg        *config.HubConfig
	store      storage.Store
	notifier   notify.Sink
	tokens     adapter.TokenStore
	httpClient *http.Client
	log        *logrus.Entry
	adapters   []attachedAdapter
	err        error
}

// NewEngineBuilder 创建引擎构建器（入口），configPath为空时使用默认配置
func NewEngineBuilder(configPath string) *EngineBuilder {
	return &EngineBuilder{configPath: configPath}
}

// WithConfig 直接使用已加载的配置（链式）
func (b *EngineBuilder) WithConfig(cfg *config.HubConfig) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if cfg == nil {
		b.err = errors.New("config cannot be nil")
		return b
	}
	b.cfg = cfg
	return b
}

// WithStore 使用外部提供的存储，调用方负责关闭（链式）
func (b *EngineBuilder) WithStore(s storage.Store) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if s == nil {
		b.err = errors.New("store cannot be nil")
		return b
	}
	b.store = s
	return b
}

// WithNotifier 设置通知Sink（链式）
func (b *EngineBuilder) WithNotifier(n notify.Sink) *EngineBuilder {
	if b.err != nil {
		return b
	}
	b.notifier = n
	return b
}

// WithTokenStore 设置OAuth令牌缓存（链式）
func (b *EngineBuilder) WithTokenStore(ts adapter.TokenStore) *EngineBuilder {
	if b.err != nil {
		return b
	}
	b.tokens = ts
	return b
}

// WithHTTPClient 设置适配器使用的HTTP客户端（链式）
func (b *EngineBuilder) WithHTTPClient(c *http.Client) *EngineBuilder {
	if b.err != nil {
		return b
	}
	b.httpClient = c
	return b
}

// WithLogger 设置根日志（链式）
func (b *EngineBuilder) WithLogger(log *logrus.Entry) *EngineBuilder {
	if b.err != nil {
		return b
	}
	b.log = log
	return b
}

// WithAdapter 预置一个已构造好的平台适配器（链式）
func (b *EngineBuilder) WithAdapter(p *types.Platform, a adapter.PlatformAdapter) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if p == nil || a == nil {
		b.err = errors.New("platform or adapter cannot be nil")
		return b
	}
	b.adapters = append(b.adapters, attachedAdapter{platform: p, adapter: a})
	return b
}

// Build 构建引擎实例（最终步骤）
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.err != nil {
		return nil, b.err
	}

	// 1. 加载配置
	cfg := b.cfg
	if cfg == nil {
		if b.configPath == "" {
			cfg = config.Default()
		} else {
			loaded, err := config.Load(b.configPath)
			if err != nil {
				return nil, fmt.Errorf("load config failed: %w", err)
			}
			cfg = loaded
		}
	}
	cfg.ApplyDefaults()

	// 2. 校验配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config failed: %w", err)
	}
	log := logger.OrDefault(b.log)

	// 3. 初始化存储层
	var closers []func() error
	store := b.store
	if store == nil {
		db := cfg.AgentHub.Storage.Database
		s, err := internalstorage.NewStore(db.Type, db.DSN, sqlstore.PoolOptions{
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("init storage failed: %w", err)
		}
		store = s
		closers = append(closers, s.Close)
	}
	cleanup := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	// 4. 令牌缓存
	tokens := b.tokens
	if tokens == nil && cfg.AgentHub.TokenCache.Addr != "" {
		tc := cfg.AgentHub.TokenCache
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		rts, err := adapter.DialRedisTokenStore(ctx, tc.Addr, tc.Password, tc.DB, tc.KeyPrefix)
		cancel()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("init token cache failed: %w", err)
		}
		tokens = rts
		closers = append(closers, rts.Close)
	}

	// 5. 适配器注册表与引擎
	registry := adapter.NewRegistry(adapter.Options{HTTPClient: b.httpClient, Tokens: tokens, Log: log})
	notifier := b.notifier
	if notifier == nil && cfg.AgentHub.Notifications.LogEvents {
		notifier = notify.NewLogSink(log)
	}
	// 非异步的sink包一层Dispatcher，执行goroutine只入队不等待投递
	if _, async := notifier.(*notify.Dispatcher); notifier != nil && !async {
		d := notify.NewDispatcher(notifier, cfg.AgentHub.Notifications.BufferSize, log)
		notifier = d
		closers = append(closers, func() error {
			d.Close()
			return nil
		})
	}
	eng, err := NewEngine(store, registry, notifier, ConfigFromHub(cfg), log)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("create engine failed: %w", err)
	}
	for _, c := range closers {
		eng.AddCloser(closerFunc(c))
	}

	// 6. 预置适配器与配置中的平台
	for _, a := range b.adapters {
		if _, err := eng.AttachAdapter(context.Background(), a.platform, a.adapter); err != nil {
			return nil, fmt.Errorf("attach adapter %s failed: %w", a.platform.ID, err)
		}
	}
	for _, p := range cfg.AgentHub.Platforms {
		eng.bootstrap = append(eng.bootstrap, types.PlatformSpec{
			ID:      p.ID,
			Name:    p.Name,
			Type:    types.PlatformType(p.Type),
			BaseURL: p.BaseURL,
			AuthConfig: types.AuthConfig{
				Type:        types.AuthType(p.AuthType),
				Credentials: p.Credentials,
			},
		})
	}
	return eng, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
