// Package adapter 第三方自动化平台适配层：每个平台一个适配器，由 Registry 统一管理
package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// PlatformAdapter 平台适配器接口（对外导出）
// 所有方法都必须遵守ctx的截止时间，到期后立即返回
type PlatformAdapter interface {
	// Type 平台类型
	Type() types.PlatformType
	// Authenticate 校验凭证并返回当前可用的凭证
	Authenticate(ctx context.Context) (types.Credentials, error)
	// ListAgents 列出平台上的全部Agent
	ListAgents(ctx context.Context) ([]types.AgentDescriptor, error)
	// RunAgent 触发一次运行，deadline 为本次尝试的截止时间
	RunAgent(ctx context.Context, ref types.AgentRef, params map[string]interface{}, deadline time.Time) (*types.RunResult, error)
	// GetRunResult 查询异步运行的结果
	GetRunResult(ctx context.Context, ref types.AgentRef, executionID string) (*types.RunResult, error)
	// ProbeHealth 探测Agent健康状况
	ProbeHealth(ctx context.Context, ref types.AgentRef, timeout time.Duration) (*types.HealthSample, error)
}

// Options 构造适配器时的公共依赖
type Options struct {
	HTTPClient *http.Client
	Tokens     TokenStore
	Log        *logrus.Entry
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Tokens == nil {
		o.Tokens = NewMemoryTokenStore()
	}
	if o.Log == nil {
		o.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return o
}

// Factory 按平台配置构造适配器
type Factory func(platform *types.Platform, opts Options) (PlatformAdapter, error)

// factories 已支持的平台，注册表只接受这里列出的类型
var factories = map[types.PlatformType]Factory{
	types.PlatformN8N:    factoryOf(NewN8NAdapter),
	types.PlatformMake:   factoryOf(NewMakeAdapter),
	types.PlatformZapier: factoryOf(NewZapierAdapter),
}

func factoryOf[A PlatformAdapter](fn func(*types.Platform, Options) (A, error)) Factory {
	return func(p *types.Platform, opts Options) (PlatformAdapter, error) {
		a, err := fn(p, opts)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

// SupportedTypes 返回支持的平台类型
func SupportedTypes() []types.PlatformType {
	return []types.PlatformType{types.PlatformN8N, types.PlatformMake, types.PlatformZapier}
}

// runDeadline 在ctx上叠加本次运行的截止时间，deadline为零值时不限制
func runDeadline(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline)
}

// probe 执行一次带超时的健康探测，返回样本；请求失败时返回错误
func probe(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (bool, string, error)) (*types.HealthSample, error) {
	if timeout <= 0 {
		timeout = types.DefaultHealthTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	ok, msg, err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}
	return &types.HealthSample{OK: ok, ResponseTime: elapsed, Message: msg}, nil
}

// flexID 兼容数字和字符串两种形式的ID
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }

// runOutcome 将平台的运行状态映射为 (是否结束, 是否成功)，未知状态视为未结束
func runOutcome(status string, success, failure []string) (finished, ok bool) {
	status = strings.ToLower(strings.TrimSpace(status))
	for _, s := range success {
		if status == s {
			return true, true
		}
	}
	for _, s := range failure {
		if status == s {
			return true, false
		}
	}
	return false, false
}

func requireBaseURL(p *types.Platform) error {
	if p == nil {
		return types.NewError(types.KindValidation, "平台配置为空")
	}
	if strings.TrimSpace(p.BaseURL) == "" {
		return types.NewError(types.KindValidation, "平台 %s 缺少 base_url", p.ID)
	}
	return nil
}
