package adapter

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// ZapierHookURL 配置后通过 Catch Hook 地址触发Zap
const ZapierHookURL = "hookUrl"

// ZapierAdapter Zapier平台适配器（对外导出）
type ZapierAdapter struct {
	platform *types.Platform
	client   *restClient
}

// NewZapierAdapter 创建Zapier适配器，支持OAuth2 bearer或 X-API-Key
func NewZapierAdapter(platform *types.Platform, opts Options) (*ZapierAdapter, error) {
	if err := requireBaseURL(platform); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	auth, err := newAuthenticator(platform, apiKeyStyle{Header: "X-API-Key"}, opts)
	if err != nil {
		return nil, err
	}
	return &ZapierAdapter{platform: platform.Clone(), client: newRestClient(platform, auth, opts)}, nil
}

type zapierZap struct {
	ID    flexID `json:"id"`
	Title string `json:"title"`
	State string `json:"state"`
}

type zapierZapList struct {
	Data  []zapierZap `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

type zapierRun struct {
	ID        flexID      `json:"id"`
	RequestID string      `json:"request_id"`
	Status    string      `json:"status"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
}

var (
	zapierSuccess = []string{"success", "filtered"}
	zapierFailure = []string{"error", "halted", "throttled"}
)

func (a *ZapierAdapter) Type() types.PlatformType { return types.PlatformZapier }

func (a *ZapierAdapter) Authenticate(ctx context.Context) (types.Credentials, error) {
	creds, err := a.client.auth.Credentials(ctx)
	if err != nil {
		return types.Credentials{}, err
	}
	if err := a.client.do(ctx, restCall{Method: http.MethodGet, Path: "/v2/zaps?limit=1"}); err != nil {
		return types.Credentials{}, err
	}
	return creds, nil
}

// ListAgents 沿 links.next 翻页
func (a *ZapierAdapter) ListAgents(ctx context.Context) ([]types.AgentDescriptor, error) {
	var out []types.AgentDescriptor
	next := "/v2/zaps"
	for page := 0; next != "" && page < 1000; page++ {
		var list zapierZapList
		if err := a.client.do(ctx, restCall{Method: http.MethodGet, Path: next, Out: &list}); err != nil {
			return nil, err
		}
		for _, z := range list.Data {
			out = append(out, types.AgentDescriptor{
				ExternalID: z.ID.String(),
				Name:       z.Title,
				Active:     z.State == "on",
			})
		}
		next = list.Links.Next
	}
	return out, nil
}

// RunAgent Catch Hook只确认接收，接收即视为完成；否则调用运行接口并按状态判断
func (a *ZapierAdapter) RunAgent(ctx context.Context, ref types.AgentRef, params map[string]interface{}, deadline time.Time) (*types.RunResult, error) {
	ctx, cancel := runDeadline(ctx, deadline)
	defer cancel()
	started := time.Now()

	if hook := ref.ConfigString(ZapierHookURL); hook != "" {
		var run zapierRun
		if err := a.client.do(ctx, restCall{Method: http.MethodPost, Path: hook, Body: params, Out: &run, NoAuth: true}); err != nil {
			return nil, err
		}
		return &types.RunResult{
			ExecutionID: run.RequestID,
			Finished:    true,
			Success:     true,
			Output:      run,
			StartedAt:   started,
			FinishedAt:  time.Now(),
		}, nil
	}

	var run zapierRun
	call := restCall{
		Method: http.MethodPost,
		Path:   "/v2/zaps/" + url.PathEscape(ref.ExternalID) + "/run",
		Body:   map[string]interface{}{"data": params},
		Out:    &run,
	}
	if err := a.client.do(ctx, call); err != nil {
		return nil, err
	}
	res := zapierResult(run)
	res.StartedAt = started
	return res, nil
}

func (a *ZapierAdapter) GetRunResult(ctx context.Context, ref types.AgentRef, executionID string) (*types.RunResult, error) {
	var run zapierRun
	path := "/v2/zaps/" + url.PathEscape(ref.ExternalID) + "/runs/" + url.PathEscape(executionID)
	if err := a.client.do(ctx, restCall{Method: http.MethodGet, Path: path, Out: &run}); err != nil {
		return nil, err
	}
	if run.ID == "" {
		run.ID = flexID(executionID)
	}
	return zapierResult(run), nil
}

// ProbeHealth Zap状态为on时健康
func (a *ZapierAdapter) ProbeHealth(ctx context.Context, ref types.AgentRef, timeout time.Duration) (*types.HealthSample, error) {
	return probe(ctx, timeout, func(ctx context.Context) (bool, string, error) {
		var zap zapierZap
		if err := a.client.do(ctx, restCall{Method: http.MethodGet, Path: "/v2/zaps/" + url.PathEscape(ref.ExternalID), Out: &zap}); err != nil {
			return false, "", err
		}
		if zap.State != "on" {
			return false, "Zap已关闭", nil
		}
		return true, "", nil
	})
}

func zapierResult(run zapierRun) *types.RunResult {
	finished, ok := runOutcome(run.Status, zapierSuccess, zapierFailure)
	res := &types.RunResult{ExecutionID: run.ID.String(), Finished: finished, Success: ok, Output: run.Data}
	if finished {
		res.FinishedAt = time.Now()
	}
	if finished && !ok {
		res.Message = "Zap执行失败: " + run.Status
		if run.Message != "" {
			res.Message += ": " + run.Message
		}
	}
	return res
}

var _ PlatformAdapter = (*ZapierAdapter)(nil)
