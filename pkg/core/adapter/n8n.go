package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// n8n Agent配置项
const (
	// N8NWebhookPath 配置后通过 /webhook/{path} 触发工作流
	N8NWebhookPath = "webhookPath"
)

const n8nPageLimit = 100

// N8NAdapter n8n平台适配器（对外导出）
type N8NAdapter struct {
	platform *types.Platform
	client   *restClient
}

// NewN8NAdapter 创建n8n适配器，api_key 通过 X-N8N-API-KEY 头传递
func NewN8NAdapter(platform *types.Platform, opts Options) (*N8NAdapter, error) {
	if err := requireBaseURL(platform); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	auth, err := newAuthenticator(platform, apiKeyStyle{Header: "X-N8N-API-KEY"}, opts)
	if err != nil {
		return nil, err
	}
	return &N8NAdapter{platform: platform.Clone(), client: newRestClient(platform, auth, opts)}, nil
}

type n8nTag struct {
	Name string `json:"name"`
}

type n8nWorkflow struct {
	ID     flexID   `json:"id"`
	Name   string   `json:"name"`
	Active bool     `json:"active"`
	Tags   []n8nTag `json:"tags"`
}

type n8nWorkflowList struct {
	Data       []n8nWorkflow `json:"data"`
	NextCursor string        `json:"nextCursor"`
}

type n8nExecution struct {
	ID          flexID      `json:"id"`
	ExecutionID flexID      `json:"executionId"`
	Finished    bool        `json:"finished"`
	Status      string      `json:"status"`
	Data        interface{} `json:"data"`
}

func (a *N8NAdapter) Type() types.PlatformType { return types.PlatformN8N }

// Authenticate 用一次轻量的列表请求校验API Key
func (a *N8NAdapter) Authenticate(ctx context.Context) (types.Credentials, error) {
	creds, err := a.client.auth.Credentials(ctx)
	if err != nil {
		return types.Credentials{}, err
	}
	if err := a.client.do(ctx, restCall{Method: http.MethodGet, Path: "/api/v1/workflows?limit=1"}); err != nil {
		return types.Credentials{}, err
	}
	return creds, nil
}

// ListAgents 按cursor分页列出工作流，tag作为能力
func (a *N8NAdapter) ListAgents(ctx context.Context) ([]types.AgentDescriptor, error) {
	var out []types.AgentDescriptor
	cursor := ""
	for page := 0; page < 1000; page++ {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(n8nPageLimit))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var list n8nWorkflowList
		if err := a.client.do(ctx, restCall{Method: http.MethodGet, Path: "/api/v1/workflows?" + q.Encode(), Out: &list}); err != nil {
			return nil, err
		}
		for _, wf := range list.Data {
			caps := make([]string, 0, len(wf.Tags))
			for _, t := range wf.Tags {
				caps = append(caps, t.Name)
			}
			out = append(out, types.AgentDescriptor{
				ExternalID:   wf.ID.String(),
				Name:         wf.Name,
				Active:       wf.Active,
				Capabilities: types.NormalizeCapabilities(caps),
			})
		}
		if list.NextCursor == "" {
			break
		}
		cursor = list.NextCursor
	}
	return out, nil
}

// RunAgent 优先走webhook，否则调用工作流运行接口
func (a *N8NAdapter) RunAgent(ctx context.Context, ref types.AgentRef, params map[string]interface{}, deadline time.Time) (*types.RunResult, error) {
	ctx, cancel := runDeadline(ctx, deadline)
	defer cancel()
	started := time.Now()

	if path := ref.ConfigString(N8NWebhookPath); path != "" {
		var output interface{}
		call := restCall{
			Method: http.MethodPost,
			Path:   "/webhook/" + strings.TrimLeft(path, "/"),
			Body:   params,
			Out:    &output,
			NoAuth: true,
		}
		if err := a.client.do(ctx, call); err != nil {
			return nil, err
		}
		return &types.RunResult{Finished: true, Success: true, Output: output, StartedAt: started, FinishedAt: time.Now()}, nil
	}

	var exec n8nExecution
	call := restCall{
		Method: http.MethodPost,
		Path:   "/api/v1/workflows/" + url.PathEscape(ref.ExternalID) + "/run",
		Body:   map[string]interface{}{"data": params},
		Out:    &exec,
	}
	if err := a.client.do(ctx, call); err != nil {
		return nil, err
	}
	res := n8nResult(exec)
	res.StartedAt = started
	if exec.Status == "" && exec.ExecutionID == "" && exec.ID == "" {
		// 同步返回且没有执行ID，视为已完成
		res.Finished, res.Success = true, true
	}
	if res.Finished {
		res.FinishedAt = time.Now()
	}
	return res, nil
}

func (a *N8NAdapter) GetRunResult(ctx context.Context, ref types.AgentRef, executionID string) (*types.RunResult, error) {
	var exec n8nExecution
	path := "/api/v1/executions/" + url.PathEscape(executionID) + "?includeData=true"
	if err := a.client.do(ctx, restCall{Method: http.MethodGet, Path: path, Out: &exec}); err != nil {
		return nil, err
	}
	if exec.ID == "" {
		exec.ID = flexID(executionID)
	}
	res := n8nResult(exec)
	if res.Finished {
		res.FinishedAt = time.Now()
	}
	return res, nil
}

// ProbeHealth 读取工作流，未激活视为不健康
func (a *N8NAdapter) ProbeHealth(ctx context.Context, ref types.AgentRef, timeout time.Duration) (*types.HealthSample, error) {
	return probe(ctx, timeout, func(ctx context.Context) (bool, string, error) {
		var wf n8nWorkflow
		if err := a.client.do(ctx, restCall{Method: http.MethodGet, Path: "/api/v1/workflows/" + url.PathEscape(ref.ExternalID), Out: &wf}); err != nil {
			return false, "", err
		}
		if !wf.Active {
			return false, "工作流未激活", nil
		}
		return true, "", nil
	})
}

func n8nResult(exec n8nExecution) *types.RunResult {
	id := exec.ExecutionID.String()
	if id == "" {
		id = exec.ID.String()
	}
	finished, ok := runOutcome(exec.Status, []string{"success"}, []string{"error", "crashed", "canceled"})
	if !finished && exec.Finished && exec.Status == "" {
		finished, ok = true, true
	}
	res := &types.RunResult{ExecutionID: id, Finished: finished, Success: ok, Output: exec.Data}
	if finished && !ok {
		res.Message = "n8n执行失败: " + exec.Status
	}
	return res
}

var _ PlatformAdapter = (*N8NAdapter)(nil)
