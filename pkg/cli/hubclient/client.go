// Package hubclient Agent Hub HTTP API 客户端，供命令行工具使用
package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LENAX/agent-hub/pkg/api/dto"
	"github.com/LENAX/agent-hub/pkg/core/engine"
	"github.com/LENAX/agent-hub/pkg/core/types"
)

// APIError 服务端返回的错误响应
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client API客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New 创建客户端
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TaskListOptions 任务列表查询参数
type TaskListOptions struct {
	Statuses []string
	AgentID  string
	Priority string
	Limit    int
	Offset   int
}

func (o TaskListOptions) values() url.Values {
	params := url.Values{}
	if len(o.Statuses) > 0 {
		params.Set("status", strings.Join(o.Statuses, ","))
	}
	if o.AgentID != "" {
		params.Set("agent_id", o.AgentID)
	}
	if o.Priority != "" {
		params.Set("priority", strings.ToUpper(o.Priority))
	}
	if o.Limit > 0 {
		params.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		params.Set("offset", strconv.Itoa(o.Offset))
	}
	return params
}

// ListTasks 查询任务列表
func (c *Client) ListTasks(ctx context.Context, opts TaskListOptions) (*dto.ListResponse[*types.Task], error) {
	path := "/api/v1/tasks"
	if q := opts.values().Encode(); q != "" {
		path += "?" + q
	}
	return call[*dto.ListResponse[*types.Task]](ctx, c, http.MethodGet, path, nil)
}

// GetTask 查询任务
func (c *Client) GetTask(ctx context.Context, id string) (*types.Task, error) {
	return call[*types.Task](ctx, c, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil)
}

// CreateTask 创建任务
func (c *Client) CreateTask(ctx context.Context, spec types.TaskSpec) (*types.Task, error) {
	return call[*types.Task](ctx, c, http.MethodPost, "/api/v1/tasks", spec)
}

// CancelTask 取消任务
func (c *Client) CancelTask(ctx context.Context, id string) (*types.Task, error) {
	return call[*types.Task](ctx, c, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(id)+"/cancel", nil)
}

// RetryTask 手动重试失败任务
func (c *Client) RetryTask(ctx context.Context, id string) (*types.Task, error) {
	return call[*types.Task](ctx, c, http.MethodPost, "/api/v1/tasks/"+url.PathEscape(id)+"/retry", nil)
}

// DeleteTask 删除任务
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	_, err := call[map[string]string](ctx, c, http.MethodDelete, "/api/v1/tasks/"+url.PathEscape(id), nil)
	return err
}

// QueueStatus 查询队列状态
func (c *Client) QueueStatus(ctx context.Context) (*dto.QueueStatusResponse, error) {
	return call[*dto.QueueStatusResponse](ctx, c, http.MethodGet, "/api/v1/queue", nil)
}

// ConfigureQueue 调整执行参数
func (c *Client) ConfigureQueue(ctx context.Context, req dto.ExecutionConfigRequest) (*dto.QueueStatusResponse, error) {
	return call[*dto.QueueStatusResponse](ctx, c, http.MethodPut, "/api/v1/queue/config", req)
}

// ListAgents 查询Agent列表
func (c *Client) ListAgents(ctx context.Context, platformID string) (*dto.ListResponse[*types.Agent], error) {
	path := "/api/v1/agents"
	if platformID != "" {
		path += "?" + url.Values{"platform_id": {platformID}}.Encode()
	}
	return call[*dto.ListResponse[*types.Agent]](ctx, c, http.MethodGet, path, nil)
}

// RegisterAgent 注册Agent
func (c *Client) RegisterAgent(ctx context.Context, req dto.RegisterAgentRequest) (*types.Agent, error) {
	return call[*types.Agent](ctx, c, http.MethodPost, "/api/v1/agents", req)
}

// AgentHealth 查询Agent健康记录
func (c *Client) AgentHealth(ctx context.Context, id string) (*types.HealthRecord, error) {
	return call[*types.HealthRecord](ctx, c, http.MethodGet, "/api/v1/agents/"+url.PathEscape(id)+"/health", nil)
}

// CheckAgent 立即探测Agent健康
func (c *Client) CheckAgent(ctx context.Context, id string) (*types.HealthCheckResult, error) {
	return call[*types.HealthCheckResult](ctx, c, http.MethodPost, "/api/v1/agents/"+url.PathEscape(id)+"/health/check", nil)
}

// ListPlatforms 查询平台列表
func (c *Client) ListPlatforms(ctx context.Context) (*dto.ListResponse[*types.Platform], error) {
	return call[*dto.ListResponse[*types.Platform]](ctx, c, http.MethodGet, "/api/v1/platforms", nil)
}

// RegisterPlatform 注册平台
func (c *Client) RegisterPlatform(ctx context.Context, spec types.PlatformSpec) (*types.Platform, error) {
	return call[*types.Platform](ctx, c, http.MethodPost, "/api/v1/platforms", spec)
}

// DiscoverAgents 从平台发现Agent
func (c *Client) DiscoverAgents(ctx context.Context, platformID string) (*engine.DiscoveryResult, error) {
	return call[*engine.DiscoveryResult](ctx, c, http.MethodPost, "/api/v1/platforms/"+url.PathEscape(platformID)+"/discover", nil)
}

// Health 服务健康状态
func (c *Client) Health(ctx context.Context) (*dto.HealthResponse, error) {
	return call[*dto.HealthResponse](ctx, c, http.MethodGet, "/health", nil)
}

func call[T any](ctx context.Context, c *Client, method, path string, body interface{}) (T, error) {
	var zero T

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return zero, fmt.Errorf("创建请求失败: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("读取响应体失败: %w", err)
	}

	var result dto.APIResponse[T]
	if err := json.Unmarshal(raw, &result); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return zero, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return zero, fmt.Errorf("解析响应失败: %w, body: %s", err, string(raw))
	}
	if resp.StatusCode >= http.StatusBadRequest || result.Code != 0 {
		return zero, &APIError{StatusCode: resp.StatusCode, Message: result.Message}
	}
	return result.Data, nil
}
