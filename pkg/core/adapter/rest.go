package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

const (
	maxResponseBytes = 4 << 20
	maxErrorRunes    = 200
)

// restCall 一次REST调用
type restCall struct {
	Method string
	Path   string // 相对BaseURL的路径，或完整URL
	Body   interface{}
	Out    interface{}
	NoAuth bool // 外部webhook地址不附加平台凭证
}

// restClient 三个平台共用的HTTP客户端，负责认证和状态码分类
//
//	2xx                          -> 成功
//	408/429/5xx/网络错误/超时      -> PlatformTransientError
//	401/403                      -> 刷新凭证后重试一次，仍失败则 AuthExpiredError
//	其他4xx                       -> PlatformRejectedError
type restClient struct {
	platformID string
	baseURL    string
	http       *http.Client
	auth       Authenticator
	log        *logrus.Entry
}

func newRestClient(platform *types.Platform, auth Authenticator, opts Options) *restClient {
	return &restClient{
		platformID: platform.ID,
		baseURL:    strings.TrimRight(platform.BaseURL, "/"),
		http:       opts.HTTPClient,
		auth:       auth,
		log:        opts.Log.WithFields(logrus.Fields{"platform_id": platform.ID, "platform": platform.Type}),
	}
}

type rawResponse struct {
	status int
	body   []byte
}

func (c *restClient) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *restClient) send(ctx context.Context, call restCall) (*rawResponse, error) {
	var body io.Reader
	if call.Body != nil {
		data, err := json.Marshal(call.Body)
		if err != nil {
			return nil, types.WrapError(types.KindInternal, err, "序列化请求体失败")
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, c.url(call.Path), body)
	if err != nil {
		return nil, types.WrapError(types.KindInternal, err, "构造请求失败")
	}
	req.Header.Set("Accept", "application/json")
	if call.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !call.NoAuth && c.auth != nil {
		if err := c.auth.Apply(ctx, req); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err, call)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(ctx, err, call)
	}
	c.log.WithFields(logrus.Fields{
		"method":  call.Method,
		"path":    call.Path,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).String(),
	}).Debug("🌐 平台请求完成")
	return &rawResponse{status: resp.StatusCode, body: data}, nil
}

// do 执行调用并把响应解码到call.Out
func (c *restClient) do(ctx context.Context, call restCall) error {
	resp, err := c.send(ctx, call)
	if err != nil {
		return err
	}
	if isAuthFailure(resp.status) && !call.NoAuth && c.auth != nil {
		if rerr := c.auth.Refresh(ctx); rerr != nil {
			if errors.Is(rerr, errNotRefreshable) {
				return types.NewError(types.KindAuthExpired, "平台 %s 拒绝凭证 (HTTP %d): %s", c.platformID, resp.status, errorMessage(resp.body))
			}
			return types.WrapError(types.KindAuthExpired, rerr, "平台 %s 凭证刷新失败", c.platformID)
		}
		c.log.Info("🔑 凭证已刷新，重试请求")
		if resp, err = c.send(ctx, call); err != nil {
			return err
		}
		if isAuthFailure(resp.status) {
			return types.NewError(types.KindAuthExpired, "平台 %s 刷新后仍拒绝凭证 (HTTP %d)", c.platformID, resp.status)
		}
	}
	if err := classifyStatus(resp.status, resp.body, call); err != nil {
		return err
	}
	if call.Out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, call.Out); err != nil {
		return types.WrapError(types.KindPlatformTransient, err, "解析平台响应失败: %s %s", call.Method, call.Path)
	}
	return nil
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func classifyTransportError(ctx context.Context, err error, call restCall) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return types.WrapError(types.KindPlatformTransient, err, "请求超时: %s %s", call.Method, call.Path)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return types.WrapError(types.KindTaskCancelled, err, "请求被取消: %s %s", call.Method, call.Path)
	}
	return types.WrapError(types.KindPlatformTransient, err, "请求失败: %s %s", call.Method, call.Path)
}

// classifyStatus 按HTTP状态码分类，2xx返回nil
func classifyStatus(status int, body []byte, call restCall) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := fmt.Sprintf("%s %s -> HTTP %d: %s", call.Method, call.Path, status, errorMessage(body))
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return types.NewError(types.KindPlatformTransient, "%s", msg)
	case isAuthFailure(status):
		return types.NewError(types.KindAuthExpired, "%s", msg)
	}
	return types.NewError(types.KindPlatformRejected, "%s", msg)
}

// errorMessage 从错误响应中提取可读信息
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil {
		for _, s := range []string{payload.Message, payload.Error, payload.Detail} {
			if s != "" {
				return s
			}
		}
	}
	text := []rune(strings.TrimSpace(string(body)))
	if len(text) > maxErrorRunes {
		return string(text[:maxErrorRunes]) + "..."
	}
	return string(text)
}
