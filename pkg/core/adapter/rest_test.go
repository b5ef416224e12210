package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/logger"
)

// faultServer 可注入故障的平台模拟服务
type faultServer struct {
	mu     sync.Mutex
	status int
	body   string
	delay  time.Duration
	hits   int
}

func (f *faultServer) set(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body = status, body
}

func (f *faultServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	status, body, delay := f.status, f.body, f.delay
	f.hits++
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func newTestClient(t *testing.T, baseURL string) *restClient {
	t.Helper()
	p := &types.Platform{
		ID:         "p1",
		Type:       types.PlatformN8N,
		BaseURL:    baseURL,
		AuthConfig: types.AuthConfig{Type: types.AuthAPIKey, Credentials: map[string]string{CredAPIKey: "k"}},
	}
	opts := Options{Log: logger.Discard()}.withDefaults()
	auth, err := newAuthenticator(p, apiKeyStyle{Header: "X-N8N-API-KEY"}, opts)
	require.NoError(t, err)
	return newRestClient(p, auth, opts)
}

// TestRestClient_StatusClassification 测试HTTP状态码分类
func TestRestClient_StatusClassification(t *testing.T) {
	fs := &faultServer{}
	srv := httptest.NewServer(fs)
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	cases := []struct {
		status int
		kind   types.ErrorKind
	}{
		{http.StatusOK, ""},
		{http.StatusAccepted, ""},
		{http.StatusRequestTimeout, types.KindPlatformTransient},
		{http.StatusTooManyRequests, types.KindPlatformTransient},
		{http.StatusBadGateway, types.KindPlatformTransient},
		{http.StatusServiceUnavailable, types.KindPlatformTransient},
		{http.StatusBadRequest, types.KindPlatformRejected},
		{http.StatusNotFound, types.KindPlatformRejected},
		{http.StatusUnprocessableEntity, types.KindPlatformRejected},
		{http.StatusUnauthorized, types.KindAuthExpired},
		{http.StatusForbidden, types.KindAuthExpired},
	}
	for _, tc := range cases {
		fs.set(tc.status, `{"message":"boom"}`)
		var out map[string]interface{}
		err := c.do(context.Background(), restCall{Method: http.MethodGet, Path: "/x", Out: &out})
		if tc.kind == "" {
			assert.NoError(t, err, "HTTP %d", tc.status)
			continue
		}
		require.Error(t, err, "HTTP %d", tc.status)
		assert.Equal(t, tc.kind, types.KindOf(err), "HTTP %d", tc.status)
	}
}

// TestRestClient_DeadlineIsTransient 测试超时归类为瞬时错误并及时返回
func TestRestClient_DeadlineIsTransient(t *testing.T) {
	fs := &faultServer{status: http.StatusOK, body: `{}`, delay: 2 * time.Second}
	srv := httptest.NewServer(fs)
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := c.do(ctx, restCall{Method: http.MethodGet, Path: "/slow"})
	require.Error(t, err)
	assert.Equal(t, types.KindPlatformTransient, types.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

// TestRestClient_CancelIsCancelled 测试主动取消归类为取消错误
func TestRestClient_CancelIsCancelled(t *testing.T) {
	fs := &faultServer{status: http.StatusOK, body: `{}`, delay: 2 * time.Second}
	srv := httptest.NewServer(fs)
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	err := c.do(ctx, restCall{Method: http.MethodGet, Path: "/slow"})
	require.Error(t, err)
	assert.Equal(t, types.KindTaskCancelled, types.KindOf(err))
}

// TestRestClient_TransportErrorIsTransient 测试连接失败归类为瞬时错误
func TestRestClient_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := newTestClient(t, url)
	err := c.do(context.Background(), restCall{Method: http.MethodGet, Path: "/x"})
	require.Error(t, err)
	assert.Equal(t, types.KindPlatformTransient, types.KindOf(err))
}

// TestRestClient_MalformedBody 测试无法解析的成功响应
func TestRestClient_MalformedBody(t *testing.T) {
	fs := &faultServer{status: http.StatusOK, body: `<html>proxy</html>`}
	srv := httptest.NewServer(fs)
	defer srv.Close()
	c := newTestClient(t, srv.URL)
	var out map[string]interface{}
	err := c.do(context.Background(), restCall{Method: http.MethodGet, Path: "/x", Out: &out})
	assert.Equal(t, types.KindPlatformTransient, types.KindOf(err))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad input", errorMessage([]byte(`{"message":"bad input"}`)))
	assert.Equal(t, "nope", errorMessage([]byte(`{"error":"nope"}`)))
	assert.Equal(t, "plain text", errorMessage([]byte("  plain text ")))

	long := errorMessage([]byte(strings.Repeat("网关错误", 60)))
	assert.True(t, utf8.ValidString(long))
	assert.Equal(t, maxErrorRunes+3, utf8.RuneCountInString(long))
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestRunOutcome(t *testing.T) {
	f, ok := runOutcome("SUCCESS", []string{"success"}, []string{"error"})
	assert.True(t, f)
	assert.True(t, ok)
	f, ok = runOutcome("error", []string{"success"}, []string{"error"})
	assert.True(t, f)
	assert.False(t, ok)
	f, _ = runOutcome("running", []string{"success"}, []string{"error"})
	assert.False(t, f)
}
