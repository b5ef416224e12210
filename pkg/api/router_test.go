package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/agent-hub/pkg/core/adapter/adaptertest"
	"github.com/LENAX/agent-hub/pkg/core/engine"
	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/logger"
	"github.com/LENAX/agent-hub/pkg/storage/memory"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T) (*gin.Engine, *engine.Engine) {
	t.Helper()
	platform := &types.Platform{
		ID:         "p1",
		Name:       "n8n test",
		Type:       types.PlatformN8N,
		BaseURL:    "https://n8n.example.com",
		AuthConfig: types.AuthConfig{Type: types.AuthAPIKey, Credentials: map[string]string{"api_key": "secret"}},
	}
	eng, err := engine.NewEngineBuilder("").
		WithStore(memory.NewStore()).
		WithLogger(logger.Discard()).
		WithAdapter(platform, adaptertest.New(types.PlatformN8N)).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
	return SetupRouter(eng, RouterOptions{Version: "test", Mode: gin.TestMode, Log: logger.Discard()}), eng
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func registerAgent(t *testing.T, r http.Handler) types.Agent {
	t.Helper()
	code, env := do(t, r, http.MethodPost, "/api/v1/agents", map[string]interface{}{
		"platform_id": "p1",
		"external_id": "wf-1",
		"name":        "lead sync",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var agent types.Agent
	require.NoError(t, json.Unmarshal(env.Data, &agent))
	return agent
}

func TestTaskRoutes(t *testing.T) {
	r, _ := setupRouter(t)
	agent := registerAgent(t, r)

	code, env := do(t, r, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"agent_id": agent.ID,
		"name":     "sync leads",
		"priority": "HIGH",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var task types.Task
	require.NoError(t, json.Unmarshal(env.Data, &task))
	assert.Equal(t, types.TaskStatusPending, task.Status)
	assert.Equal(t, types.PriorityHigh, task.Priority)
	assert.Equal(t, "api", task.CreatedBy)

	code, _ = do(t, r, http.MethodGet, "/api/v1/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env = do(t, r, http.MethodGet, "/api/v1/tasks?status=PENDING&limit=10", nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Total int          `json:"total"`
		Items []types.Task `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 1, list.Total)

	code, _ = do(t, r, http.MethodGet, "/api/v1/tasks?status=BOGUS", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, r, http.MethodPost, "/api/v1/tasks/"+task.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &task))
	assert.Equal(t, types.TaskStatusCancelled, task.Status)

	code, _ = do(t, r, http.MethodPost, "/api/v1/tasks/"+task.ID+"/retry", nil)
	assert.Equal(t, http.StatusBadRequest, code, "只有FAILED任务可以重试")

	code, _ = do(t, r, http.MethodDelete, "/api/v1/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusOK, code)
	code, env = do(t, r, http.MethodGet, "/api/v1/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, http.StatusNotFound, env.Code)
}

func TestTaskRoutes_Validation(t *testing.T) {
	r, _ := setupRouter(t)

	code, _ := do(t, r, http.MethodPost, "/api/v1/tasks", map[string]interface{}{"agent_id": "ghost", "name": "x"})
	assert.Equal(t, http.StatusBadRequest, code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueRoutes(t *testing.T) {
	r, _ := setupRouter(t)

	code, _ := do(t, r, http.MethodPut, "/api/v1/queue/config", map[string]interface{}{"max_concurrent_tasks": 3, "queue_processing_interval_ms": 500})
	require.Equal(t, http.StatusOK, code)

	code, env := do(t, r, http.MethodGet, "/api/v1/queue", nil)
	require.Equal(t, http.StatusOK, code)
	var st struct {
		MaxConcurrentTasks        int   `json:"max_concurrent_tasks"`
		QueueProcessingIntervalMs int64 `json:"queue_processing_interval_ms"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 3, st.MaxConcurrentTasks)
	assert.Equal(t, int64(500), st.QueueProcessingIntervalMs)

	code, _ = do(t, r, http.MethodPut, "/api/v1/queue/config", map[string]interface{}{"max_concurrent_tasks": -1})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPlatformRoutes(t *testing.T) {
	r, _ := setupRouter(t)

	code, env := do(t, r, http.MethodGet, "/api/v1/platforms/p1", nil)
	require.Equal(t, http.StatusOK, code)
	var p types.Platform
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, types.PlatformConnected, p.Status)
	assert.Equal(t, "******", p.AuthConfig.Credentials["api_key"], "凭证不应明文返回")

	code, _ = do(t, r, http.MethodPost, "/api/v1/platforms", map[string]interface{}{"type": "IFTTT", "base_url": "https://x"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = do(t, r, http.MethodPost, "/api/v1/platforms/p1/discover", nil)
	assert.Equal(t, http.StatusForbidden, code, "功能未开启")
}

func TestAgentRoutes(t *testing.T) {
	r, _ := setupRouter(t)
	agent := registerAgent(t, r)

	code, _ := do(t, r, http.MethodPost, "/api/v1/agents", map[string]interface{}{"platform_id": "p1"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := do(t, r, http.MethodGet, "/api/v1/agents/"+agent.ID+"/health", nil)
	require.Equal(t, http.StatusOK, code)
	var rec types.HealthRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, types.HealthUnknown, rec.Status)

	code, _ = do(t, r, http.MethodPost, "/api/v1/agents/"+agent.ID+"/health/check", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, r, http.MethodPut, "/api/v1/agents/"+agent.ID+"/health/config", map[string]interface{}{"interval_ms": 60000, "retries": 5})
	assert.Equal(t, http.StatusOK, code)

	code, env = do(t, r, http.MethodGet, "/api/v1/health/monitoring", nil)
	require.Equal(t, http.StatusOK, code)
	var ms types.MonitoringStatus
	require.NoError(t, json.Unmarshal(env.Data, &ms))
	assert.Equal(t, 1, ms.MonitoredCount)

	code, _ = do(t, r, http.MethodDelete, "/api/v1/platforms/p1", nil)
	assert.Equal(t, http.StatusBadRequest, code, "仍有Agent引用")
	code, _ = do(t, r, http.MethodDelete, "/api/v1/agents/"+agent.ID, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, r, http.MethodGet, "/api/v1/agents/"+agent.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthRoutes(t *testing.T) {
	r, eng := setupRouter(t)

	code, env := do(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"version":"test"`)

	code, _ = do(t, r, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	require.NoError(t, eng.Start(context.Background()))
	code, _ = do(t, r, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, code)
}
