package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// CredTeamID Make场景列表需要的团队ID
const CredTeamID = "team_id"

const makePageLimit = 100

// MakeAdapter Make（原Integromat）平台适配器（对外导出）
type MakeAdapter struct {
	platform *types.Platform
	client   *restClient
	teamID   string
}

// NewMakeAdapter 创建Make适配器，api_key 以 "Authorization: Token <key>" 传递
func NewMakeAdapter(platform *types.Platform, opts Options) (*MakeAdapter, error) {
	if err := requireBaseURL(platform); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	auth, err := newAuthenticator(platform, apiKeyStyle{Header: "Authorization", Prefix: "Token "}, opts)
	if err != nil {
		return nil, err
	}
	return &MakeAdapter{
		platform: platform.Clone(),
		client:   newRestClient(platform, auth, opts),
		teamID:   platform.AuthConfig.Credentials[CredTeamID],
	}, nil
}

type makeScenario struct {
	ID          flexID `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    bool   `json:"isActive"`
	IsPaused    bool   `json:"isPaused"`
}

type makeScenarioList struct {
	Scenarios []makeScenario `json:"scenarios"`
}

type makeRunResponse struct {
	ExecutionID flexID      `json:"executionId"`
	StatusURL   string      `json:"statusUrl"`
	Outputs     interface{} `json:"outputs"`
}

type makeExecution struct {
	Status  string      `json:"status"`
	Outputs interface{} `json:"outputs"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *MakeAdapter) Type() types.PlatformType { return types.PlatformMake }

func (a *MakeAdapter) Authenticate(ctx context.Context) (types.Credentials, error) {
	creds, err := a.client.auth.Credentials(ctx)
	if err != nil {
		return types.Credentials{}, err
	}
	if err := a.client.do(ctx, restCall{Method: http.MethodGet, Path: "/api/v2/users/me"}); err != nil {
		return types.Credentials{}, err
	}
	return creds, nil
}

// ListAgents 按offset分页列出团队下的场景
func (a *MakeAdapter) ListAgents(ctx context.Context) ([]types.AgentDescriptor, error) {
	if a.teamID == "" {
		return nil, types.NewError(types.KindValidation, "Make平台 %s 缺少 %s 凭证，无法列出场景", a.platform.ID, CredTeamID)
	}
	var out []types.AgentDescriptor
	for offset := 0; ; offset += makePageLimit {
		q := url.Values{}
		q.Set("teamId", a.teamID)
		q.Set("pg[limit]", fmt.Sprint(makePageLimit))
		q.Set("pg[offset]", fmt.Sprint(offset))
		var list makeScenarioList
		if err := a.client.do(ctx, restCall{Method: http.MethodGet, Path: "/api/v2/scenarios?" + q.Encode(), Out: &list}); err != nil {
			return nil, err
		}
		for _, sc := range list.Scenarios {
			out = append(out, types.AgentDescriptor{
				ExternalID: sc.ID.String(),
				Name:       sc.Name,
				Active:     sc.IsActive && !sc.IsPaused,
			})
		}
		if len(list.Scenarios) < makePageLimit {
			break
		}
	}
	return out, nil
}

// RunAgent responsive模式下Make会等待场景结束；超出等待窗口时只返回executionId
func (a *MakeAdapter) RunAgent(ctx context.Context, ref types.AgentRef, params map[string]interface{}, deadline time.Time) (*types.RunResult, error) {
	ctx, cancel := runDeadline(ctx, deadline)
	defer cancel()
	started := time.Now()

	var resp makeRunResponse
	call := restCall{
		Method: http.MethodPost,
		Path:   "/api/v2/scenarios/" + url.PathEscape(ref.ExternalID) + "/run",
		Body:   map[string]interface{}{"data": params, "responsive": true},
		Out:    &resp,
	}
	if err := a.client.do(ctx, call); err != nil {
		return nil, err
	}
	res := &types.RunResult{ExecutionID: resp.ExecutionID.String(), StartedAt: started}
	if resp.Outputs != nil || resp.ExecutionID == "" {
		res.Finished, res.Success, res.Output = true, true, resp.Outputs
		res.FinishedAt = time.Now()
	}
	return res, nil
}

func (a *MakeAdapter) GetRunResult(ctx context.Context, ref types.AgentRef, executionID string) (*types.RunResult, error) {
	var exec makeExecution
	path := "/api/v2/scenarios/" + url.PathEscape(ref.ExternalID) + "/executions/" + url.PathEscape(executionID)
	if err := a.client.do(ctx, restCall{Method: http.MethodGet, Path: path, Out: &exec}); err != nil {
		return nil, err
	}
	finished, ok := runOutcome(exec.Status, []string{"success", "warning"}, []string{"error"})
	res := &types.RunResult{ExecutionID: executionID, Finished: finished, Success: ok, Output: exec.Outputs}
	if finished {
		res.FinishedAt = time.Now()
	}
	if finished && !ok {
		res.Message = "Make场景执行失败"
		if exec.Error != nil && exec.Error.Message != "" {
			res.Message += ": " + exec.Error.Message
		}
	}
	return res, nil
}

// ProbeHealth 场景需处于激活且未暂停状态
func (a *MakeAdapter) ProbeHealth(ctx context.Context, ref types.AgentRef, timeout time.Duration) (*types.HealthSample, error) {
	return probe(ctx, timeout, func(ctx context.Context) (bool, string, error) {
		var body struct {
			Scenario makeScenario `json:"scenario"`
		}
		if err := a.client.do(ctx, restCall{Method: http.MethodGet, Path: "/api/v2/scenarios/" + url.PathEscape(ref.ExternalID), Out: &body}); err != nil {
			return false, "", err
		}
		switch {
		case !body.Scenario.IsActive:
			return false, "场景未激活", nil
		case body.Scenario.IsPaused:
			return false, "场景已暂停", nil
		}
		return true, "", nil
	})
}

var _ PlatformAdapter = (*MakeAdapter)(nil)
