package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/storage/dao"
)

func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string, v interface{}) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func taskToDAO(t *types.Task) (*dao.TaskDAO, error) {
	params, err := marshalJSON(t.Parameters)
	if err != nil {
		return nil, fmt.Errorf("序列化任务参数失败: %w", err)
	}
	d := &dao.TaskDAO{
		ID:          t.ID,
		AgentID:     t.AgentID,
		WorkflowID:  t.WorkflowID,
		Name:        t.Name,
		Description: t.Description,
		Priority:    string(t.Priority),
		Status:      string(t.Status),
		Parameters:  params,
		MaxRetries:  t.MaxRetries,
		RetryCount:  t.RetryCount,
		TimeoutMs:   t.TimeoutMs,
		ScheduledAt: t.ScheduledAt.UTC(),
		StartedAt:   nullTime(t.StartedAt),
		CompletedAt: nullTime(t.CompletedAt),
		ExecutionID: t.ExecutionID,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt.UTC(),
		UpdatedAt:   t.UpdatedAt.UTC(),
	}
	if t.Result != nil {
		s, err := marshalJSON(t.Result)
		if err != nil {
			return nil, fmt.Errorf("序列化任务结果失败: %w", err)
		}
		d.Result = sql.NullString{String: s, Valid: true}
	}
	if t.Error != nil {
		s, err := marshalJSON(t.Error)
		if err != nil {
			return nil, fmt.Errorf("序列化任务错误失败: %w", err)
		}
		d.Error = sql.NullString{String: s, Valid: true}
	}
	return d, nil
}

func taskFromDAO(d *dao.TaskDAO) (*types.Task, error) {
	t := &types.Task{
		ID:          d.ID,
		AgentID:     d.AgentID,
		WorkflowID:  d.WorkflowID,
		Name:        d.Name,
		Description: d.Description,
		Priority:    types.TaskPriority(d.Priority),
		Status:      types.TaskStatus(d.Status),
		MaxRetries:  d.MaxRetries,
		RetryCount:  d.RetryCount,
		TimeoutMs:   d.TimeoutMs,
		ScheduledAt: d.ScheduledAt,
		StartedAt:   timePtr(d.StartedAt),
		CompletedAt: timePtr(d.CompletedAt),
		ExecutionID: d.ExecutionID,
		CreatedBy:   d.CreatedBy,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if err := unmarshalJSON(d.Parameters, &t.Parameters); err != nil {
		return nil, fmt.Errorf("解析任务参数失败: %w", err)
	}
	if d.Result.Valid {
		if err := unmarshalJSON(d.Result.String, &t.Result); err != nil {
			return nil, fmt.Errorf("解析任务结果失败: %w", err)
		}
	}
	if d.Error.Valid && d.Error.String != "" {
		var te types.TaskError
		if err := unmarshalJSON(d.Error.String, &te); err != nil {
			return nil, fmt.Errorf("解析任务错误失败: %w", err)
		}
		t.Error = &te
	}
	return t, nil
}

func agentToDAO(a *types.Agent) (*dao.AgentDAO, error) {
	caps, err := marshalJSON(a.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("序列化能力列表失败: %w", err)
	}
	conf, err := marshalJSON(a.Configuration)
	if err != nil {
		return nil, fmt.Errorf("序列化Agent配置失败: %w", err)
	}
	var healthCfg string
	if a.HealthConfig != nil {
		if healthCfg, err = marshalJSON(a.HealthConfig); err != nil {
			return nil, fmt.Errorf("序列化健康监控配置失败: %w", err)
		}
	}
	return &dao.AgentDAO{
		ID:            a.ID,
		PlatformID:    a.PlatformID,
		ExternalID:    a.ExternalID,
		Name:          a.Name,
		Description:   a.Description,
		Capabilities:  caps,
		Configuration: conf,
		Status:        string(a.Status),
		HealthConfig:  healthCfg,
		CreatedAt:     a.CreatedAt.UTC(),
		UpdatedAt:     a.UpdatedAt.UTC(),
	}, nil
}

func agentFromDAO(d *dao.AgentDAO) (*types.Agent, error) {
	a := &types.Agent{
		ID:          d.ID,
		PlatformID:  d.PlatformID,
		ExternalID:  d.ExternalID,
		Name:        d.Name,
		Description: d.Description,
		Status:      types.AgentStatus(d.Status),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if err := unmarshalJSON(d.Capabilities, &a.Capabilities); err != nil {
		return nil, fmt.Errorf("解析能力列表失败: %w", err)
	}
	if err := unmarshalJSON(d.Configuration, &a.Configuration); err != nil {
		return nil, fmt.Errorf("解析Agent配置失败: %w", err)
	}
	if err := unmarshalJSON(d.HealthConfig, &a.HealthConfig); err != nil {
		return nil, fmt.Errorf("解析健康监控配置失败: %w", err)
	}
	a.Health = types.HealthRecord{AgentID: d.ID, Status: types.HealthUnknown}
	return a, nil
}

func healthToDAO(r *types.HealthRecord) *dao.HealthRecordDAO {
	var lc sql.NullTime
	if !r.LastCheck.IsZero() {
		lc = sql.NullTime{Time: r.LastCheck.UTC(), Valid: true}
	}
	return &dao.HealthRecordDAO{
		AgentID:           r.AgentID,
		Status:            string(r.Status),
		LastCheck:         lc,
		ResponseTimeMs:    r.ResponseTimeMs,
		ErrorCount:        r.ErrorCount,
		ConsecutiveErrors: r.ConsecutiveErrors,
		LastError:         r.LastError,
	}
}

func healthFromDAO(d *dao.HealthRecordDAO) *types.HealthRecord {
	r := &types.HealthRecord{
		AgentID:           d.AgentID,
		Status:            types.HealthStatus(d.Status),
		ResponseTimeMs:    d.ResponseTimeMs,
		ErrorCount:        d.ErrorCount,
		ConsecutiveErrors: d.ConsecutiveErrors,
		LastError:         d.LastError,
	}
	if d.LastCheck.Valid {
		r.LastCheck = d.LastCheck.Time
	}
	return r
}

func platformToDAO(p *types.Platform) (*dao.PlatformDAO, error) {
	creds, err := marshalJSON(p.AuthConfig.Credentials)
	if err != nil {
		return nil, fmt.Errorf("序列化平台凭证失败: %w", err)
	}
	return &dao.PlatformDAO{
		ID:          p.ID,
		Name:        p.Name,
		Type:        string(p.Type),
		BaseURL:     p.BaseURL,
		AuthType:    string(p.AuthConfig.Type),
		Credentials: creds,
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}, nil
}

func platformFromDAO(d *dao.PlatformDAO) (*types.Platform, error) {
	p := &types.Platform{
		ID:        d.ID,
		Name:      d.Name,
		Type:      types.PlatformType(d.Type),
		BaseURL:   d.BaseURL,
		Status:    types.PlatformStatus(d.Status),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	p.AuthConfig.Type = types.AuthType(d.AuthType)
	if err := unmarshalJSON(d.Credentials, &p.AuthConfig.Credentials); err != nil {
		return nil, fmt.Errorf("解析平台凭证失败: %w", err)
	}
	return p, nil
}

func scheduleToDAO(s *types.Schedule) (*dao.ScheduleDAO, error) {
	tpl, err := marshalJSON(s.Template)
	if err != nil {
		return nil, fmt.Errorf("序列化任务模板失败: %w", err)
	}
	return &dao.ScheduleDAO{
		ID:         s.ID,
		Name:       s.Name,
		CronExpr:   s.CronExpr,
		Template:   tpl,
		Enabled:    s.Enabled,
		LastRunAt:  nullTime(s.LastRunAt),
		LastTaskID: s.LastTask,
		CreatedAt:  s.CreatedAt.UTC(),
		UpdatedAt:  s.UpdatedAt.UTC(),
	}, nil
}

func scheduleFromDAO(d *dao.ScheduleDAO) (*types.Schedule, error) {
	s := &types.Schedule{
		ID:        d.ID,
		Name:      d.Name,
		CronExpr:  d.CronExpr,
		Enabled:   d.Enabled,
		LastRunAt: timePtr(d.LastRunAt),
		LastTask:  d.LastTaskID,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if err := unmarshalJSON(d.Template, &s.Template); err != nil {
		return nil, fmt.Errorf("解析任务模板失败: %w", err)
	}
	return s, nil
}
