package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// RegisterAgent 注册平台上的Agent并开始健康监控
func (e *Engine) RegisterAgent(ctx context.Context, spec types.AgentSpec) (*types.Agent, error) {
	if _, err := e.GetPlatform(ctx, spec.PlatformID); err != nil {
		if types.KindOf(err) == types.KindNotFound {
			return nil, types.NewError(types.KindValidation, "引用了不存在的平台: %s", spec.PlatformID)
		}
		return nil, err
	}
	externalID := strings.TrimSpace(spec.ExternalID)
	if externalID == "" {
		return nil, types.NewError(types.KindValidation, "external_id不能为空")
	}
	existing, err := e.store.FindAgentByExternalID(ctx, spec.PlatformID, externalID)
	if err != nil {
		return nil, fmt.Errorf("查询Agent失败: %w", err)
	}
	if existing != nil {
		return nil, types.NewError(types.KindValidation, "Agent已注册: %s", existing.ID)
	}

	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = externalID
	}
	now := e.now()
	agent := &types.Agent{
		ID:            uuid.NewString(),
		PlatformID:    spec.PlatformID,
		ExternalID:    externalID,
		Name:          name,
		Description:   spec.Description,
		Capabilities:  types.NormalizeCapabilities(spec.Capabilities),
		Configuration: spec.Configuration,
		Status:        types.AgentStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if spec.Health != nil {
		cfg := spec.Health.WithDefaults()
		agent.HealthConfig = &cfg
	}
	// 健康记录由监控首次探测时写入
	agent.Health = types.HealthRecord{AgentID: agent.ID, Status: types.HealthUnknown}
	if err := e.store.SaveAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("保存Agent失败: %w", err)
	}

	e.monitor.Watch(agent.ID, agentHealthConfig(agent, e.monitor.Defaults()))
	e.log.WithFields(logrus.Fields{
		"agent_id":    agent.ID,
		"platform_id": agent.PlatformID,
		"external_id": agent.ExternalID,
	}).Info("✅ Agent已注册")
	return agent, nil
}

// GetAgent 查询Agent（含当前健康记录）
func (e *Engine) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	agent, err := e.store.GetAgent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("加载Agent失败: %w", err)
	}
	if agent == nil {
		return nil, types.NewError(types.KindNotFound, "Agent不存在: %s", id)
	}
	return agent, nil
}

// ListAgents 按条件查询Agent
func (e *Engine) ListAgents(ctx context.Context, filter types.AgentFilter) ([]*types.Agent, error) {
	agents, err := e.store.ListAgents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("查询Agent失败: %w", err)
	}
	return agents, nil
}

// UpdateAgent 修改Agent定义或手动设置状态
func (e *Engine) UpdateAgent(ctx context.Context, id string, upd types.AgentUpdate) (*types.Agent, error) {
	agent, err := e.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, types.NewError(types.KindValidation, "Agent名称不能为空")
		}
		agent.Name = name
	}
	if upd.Description != nil {
		agent.Description = *upd.Description
	}
	if upd.Capabilities != nil {
		agent.Capabilities = types.NormalizeCapabilities(upd.Capabilities)
	}
	if upd.Configuration != nil {
		agent.Configuration = upd.Configuration
	}
	if upd.Status != nil {
		st, err := types.ParseAgentStatus(string(*upd.Status))
		if err != nil {
			return nil, err
		}
		agent.Status = st
	}
	agent.UpdatedAt = e.now()
	if err := e.store.SaveAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("保存Agent失败: %w", err)
	}
	e.log.WithFields(logrus.Fields{"agent_id": id, "status": agent.Status}).Info("✏️ Agent已更新")
	return agent, nil
}

// DeleteAgent 删除Agent并停止监控，之后不再为其调度任务
func (e *Engine) DeleteAgent(ctx context.Context, id string) error {
	if _, err := e.GetAgent(ctx, id); err != nil {
		return err
	}
	e.monitor.Unwatch(id)
	if err := e.store.DeleteAgent(ctx, id); err != nil {
		return fmt.Errorf("删除Agent失败: %w", err)
	}
	e.log.WithField("agent_id", id).Info("🗑️ Agent已删除")
	return nil
}

// GetAgentHealthStatus 当前健康记录
func (e *Engine) GetAgentHealthStatus(ctx context.Context, id string) (types.HealthRecord, error) {
	return e.monitor.Current(ctx, id)
}

// PerformHealthCheck 立即执行一次健康探测
func (e *Engine) PerformHealthCheck(ctx context.Context, id string) (*types.HealthCheckResult, error) {
	return e.monitor.PerformHealthCheck(ctx, id)
}

// ConfigureHealthMonitoring 修改Agent的健康监控配置
func (e *Engine) ConfigureHealthMonitoring(ctx context.Context, id string, cfg types.HealthConfig) error {
	return e.monitor.Configure(ctx, id, cfg)
}

// GetHealthMonitoringStatus 健康监控整体状态
func (e *Engine) GetHealthMonitoringStatus() types.MonitoringStatus {
	return e.monitor.Status()
}

// DiscoveryResult Agent发现结果
type DiscoveryResult struct {
	PlatformID string         `json:"platform_id"`
	Created    []*types.Agent `json:"created"`
	Updated    []*types.Agent `json:"updated"`
}

// DiscoverAgents 从平台拉取Agent列表并按 platformID+externalID 合并
func (e *Engine) DiscoverAgents(ctx context.Context, platformID string) (*DiscoveryResult, error) {
	if err := e.requireFeature(FeatureAgentDiscovery); err != nil {
		return nil, err
	}
	adp, err := e.registry.Resolve(platformID)
	if err != nil {
		return nil, err
	}
	descs, err := adp.ListAgents(ctx)
	if err != nil {
		if types.KindOf(err) == types.KindAuthExpired {
			e.registry.MarkAuthExpired(platformID)
		}
		return nil, err
	}

	out := &DiscoveryResult{PlatformID: platformID, Created: []*types.Agent{}, Updated: []*types.Agent{}}
	for _, d := range descs {
		if d.ExternalID == "" {
			continue
		}
		existing, err := e.store.FindAgentByExternalID(ctx, platformID, d.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("查询Agent失败: %w", err)
		}
		if existing != nil {
			existing.Name = d.Name
			existing.Capabilities = types.NormalizeCapabilities(append(existing.Capabilities, d.Capabilities...))
			if d.Configuration != nil {
				existing.Configuration = mergeConfig(existing.Configuration, d.Configuration)
			}
			existing.UpdatedAt = e.now()
			if err := e.store.SaveAgent(ctx, existing); err != nil {
				return nil, fmt.Errorf("保存Agent失败: %w", err)
			}
			out.Updated = append(out.Updated, existing)
			continue
		}

		agent, err := e.RegisterAgent(ctx, types.AgentSpec{
			PlatformID:    platformID,
			ExternalID:    d.ExternalID,
			Name:          d.Name,
			Capabilities:  d.Capabilities,
			Configuration: d.Configuration,
		})
		if err != nil {
			return nil, err
		}
		if !d.Active {
			inactive := types.AgentStatusInactive
			if agent, err = e.UpdateAgent(ctx, agent.ID, types.AgentUpdate{Status: &inactive}); err != nil {
				return nil, err
			}
		}
		out.Created = append(out.Created, agent)
	}
	e.log.WithFields(logrus.Fields{
		"platform_id": platformID,
		"created":     len(out.Created),
		"updated":     len(out.Updated),
	}).Info("🔍 Agent发现完成")
	return out, nil
}

// mergeConfig 平台返回的配置覆盖同名键，本地额外配置保留
func mergeConfig(local, remote map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(local)+len(remote))
	for k, v := range local {
		out[k] = v
	}
	for k, v := range remote {
		out[k] = v
	}
	return out
}

// agentHealthConfig Agent保存的监控配置，未单独配置时使用默认值
func agentHealthConfig(agent *types.Agent, defaults types.HealthConfig) types.HealthConfig {
	if agent.HealthConfig != nil {
		return *agent.HealthConfig
	}
	return defaults
}
