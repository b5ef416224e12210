package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/adapter"
	"github.com/LENAX/agent-hub/pkg/core/types"
)

// RegisterPlatform 注册平台并尝试认证；认证失败不影响注册，只体现在平台状态上
func (e *Engine) RegisterPlatform(ctx context.Context, spec types.PlatformSpec) (*types.Platform, error) {
	pt, err := types.ParsePlatformType(string(spec.Type))
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		id = uuid.NewString()
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = string(pt)
	}

	now := e.now()
	p := &types.Platform{
		ID:         id,
		Name:       name,
		Type:       pt,
		BaseURL:    strings.TrimSpace(spec.BaseURL),
		AuthConfig: spec.AuthConfig,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if old, err := e.store.GetPlatform(ctx, id); err == nil && old != nil {
		p.CreatedAt = old.CreatedAt
	}
	return e.connectPlatform(ctx, p)
}

// connectPlatform 构造适配器、认证并保存平台记录
func (e *Engine) connectPlatform(ctx context.Context, p *types.Platform) (*types.Platform, error) {
	adp, err := e.registry.Register(p)
	if err != nil {
		return nil, err
	}

	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	_, authErr := adp.Authenticate(authCtx)
	cancel()

	status := types.PlatformConnected
	switch {
	case authErr == nil:
	case types.KindOf(authErr) == types.KindAuthExpired:
		status = types.PlatformDisconnected
	default:
		status = types.PlatformError
	}
	e.registry.SetStatus(p.ID, status)

	saved := p.Clone()
	saved.Status = status
	saved.UpdatedAt = e.now()
	if err := e.store.SavePlatform(ctx, saved); err != nil {
		return nil, fmt.Errorf("保存平台失败: %w", err)
	}

	fields := logrus.Fields{"platform_id": p.ID, "type": p.Type, "status": status}
	if authErr != nil {
		e.log.WithFields(fields).WithError(authErr).Warn("⚠️ 平台已注册但认证失败")
	} else {
		e.log.WithFields(fields).Info("✅ 平台已注册")
	}
	return saved, nil
}

// AttachAdapter 使用已构造好的适配器注册平台，不经过认证
func (e *Engine) AttachAdapter(ctx context.Context, p *types.Platform, a adapter.PlatformAdapter) (*types.Platform, error) {
	if err := e.registry.RegisterAdapter(p, a); err != nil {
		return nil, err
	}
	saved, _ := e.registry.Platform(p.ID)
	now := e.now()
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = now
	}
	saved.UpdatedAt = now
	if err := e.store.SavePlatform(ctx, saved); err != nil {
		return nil, fmt.Errorf("保存平台失败: %w", err)
	}
	return saved, nil
}

// GetPlatform 查询平台，状态以注册表中的实时状态为准
func (e *Engine) GetPlatform(ctx context.Context, id string) (*types.Platform, error) {
	p, err := e.store.GetPlatform(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("加载平台失败: %w", err)
	}
	if p == nil {
		return nil, types.NewError(types.KindNotFound, "平台不存在: %s", id)
	}
	if st := e.registry.Status(id); st != "" {
		p.Status = st
	}
	return p, nil
}

// ListPlatforms 查询全部平台
func (e *Engine) ListPlatforms(ctx context.Context) ([]*types.Platform, error) {
	platforms, err := e.store.ListPlatforms(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询平台失败: %w", err)
	}
	for _, p := range platforms {
		if st := e.registry.Status(p.ID); st != "" {
			p.Status = st
		}
	}
	return platforms, nil
}

// DeletePlatform 删除平台，仍有Agent引用时拒绝
func (e *Engine) DeletePlatform(ctx context.Context, id string) error {
	if _, err := e.GetPlatform(ctx, id); err != nil {
		return err
	}
	agents, err := e.store.ListAgents(ctx, types.AgentFilter{PlatformID: id})
	if err != nil {
		return fmt.Errorf("查询Agent失败: %w", err)
	}
	if len(agents) > 0 {
		return types.NewError(types.KindValidation, "平台仍有 %d 个Agent，请先删除", len(agents))
	}
	e.registry.Unregister(id)
	if err := e.store.DeletePlatform(ctx, id); err != nil {
		return fmt.Errorf("删除平台失败: %w", err)
	}
	e.log.WithField("platform_id", id).Info("🗑️ 平台已删除")
	return nil
}
