package adapter

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// StatusListener 平台状态变化回调
type StatusListener func(platformID string, from, to types.PlatformStatus)

type registryEntry struct {
	platform *types.Platform
	adapter  PlatformAdapter
}

// Registry 平台适配器注册表（对外导出）
// 每个平台只构造一次适配器并复用；读多写少，使用读写锁
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*registryEntry
	opts      Options
	log       *logrus.Entry
	listeners []StatusListener
}

// NewRegistry 创建注册表
func NewRegistry(opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		entries: make(map[string]*registryEntry),
		opts:    opts,
		log:     opts.Log.WithField("component", "adapter-registry"),
	}
}

// Register 按平台类型构造适配器并注册，未知类型返回 UnsupportedPlatformError
// 重复注册同一平台会替换旧适配器并把状态重置为 connected
func (r *Registry) Register(platform *types.Platform) (PlatformAdapter, error) {
	if platform == nil || platform.ID == "" {
		return nil, types.NewError(types.KindValidation, "平台ID不能为空")
	}
	pt, err := types.ParsePlatformType(string(platform.Type))
	if err != nil {
		return nil, err
	}
	factory, ok := factories[pt]
	if !ok {
		return nil, types.NewError(types.KindUnsupportedPlatform, "不支持的平台类型: %s", platform.Type)
	}
	p := platform.Clone()
	p.Type = pt
	a, err := factory(p, r.opts)
	if err != nil {
		return nil, err
	}
	r.put(p, a)
	return a, nil
}

// RegisterAdapter 注册一个已构造好的适配器，类型仍需在支持列表内
func (r *Registry) RegisterAdapter(platform *types.Platform, a PlatformAdapter) error {
	if platform == nil || platform.ID == "" {
		return types.NewError(types.KindValidation, "平台ID不能为空")
	}
	pt, err := types.ParsePlatformType(string(platform.Type))
	if err != nil {
		return err
	}
	p := platform.Clone()
	p.Type = pt
	r.put(p, a)
	return nil
}

func (r *Registry) put(p *types.Platform, a PlatformAdapter) {
	r.mu.Lock()
	var from types.PlatformStatus
	if old, ok := r.entries[p.ID]; ok {
		from = old.platform.Status
	}
	p.Status = types.PlatformConnected
	r.entries[p.ID] = &registryEntry{platform: p, adapter: a}
	listeners := append([]StatusListener(nil), r.listeners...)
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"platform_id": p.ID, "type": p.Type}).Info("✅ 平台适配器已注册")
	if from != "" && from != p.Status {
		for _, fn := range listeners {
			fn(p.ID, from, p.Status)
		}
	}
}

// Unregister 移除平台
func (r *Registry) Unregister(platformID string) {
	r.mu.Lock()
	delete(r.entries, platformID)
	r.mu.Unlock()
}

// Get 获取平台适配器，不检查连接状态
func (r *Registry) Get(platformID string) (PlatformAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[platformID]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "平台 %s 未注册", platformID)
	}
	return e.adapter, nil
}

// Resolve 获取可用于派发的适配器，平台断开（凭证失效）时返回 AuthExpiredError
func (r *Registry) Resolve(platformID string) (PlatformAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[platformID]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "平台 %s 未注册", platformID)
	}
	if e.platform.Status == types.PlatformDisconnected {
		return nil, types.NewError(types.KindAuthExpired, "平台 %s 凭证已失效，等待重新注册", platformID)
	}
	return e.adapter, nil
}

// Platform 返回平台快照
func (r *Registry) Platform(platformID string) (*types.Platform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[platformID]
	if !ok {
		return nil, false
	}
	return e.platform.Clone(), true
}

// Platforms 按ID排序返回全部平台快照
func (r *Registry) Platforms() []*types.Platform {
	r.mu.RLock()
	out := make([]*types.Platform, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.platform.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Status 平台当前状态，未注册返回空
func (r *Registry) Status(platformID string) types.PlatformStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[platformID]; ok {
		return e.platform.Status
	}
	return ""
}

// IsDisconnected 平台是否因凭证失效断开
func (r *Registry) IsDisconnected(platformID string) bool {
	return r.Status(platformID) == types.PlatformDisconnected
}

// SetStatus 更新平台状态，变化时通知监听者
func (r *Registry) SetStatus(platformID string, status types.PlatformStatus) bool {
	r.mu.Lock()
	e, ok := r.entries[platformID]
	if !ok || e.platform.Status == status {
		r.mu.Unlock()
		return false
	}
	from := e.platform.Status
	e.platform.Status = status
	listeners := append([]StatusListener(nil), r.listeners...)
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"platform_id": platformID, "from": from, "to": status}).Warn("🔌 平台状态变化")
	for _, fn := range listeners {
		fn(platformID, from, status)
	}
	return true
}

// MarkAuthExpired 凭证刷新失败后将平台标记为断开
func (r *Registry) MarkAuthExpired(platformID string) bool {
	return r.SetStatus(platformID, types.PlatformDisconnected)
}

// OnStatusChange 注册状态变化监听
func (r *Registry) OnStatusChange(fn StatusListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}
