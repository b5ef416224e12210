// Package health Agent健康监控：每个Agent一个定时探测循环，维护滚动健康记录
package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/adapter"
	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/logger"
	"github.com/LENAX/agent-hub/pkg/notify"
)

const stopTimeout = 30 * time.Second

// Store 健康监控需要的持久化能力
type Store interface {
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	SaveAgent(ctx context.Context, agent *types.Agent) error
	GetHealthRecord(ctx context.Context, agentID string) (*types.HealthRecord, error)
	SaveHealthRecord(ctx context.Context, record *types.HealthRecord) error
}

// Resolver 根据平台ID获取适配器
type Resolver interface {
	Resolve(platformID string) (adapter.PlatformAdapter, error)
}

// agentState 单个Agent的监控状态
type agentState struct {
	cfg      types.HealthConfig
	inFlight atomic.Bool
	recMu    sync.Mutex // 串行化健康记录的读改写
	cancel   context.CancelFunc
}

// Monitor 健康监控器（对外导出）
type Monitor struct {
	mu       sync.Mutex
	store    Store
	resolver Resolver
	notifier notify.Sink
	defaults types.HealthConfig
	agents   map[string]*agentState
	records  map[string]types.HealthRecord
	now      func() time.Time
	log      *logrus.Entry

	running bool
	baseCtx context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup
}

// NewMonitor 创建健康监控器
func NewMonitor(store Store, resolver Resolver, notifier notify.Sink, defaults types.HealthConfig, log *logrus.Entry) *Monitor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Monitor{
		store:    store,
		resolver: resolver,
		notifier: notifier,
		defaults: defaults.WithDefaults(),
		agents:   make(map[string]*agentState),
		records:  make(map[string]types.HealthRecord),
		now:      time.Now,
		log:      logger.OrDefault(log).WithField("component", "health-monitor"),
	}
}

// Defaults 默认健康检查配置
func (m *Monitor) Defaults() types.HealthConfig {
	return m.defaults
}

// Start 启动所有已登记Agent的探测循环
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("健康监控已在运行")
	}
	m.baseCtx, m.stopAll = context.WithCancel(ctx)
	m.running = true
	for id, st := range m.agents {
		m.startLoop(id, st)
	}
	m.log.WithField("agents", len(m.agents)).Info("✅ 健康监控已启动")
	return nil
}

// Stop 停止所有探测循环，等待进行中的探测结束
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.stopAll()
	for _, st := range m.agents {
		st.cancel = nil
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info("✅ 健康监控已停止")
	case <-time.After(stopTimeout):
		m.log.Warn("⚠️ 等待健康探测结束超时")
	}
}

// Watch 登记或更新Agent的监控配置，零值字段使用默认值，已运行时立即按新配置重启循环
func (m *Monitor) Watch(agentID string, cfg types.HealthConfig) {
	cfg = cfg.WithDefaults()
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateLocked(agentID)
	m.stopLoop(st)
	st.cfg = cfg
	if m.running {
		m.startLoop(agentID, st)
	}
}

// Configure 更新已存在Agent的监控配置
func (m *Monitor) Configure(ctx context.Context, agentID string, cfg types.HealthConfig) error {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("加载Agent失败: %w", err)
	}
	if agent == nil {
		return types.NewError(types.KindNotFound, "Agent不存在: %s", agentID)
	}
	cfg = cfg.WithDefaults()
	agent.HealthConfig = &cfg
	agent.UpdatedAt = m.now()
	if err := m.store.SaveAgent(ctx, agent); err != nil {
		return fmt.Errorf("保存健康监控配置失败: %w", err)
	}
	m.Watch(agentID, cfg)
	m.log.WithFields(logrus.Fields{
		"agent_id": agentID,
		"interval": cfg.Interval,
		"enabled":  cfg.Enabled,
	}).Info("⚙️ 健康监控配置已更新")
	return nil
}

// Unwatch 停止并移除Agent的监控
func (m *Monitor) Unwatch(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.agents[agentID]; ok {
		m.stopLoop(st)
		delete(m.agents, agentID)
	}
	delete(m.records, agentID)
}

// Config 返回Agent当前的监控配置
func (m *Monitor) Config(agentID string) (types.HealthConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.agents[agentID]
	if !ok {
		return types.HealthConfig{}, false
	}
	return st.cfg, true
}

// stateLocked 获取或创建监控状态，调用方需持有m.mu
func (m *Monitor) stateLocked(agentID string) *agentState {
	st, ok := m.agents[agentID]
	if !ok {
		st = &agentState{cfg: m.defaults}
		m.agents[agentID] = st
	}
	return st
}

func (m *Monitor) state(agentID string) *agentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(agentID)
}

func (m *Monitor) startLoop(agentID string, st *agentState) {
	if !st.cfg.Enabled {
		return
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	st.cancel = cancel
	m.wg.Add(1)
	go m.loop(ctx, agentID, st, st.cfg.Interval)
}

func (m *Monitor) stopLoop(st *agentState) {
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
}

func (m *Monitor) loop(ctx context.Context, agentID string, st *agentState, interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, agentID, st)
		}
	}
}

// tick 定时探测，上一次探测（含手动检查）未结束时跳过
func (m *Monitor) tick(ctx context.Context, agentID string, st *agentState) {
	if !st.inFlight.CompareAndSwap(false, true) {
		m.log.WithField("agent_id", agentID).Debug("⏭️ 上一次探测未结束，跳过本次")
		return
	}
	defer st.inFlight.Store(false)
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("agent_id", agentID).Errorf("❌ 健康探测发生panic: %v", r)
		}
	}()
	if _, err := m.check(ctx, agentID, st); err != nil {
		m.log.WithError(err).WithField("agent_id", agentID).Warn("⚠️ 健康检查失败")
	}
}

// PerformHealthCheck 立即执行一次探测，不影响定时循环；已有探测进行中时返回当前记录并标记skipped
func (m *Monitor) PerformHealthCheck(ctx context.Context, agentID string) (*types.HealthCheckResult, error) {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("加载Agent失败: %w", err)
	}
	if agent == nil {
		return nil, types.NewError(types.KindNotFound, "Agent不存在: %s", agentID)
	}

	st := m.state(agentID)
	if !st.inFlight.CompareAndSwap(false, true) {
		rec, err := m.Current(ctx, agentID)
		if err != nil {
			return nil, err
		}
		return &types.HealthCheckResult{Record: rec, Skipped: true}, nil
	}
	defer st.inFlight.Store(false)

	rec, err := m.check(ctx, agentID, st)
	if err != nil {
		return nil, err
	}
	return &types.HealthCheckResult{Record: rec}, nil
}

// check 执行一次探测并更新健康记录
func (m *Monitor) check(ctx context.Context, agentID string, st *agentState) (types.HealthRecord, error) {
	m.mu.Lock()
	cfg := st.cfg
	m.mu.Unlock()

	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return types.HealthRecord{}, fmt.Errorf("加载Agent失败: %w", err)
	}
	if agent == nil {
		return types.HealthRecord{}, types.NewError(types.KindNotFound, "Agent不存在: %s", agentID)
	}

	start := time.Now()
	sample, probeErr := m.probe(ctx, agent, cfg)
	elapsed := time.Since(start)

	st.recMu.Lock()
	defer st.recMu.Unlock()

	rec, err := m.loadRecord(ctx, agentID)
	if err != nil {
		return types.HealthRecord{}, err
	}
	prev := rec.Status
	rec.LastCheck = m.now()
	switch {
	case probeErr == nil && sample != nil && sample.OK:
		rec.ConsecutiveErrors = 0
		rec.ResponseTimeMs = sample.ResponseTime.Milliseconds()
		rec.LastError = ""
	default:
		rec.ErrorCount++
		rec.ConsecutiveErrors++
		rec.ResponseTimeMs = elapsed.Milliseconds()
		if sample != nil {
			rec.ResponseTimeMs = sample.ResponseTime.Milliseconds()
		}
		rec.LastError = probeMessage(sample, probeErr)
	}
	rec.Status = types.ComputeHealthStatus(rec.ConsecutiveErrors, rec.ResponseTimeMs, cfg.Retries, cfg.ResponseTimeThresholdMs)

	if err := m.commit(ctx, agent, prev, rec); err != nil {
		return types.HealthRecord{}, err
	}
	return rec, nil
}

func (m *Monitor) probe(ctx context.Context, agent *types.Agent, cfg types.HealthConfig) (*types.HealthSample, error) {
	adp, err := m.resolver.Resolve(agent.PlatformID)
	if err != nil {
		return nil, err
	}
	probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	return adp.ProbeHealth(probeCtx, agent.Ref(), cfg.Timeout)
}

func probeMessage(sample *types.HealthSample, err error) string {
	if err != nil {
		return err.Error()
	}
	if sample != nil && sample.Message != "" {
		return sample.Message
	}
	return "探测返回不健康"
}

func (m *Monitor) loadRecord(ctx context.Context, agentID string) (types.HealthRecord, error) {
	prev, err := m.store.GetHealthRecord(ctx, agentID)
	if err != nil {
		return types.HealthRecord{}, fmt.Errorf("加载健康记录失败: %w", err)
	}
	if prev == nil {
		return types.HealthRecord{AgentID: agentID, Status: types.HealthUnknown}, nil
	}
	return *prev, nil
}

// commit 保存健康记录，状态变化时发出通知并同步Agent状态
func (m *Monitor) commit(ctx context.Context, agent *types.Agent, prev types.HealthStatus, rec types.HealthRecord) error {
	rec.AgentID = agent.ID
	if err := m.store.SaveHealthRecord(ctx, &rec); err != nil {
		return fmt.Errorf("保存健康记录失败: %w", err)
	}
	m.mu.Lock()
	if _, watched := m.agents[agent.ID]; watched {
		m.records[agent.ID] = rec
	}
	m.mu.Unlock()

	if prev == rec.Status {
		return nil
	}
	m.log.WithFields(logrus.Fields{
		"agent_id":           agent.ID,
		"from":               prev,
		"to":                 rec.Status,
		"consecutive_errors": rec.ConsecutiveErrors,
	}).Info("🩺 Agent健康状态变化")
	m.notifyHealth(ctx, agent.ID, prev, rec)
	m.followHealth(ctx, agent.ID, rec)
	return nil
}

func (m *Monitor) notifyHealth(ctx context.Context, agentID string, prev types.HealthStatus, rec types.HealthRecord) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("agent_id", agentID).Errorf("❌ 健康通知sink panic: %v", r)
		}
	}()
	if err := m.notifier.NotifyAgentHealthChange(ctx, agentID, prev, rec); err != nil {
		m.log.WithError(err).Warn("⚠️ 健康状态通知失败")
	}
}

// followHealth 不健康时Agent转为ERROR，恢复后转回ACTIVE；MAINTENANCE/INACTIVE不受影响
func (m *Monitor) followHealth(ctx context.Context, agentID string, rec types.HealthRecord) {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil || agent == nil || !agent.Status.FollowsHealth() {
		return
	}
	next := agent.Status
	switch {
	case rec.Status == types.HealthUnhealthy:
		next = types.AgentStatusError
	case agent.Status == types.AgentStatusError:
		next = types.AgentStatusActive
	}
	if next == agent.Status {
		return
	}
	from := agent.Status
	agent.Status = next
	agent.UpdatedAt = m.now()
	if err := m.store.SaveAgent(ctx, agent); err != nil {
		m.log.WithError(err).WithField("agent_id", agentID).Warn("⚠️ 更新Agent状态失败")
		return
	}
	m.log.WithFields(logrus.Fields{"agent_id": agentID, "from": from, "to": next}).Info("🔄 Agent状态随健康状态切换")
}

// MarkHealthy 任务执行成功后重置连续错误计数
func (m *Monitor) MarkHealthy(ctx context.Context, agentID string) error {
	st := m.state(agentID)
	m.mu.Lock()
	cfg := st.cfg
	m.mu.Unlock()

	st.recMu.Lock()
	defer st.recMu.Unlock()
	prev, err := m.store.GetHealthRecord(ctx, agentID)
	if err != nil {
		return fmt.Errorf("加载健康记录失败: %w", err)
	}
	if prev == nil || prev.ConsecutiveErrors == 0 {
		return nil
	}
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil || agent == nil {
		return err
	}
	rec := *prev
	rec.ConsecutiveErrors = 0
	rec.LastError = ""
	rec.Status = types.ComputeHealthStatus(0, rec.ResponseTimeMs, cfg.Retries, cfg.ResponseTimeThresholdMs)
	return m.commit(ctx, agent, prev.Status, rec)
}

// Current 返回Agent当前的健康记录，从未探测过时状态为unknown
func (m *Monitor) Current(ctx context.Context, agentID string) (types.HealthRecord, error) {
	rec, err := m.store.GetHealthRecord(ctx, agentID)
	if err != nil {
		return types.HealthRecord{}, fmt.Errorf("加载健康记录失败: %w", err)
	}
	if rec != nil {
		return *rec, nil
	}
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		return types.HealthRecord{}, fmt.Errorf("加载Agent失败: %w", err)
	}
	if agent == nil {
		return types.HealthRecord{}, types.NewError(types.KindNotFound, "Agent不存在: %s", agentID)
	}
	return types.HealthRecord{AgentID: agentID, Status: types.HealthUnknown}, nil
}

// Status 监控整体状态
func (m *Monitor) Status() types.MonitoringStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := types.MonitoringStatus{
		Running:      m.running,
		Agents:       make(map[string]types.HealthConfig, len(m.agents)),
		StatusCounts: make(map[types.HealthStatus]int),
	}
	for id, st := range m.agents {
		out.Agents[id] = st.cfg
		if st.cfg.Enabled {
			out.MonitoredCount++
		}
		status := types.HealthUnknown
		if rec, ok := m.records[id]; ok {
			status = rec.Status
		}
		out.StatusCounts[status]++
	}
	return out
}
