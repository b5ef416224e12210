package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/storage"
)

// Store 内存存储实现，用于测试和无持久化部署（对外导出）
// 读写均返回副本，调用方修改不会影响存储内容
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]*types.Task
	agents    map[string]*types.Agent
	platforms map[string]*types.Platform
	health    map[string]*types.HealthRecord
	schedules map[string]*types.Schedule
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		tasks:     make(map[string]*types.Task),
		agents:    make(map[string]*types.Agent),
		platforms: make(map[string]*types.Platform),
		health:    make(map[string]*types.HealthRecord),
		schedules: make(map[string]*types.Schedule),
	}
}

// Close 内存存储无需关闭
func (s *Store) Close() error {
	return nil
}

func (s *Store) SaveTask(ctx context.Context, task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[id].Clone(), nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func matchTask(t *types.Task, f types.TaskFilter) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if t.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.AgentID != "" && t.AgentID != f.AgentID {
		return false
	}
	if f.WorkflowID != "" && t.WorkflowID != f.WorkflowID {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.CreatedBy != "" && t.CreatedBy != f.CreatedBy {
		return false
	}
	return true
}

// ListTasks 按创建时间倒序分页
func (s *Store) ListTasks(ctx context.Context, filter types.TaskFilter, page types.Pagination) ([]*types.Task, int, error) {
	page = page.Normalize()
	s.mu.RLock()
	matched := make([]*types.Task, 0)
	for _, t := range s.tasks {
		if matchTask(t, filter) {
			matched = append(matched, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	if page.Offset >= total {
		return []*types.Task{}, total, nil
	}
	end := page.Offset + page.Limit
	if end > total {
		end = total
	}
	out := make([]*types.Task, 0, end-page.Offset)
	for _, t := range matched[page.Offset:end] {
		out = append(out, t.Clone())
	}
	return out, total, nil
}

func (s *Store) ListTasksByStatus(ctx context.Context, statuses ...types.TaskStatus) ([]*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := types.TaskFilter{Statuses: statuses}
	out := make([]*types.Task, 0)
	for _, t := range s.tasks {
		if matchTask(t, f) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *Store) CompareAndSwapTaskStatus(ctx context.Context, id string, expected types.TaskStatus, task *types.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[id]
	if !ok || cur.Status != expected {
		return false, nil
	}
	c := task.Clone()
	c.ID = id
	s.tasks[id] = c
	return true, nil
}

func (s *Store) CountTasksByStatus(ctx context.Context) (map[types.TaskStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[types.TaskStatus]int, len(types.AllTaskStatuses))
	for _, st := range types.AllTaskStatuses {
		counts[st] = 0
	}
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

func (s *Store) SaveAgent(ctx context.Context, agent *types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := agent.Clone()
	c.Health = types.HealthRecord{}
	s.agents[agent.ID] = c
	return nil
}

func (s *Store) withHealth(a *types.Agent) *types.Agent {
	c := a.Clone()
	if rec, ok := s.health[a.ID]; ok {
		c.Health = *rec
	} else {
		c.Health = types.HealthRecord{AgentID: a.ID, Status: types.HealthUnknown}
	}
	return c
}

func (s *Store) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, nil
	}
	return s.withHealth(a), nil
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
	delete(s.health, id)
	return nil
}

func (s *Store) ListAgents(ctx context.Context, filter types.AgentFilter) ([]*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if filter.PlatformID != "" && a.PlatformID != filter.PlatformID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.Capability != "" && !a.HasCapability(filter.Capability) {
			continue
		}
		out = append(out, s.withHealth(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) FindAgentByExternalID(ctx context.Context, platformID, externalID string) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agents {
		if a.PlatformID == platformID && a.ExternalID == externalID {
			return s.withHealth(a), nil
		}
	}
	return nil, nil
}

func (s *Store) SaveHealthRecord(ctx context.Context, record *types.HealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := *record
	s.health[record.AgentID] = &rec
	return nil
}

func (s *Store) GetHealthRecord(ctx context.Context, agentID string) (*types.HealthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.health[agentID]
	if !ok {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

func (s *Store) SavePlatform(ctx context.Context, platform *types.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.platforms[platform.ID] = platform.Clone()
	return nil
}

func (s *Store) GetPlatform(ctx context.Context, id string) (*types.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.platforms[id].Clone(), nil
}

func (s *Store) DeletePlatform(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.platforms, id)
	return nil
}

func (s *Store) ListPlatforms(ctx context.Context) ([]*types.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Platform, 0, len(s.platforms))
	for _, p := range s.platforms {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveSchedule(ctx context.Context, schedule *types.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *schedule
	s.schedules[schedule.ID] = &c
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*types.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, nil
	}
	c := *sc
	return &c, nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, id)
	return nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]*types.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		c := *sc
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ storage.Store = (*Store)(nil)
