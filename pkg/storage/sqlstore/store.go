package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/storage"
	"github.com/LENAX/agent-hub/pkg/storage/dao"
)

// Store 基于sqlx的通用存储实现，方言差异由 storage.Dialect 处理（对外导出）
type Store struct {
	db      *sqlx.DB
	dialect storage.Dialect
	log     *logrus.Entry

	upsertTask     string
	upsertAgent    string
	upsertHealth   string
	upsertPlatform string
	upsertSchedule string
}

// PoolOptions 连接池配置，零值表示使用驱动默认值
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open 打开数据库连接并初始化表结构（对外导出）
func Open(dialect storage.Dialect, dsn string, pool PoolOptions, log *logrus.Entry) (*Store, error) {
	db, err := sqlx.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	for _, stmt := range dialect.SessionSQL() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("配置%s失败: %w", dialect.Name(), err)
		}
	}
	s, err := New(db, dialect, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New 使用已有连接创建存储实例（对外导出）
func New(db *sqlx.DB, dialect storage.Dialect, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Store{
		db:      db,
		dialect: dialect,
		log:     log.WithField("component", "store").WithField("dialect", dialect.Name()),
	}
	s.upsertTask = dialect.UpsertSQL("tasks", dao.TaskColumns, "id")
	s.upsertAgent = dialect.UpsertSQL("agents", dao.AgentColumns, "id")
	s.upsertHealth = dialect.UpsertSQL("agent_health", dao.HealthRecordColumns, "agent_id")
	s.upsertPlatform = dialect.UpsertSQL("platforms", dao.PlatformColumns, "id")
	s.upsertSchedule = dialect.UpsertSQL("schedules", dao.ScheduleColumns, "id")
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return s, nil
}

// initSchema 逐条执行建表语句，索引创建失败只记录日志（部分数据库不支持 IF NOT EXISTS）
func (s *Store) initSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(s.dialect.TranslateDDL(stmt)); err != nil {
			if storage.IsIndexDDL(stmt) {
				s.log.WithError(err).Debug("创建索引失败，忽略")
				continue
			}
			return err
		}
	}
	return nil
}

// DB 获取底层数据库连接（对外导出）
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close 关闭数据库连接（对外导出）
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ---------------- Task ----------------

// SaveTask 保存任务
func (s *Store) SaveTask(ctx context.Context, task *types.Task) error {
	d, err := taskToDAO(task)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, s.upsertTask, d); err != nil {
		return fmt.Errorf("保存任务失败: %w", err)
	}
	return nil
}

// GetTask 根据ID查询任务，不存在时返回 (nil, nil)
func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	var d dao.TaskDAO
	query := s.db.Rebind("SELECT * FROM tasks WHERE id = ?")
	if err := s.db.GetContext(ctx, &d, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询任务失败: %w", err)
	}
	return taskFromDAO(&d)
}

// DeleteTask 删除任务
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	query := s.db.Rebind("DELETE FROM tasks WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("删除任务失败: %w", err)
	}
	return nil
}

// buildTaskWhere 根据过滤条件构造WHERE子句
func buildTaskWhere(filter types.TaskFilter) (string, []interface{}, error) {
	var (
		conds []string
		args  []interface{}
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		cond, inArgs, err := sqlx.In("status IN (?)", statuses)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, cond)
		args = append(args, inArgs...)
	}
	if filter.AgentID != "" {
		conds = append(conds, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.WorkflowID != "" {
		conds = append(conds, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Priority != "" {
		conds = append(conds, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.CreatedBy != "" {
		conds = append(conds, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// ListTasks 分页查询任务，按创建时间倒序
func (s *Store) ListTasks(ctx context.Context, filter types.TaskFilter, page types.Pagination) ([]*types.Task, int, error) {
	page = page.Normalize()
	where, args, err := buildTaskWhere(filter)
	if err != nil {
		return nil, 0, fmt.Errorf("构造查询条件失败: %w", err)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind("SELECT COUNT(*) FROM tasks"+where), args...); err != nil {
		return nil, 0, fmt.Errorf("统计任务失败: %w", err)
	}

	query := s.db.Rebind("SELECT * FROM tasks" + where + " ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?")
	var rows []dao.TaskDAO
	if err := s.db.SelectContext(ctx, &rows, query, append(args, page.Limit, page.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("查询任务列表失败: %w", err)
	}
	tasks := make([]*types.Task, 0, len(rows))
	for i := range rows {
		t, err := taskFromDAO(&rows[i])
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	return tasks, total, nil
}

// ListTasksByStatus 查询指定状态的全部任务
func (s *Store) ListTasksByStatus(ctx context.Context, statuses ...types.TaskStatus) ([]*types.Task, error) {
	where, args, err := buildTaskWhere(types.TaskFilter{Statuses: statuses})
	if err != nil {
		return nil, fmt.Errorf("构造查询条件失败: %w", err)
	}
	var rows []dao.TaskDAO
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind("SELECT * FROM tasks"+where+" ORDER BY scheduled_at ASC"), args...); err != nil {
		return nil, fmt.Errorf("查询任务失败: %w", err)
	}
	tasks := make([]*types.Task, 0, len(rows))
	for i := range rows {
		t, err := taskFromDAO(&rows[i])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// CompareAndSwapTaskStatus 条件更新任务，当前状态不等于expected时不写入
func (s *Store) CompareAndSwapTaskStatus(ctx context.Context, id string, expected types.TaskStatus, task *types.Task) (bool, error) {
	d, err := taskToDAO(task)
	if err != nil {
		return false, err
	}
	d.ID = id
	sets := make([]string, 0, len(dao.TaskColumns)-1)
	for _, col := range dao.TaskColumns[1:] {
		sets = append(sets, fmt.Sprintf("%s = :%s", col, col))
	}
	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = :id AND status = :expected_status", strings.Join(sets, ", "))
	res, err := s.db.NamedExecContext(ctx, query, &dao.TaskCASDAO{TaskDAO: *d, ExpectedStatus: string(expected)})
	if err != nil {
		return false, fmt.Errorf("更新任务状态失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("读取影响行数失败: %w", err)
	}
	return n == 1, nil
}

// CountTasksByStatus 按状态统计任务数
func (s *Store) CountTasksByStatus(ctx context.Context) (map[types.TaskStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"cnt"`
	}
	if err := s.db.SelectContext(ctx, &rows, "SELECT status, COUNT(*) AS cnt FROM tasks GROUP BY status"); err != nil {
		return nil, fmt.Errorf("统计任务状态失败: %w", err)
	}
	counts := make(map[types.TaskStatus]int, len(types.AllTaskStatuses))
	for _, st := range types.AllTaskStatuses {
		counts[st] = 0
	}
	for _, r := range rows {
		counts[types.TaskStatus(r.Status)] = r.Count
	}
	return counts, nil
}

// ---------------- Agent ----------------

// SaveAgent 保存Agent定义，不写健康记录
func (s *Store) SaveAgent(ctx context.Context, agent *types.Agent) error {
	d, err := agentToDAO(agent)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, s.upsertAgent, d); err != nil {
		return fmt.Errorf("保存Agent失败: %w", err)
	}
	return nil
}

// GetAgent 根据ID查询Agent，不存在时返回 (nil, nil)
func (s *Store) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	var d dao.AgentDAO
	if err := s.db.GetContext(ctx, &d, s.db.Rebind("SELECT * FROM agents WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询Agent失败: %w", err)
	}
	return s.hydrateAgent(ctx, &d)
}

func (s *Store) hydrateAgent(ctx context.Context, d *dao.AgentDAO) (*types.Agent, error) {
	a, err := agentFromDAO(d)
	if err != nil {
		return nil, err
	}
	rec, err := s.GetHealthRecord(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		a.Health = *rec
	}
	return a, nil
}

// DeleteAgent 删除Agent及其健康记录
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM agent_health WHERE agent_id = ?"), id); err != nil {
		return fmt.Errorf("删除健康记录失败: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM agents WHERE id = ?"), id); err != nil {
		return fmt.Errorf("删除Agent失败: %w", err)
	}
	return tx.Commit()
}

// ListAgents 按条件查询Agent
func (s *Store) ListAgents(ctx context.Context, filter types.AgentFilter) ([]*types.Agent, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.PlatformID != "" {
		conds = append(conds, "platform_id = ?")
		args = append(args, filter.PlatformID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := "SELECT * FROM agents"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	var rows []dao.AgentDAO
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("查询Agent列表失败: %w", err)
	}

	var records []dao.HealthRecordDAO
	if err := s.db.SelectContext(ctx, &records, "SELECT * FROM agent_health"); err != nil {
		return nil, fmt.Errorf("查询健康记录失败: %w", err)
	}
	byAgent := make(map[string]*types.HealthRecord, len(records))
	for i := range records {
		byAgent[records[i].AgentID] = healthFromDAO(&records[i])
	}

	agents := make([]*types.Agent, 0, len(rows))
	for i := range rows {
		a, err := agentFromDAO(&rows[i])
		if err != nil {
			return nil, err
		}
		if filter.Capability != "" && !a.HasCapability(filter.Capability) {
			continue
		}
		if rec, ok := byAgent[a.ID]; ok {
			a.Health = *rec
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// FindAgentByExternalID 根据平台侧ID查询Agent
func (s *Store) FindAgentByExternalID(ctx context.Context, platformID, externalID string) (*types.Agent, error) {
	var d dao.AgentDAO
	query := s.db.Rebind("SELECT * FROM agents WHERE platform_id = ? AND external_id = ?")
	if err := s.db.GetContext(ctx, &d, query, platformID, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询Agent失败: %w", err)
	}
	return s.hydrateAgent(ctx, &d)
}

// ---------------- Health ----------------

// SaveHealthRecord 保存健康记录
func (s *Store) SaveHealthRecord(ctx context.Context, record *types.HealthRecord) error {
	if _, err := s.db.NamedExecContext(ctx, s.upsertHealth, healthToDAO(record)); err != nil {
		return fmt.Errorf("保存健康记录失败: %w", err)
	}
	return nil
}

// GetHealthRecord 查询健康记录，不存在时返回 (nil, nil)
func (s *Store) GetHealthRecord(ctx context.Context, agentID string) (*types.HealthRecord, error) {
	var d dao.HealthRecordDAO
	if err := s.db.GetContext(ctx, &d, s.db.Rebind("SELECT * FROM agent_health WHERE agent_id = ?"), agentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询健康记录失败: %w", err)
	}
	return healthFromDAO(&d), nil
}

// ---------------- Platform ----------------

// SavePlatform 保存平台
func (s *Store) SavePlatform(ctx context.Context, platform *types.Platform) error {
	d, err := platformToDAO(platform)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, s.upsertPlatform, d); err != nil {
		return fmt.Errorf("保存平台失败: %w", err)
	}
	return nil
}

// GetPlatform 根据ID查询平台，不存在时返回 (nil, nil)
func (s *Store) GetPlatform(ctx context.Context, id string) (*types.Platform, error) {
	var d dao.PlatformDAO
	if err := s.db.GetContext(ctx, &d, s.db.Rebind("SELECT * FROM platforms WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询平台失败: %w", err)
	}
	return platformFromDAO(&d)
}

// DeletePlatform 删除平台
func (s *Store) DeletePlatform(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM platforms WHERE id = ?"), id); err != nil {
		return fmt.Errorf("删除平台失败: %w", err)
	}
	return nil
}

// ListPlatforms 查询全部平台
func (s *Store) ListPlatforms(ctx context.Context) ([]*types.Platform, error) {
	var rows []dao.PlatformDAO
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM platforms ORDER BY created_at ASC, id ASC"); err != nil {
		return nil, fmt.Errorf("查询平台列表失败: %w", err)
	}
	out := make([]*types.Platform, 0, len(rows))
	for i := range rows {
		p, err := platformFromDAO(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ---------------- Schedule ----------------

// SaveSchedule 保存周期任务
func (s *Store) SaveSchedule(ctx context.Context, schedule *types.Schedule) error {
	d, err := scheduleToDAO(schedule)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, s.upsertSchedule, d); err != nil {
		return fmt.Errorf("保存周期任务失败: %w", err)
	}
	return nil
}

// GetSchedule 根据ID查询周期任务，不存在时返回 (nil, nil)
func (s *Store) GetSchedule(ctx context.Context, id string) (*types.Schedule, error) {
	var d dao.ScheduleDAO
	if err := s.db.GetContext(ctx, &d, s.db.Rebind("SELECT * FROM schedules WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询周期任务失败: %w", err)
	}
	return scheduleFromDAO(&d)
}

// DeleteSchedule 删除周期任务
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM schedules WHERE id = ?"), id); err != nil {
		return fmt.Errorf("删除周期任务失败: %w", err)
	}
	return nil
}

// ListSchedules 查询全部周期任务
func (s *Store) ListSchedules(ctx context.Context) ([]*types.Schedule, error) {
	var rows []dao.ScheduleDAO
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM schedules ORDER BY created_at ASC, id ASC"); err != nil {
		return nil, fmt.Errorf("查询周期任务列表失败: %w", err)
	}
	out := make([]*types.Schedule, 0, len(rows))
	for i := range rows {
		sc, err := scheduleFromDAO(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// 确保实现接口
var _ storage.Store = (*Store)(nil)
