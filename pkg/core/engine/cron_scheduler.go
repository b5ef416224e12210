package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/types"
	"github.com/LENAX/agent-hub/pkg/logger"
)

// cronParser 支持可选秒字段和 @every/@daily 等描述符
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCronExpr 校验Cron表达式
func ValidateCronExpr(expr string) error {
	if expr == "" {
		return types.NewError(types.KindValidation, "Cron表达式不能为空")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return types.WrapError(types.KindValidation, err, "Cron表达式无效: %s", expr)
	}
	return nil
}

// FireFunc 周期任务触发回调
type FireFunc func(ctx context.Context, schedule *types.Schedule)

// CronScheduler 周期任务调度器（对外导出）
type CronScheduler struct {
	cron      *cron.Cron
	fire      FireFunc
	schedules map[string]*types.Schedule // scheduleID -> Schedule
	entries   map[string]cron.EntryID    // scheduleID -> cron.EntryID
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	log       *logrus.Entry
}

// NewCronScheduler 创建周期任务调度器（对外导出）
func NewCronScheduler(fire FireFunc, log *logrus.Entry) *CronScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		cron:      cron.New(cron.WithParser(cronParser)),
		fire:      fire,
		schedules: make(map[string]*types.Schedule),
		entries:   make(map[string]cron.EntryID),
		ctx:       ctx,
		cancel:    cancel,
		log:       logger.OrDefault(log).WithField("component", "cron"),
	}
}

// Register 注册周期任务，已注册时替换
func (cs *CronScheduler) Register(sc *types.Schedule) error {
	if err := ValidateCronExpr(sc.CronExpr); err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if old, exists := cs.entries[sc.ID]; exists {
		cs.cron.Remove(old)
	}
	c := *sc
	entryID, err := cs.cron.AddFunc(sc.CronExpr, func() {
		cs.trigger(&c)
	})
	if err != nil {
		return fmt.Errorf("添加Cron任务失败: %w", err)
	}
	cs.schedules[sc.ID] = &c
	cs.entries[sc.ID] = entryID

	cs.log.WithFields(logrus.Fields{"schedule_id": sc.ID, "name": sc.Name, "cron": sc.CronExpr}).Info("✅ 周期任务已注册")
	return nil
}

// Unregister 取消注册，返回是否存在
func (cs *CronScheduler) Unregister(scheduleID string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	entryID, exists := cs.entries[scheduleID]
	if !exists {
		return false
	}
	cs.cron.Remove(entryID)
	delete(cs.schedules, scheduleID)
	delete(cs.entries, scheduleID)
	cs.log.WithField("schedule_id", scheduleID).Info("✅ 周期任务已取消注册")
	return true
}

// Next 下一次触发时间，未注册或调度器未启动时返回零值
func (cs *CronScheduler) Next(scheduleID string) time.Time {
	cs.mu.RLock()
	entryID, ok := cs.entries[scheduleID]
	cs.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return cs.cron.Entry(entryID).Next
}

func (cs *CronScheduler) trigger(sc *types.Schedule) {
	defer func() {
		if r := recover(); r != nil {
			cs.log.WithField("schedule_id", sc.ID).Errorf("❌ 周期任务触发发生panic: %v", r)
		}
	}()
	cs.log.WithFields(logrus.Fields{"schedule_id": sc.ID, "name": sc.Name}).Info("🕐 周期任务触发")
	cs.fire(cs.ctx, sc)
}

// Start 启动调度器
func (cs *CronScheduler) Start() {
	cs.cron.Start()
	cs.log.Info("✅ 周期任务调度器已启动")
}

// Stop 停止调度器，等待正在执行的触发结束
func (cs *CronScheduler) Stop() {
	<-cs.cron.Stop().Done()
	cs.cancel()
	cs.log.Info("✅ 周期任务调度器已停止")
}

// Registered 已注册的周期任务ID
func (cs *CronScheduler) Registered() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	ids := make([]string, 0, len(cs.schedules))
	for id := range cs.schedules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
