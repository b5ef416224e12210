package scheduler

import (
	"time"

	pq "github.com/emirpasic/gods/queues/priorityqueue"
	"github.com/emirpasic/gods/utils"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// item 队列元素，version用于惰性删除：与索引中版本不一致的元素出队时丢弃
type item struct {
	taskID      string
	agentID     string
	priority    types.TaskPriority
	scheduledAt time.Time
	seq         uint64
	version     uint64
}

// byReadiness 就绪队列排序：优先级高者先，其次ScheduledAt早者先，最后按提交顺序
var byReadiness utils.Comparator = func(a, b interface{}) int {
	x, y := a.(*item), b.(*item)
	if rx, ry := x.priority.Rank(), y.priority.Rank(); rx != ry {
		if rx > ry {
			return -1
		}
		return 1
	}
	if !x.scheduledAt.Equal(y.scheduledAt) {
		if x.scheduledAt.Before(y.scheduledAt) {
			return -1
		}
		return 1
	}
	return bySeq(x, y)
}

func bySeq(x, y *item) int {
	switch {
	case x.seq < y.seq:
		return -1
	case x.seq > y.seq:
		return 1
	}
	return 0
}

// byScheduledAt 延迟队列排序：最早到期者先
var byScheduledAt utils.Comparator = func(a, b interface{}) int {
	x, y := a.(*item), b.(*item)
	if !x.scheduledAt.Equal(y.scheduledAt) {
		if x.scheduledAt.Before(y.scheduledAt) {
			return -1
		}
		return 1
	}
	return bySeq(x, y)
}

// taskQueue 就绪队列 + 延迟队列，非并发安全，由Scheduler加锁
type taskQueue struct {
	ready   *pq.Queue
	delayed *pq.Queue
	index   map[string]uint64 // taskID -> 当前有效version
	seq     uint64
	version uint64
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		ready:   pq.NewWith(byReadiness),
		delayed: pq.NewWith(byScheduledAt),
		index:   make(map[string]uint64),
	}
}

// push 加入或替换任务，替换时旧元素留在堆中等待惰性丢弃
func (q *taskQueue) push(task *types.Task, now time.Time) {
	q.seq++
	q.version++
	it := &item{
		taskID:      task.ID,
		agentID:     task.AgentID,
		priority:    task.Priority,
		scheduledAt: task.ScheduledAt,
		seq:         q.seq,
		version:     q.version,
	}
	q.index[task.ID] = it.version
	q.place(it, now)
}

func (q *taskQueue) place(it *item, now time.Time) {
	if it.scheduledAt.After(now) {
		q.delayed.Enqueue(it)
		return
	}
	q.ready.Enqueue(it)
}

// requeue 放回一个出队但未派发的元素，保持原有顺序
func (q *taskQueue) requeue(it *item, now time.Time) {
	if q.index[it.taskID] != it.version {
		return
	}
	q.place(it, now)
}

func (q *taskQueue) remove(taskID string) bool {
	if _, ok := q.index[taskID]; !ok {
		return false
	}
	delete(q.index, taskID)
	return true
}

func (q *taskQueue) live(it *item) bool {
	v, ok := q.index[it.taskID]
	return ok && v == it.version
}

// promote 把到期的延迟元素移入就绪队列
func (q *taskQueue) promote(now time.Time) {
	for {
		v, ok := q.delayed.Peek()
		if !ok {
			return
		}
		it := v.(*item)
		if it.scheduledAt.After(now) {
			return
		}
		q.delayed.Dequeue()
		if q.live(it) {
			q.ready.Enqueue(it)
		}
	}
}

// popReady 取出下一个有效的就绪元素
func (q *taskQueue) popReady() (*item, bool) {
	for {
		v, ok := q.ready.Dequeue()
		if !ok {
			return nil, false
		}
		it := v.(*item)
		if q.live(it) {
			return it, true
		}
	}
}

// take 出队后从索引中移除
func (q *taskQueue) take(it *item) {
	if q.live(it) {
		delete(q.index, it.taskID)
	}
}

func (q *taskQueue) contains(taskID string) bool {
	_, ok := q.index[taskID]
	return ok
}

// counts 有效元素数量（就绪/延迟）
func (q *taskQueue) counts(now time.Time) (ready, delayed int) {
	count := func(values []interface{}) int {
		n := 0
		for _, v := range values {
			if q.live(v.(*item)) {
				n++
			}
		}
		return n
	}
	ready = count(q.ready.Values())
	for _, v := range q.delayed.Values() {
		it := v.(*item)
		if !q.live(it) {
			continue
		}
		if it.scheduledAt.After(now) {
			delayed++
		} else {
			ready++
		}
	}
	return ready, delayed
}

func (q *taskQueue) size() int {
	return len(q.index)
}
