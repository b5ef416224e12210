// Package adaptertest 可编程的平台适配器替身，供执行器、健康监控和引擎测试使用
package adaptertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LENAX/agent-hub/pkg/core/adapter"
	"github.com/LENAX/agent-hub/pkg/core/types"
)

// RunStep 一次RunAgent调用的预设结果
type RunStep struct {
	Result *types.RunResult
	Err    error
	Delay  time.Duration // 延迟返回，期间遵守ctx
	Block  bool          // 一直阻塞到ctx结束
}

// ProbeStep 一次ProbeHealth调用的预设结果
type ProbeStep struct {
	OK    bool
	Err   error
	Delay time.Duration
}

// Fake 平台适配器替身，每个externalID维护一组按顺序消费的步骤，最后一步重复使用
type Fake struct {
	PlatformType types.PlatformType

	mu          sync.Mutex
	runs        map[string][]RunStep
	polls       map[string][]*types.RunResult
	probes      map[string][]ProbeStep
	agents      []types.AgentDescriptor
	authErr     error
	runCalls    map[string]int
	probeCalls  map[string]int
	probing     map[string]int
	maxProbing  int
	runDeadline map[string]time.Time
}

// New 创建替身适配器
func New(pt types.PlatformType) *Fake {
	return &Fake{
		PlatformType: pt,
		runs:         make(map[string][]RunStep),
		polls:        make(map[string][]*types.RunResult),
		probes:       make(map[string][]ProbeStep),
		runCalls:     make(map[string]int),
		probeCalls:   make(map[string]int),
		probing:      make(map[string]int),
		runDeadline:  make(map[string]time.Time),
	}
}

// OnRun 预设RunAgent结果
func (f *Fake) OnRun(externalID string, steps ...RunStep) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[externalID] = append(f.runs[externalID], steps...)
	return f
}

// OnPoll 预设GetRunResult结果，key为executionID
func (f *Fake) OnPoll(executionID string, results ...*types.RunResult) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls[executionID] = append(f.polls[executionID], results...)
	return f
}

// OnProbe 预设ProbeHealth结果
func (f *Fake) OnProbe(externalID string, steps ...ProbeStep) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes[externalID] = append(f.probes[externalID], steps...)
	return f
}

// SetAgents 预设ListAgents结果
func (f *Fake) SetAgents(agents ...types.AgentDescriptor) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents = agents
	return f
}

// SetAuthError 预设Authenticate错误
func (f *Fake) SetAuthError(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authErr = err
	return f
}

// RunCalls RunAgent调用次数
func (f *Fake) RunCalls(externalID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runCalls[externalID]
}

// ProbeCalls ProbeHealth调用次数
func (f *Fake) ProbeCalls(externalID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeCalls[externalID]
}

// MaxConcurrentProbes 同一Agent同时进行中的探测数的历史最大值
func (f *Fake) MaxConcurrentProbes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxProbing
}

// LastDeadline 最近一次RunAgent收到的截止时间
func (f *Fake) LastDeadline(externalID string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runDeadline[externalID]
}

func (f *Fake) Type() types.PlatformType { return f.PlatformType }

func (f *Fake) Authenticate(ctx context.Context) (types.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authErr != nil {
		return types.Credentials{}, f.authErr
	}
	return types.Credentials{Type: types.AuthAPIKey, AccessToken: "fake"}, nil
}

func (f *Fake) ListAgents(ctx context.Context) ([]types.AgentDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.AgentDescriptor(nil), f.agents...), nil
}

func (f *Fake) RunAgent(ctx context.Context, ref types.AgentRef, params map[string]interface{}, deadline time.Time) (*types.RunResult, error) {
	f.mu.Lock()
	f.runCalls[ref.ExternalID]++
	f.runDeadline[ref.ExternalID] = deadline
	var step RunStep
	if steps := f.runs[ref.ExternalID]; len(steps) > 0 {
		step = steps[0]
		if len(steps) > 1 {
			f.runs[ref.ExternalID] = steps[1:]
		}
	} else {
		step = RunStep{Result: &types.RunResult{Finished: true, Success: true}}
	}
	f.mu.Unlock()

	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	if step.Block {
		<-ctx.Done()
		return nil, ctxError(ctx)
	}
	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return nil, ctxError(ctx)
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	res := *step.Result
	return &res, nil
}

func (f *Fake) GetRunResult(ctx context.Context, ref types.AgentRef, executionID string) (*types.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := f.polls[executionID]
	if len(results) == 0 {
		return &types.RunResult{ExecutionID: executionID}, nil
	}
	res := *results[0]
	if len(results) > 1 {
		f.polls[executionID] = results[1:]
	}
	return &res, nil
}

func (f *Fake) ProbeHealth(ctx context.Context, ref types.AgentRef, timeout time.Duration) (*types.HealthSample, error) {
	f.mu.Lock()
	f.probeCalls[ref.ExternalID]++
	f.probing[ref.ExternalID]++
	if f.probing[ref.ExternalID] > f.maxProbing {
		f.maxProbing = f.probing[ref.ExternalID]
	}
	step := ProbeStep{OK: true}
	if steps := f.probes[ref.ExternalID]; len(steps) > 0 {
		step = steps[0]
		if len(steps) > 1 {
			f.probes[ref.ExternalID] = steps[1:]
		}
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.probing[ref.ExternalID]--
		f.mu.Unlock()
	}()

	start := time.Now()
	if step.Delay > 0 {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return nil, ctxError(ctx)
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &types.HealthSample{OK: step.OK, ResponseTime: time.Since(start)}, nil
}

func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.WrapError(types.KindPlatformTransient, ctx.Err(), "运行超时")
	}
	return types.WrapError(types.KindTaskCancelled, ctx.Err(), "运行被取消")
}

var _ adapter.PlatformAdapter = (*Fake)(nil)
