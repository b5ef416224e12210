package executor

import (
	"math"
	"time"
)

// RetryPolicy 指数退避策略：min(base × multiplier^retryCount, max)
type RetryPolicy struct {
	BaseBackoff time.Duration
	Multiplier  float64
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy 默认1s起步、倍数2、上限60s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseBackoff: time.Second, Multiplier: 2.0, MaxBackoff: 60 * time.Second}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = d.BaseBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = p.BaseBackoff
	}
	return p
}

// Backoff 第retryCount次重试前的等待时间，retryCount为递增后的值
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	p = p.withDefaults()
	if retryCount < 0 {
		retryCount = 0
	}
	d := float64(p.BaseBackoff) * math.Pow(p.Multiplier, float64(retryCount))
	if math.IsInf(d, 0) || d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}
