package engine

import (
	"fmt"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// 功能开关名称
const (
	FeatureAgentDiscovery = "agent_discovery"
	FeatureRecurringTasks = "recurring_tasks"
)

// FeatureDisabledError 功能开关未开启（对外导出）
type FeatureDisabledError struct {
	Feature string
}

func (e *FeatureDisabledError) Error() string {
	return fmt.Sprintf("功能未开启: %s", e.Feature)
}

// Unwrap 归类为 ValidationError
func (e *FeatureDisabledError) Unwrap() error {
	return types.ErrValidation
}

// RequireFeature 检查功能开关，未开启时返回 *FeatureDisabledError
func RequireFeature(flags map[string]bool, name string) error {
	if flags[name] {
		return nil
	}
	return &FeatureDisabledError{Feature: name}
}
