package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind 核心错误分类（对外导出）
// Executor离开前所有适配器错误都会被归入以下分类之一
type ErrorKind string

const (
	KindValidation          ErrorKind = "ValidationError"          // 引用了不存在或未激活的实体
	KindNotFound            ErrorKind = "NotFoundError"            // 实体不存在
	KindUnsupportedPlatform ErrorKind = "UnsupportedPlatformError" // 未知平台类型
	KindAuthExpired         ErrorKind = "AuthExpiredError"         // 凭证刷新失败
	KindPlatformTransient   ErrorKind = "PlatformTransientError"   // 超时、5xx、限流
	KindPlatformRejected    ErrorKind = "PlatformRejectedError"    // 4xx业务拒绝
	KindAgentUnhealthy      ErrorKind = "AgentUnhealthyError"      // 预检短路
	KindTaskCancelled       ErrorKind = "TaskCancelledError"       // 任务已取消
	KindInternal            ErrorKind = "InternalError"            // 未预期错误
)

// Retryable 该分类的失败是否允许自动重试
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindPlatformTransient, KindAgentUnhealthy:
		return true
	default:
		return false
	}
}

// ConsumesRetryBudget 该分类的失败是否消耗重试次数
// InternalError 不消耗，便于运维手动重试；AuthExpiredError 等待平台恢复
func (k ErrorKind) ConsumesRetryBudget() bool {
	switch k {
	case KindInternal, KindAuthExpired, KindTaskCancelled:
		return false
	default:
		return true
	}
}

// Error 带分类的核心错误（对外导出）
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同分类的哨兵错误视为相等，支持 errors.Is(err, types.ErrNotFound)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// 哨兵错误，仅用于 errors.Is 比较
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrUnsupportedPlatform = &Error{Kind: KindUnsupportedPlatform}
	ErrAuthExpired         = &Error{Kind: KindAuthExpired}
	ErrPlatformTransient   = &Error{Kind: KindPlatformTransient}
	ErrPlatformRejected    = &Error{Kind: KindPlatformRejected}
	ErrAgentUnhealthy      = &Error{Kind: KindAgentUnhealthy}
	ErrTaskCancelled       = &Error{Kind: KindTaskCancelled}
	ErrInternal            = &Error{Kind: KindInternal}
)

// NewError 创建带分类的错误
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError 将底层错误包装为指定分类
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf 提取错误分类，未分类的错误按 InternalError 处理
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindPlatformTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindTaskCancelled
	}
	return KindInternal
}

// Classify 确保错误带有分类，返回 *Error
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	kind := KindOf(err)
	return &Error{Kind: kind, Err: err}
}

// TaskError 记录在Task上的结构化错误（对外导出）
type TaskError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTaskError 从错误构造TaskError
func NewTaskError(err error) *TaskError {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	return &TaskError{
		Kind:      kind,
		Message:   err.Error(),
		Retryable: kind.Retryable(),
		Timestamp: time.Now(),
	}
}
