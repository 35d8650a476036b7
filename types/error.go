package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

const (
	// ErrValidation 请求格式错误（如缺少查询文本），立即拒绝，不重试。
	ErrValidation ErrorCode = "VALIDATION"
	// ErrTransientBackend 单次检索/嵌入/LLM 调用失败或超时，
	// 有限次退避重试后降级为部分结果。
	ErrTransientBackend ErrorCode = "TRANSIENT_BACKEND"
	// ErrIngestionFailed 文档摄取失败，文档标记为 failed，不自动重试。
	ErrIngestionFailed ErrorCode = "INGESTION_FAILED"
	// ErrExhaustedRetries 生成步骤重试耗尽，作为硬失败上抛；
	// 生成失败时管线绝不返回编造的答案。
	ErrExhaustedRetries ErrorCode = "EXHAUSTED_RETRIES"
	// ErrNotFound 请求的文档不存在。
	ErrNotFound ErrorCode = "NOT_FOUND"
)

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// ValidationError 构造校验错误。
func ValidationError(message string) *Error {
	return &Error{Code: ErrValidation, Message: message}
}

// TransientError 构造可重试的瞬时后端错误。
func TransientError(message string, cause error) *Error {
	return &Error{Code: ErrTransientBackend, Message: message, Retryable: true, Cause: cause}
}

// IngestionError 构造摄取失败错误。
func IngestionError(message string, cause error) *Error {
	return &Error{Code: ErrIngestionFailed, Message: message, Cause: cause}
}

// ExhaustedRetriesError 构造重试耗尽错误。
func ExhaustedRetriesError(message string, cause error) *Error {
	return &Error{Code: ErrExhaustedRetries, Message: message, Cause: cause}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf extracts the error code from an error, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
