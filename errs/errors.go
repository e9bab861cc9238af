package errs

import (
	"errors"
	"fmt"
)

// Code 错误码类型
type Code string

const (
	// 通道相关错误
	CodeTimeout             Code = "TIMEOUT"
	CodeCancelled           Code = "CANCELLED"
	CodePromptNotRecognized Code = "PROMPT_NOT_RECOGNIZED"

	// 特权级别相关错误
	CodeUnknownPrivilegeLevel      Code = "UNKNOWN_PRIVILEGE_LEVEL"
	CodeDuplicatePrivilegeLevel    Code = "DUPLICATE_PRIVILEGE_LEVEL"
	CodePrivilegeAcquisitionFailed Code = "PRIVILEGE_ACQUISITION_FAILED"
	CodeSecondaryAuthFailed        Code = "SECONDARY_AUTH_FAILED"
	CodeInvalidPrivilegeGraph      Code = "INVALID_PRIVILEGE_GRAPH"

	// 连接与平台相关错误
	CodeUnknownPlatform     Code = "UNKNOWN_PLATFORM"
	CodeConnectionNotOpened Code = "CONNECTION_NOT_OPENED"
	CodeTransportError      Code = "TRANSPORT_ERROR"
)

// Detail keys shared by the packages that build errors.
const (
	DetailObserved = "observed"
	DetailExpected = "expected_pattern"
	DetailTarget   = "target"
	DetailHost     = "host"
	DetailName     = "name"
)

// Sentinels for errors.Is; comparison is by code only.
var (
	ErrTimeout                    = &Error{Code: CodeTimeout}
	ErrCancelled                  = &Error{Code: CodeCancelled}
	ErrPromptNotRecognized        = &Error{Code: CodePromptNotRecognized}
	ErrUnknownPrivilegeLevel      = &Error{Code: CodeUnknownPrivilegeLevel}
	ErrDuplicatePrivilegeLevel    = &Error{Code: CodeDuplicatePrivilegeLevel}
	ErrPrivilegeAcquisitionFailed = &Error{Code: CodePrivilegeAcquisitionFailed}
	ErrSecondaryAuthFailed        = &Error{Code: CodeSecondaryAuthFailed}
	ErrInvalidPrivilegeGraph      = &Error{Code: CodeInvalidPrivilegeGraph}
	ErrUnknownPlatform            = &Error{Code: CodeUnknownPlatform}
	ErrConnectionNotOpened        = &Error{Code: CodeConnectionNotOpened}
	ErrTransport                  = &Error{Code: CodeTransportError}
)

// Error 会话操作错误
type Error struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error 实现error接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 创建新的错误
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
	}
}

// Wrap 创建带原因的错误
func Wrap(code Code, cause error, format string, args ...interface{}) *Error {
	e := New(code, format, args...)
	e.Cause = cause
	return e
}

// WithDetail 添加错误详细信息
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns the string form of a detail, or "" when missing.
func (e *Error) Detail(key string) string {
	v, ok := e.Details[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// As 获取错误链中的 *Error，如果不存在则返回nil
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// HasCode 检查错误链中是否包含指定错误码
func HasCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}
