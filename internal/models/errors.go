package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrFieldMissing 响应中缺少期望的字段
	ErrFieldMissing = errors.New("响应缺少必需字段")

	// ErrSessionEstablishment 无法建立登录会话,运行终止
	ErrSessionEstablishment = errors.New("登录会话建立失败")

	// ErrProxyExhausted 代理池中没有可用代理
	ErrProxyExhausted = errors.New("代理池已耗尽")

	// ErrUnsupportedLogin 不支持的登录方式
	ErrUnsupportedLogin = errors.New("不支持的登录方式")
)

// DataFetchError 平台返回非成功响应
// 限流、风控拦截等情况对调用方不作区分
type DataFetchError struct {
	URI        string
	StatusCode int // HTTP状态码,业务错误时为200
	Code       int // 平台业务码
	Message    string
}

// Error 实现error接口
func (e *DataFetchError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("数据获取失败 [%s]: code=%d, message=%s", e.URI, e.Code, e.Message)
	}
	return fmt.Sprintf("数据获取失败 [%s]: status=%d, message=%s", e.URI, e.StatusCode, e.Message)
}

// ErrorClass 错误分类
type ErrorClass string

const (
	ErrorClassFetchFailure  ErrorClass = "fetch_failure"
	ErrorClassShapeMismatch ErrorClass = "shape_mismatch"
	ErrorClassCanceled      ErrorClass = "canceled"
	ErrorClassUnknown       ErrorClass = "unknown"
)

// ClassifyError 将任务级错误归类
// 未知错误需要单独计数
func ClassifyError(err error) ErrorClass {
	var fetchErr *DataFetchError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fetchErr):
		return ErrorClassFetchFailure
	case errors.Is(err, ErrFieldMissing):
		return ErrorClassShapeMismatch
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassCanceled
	default:
		return ErrorClassUnknown
	}
}

// ConfigError 配置文件错误
type ConfigError struct {
	FilePath string
	Cause    error
}

// Error 实现error接口
func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
