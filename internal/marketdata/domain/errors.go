package domain

import (
	"errors"
	"fmt"
)

// 提供商错误分类
var (
	// ErrRateLimited 提供商限流
	ErrRateLimited = errors.New("provider rate limited")
	// ErrSymbolNotFound 证券代码不存在，终态，不重试
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrUnavailable 提供商不可用
	ErrUnavailable = errors.New("provider unavailable")
	// ErrMalformedResponse 提供商响应无法解析
	ErrMalformedResponse = errors.New("malformed provider response")
)

// 缓存层对外错误：缓存与提供商均无数据时向上传播
var (
	ErrQuoteUnavailable    = errors.New("quote unavailable")
	ErrMetadataUnavailable = errors.New("security metadata unavailable")
)

// ErrInvalidSymbol 调用方输入校验错误，不涉及提供商
var ErrInvalidSymbol = errors.New("symbol is required")

// ProviderError 携带提供商名称的错误包装
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError 创建提供商错误
func NewProviderError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Err: err}
}

// IsRetryableWithFallback 判断错误是否允许切换备用提供商重试
func IsRetryableWithFallback(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
