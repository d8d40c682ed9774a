package domain

import (
	"context"
	"time"
)

// Provider 行情提供商契约
// 缓存层是唯一调用方，下游组件不得直连提供商
type Provider interface {
	// Name 提供商名称（写入 Quote.Source）
	Name() string
	// FetchQuote 获取最新行情，失败返回 ProviderError
	FetchQuote(ctx context.Context, symbol string) (*Quote, error)
	// FetchMetadata 获取证券元数据，失败返回 ProviderError
	FetchMetadata(ctx context.Context, symbol string) (*SecurityMetadata, error)
}

// QuoteStore 行情缓存存储接口
// 未命中时返回 (nil, nil)
type QuoteStore interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	PutQuote(ctx context.Context, quote *Quote) error
	GetMetadata(ctx context.Context, symbol string) (*SecurityMetadata, error)
	PutMetadata(ctx context.Context, metadata *SecurityMetadata) error
}

// PriceHistoryRepository 日度价格归档仓储接口
type PriceHistoryRepository interface {
	// Upsert 幂等写入，(symbol, date) 唯一，同日第二次写入覆盖
	Upsert(ctx context.Context, record *PriceHistory) error
	// GetRange 按日期范围查询
	GetRange(ctx context.Context, symbol string, from, to time.Time) ([]*PriceHistory, error)
}
