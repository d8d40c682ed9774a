// Package redis 提供行情缓存存储的 Redis 实现
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/portfoliotracker/internal/marketdata/domain"
	"github.com/wyfcoding/portfoliotracker/pkg/cache"
)

const (
	quotePrefix    = "portfolio:quote:"
	metadataPrefix = "portfolio:metadata:"
)

// QuoteStore domain.QuoteStore 的 Redis 实现
// 保留时间长于新鲜度窗口，过期判断基于 AsOf 年龄而非 key 过期，
// 这样提供商故障时仍有过期值可兜底；缓存可跨进程实例共享
type QuoteStore struct {
	cache     *cache.RedisCache
	retention time.Duration
}

// NewQuoteStore 创建 Redis 行情存储
func NewQuoteStore(c *cache.RedisCache, retention time.Duration) *QuoteStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &QuoteStore{
		cache:     c,
		retention: retention,
	}
}

// GetQuote 实现 domain.QuoteStore，未命中返回 (nil, nil)
func (s *QuoteStore) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var quote domain.Quote
	if err := s.cache.GetJSON(ctx, quotePrefix+symbol, &quote); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get quote from redis: %w", err)
	}
	return &quote, nil
}

// PutQuote 实现 domain.QuoteStore
func (s *QuoteStore) PutQuote(ctx context.Context, quote *domain.Quote) error {
	if quote == nil {
		return nil
	}
	if err := s.cache.SetJSON(ctx, quotePrefix+quote.Symbol, quote, s.retention); err != nil {
		return fmt.Errorf("failed to put quote to redis: %w", err)
	}
	return nil
}

// GetMetadata 实现 domain.QuoteStore，未命中返回 (nil, nil)
func (s *QuoteStore) GetMetadata(ctx context.Context, symbol string) (*domain.SecurityMetadata, error) {
	var metadata domain.SecurityMetadata
	if err := s.cache.GetJSON(ctx, metadataPrefix+symbol, &metadata); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get metadata from redis: %w", err)
	}
	return &metadata, nil
}

// PutMetadata 实现 domain.QuoteStore
// 元数据保留时间取新鲜度窗口的两倍，同样支持过期兜底
func (s *QuoteStore) PutMetadata(ctx context.Context, metadata *domain.SecurityMetadata) error {
	if metadata == nil {
		return nil
	}
	if err := s.cache.SetJSON(ctx, metadataPrefix+metadata.Symbol, metadata, 60*24*time.Hour); err != nil {
		return fmt.Errorf("failed to put metadata to redis: %w", err)
	}
	return nil
}
