// Package application 实现市场数据上下文的用例逻辑
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wyfcoding/portfoliotracker/internal/marketdata/domain"
	"github.com/wyfcoding/portfoliotracker/pkg/logger"
	"github.com/wyfcoding/portfoliotracker/pkg/metrics"
)

// QuoteCacheConfig 缓存行为配置
type QuoteCacheConfig struct {
	// 行情新鲜度窗口
	QuoteFreshFor time.Duration
	// 元数据新鲜度窗口
	MetadataFreshFor time.Duration
}

// QuoteCache 行情缓存服务
// 对估值层提供足够新鲜的行情，集中对接提供商，吸收其限流与故障：
//   - 新鲜命中直接返回，零提供商调用
//   - 未命中/过期时按 symbol 合并并发请求（singleflight），同一 symbol 只打一次提供商
//   - 主提供商限流/不可用时切换备用提供商重试一次；代码不存在不重试
//   - 提供商全部失败时回退过期缓存（标记 Stale），两者皆无才报错
type QuoteCache struct {
	store     domain.QuoteStore
	history   domain.PriceHistoryRepository
	primary   domain.Provider
	secondary domain.Provider // 可为 nil
	config    QuoteCacheConfig
	metrics   *metrics.Metrics

	group singleflight.Group

	// 便于测试控制时钟
	now func() time.Time
}

// NewQuoteCache 创建行情缓存服务
func NewQuoteCache(
	store domain.QuoteStore,
	history domain.PriceHistoryRepository,
	primary domain.Provider,
	secondary domain.Provider,
	cfg QuoteCacheConfig,
	m *metrics.Metrics,
) *QuoteCache {
	if cfg.QuoteFreshFor <= 0 {
		cfg.QuoteFreshFor = 15 * time.Minute
	}
	if cfg.MetadataFreshFor <= 0 {
		cfg.MetadataFreshFor = 30 * 24 * time.Hour
	}
	return &QuoteCache{
		store:     store,
		history:   history,
		primary:   primary,
		secondary: secondary,
		config:    cfg,
		metrics:   m,
		now:       time.Now,
	}
}

// GetQuote 获取某证券足够新鲜的行情
func (c *QuoteCache) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, domain.ErrInvalidSymbol
	}

	cached, err := c.store.GetQuote(ctx, symbol)
	if err != nil {
		logger.Warn(ctx, "Quote store read failed, falling through to provider", "symbol", symbol, "error", err)
	}
	if cached != nil && cached.Age(c.now()) < c.config.QuoteFreshFor {
		c.metrics.QuoteCacheHits.Inc()
		return cached, nil
	}

	c.metrics.QuoteCacheMisses.Inc()

	// 调用方取消不应中断共享的提供商调用，其他等待者仍需要结果
	fetchCtx := context.WithoutCancel(ctx)

	result, err, _ := c.group.Do("quote:"+symbol, func() (interface{}, error) {
		return c.refreshQuote(fetchCtx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Quote), nil
}

// refreshQuote 在 singleflight 内执行：重查缓存、调提供商、落缓存与归档、过期兜底
func (c *QuoteCache) refreshQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	// 等锁期间可能已有并发刷新完成
	cached, _ := c.store.GetQuote(ctx, symbol)
	if cached != nil && cached.Age(c.now()) < c.config.QuoteFreshFor {
		return cached, nil
	}

	quote, fetchErr := c.fetchQuoteWithFallback(ctx, symbol)
	if fetchErr == nil {
		quote.AsOf = c.now()
		if err := c.store.PutQuote(ctx, quote); err != nil {
			logger.Warn(ctx, "Quote store write failed", "symbol", symbol, "error", err)
		}
		c.archivePrice(ctx, quote)
		return quote, nil
	}

	// 代码不存在是终态，不做过期兜底
	if errors.Is(fetchErr, domain.ErrSymbolNotFound) {
		return nil, fetchErr
	}

	if cached != nil {
		c.metrics.QuoteCacheStaleServed.Inc()
		logger.Warn(ctx, "Serving stale quote, providers unavailable",
			"symbol", symbol,
			"age", cached.Age(c.now()),
			"error", fetchErr,
		)
		stale := *cached
		stale.Stale = true
		return &stale, nil
	}

	return nil, fmt.Errorf("%w: %s: %v", domain.ErrQuoteUnavailable, symbol, fetchErr)
}

// GetMetadata 获取证券元数据，30 天新鲜度窗口
func (c *QuoteCache) GetMetadata(ctx context.Context, symbol string) (*domain.SecurityMetadata, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return nil, domain.ErrInvalidSymbol
	}

	cached, err := c.store.GetMetadata(ctx, symbol)
	if err != nil {
		logger.Warn(ctx, "Metadata store read failed, falling through to provider", "symbol", symbol, "error", err)
	}
	if cached != nil && cached.Age(c.now()) < c.config.MetadataFreshFor {
		return cached, nil
	}

	fetchCtx := context.WithoutCancel(ctx)

	result, err, _ := c.group.Do("metadata:"+symbol, func() (interface{}, error) {
		return c.refreshMetadata(fetchCtx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.SecurityMetadata), nil
}

func (c *QuoteCache) refreshMetadata(ctx context.Context, symbol string) (*domain.SecurityMetadata, error) {
	cached, _ := c.store.GetMetadata(ctx, symbol)
	if cached != nil && cached.Age(c.now()) < c.config.MetadataFreshFor {
		return cached, nil
	}

	metadata, fetchErr := c.fetchMetadataWithFallback(ctx, symbol)
	if fetchErr == nil {
		metadata.AsOf = c.now()
		if err := c.store.PutMetadata(ctx, metadata); err != nil {
			logger.Warn(ctx, "Metadata store write failed", "symbol", symbol, "error", err)
		}
		return metadata, nil
	}

	if errors.Is(fetchErr, domain.ErrSymbolNotFound) {
		return nil, fetchErr
	}

	if cached != nil {
		stale := *cached
		stale.Stale = true
		return &stale, nil
	}

	return nil, fmt.Errorf("%w: %s: %v", domain.ErrMetadataUnavailable, symbol, fetchErr)
}

func (c *QuoteCache) fetchQuoteWithFallback(ctx context.Context, symbol string) (*domain.Quote, error) {
	quote, err := c.fetchQuote(ctx, c.primary, symbol)
	if err == nil {
		return quote, nil
	}

	if c.secondary != nil && domain.IsRetryableWithFallback(err) {
		logger.Warn(ctx, "Primary provider failed, trying secondary",
			"symbol", symbol,
			"primary", c.primary.Name(),
			"error", err,
		)
		return c.fetchQuote(ctx, c.secondary, symbol)
	}

	return nil, err
}

func (c *QuoteCache) fetchMetadataWithFallback(ctx context.Context, symbol string) (*domain.SecurityMetadata, error) {
	metadata, err := c.fetchMetadata(ctx, c.primary, symbol)
	if err == nil {
		return metadata, nil
	}

	if c.secondary != nil && domain.IsRetryableWithFallback(err) {
		return c.fetchMetadata(ctx, c.secondary, symbol)
	}

	return nil, err
}

func (c *QuoteCache) fetchQuote(ctx context.Context, p domain.Provider, symbol string) (*domain.Quote, error) {
	start := time.Now()
	c.metrics.ProviderRequestsTotal.WithLabelValues(p.Name()).Inc()

	quote, err := p.FetchQuote(ctx, symbol)
	c.metrics.ProviderRequestDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.ProviderErrorsTotal.WithLabelValues(p.Name(), errorKind(err)).Inc()
		return nil, err
	}
	return quote, nil
}

func (c *QuoteCache) fetchMetadata(ctx context.Context, p domain.Provider, symbol string) (*domain.SecurityMetadata, error) {
	start := time.Now()
	c.metrics.ProviderRequestsTotal.WithLabelValues(p.Name()).Inc()

	metadata, err := p.FetchMetadata(ctx, symbol)
	c.metrics.ProviderRequestDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.ProviderErrorsTotal.WithLabelValues(p.Name(), errorKind(err)).Inc()
		return nil, err
	}
	return metadata, nil
}

// archivePrice 幂等写入当日价格归档，失败只告警，不影响行情返回
func (c *QuoteCache) archivePrice(ctx context.Context, quote *domain.Quote) {
	day := quote.AsOf.Truncate(24 * time.Hour)
	record := &domain.PriceHistory{
		Symbol:     quote.Symbol,
		PriceDate:  day,
		ClosePrice: quote.Price,
		Source:     quote.Source,
	}
	if err := c.history.Upsert(ctx, record); err != nil {
		logger.Warn(ctx, "Price history upsert failed", "symbol", quote.Symbol, "error", err)
	}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrSymbolNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrMalformedResponse):
		return "malformed"
	default:
		return "unavailable"
	}
}
