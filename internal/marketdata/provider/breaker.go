package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/wyfcoding/portfoliotracker/internal/marketdata/domain"
)

// breakerProvider 带熔断器的提供商装饰器
// 熔断打开时直接返回 ErrUnavailable，缓存层据此切换备用提供商或回退过期缓存
type breakerProvider struct {
	inner   domain.Provider
	breaker *gobreaker.CircuitBreaker
}

// WithBreaker 用熔断器包装提供商
func WithBreaker(inner domain.Provider) domain.Provider {
	settings := gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 业务性未命中不计入失败
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrSymbolNotFound)
		},
	}

	return &breakerProvider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (p *breakerProvider) Name() string { return p.inner.Name() }

func (p *breakerProvider) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.inner.FetchQuote(ctx, symbol)
	})
	if err != nil {
		return nil, p.translate(err)
	}
	return result.(*domain.Quote), nil
}

func (p *breakerProvider) FetchMetadata(ctx context.Context, symbol string) (*domain.SecurityMetadata, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.inner.FetchMetadata(ctx, symbol)
	})
	if err != nil {
		return nil, p.translate(err)
	}
	return result.(*domain.SecurityMetadata), nil
}

func (p *breakerProvider) translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewProviderError(p.Name(), domain.ErrUnavailable)
	}
	return err
}
