// Package provider 实现行情提供商适配器，封闭集合，由配置选择
package provider

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wyfcoding/portfoliotracker/internal/marketdata/domain"
	"github.com/wyfcoding/portfoliotracker/pkg/config"
)

// 响应体大小上限，防御异常响应
const maxResponseBytes = 1 << 20

// New 按配置创建提供商适配器
func New(cfg config.ProviderConfig) (domain.Provider, error) {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	switch cfg.Kind {
	case "alphavantage":
		return NewAlphaVantage(cfg.BaseURL, cfg.APIKey, timeout), nil
	case "finnhub":
		return NewFinnhub(cfg.BaseURL, cfg.APIKey, timeout), nil
	default:
		return nil, fmt.Errorf("unknown provider kind: %q", cfg.Kind)
	}
}

func readBody(name string, resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.NewProviderError(name, fmt.Errorf("%w: %v", domain.ErrUnavailable, err))
	}
	return body, nil
}
