package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/portfoliotracker/internal/marketdata/domain"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// Finnhub Finnhub 行情提供商适配器
type Finnhub struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewFinnhub 创建 Finnhub 适配器
func NewFinnhub(baseURL, apiKey string, timeout time.Duration) *Finnhub {
	if baseURL == "" {
		baseURL = finnhubBaseURL
	}
	return &Finnhub{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name 实现 domain.Provider
func (p *Finnhub) Name() string { return "finnhub" }

type finnhubQuote struct {
	Current   float64 `json:"c"`
	Timestamp int64   `json:"t"`
}

// FetchQuote 实现 domain.Provider
func (p *Finnhub) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("token", p.apiKey)

	body, err := p.get(ctx, "/quote", q)
	if err != nil {
		return nil, err
	}

	var quote finnhubQuote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, domain.NewProviderError(p.Name(), fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err))
	}

	// Finnhub 对未知代码返回全零响应
	if quote.Current == 0 && quote.Timestamp == 0 {
		return nil, domain.NewProviderError(p.Name(), domain.ErrSymbolNotFound)
	}

	return &domain.Quote{
		Symbol: symbol,
		Price:  decimal.NewFromFloat(quote.Current),
		AsOf:   time.Now(),
		Source: p.Name(),
	}, nil
}

type finnhubProfile struct {
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
	Ticker   string `json:"ticker"`
}

// FetchMetadata 实现 domain.Provider
func (p *Finnhub) FetchMetadata(ctx context.Context, symbol string) (*domain.SecurityMetadata, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("token", p.apiKey)

	body, err := p.get(ctx, "/stock/profile2", q)
	if err != nil {
		return nil, err
	}

	var profile finnhubProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, domain.NewProviderError(p.Name(), fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err))
	}

	if profile.Ticker == "" {
		return nil, domain.NewProviderError(p.Name(), domain.ErrSymbolNotFound)
	}

	return &domain.SecurityMetadata{
		Symbol:   symbol,
		Name:     profile.Name,
		Exchange: profile.Exchange,
		Currency: profile.Currency,
		Type:     "EQUITY",
		AsOf:     time.Now(),
		Source:   p.Name(),
	}, nil
}

func (p *Finnhub) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, domain.NewProviderError(p.Name(), fmt.Errorf("%w: %v", domain.ErrUnavailable, err))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, domain.NewProviderError(p.Name(), fmt.Errorf("%w: %v", domain.ErrUnavailable, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.NewProviderError(p.Name(), domain.ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.NewProviderError(p.Name(), domain.ErrSymbolNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, domain.NewProviderError(p.Name(), fmt.Errorf("%w: status %d", domain.ErrUnavailable, resp.StatusCode))
	}

	return readBody(p.Name(), resp)
}
