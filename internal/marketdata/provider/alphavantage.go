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

const alphaVantageBaseURL = "https://www.alphavantage.co"

// AlphaVantage Alpha Vantage 行情提供商适配器
type AlphaVantage struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewAlphaVantage 创建 Alpha Vantage 适配器
func NewAlphaVantage(baseURL, apiKey string, timeout time.Duration) *AlphaVantage {
	if baseURL == "" {
		baseURL = alphaVantageBaseURL
	}
	return &AlphaVantage{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name 实现 domain.Provider
func (p *AlphaVantage) Name() string { return "alphavantage" }

type alphaVantageEnvelope struct {
	GlobalQuote struct {
		Symbol string `json:"01. symbol"`
		Price  string `json:"05. price"`
		Latest string `json:"07. latest trading day"`
	} `json:"Global Quote"`
	// 限流时 Alpha Vantage 返回 200 + Note/Information 字段
	Note        string `json:"Note"`
	Information string `json:"Information"`
	ErrMessage  string `json:"Error Message"`
}

// FetchQuote 实现 domain.Provider
func (p *AlphaVantage) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	q := url.Values{}
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	q.Set("apikey", p.apiKey)

	body, err := p.get(ctx, "/query", q)
	if err != nil {
		return nil, err
	}

	var envelope alphaVantageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, domain.NewProviderError(p.Name(), fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err))
	}

	if envelope.Note != "" || envelope.Information != "" {
		return nil, domain.NewProviderError(p.Name(), domain.ErrRateLimited)
	}
	if envelope.ErrMessage != "" || envelope.GlobalQuote.Symbol == "" {
		return nil, domain.NewProviderError(p.Name(), domain.ErrSymbolNotFound)
	}

	price, err := decimal.NewFromString(envelope.GlobalQuote.Price)
	if err != nil {
		return nil, domain.NewProviderError(p.Name(), fmt.Errorf("%w: bad price %q", domain.ErrMalformedResponse, envelope.GlobalQuote.Price))
	}

	return &domain.Quote{
		Symbol: symbol,
		Price:  price,
		AsOf:   time.Now(),
		Source: p.Name(),
	}, nil
}

type alphaVantageOverview struct {
	Symbol   string `json:"Symbol"`
	Name     string `json:"Name"`
	Exchange string `json:"Exchange"`
	Currency string `json:"Currency"`
	Type     string `json:"AssetType"`
	Note     string `json:"Note"`
}

// FetchMetadata 实现 domain.Provider
func (p *AlphaVantage) FetchMetadata(ctx context.Context, symbol string) (*domain.SecurityMetadata, error) {
	q := url.Values{}
	q.Set("function", "OVERVIEW")
	q.Set("symbol", symbol)
	q.Set("apikey", p.apiKey)

	body, err := p.get(ctx, "/query", q)
	if err != nil {
		return nil, err
	}

	var overview alphaVantageOverview
	if err := json.Unmarshal(body, &overview); err != nil {
		return nil, domain.NewProviderError(p.Name(), fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err))
	}

	if overview.Note != "" {
		return nil, domain.NewProviderError(p.Name(), domain.ErrRateLimited)
	}
	if overview.Symbol == "" {
		return nil, domain.NewProviderError(p.Name(), domain.ErrSymbolNotFound)
	}

	return &domain.SecurityMetadata{
		Symbol:   symbol,
		Name:     overview.Name,
		Exchange: overview.Exchange,
		Currency: overview.Currency,
		Type:     overview.Type,
		AsOf:     time.Now(),
		Source:   p.Name(),
	}, nil
}

func (p *AlphaVantage) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
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
