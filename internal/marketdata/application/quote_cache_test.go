package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/portfoliotracker/internal/marketdata/domain"
	"github.com/wyfcoding/portfoliotracker/pkg/metrics"
)

type memStore struct {
	mu       sync.Mutex
	quotes   map[string]*domain.Quote
	metadata map[string]*domain.SecurityMetadata
}

func newMemStore() *memStore {
	return &memStore{
		quotes:   make(map[string]*domain.Quote),
		metadata: make(map[string]*domain.SecurityMetadata),
	}
}

func (s *memStore) GetQuote(_ context.Context, symbol string) (*domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.quotes[symbol]; ok {
		copied := *q
		return &copied, nil
	}
	return nil, nil
}

func (s *memStore) PutQuote(_ context.Context, quote *domain.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *quote
	s.quotes[quote.Symbol] = &copied
	return nil
}

func (s *memStore) GetMetadata(_ context.Context, symbol string) (*domain.SecurityMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.metadata[symbol]; ok {
		copied := *m
		return &copied, nil
	}
	return nil, nil
}

func (s *memStore) PutMetadata(_ context.Context, metadata *domain.SecurityMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *metadata
	s.metadata[metadata.Symbol] = &copied
	return nil
}

type fakeProvider struct {
	name       string
	quoteCalls atomic.Int64
	metaCalls  atomic.Int64
	err        error
	price      decimal.Decimal
	delay      time.Duration
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) FetchQuote(_ context.Context, symbol string) (*domain.Quote, error) {
	p.quoteCalls.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}
	return &domain.Quote{Symbol: symbol, Price: p.price, Currency: "USD", Source: p.name}, nil
}

func (p *fakeProvider) FetchMetadata(_ context.Context, symbol string) (*domain.SecurityMetadata, error) {
	p.metaCalls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return &domain.SecurityMetadata{Symbol: symbol, Name: symbol + " Inc", Exchange: "NASDAQ", Currency: "USD", Type: "EQUITY", Source: p.name}, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records map[string]*domain.PriceHistory
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{records: make(map[string]*domain.PriceHistory)}
}

func (h *fakeHistory) Upsert(_ context.Context, record *domain.PriceHistory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[record.Symbol+"@"+record.PriceDate.Format("2006-01-02")] = record
	return nil
}

func (h *fakeHistory) GetRange(_ context.Context, _ string, _, _ time.Time) ([]*domain.PriceHistory, error) {
	return nil, nil
}

func (h *fakeHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func newTestCache(store *memStore, primary, secondary domain.Provider) *QuoteCache {
	return NewQuoteCache(store, newFakeHistory(), primary, secondary, QuoteCacheConfig{
		QuoteFreshFor:    15 * time.Minute,
		MetadataFreshFor: 30 * 24 * time.Hour,
	}, metrics.New("test"))
}

func TestGetQuoteFreshHitSkipsProvider(t *testing.T) {
	store := newMemStore()
	primary := &fakeProvider{name: "primary", price: decimal.NewFromInt(100)}
	cache := newTestCache(store, primary, nil)

	now := time.Now()
	cache.now = func() time.Time { return now }
	store.PutQuote(context.Background(), &domain.Quote{
		Symbol: "AAPL", Price: decimal.NewFromInt(99), Currency: "USD", AsOf: now.Add(-5 * time.Minute),
	})

	quote, err := cache.GetQuote(context.Background(), "aapl")
	if err != nil {
		t.Fatal(err)
	}
	if !quote.Price.Equal(decimal.NewFromInt(99)) {
		t.Errorf("price = %s, want cached 99", quote.Price)
	}
	if got := primary.quoteCalls.Load(); got != 0 {
		t.Errorf("provider calls = %d, want 0 on fresh hit", got)
	}
}

func TestGetQuoteExpiredTriggersRefresh(t *testing.T) {
	store := newMemStore()
	primary := &fakeProvider{name: "primary", price: decimal.NewFromInt(105)}
	cache := newTestCache(store, primary, nil)

	now := time.Now()
	cache.now = func() time.Time { return now }
	store.PutQuote(context.Background(), &domain.Quote{
		Symbol: "AAPL", Price: decimal.NewFromInt(99), Currency: "USD", AsOf: now.Add(-16 * time.Minute),
	})

	quote, err := cache.GetQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if !quote.Price.Equal(decimal.NewFromInt(105)) {
		t.Errorf("price = %s, want refreshed 105", quote.Price)
	}
	if quote.Stale {
		t.Error("refreshed quote must not be stale")
	}
	if got := primary.quoteCalls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}
}

func TestGetQuoteSingleFlight(t *testing.T) {
	store := newMemStore()
	primary := &fakeProvider{name: "primary", price: decimal.NewFromInt(100), delay: 50 * time.Millisecond}
	cache := newTestCache(store, primary, nil)

	const callers = 50
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.GetQuote(context.Background(), "AAPL"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	if got := primary.quoteCalls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1 for %d concurrent callers", got, callers)
	}
}

func TestGetQuoteNotCanceledByAbandoningCaller(t *testing.T) {
	store := newMemStore()
	primary := &fakeProvider{name: "primary", price: decimal.NewFromInt(100), delay: 50 * time.Millisecond}
	cache := newTestCache(store, primary, nil)

	// 发起方在途中取消，共享的拉取仍然完成并落缓存
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		cache.GetQuote(ctx, "AAPL")
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	deadline := time.After(time.Second)
	for {
		cached, _ := store.GetQuote(context.Background(), "AAPL")
		if cached != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("fetch did not complete after caller canceled")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestGetQuoteFailoverToSecondary(t *testing.T) {
	store := newMemStore()
	primary := &fakeProvider{name: "primary", err: domain.NewProviderError("primary", domain.ErrRateLimited)}
	secondary := &fakeProvider{name: "secondary", price: decimal.NewFromInt(101)}
	cache := newTestCache(store, primary, secondary)

	quote, err := cache.GetQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if quote.Source != "secondary" {
		t.Errorf("source = %s, want secondary", quote.Source)
	}
	if got := secondary.quoteCalls.Load(); got != 1 {
		t.Errorf("secondary calls = %d, want 1", got)
	}
}

func TestGetQuoteNotFoundSkipsSecondary(t *testing.T) {
	store := newMemStore()
	primary := &fakeProvider{name: "primary", err: domain.NewProviderError("primary", domain.ErrSymbolNotFound)}
	secondary := &fakeProvider{name: "secondary", price: decimal.NewFromInt(101)}
	cache := newTestCache(store, primary, secondary)

	_, err := cache.GetQuote(context.Background(), "NOPE")
	if !errors.Is(err, domain.ErrSymbolNotFound) {
		t.Fatalf("err = %v, want ErrSymbolNotFound", err)
	}
	if got := secondary.quoteCalls.Load(); got != 0 {
		t.Errorf("secondary calls = %d, want 0 for not-found", got)
	}
}

func TestGetQuoteStaleFallback(t *testing.T) {
	store := newMemStore()
	primary := &fakeProvider{name: "primary", err: domain.NewProviderError("primary", domain.ErrUnavailable)}
	cache := newTestCache(store, primary, nil)

	now := time.Now()
	cache.now = func() time.Time { return now }
	store.PutQuote(context.Background(), &domain.Quote{
		Symbol: "AAPL", Price: decimal.NewFromInt(98), Currency: "USD", AsOf: now.Add(-2 * time.Hour),
	})

	quote, err := cache.GetQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if !quote.Stale {
		t.Error("expected stale flag on fallback quote")
	}
	if !quote.Price.Equal(decimal.NewFromInt(98)) {
		t.Errorf("price = %s, want last cached 98", quote.Price)
	}
}

func TestGetQuoteUnavailableWithoutCache(t *testing.T) {
	store := newMemStore()
	primary := &fakeProvider{name: "primary", err: domain.NewProviderError("primary", domain.ErrUnavailable)}
	cache := newTestCache(store, primary, nil)

	_, err := cache.GetQuote(context.Background(), "AAPL")
	if !errors.Is(err, domain.ErrQuoteUnavailable) {
		t.Fatalf("err = %v, want ErrQuoteUnavailable", err)
	}
}

func TestGetQuoteArchivesDailyPrice(t *testing.T) {
	store := newMemStore()
	primary := &fakeProvider{name: "primary", price: decimal.NewFromInt(100)}
	history := newFakeHistory()
	cache := NewQuoteCache(store, history, primary, nil, QuoteCacheConfig{}, metrics.New("test"))

	if _, err := cache.GetQuote(context.Background(), "AAPL"); err != nil {
		t.Fatal(err)
	}
	if got := history.count(); got != 1 {
		t.Errorf("price history records = %d, want 1", got)
	}
}

func TestGetMetadataStaleFallback(t *testing.T) {
	store := newMemStore()
	primary := &fakeProvider{name: "primary", err: domain.NewProviderError("primary", domain.ErrUnavailable)}
	cache := newTestCache(store, primary, nil)

	now := time.Now()
	cache.now = func() time.Time { return now }
	store.PutMetadata(context.Background(), &domain.SecurityMetadata{
		Symbol: "AAPL", Name: "Apple Inc", Currency: "USD", AsOf: now.Add(-31 * 24 * time.Hour),
	})

	meta, err := cache.GetMetadata(context.Background(), "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if !meta.Stale {
		t.Error("expected stale flag on fallback metadata")
	}
	if meta.Name != "Apple Inc" {
		t.Errorf("name = %s, want last cached Apple Inc", meta.Name)
	}
}

func TestEmptySymbolRejectedBeforeProvider(t *testing.T) {
	store := newMemStore()
	primary := &fakeProvider{name: "primary", price: decimal.NewFromInt(100)}
	cache := newTestCache(store, primary, nil)

	for _, symbol := range []string{"", "   "} {
		if _, err := cache.GetQuote(context.Background(), symbol); !errors.Is(err, domain.ErrInvalidSymbol) {
			t.Errorf("GetQuote(%q) err = %v, want ErrInvalidSymbol", symbol, err)
		}
		if _, err := cache.GetMetadata(context.Background(), symbol); !errors.Is(err, domain.ErrInvalidSymbol) {
			t.Errorf("GetMetadata(%q) err = %v, want ErrInvalidSymbol", symbol, err)
		}
	}
	if got := primary.quoteCalls.Load() + primary.metaCalls.Load(); got != 0 {
		t.Errorf("provider calls = %d, want 0 on rejected input", got)
	}
}

func TestGetMetadataFreshWindow(t *testing.T) {
	store := newMemStore()
	primary := &fakeProvider{name: "primary", price: decimal.NewFromInt(100)}
	cache := newTestCache(store, primary, nil)

	now := time.Now()
	cache.now = func() time.Time { return now }

	// 29 天前的元数据仍然新鲜
	store.PutMetadata(context.Background(), &domain.SecurityMetadata{
		Symbol: "AAPL", Name: "Apple Inc", Currency: "USD", AsOf: now.Add(-29 * 24 * time.Hour),
	})
	meta, err := cache.GetMetadata(context.Background(), "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Name != "Apple Inc" {
		t.Errorf("name = %s, want cached Apple Inc", meta.Name)
	}
	if got := primary.metaCalls.Load(); got != 0 {
		t.Errorf("provider calls = %d, want 0 within freshness window", got)
	}

	// 31 天触发刷新
	store.PutMetadata(context.Background(), &domain.SecurityMetadata{
		Symbol: "MSFT", Name: "Old Name", Currency: "USD", AsOf: now.Add(-31 * 24 * time.Hour),
	})
	meta, err = cache.GetMetadata(context.Background(), "MSFT")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Name != "MSFT Inc" {
		t.Errorf("name = %s, want refreshed MSFT Inc", meta.Name)
	}
	if got := primary.metaCalls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1 after expiry", got)
	}
}
