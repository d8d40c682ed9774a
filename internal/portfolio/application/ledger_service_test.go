package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/portfoliotracker/internal/portfolio/domain"
	"github.com/wyfcoding/portfoliotracker/pkg/metrics"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakePortfolioRepo struct {
	mu         sync.Mutex
	portfolios map[string]*domain.Portfolio
}

func newFakePortfolioRepo() *fakePortfolioRepo {
	return &fakePortfolioRepo{portfolios: make(map[string]*domain.Portfolio)}
}

func (r *fakePortfolioRepo) Save(_ context.Context, p *domain.Portfolio) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.portfolios[p.PortfolioID] = p
	return nil
}

func (r *fakePortfolioRepo) Get(_ context.Context, id string) (*domain.Portfolio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.portfolios[id], nil
}

func (r *fakePortfolioRepo) List(_ context.Context) ([]*domain.Portfolio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Portfolio, 0, len(r.portfolios))
	for _, p := range r.portfolios {
		out = append(out, p)
	}
	return out, nil
}

type fakeSecurityRepo struct {
	mu         sync.Mutex
	securities map[string]*domain.Security
}

func newFakeSecurityRepo() *fakeSecurityRepo {
	return &fakeSecurityRepo{securities: make(map[string]*domain.Security)}
}

func (r *fakeSecurityRepo) Save(_ context.Context, s *domain.Security) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.securities[s.Symbol] = s
	return nil
}

func (r *fakeSecurityRepo) GetBySymbol(_ context.Context, symbol string) (*domain.Security, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.securities[symbol], nil
}

// fakeLedgerStore 在内存中模拟持仓、交易日志与账本落库的版本语义
type fakeLedgerStore struct {
	mu       sync.Mutex
	nextID   uint
	holdings map[string]*domain.Holding // by holding_id
	txns     map[string][]*domain.Transaction
	// 强制接下来 N 次落库返回版本冲突
	forceConflicts int
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{
		holdings: make(map[string]*domain.Holding),
		txns:     make(map[string][]*domain.Transaction),
	}
}

func (s *fakeLedgerStore) Get(_ context.Context, holdingID string) (*domain.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.holdings[holdingID]; ok {
		copied := *h
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeLedgerStore) GetByPortfolioSymbol(_ context.Context, portfolioID, symbol string) (*domain.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.holdings {
		if h.PortfolioID == portfolioID && h.Symbol == symbol {
			copied := *h
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeLedgerStore) ListByPortfolio(_ context.Context, portfolioID string) ([]*domain.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Holding
	for _, h := range s.holdings {
		if h.PortfolioID == portfolioID {
			copied := *h
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeLedgerStore) Update(_ context.Context, holding *domain.Holding, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.holdings[holding.HoldingID]
	if !ok || current.Version != expectedVersion {
		return domain.ErrPersistenceConflict
	}
	copied := *holding
	s.holdings[holding.HoldingID] = &copied
	return nil
}

func (s *fakeLedgerStore) Delete(_ context.Context, holdingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holdings, holdingID)
	return nil
}

func (s *fakeLedgerStore) ListByHolding(_ context.Context, holdingID string) ([]*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Transaction(nil), s.txns[holdingID]...), nil
}

func (s *fakeLedgerStore) CountByHolding(_ context.Context, holdingID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.txns[holdingID])), nil
}

func (s *fakeLedgerStore) ApplyTransaction(_ context.Context, holding *domain.Holding, txn *domain.Transaction, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.forceConflicts > 0 {
		s.forceConflicts--
		return domain.ErrPersistenceConflict
	}

	current, exists := s.holdings[holding.HoldingID]
	if holding.ID == 0 {
		if exists {
			return domain.ErrPersistenceConflict
		}
		s.nextID++
		holding.ID = s.nextID
	} else {
		if !exists || current.Version != expectedVersion {
			return domain.ErrPersistenceConflict
		}
	}

	txn.Seq = int64(len(s.txns[holding.HoldingID])) + 1
	s.txns[holding.HoldingID] = append(s.txns[holding.HoldingID], txn)
	copied := *holding
	s.holdings[holding.HoldingID] = &copied
	return nil
}

type countingPublisher struct {
	mu        sync.Mutex
	txnEvents []domain.TransactionAppliedEvent
	snapshots []domain.SnapshotCreatedEvent
}

func (p *countingPublisher) PublishTransactionApplied(e domain.TransactionAppliedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txnEvents = append(p.txnEvents, e)
	return nil
}

func (p *countingPublisher) PublishSnapshotCreated(e domain.SnapshotCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, e)
	return nil
}

type ledgerFixture struct {
	service    *LedgerService
	portfolios *fakePortfolioRepo
	securities *fakeSecurityRepo
	store      *fakeLedgerStore
	publisher  *countingPublisher
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	portfolios := newFakePortfolioRepo()
	securities := newFakeSecurityRepo()
	store := newFakeLedgerStore()
	publisher := &countingPublisher{}

	portfolios.Save(context.Background(), &domain.Portfolio{PortfolioID: "PF1", OwnerID: "u1", Name: "Main", BaseCurrency: "USD"})
	securities.Save(context.Background(), &domain.Security{Symbol: "AAPL", Name: "Apple Inc", Currency: "USD"})

	return &ledgerFixture{
		service:    NewLedgerService(portfolios, securities, store, store, store, publisher, metrics.New("test")),
		portfolios: portfolios,
		securities: securities,
		store:      store,
		publisher:  publisher,
	}
}

func buyCmd(shares, price, fees string) ApplyTransactionCommand {
	return ApplyTransactionCommand{
		PortfolioID:   "PF1",
		Symbol:        "AAPL",
		Type:          domain.TransactionBuy,
		Shares:        dec(shares),
		PricePerShare: dec(price),
		Fees:          dec(fees),
		ExecutedAt:    time.Now(),
	}
}

func sellCmd(shares, price, fees string) ApplyTransactionCommand {
	cmd := buyCmd(shares, price, fees)
	cmd.Type = domain.TransactionSell
	return cmd
}

func TestApplyTransactionCreatesHolding(t *testing.T) {
	f := newLedgerFixture(t)

	holding, err := f.service.ApplyTransaction(context.Background(), buyCmd("10", "150", "1"))
	if err != nil {
		t.Fatal(err)
	}
	if holding.HoldingID == "" {
		t.Error("expected holding id assigned")
	}
	if !holding.Quantity.Equal(dec("10")) || !holding.AverageCost.Equal(dec("150")) {
		t.Errorf("holding = qty %s avg %s, want 10 / 150", holding.Quantity, holding.AverageCost)
	}
	if len(f.publisher.txnEvents) != 1 {
		t.Errorf("events = %d, want 1", len(f.publisher.txnEvents))
	}
}

func TestApplyTransactionUnknownSecurity(t *testing.T) {
	f := newLedgerFixture(t)

	cmd := buyCmd("10", "150", "0")
	cmd.Symbol = "ZZZZ"
	_, err := f.service.ApplyTransaction(context.Background(), cmd)
	if !errors.Is(err, domain.ErrSecurityNotFound) {
		t.Fatalf("err = %v, want ErrSecurityNotFound", err)
	}
}

func TestApplyTransactionUnknownPortfolio(t *testing.T) {
	f := newLedgerFixture(t)

	cmd := buyCmd("10", "150", "0")
	cmd.PortfolioID = "PF404"
	_, err := f.service.ApplyTransaction(context.Background(), cmd)
	if !errors.Is(err, domain.ErrPortfolioNotFound) {
		t.Fatalf("err = %v, want ErrPortfolioNotFound", err)
	}
}

func TestApplyTransactionOversellLeavesLogUntouched(t *testing.T) {
	f := newLedgerFixture(t)

	if _, err := f.service.ApplyTransaction(context.Background(), buyCmd("10", "100", "0")); err != nil {
		t.Fatal(err)
	}
	holding, _ := f.store.GetByPortfolioSymbol(context.Background(), "PF1", "AAPL")

	_, err := f.service.ApplyTransaction(context.Background(), sellCmd("11", "100", "0"))
	if !errors.Is(err, domain.ErrInsufficientShares) {
		t.Fatalf("err = %v, want ErrInsufficientShares", err)
	}

	count, _ := f.store.CountByHolding(context.Background(), holding.HoldingID)
	if count != 1 {
		t.Errorf("transaction count = %d, want 1 (rejected sell must not be journaled)", count)
	}
	after, _ := f.store.GetByPortfolioSymbol(context.Background(), "PF1", "AAPL")
	if !after.Quantity.Equal(dec("10")) {
		t.Errorf("quantity = %s, want unchanged 10", after.Quantity)
	}
}

func TestApplyTransactionRetriesOnConflict(t *testing.T) {
	f := newLedgerFixture(t)
	if _, err := f.service.ApplyTransaction(context.Background(), buyCmd("10", "100", "0")); err != nil {
		t.Fatal(err)
	}

	f.store.mu.Lock()
	f.store.forceConflicts = 1
	f.store.mu.Unlock()

	holding, err := f.service.ApplyTransaction(context.Background(), buyCmd("5", "110", "0"))
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if !holding.Quantity.Equal(dec("15")) {
		t.Errorf("quantity = %s, want 15", holding.Quantity)
	}
}

func TestApplyTransactionGivesUpAfterSecondConflict(t *testing.T) {
	f := newLedgerFixture(t)
	if _, err := f.service.ApplyTransaction(context.Background(), buyCmd("10", "100", "0")); err != nil {
		t.Fatal(err)
	}

	f.store.mu.Lock()
	f.store.forceConflicts = 2
	f.store.mu.Unlock()

	_, err := f.service.ApplyTransaction(context.Background(), buyCmd("5", "110", "0"))
	if !errors.Is(err, domain.ErrPersistenceConflict) {
		t.Fatalf("err = %v, want ErrPersistenceConflict after exhausted retry", err)
	}
}

func TestApplyTransactionConcurrentSellsSerialized(t *testing.T) {
	f := newLedgerFixture(t)
	if _, err := f.service.ApplyTransaction(context.Background(), buyCmd("10", "100", "0")); err != nil {
		t.Fatal(err)
	}

	// 两笔各 6 股的并发卖出：恰好一笔成功，一笔超卖被拒
	const sellers = 2
	results := make(chan error, sellers)
	var wg sync.WaitGroup
	for i := 0; i < sellers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.ApplyTransaction(context.Background(), sellCmd("6", "120", "0"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientShares):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Errorf("succeeded=%d rejected=%d, want 1/1", succeeded, rejected)
	}

	holding, _ := f.store.GetByPortfolioSymbol(context.Background(), "PF1", "AAPL")
	if !holding.Quantity.Equal(dec("4")) {
		t.Errorf("quantity = %s, want 4", holding.Quantity)
	}
}

func TestDeleteHoldingRequiresEmptyLog(t *testing.T) {
	f := newLedgerFixture(t)
	holding, err := f.service.ApplyTransaction(context.Background(), buyCmd("10", "100", "0"))
	if err != nil {
		t.Fatal(err)
	}

	err = f.service.DeleteHolding(context.Background(), holding.HoldingID)
	if !errors.Is(err, domain.ErrHoldingNotEmpty) {
		t.Fatalf("err = %v, want ErrHoldingNotEmpty", err)
	}

	// 没有交易日志的持仓可以删除
	empty := domain.NewHolding("PF1", "MSFT")
	f.store.mu.Lock()
	f.store.nextID++
	empty.ID = f.store.nextID
	f.store.holdings[empty.HoldingID] = empty
	f.store.mu.Unlock()

	if err := f.service.DeleteHolding(context.Background(), empty.HoldingID); err != nil {
		t.Fatalf("delete empty holding: %v", err)
	}
}

func TestGetHoldingState(t *testing.T) {
	f := newLedgerFixture(t)
	holding, err := f.service.ApplyTransaction(context.Background(), buyCmd("10", "100", "2"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.ApplyTransaction(context.Background(), sellCmd("4", "110", "1")); err != nil {
		t.Fatal(err)
	}

	state, err := f.service.GetHoldingState(context.Background(), holding.HoldingID)
	if err != nil {
		t.Fatal(err)
	}
	if state.TransactionCount != 2 {
		t.Errorf("transaction count = %d, want 2", state.TransactionCount)
	}
	// 4 * (110 - 100) - 1 = 39
	if !state.RealizedGain.Equal(dec("39")) {
		t.Errorf("realized gain = %s, want 39", state.RealizedGain)
	}
}

func TestRebuildHoldingRestoresDerivedState(t *testing.T) {
	f := newLedgerFixture(t)
	holding, err := f.service.ApplyTransaction(context.Background(), buyCmd("10", "100", "0"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.service.ApplyTransaction(context.Background(), sellCmd("4", "110", "0")); err != nil {
		t.Fatal(err)
	}

	// 人为破坏派生字段
	f.store.mu.Lock()
	f.store.holdings[holding.HoldingID].Quantity = dec("999")
	f.store.mu.Unlock()

	rebuilt, err := f.service.RebuildHolding(context.Background(), holding.HoldingID)
	if err != nil {
		t.Fatal(err)
	}
	if !rebuilt.Quantity.Equal(dec("6")) {
		t.Errorf("quantity = %s, want 6 after rebuild", rebuilt.Quantity)
	}
}

func TestApplyTransactionBackdatedSellCannotOversell(t *testing.T) {
	f := newLedgerFixture(t)
	now := time.Now()

	cmd := buyCmd("10", "100", "0")
	cmd.ExecutedAt = now
	if _, err := f.service.ApplyTransaction(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}

	// 补录一笔早于买入的卖出：按日志顺序折叠时它发生在持仓为空时，必须被拒
	backdated := sellCmd("10", "120", "0")
	backdated.ExecutedAt = now.Add(-time.Hour)
	_, err := f.service.ApplyTransaction(context.Background(), backdated)
	if !errors.Is(err, domain.ErrInsufficientShares) {
		t.Fatalf("err = %v, want ErrInsufficientShares for backdated oversell", err)
	}

	// 日志未被污染，重放仍然成立
	holding, _ := f.store.GetByPortfolioSymbol(context.Background(), "PF1", "AAPL")
	count, _ := f.store.CountByHolding(context.Background(), holding.HoldingID)
	if count != 1 {
		t.Errorf("transaction count = %d, want 1", count)
	}
	if _, err := f.service.RebuildHolding(context.Background(), holding.HoldingID); err != nil {
		t.Errorf("rebuild after rejected backdated sell: %v", err)
	}
}

func TestApplyTransactionBackdatedBuyFoldsInLogOrder(t *testing.T) {
	f := newLedgerFixture(t)
	t0 := time.Now().Add(-3 * time.Hour)

	first := buyCmd("10", "100", "0")
	first.ExecutedAt = t0
	if _, err := f.service.ApplyTransaction(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	second := sellCmd("5", "120", "0")
	second.ExecutedAt = t0.Add(2 * time.Hour)
	if _, err := f.service.ApplyTransaction(context.Background(), second); err != nil {
		t.Fatal(err)
	}

	// 补录一笔落在两者之间的买入：均价和已实现盈亏按时间顺序重新折叠
	backdated := buyCmd("10", "80", "0")
	backdated.ExecutedAt = t0.Add(time.Hour)
	holding, err := f.service.ApplyTransaction(context.Background(), backdated)
	if err != nil {
		t.Fatal(err)
	}

	// 时间序折叠：买 10@100，买 10@80（均价 90），卖 5@120（盈 150）
	if !holding.Quantity.Equal(dec("15")) {
		t.Errorf("quantity = %s, want 15", holding.Quantity)
	}
	if !holding.AverageCost.Equal(dec("90")) {
		t.Errorf("average cost = %s, want 90", holding.AverageCost)
	}
	if !holding.RealizedGain.Equal(dec("150")) {
		t.Errorf("realized gain = %s, want 150", holding.RealizedGain)
	}

	// 派生状态与日志重放一致
	rebuilt, err := f.service.RebuildHolding(context.Background(), holding.HoldingID)
	if err != nil {
		t.Fatal(err)
	}
	if !rebuilt.Quantity.Equal(holding.Quantity) ||
		!rebuilt.AverageCost.Equal(holding.AverageCost) ||
		!rebuilt.RealizedGain.Equal(holding.RealizedGain) {
		t.Errorf("rebuild diverged: %+v vs applied %+v", rebuilt, holding)
	}
}

func TestApplyTransactionSequencePerHolding(t *testing.T) {
	f := newLedgerFixture(t)
	for i := 0; i < 3; i++ {
		if _, err := f.service.ApplyTransaction(context.Background(), buyCmd("1", fmt.Sprintf("%d", 100+i), "0")); err != nil {
			t.Fatal(err)
		}
	}

	holding, _ := f.store.GetByPortfolioSymbol(context.Background(), "PF1", "AAPL")
	txns, _ := f.store.ListByHolding(context.Background(), holding.HoldingID)
	for i, txn := range txns {
		if txn.Seq != int64(i+1) {
			t.Errorf("txn %d seq = %d, want %d", i, txn.Seq, i+1)
		}
	}
}
