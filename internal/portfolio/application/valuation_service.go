package application

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	mddomain "github.com/wyfcoding/portfoliotracker/internal/marketdata/domain"
	"github.com/wyfcoding/portfoliotracker/internal/portfolio/domain"
	"github.com/wyfcoding/portfoliotracker/pkg/logger"
	"github.com/wyfcoding/portfoliotracker/pkg/metrics"
)

// 组合估值的并发行情拉取上限
const quoteFetchConcurrency = 8

// QuoteSource 行情来源，由 marketdata 上下文的报价缓存实现
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (*mddomain.Quote, error)
}

// HoldingValuation 单个持仓的估值结果
type HoldingValuation struct {
	HoldingID      string          `json:"holding_id"`
	Symbol         string          `json:"symbol"`
	Quantity       decimal.Decimal `json:"quantity"`
	AverageCost    decimal.Decimal `json:"average_cost"`
	Price          decimal.Decimal `json:"price"`
	MarketValue    decimal.Decimal `json:"market_value"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	UnrealizedGain decimal.Decimal `json:"unrealized_gain"`
	Priced         bool            `json:"priced"`
	Stale          bool            `json:"stale"`
}

// PortfolioValuation 组合估值结果
// Partial 为 true 表示至少一个持仓无法定价，汇总只含已定价持仓
type PortfolioValuation struct {
	PortfolioID    string             `json:"portfolio_id"`
	Currency       string             `json:"currency"`
	MarketValue    decimal.Decimal    `json:"market_value"`
	CostBasis      decimal.Decimal    `json:"cost_basis"`
	UnrealizedGain decimal.Decimal    `json:"unrealized_gain"`
	Partial        bool               `json:"partial"`
	ValuedAt       time.Time          `json:"valued_at"`
	Holdings       []HoldingValuation `json:"holdings"`
}

// ValuationService 估值引擎：组合实时估值与每日快照
type ValuationService struct {
	portfolios domain.PortfolioRepository
	holdings   domain.HoldingRepository
	snapshots  domain.SnapshotRepository
	quotes     QuoteSource
	events     domain.EventPublisher
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewValuationService 创建估值服务
func NewValuationService(
	portfolios domain.PortfolioRepository,
	holdings domain.HoldingRepository,
	snapshots domain.SnapshotRepository,
	quotes QuoteSource,
	events domain.EventPublisher,
	m *metrics.Metrics,
) *ValuationService {
	return &ValuationService{
		portfolios: portfolios,
		holdings:   holdings,
		snapshots:  snapshots,
		quotes:     quotes,
		events:     events,
		metrics:    m,
		now:        time.Now,
	}
}

// ValuePortfolio 计算组合当前估值
// 个别标的行情缺失时不整体失败，对应持仓标记未定价并置 Partial
func (s *ValuationService) ValuePortfolio(ctx context.Context, portfolioID string) (*PortfolioValuation, error) {
	start := s.now()

	portfolio, err := s.portfolios.Get(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	if portfolio == nil {
		return nil, domain.ErrPortfolioNotFound
	}

	holdings, err := s.holdings.ListByPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	quotes := make([]*mddomain.Quote, len(holdings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(quoteFetchConcurrency)
	for i, h := range holdings {
		if h.IsEmpty() {
			continue
		}
		i, h := i, h
		g.Go(func() error {
			quote, err := s.quotes.GetQuote(gctx, h.Symbol)
			if err != nil {
				// 缺行情降级为部分估值，不向上传播
				logger.Warn(gctx, "Quote unavailable during valuation",
					"portfolio_id", portfolioID,
					"symbol", h.Symbol,
					"error", err,
				)
				return nil
			}
			quotes[i] = quote
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &PortfolioValuation{
		PortfolioID: portfolioID,
		Currency:    portfolio.BaseCurrency,
		ValuedAt:    s.now(),
		Holdings:    make([]HoldingValuation, 0, len(holdings)),
	}

	for i, h := range holdings {
		hv := HoldingValuation{
			HoldingID:   h.HoldingID,
			Symbol:      h.Symbol,
			Quantity:    h.Quantity,
			AverageCost: h.AverageCost,
			CostBasis:   h.CostBasis(),
		}
		switch {
		case h.IsEmpty():
			hv.Priced = true
		case quotes[i] != nil:
			quote := quotes[i]
			hv.Priced = true
			hv.Stale = quote.Stale
			hv.Price = quote.Price
			hv.MarketValue = h.MarketValue(quote.Price)
			hv.UnrealizedGain = hv.MarketValue.Sub(hv.CostBasis)
			result.MarketValue = result.MarketValue.Add(hv.MarketValue)
			result.CostBasis = result.CostBasis.Add(hv.CostBasis)
		default:
			result.Partial = true
		}
		result.Holdings = append(result.Holdings, hv)
	}
	result.UnrealizedGain = result.MarketValue.Sub(result.CostBasis)

	s.metrics.ValuationDuration.Observe(s.now().Sub(start).Seconds())
	if result.Partial {
		s.metrics.ValuationPartial.Inc()
	}
	return result, nil
}

// GetOrCreateSnapshot 获取或创建某日的组合快照
// 同日已有快照且未强制时原样返回；force 以更高修订号新建，旧修订保留
// 返回值第二项表示本次调用是否新建了快照
func (s *ValuationService) GetOrCreateSnapshot(ctx context.Context, portfolioID string, date time.Time, force bool) (*domain.PortfolioSnapshot, bool, error) {
	day := date.UTC().Truncate(24 * time.Hour)

	existing, err := s.snapshots.GetLatest(ctx, portfolioID, day)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && !force {
		return existing, false, nil
	}

	valuation, err := s.ValuePortfolio(ctx, portfolioID)
	if err != nil {
		return nil, false, err
	}

	var snapshot *domain.PortfolioSnapshot
	// 修订号唯一键竞争时重试一次：force 调用方的估值必须落库，
	// 非 force 调用方接受并发获胜者的结果
	for attempt := 0; ; attempt++ {
		revision := 0
		if existing != nil {
			revision = existing.Revision + 1
		}

		snapshot = domain.NewSnapshot(portfolioID, day, revision, valuation.MarketValue, valuation.CostBasis, valuation.Currency, valuation.Partial)
		err = s.snapshots.Create(ctx, snapshot)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrPersistenceConflict) {
			return nil, false, err
		}

		latest, lerr := s.snapshots.GetLatest(ctx, portfolioID, day)
		if lerr != nil {
			return nil, false, lerr
		}
		if !force {
			// 并发创建者抢先落库，读回其结果即可
			if latest != nil {
				return latest, false, nil
			}
			return nil, false, err
		}
		if attempt == 1 {
			return nil, false, err
		}
		existing = latest
	}

	s.metrics.SnapshotsCreated.Inc()
	if err := s.events.PublishSnapshotCreated(domain.SnapshotCreatedEvent{
		PortfolioID:  portfolioID,
		SnapshotDate: day,
		Revision:     snapshot.Revision,
		MarketValue:  snapshot.MarketValue,
		CostBasis:    snapshot.CostBasis,
		Partial:      snapshot.Partial,
		OccurredAt:   s.now(),
	}); err != nil {
		logger.Warn(ctx, "Failed to publish snapshot event", "portfolio_id", portfolioID, "error", err)
	}

	logger.Info(ctx, "Portfolio snapshot created",
		"portfolio_id", portfolioID,
		"snapshot_date", day.Format("2006-01-02"),
		"revision", snapshot.Revision,
		"partial", snapshot.Partial,
	)
	return snapshot, true, nil
}

// ListSnapshots 查询组合的历史快照（每日最新修订）
func (s *ValuationService) ListSnapshots(ctx context.Context, portfolioID string, from, to time.Time) ([]*domain.PortfolioSnapshot, error) {
	return s.snapshots.ListByPortfolio(ctx, portfolioID, from.UTC().Truncate(24*time.Hour), to.UTC().Truncate(24*time.Hour))
}
