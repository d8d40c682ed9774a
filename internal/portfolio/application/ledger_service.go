// Package application 实现投资组合上下文的用例逻辑：交易入账、持仓查询、估值与快照
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/portfoliotracker/internal/portfolio/domain"
	"github.com/wyfcoding/portfoliotracker/pkg/logger"
	"github.com/wyfcoding/portfoliotracker/pkg/metrics"
)

// ApplyTransactionCommand 交易入账命令
type ApplyTransactionCommand struct {
	PortfolioID   string
	Symbol        string
	Type          domain.TransactionType
	Shares        decimal.Decimal
	PricePerShare decimal.Decimal
	Fees          decimal.Decimal
	ExecutedAt    time.Time
	Notes         string
}

// HoldingState 持仓状态 DTO
type HoldingState struct {
	HoldingID        string          `json:"holding_id"`
	PortfolioID      string          `json:"portfolio_id"`
	Symbol           string          `json:"symbol"`
	Quantity         decimal.Decimal `json:"quantity"`
	AverageCost      decimal.Decimal `json:"average_cost"`
	RealizedGain     decimal.Decimal `json:"realized_gain"`
	FeesPaid         decimal.Decimal `json:"fees_paid"`
	TransactionCount int64           `json:"transaction_count"`
}

// LedgerService 成本基础账本服务
// 同一持仓的并发提交按持仓互斥串行化，账本折叠永远不会基于
// 部分应用的前缀计算；持久化采用版本比较，冲突内部重试一次
type LedgerService struct {
	portfolios domain.PortfolioRepository
	securities domain.SecurityRepository
	holdings   domain.HoldingRepository
	txns       domain.TransactionRepository
	ledger     domain.LedgerRepository
	events     domain.EventPublisher
	metrics    *metrics.Metrics

	// 按 (portfolioID, symbol) 的持仓互斥锁，不同持仓互不阻塞
	locks sync.Map
}

// NewLedgerService 创建账本服务
func NewLedgerService(
	portfolios domain.PortfolioRepository,
	securities domain.SecurityRepository,
	holdings domain.HoldingRepository,
	txns domain.TransactionRepository,
	ledger domain.LedgerRepository,
	events domain.EventPublisher,
	m *metrics.Metrics,
) *LedgerService {
	return &LedgerService{
		portfolios: portfolios,
		securities: securities,
		holdings:   holdings,
		txns:       txns,
		ledger:     ledger,
		events:     events,
		metrics:    m,
	}
}

// ApplyTransaction 交易入账
// 目标持仓不存在时隐式创建（首笔交易创建持仓）
func (s *LedgerService) ApplyTransaction(ctx context.Context, cmd ApplyTransactionCommand) (*domain.Holding, error) {
	symbol := strings.ToUpper(strings.TrimSpace(cmd.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", domain.ErrInvalidTransaction)
	}

	portfolio, err := s.portfolios.Get(ctx, cmd.PortfolioID)
	if err != nil {
		return nil, err
	}
	if portfolio == nil {
		return nil, domain.ErrPortfolioNotFound
	}

	security, err := s.securities.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if security == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSecurityNotFound, symbol)
	}

	unlock := s.lockHolding(cmd.PortfolioID, symbol)
	defer unlock()

	var (
		holding *domain.Holding
		txn     *domain.Transaction
	)
	// 版本冲突（跨实例并发）重试一次，携带新读取的状态
	for attempt := 0; attempt < 2; attempt++ {
		holding, txn, err = s.applyOnce(ctx, cmd, symbol)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrPersistenceConflict) || attempt == 1 {
			return nil, err
		}
		s.metrics.PersistenceConflicts.Inc()
		logger.Warn(ctx, "Holding version conflict, retrying with fresh read",
			"portfolio_id", cmd.PortfolioID,
			"symbol", symbol,
		)
	}

	s.metrics.TransactionsApplied.WithLabelValues(string(cmd.Type)).Inc()

	if err := s.events.PublishTransactionApplied(domain.TransactionAppliedEvent{
		TransactionID: txn.TransactionID,
		HoldingID:     holding.HoldingID,
		PortfolioID:   holding.PortfolioID,
		Symbol:        holding.Symbol,
		Type:          cmd.Type,
		Shares:        cmd.Shares,
		PricePerShare: cmd.PricePerShare,
		Quantity:      holding.Quantity,
		AverageCost:   holding.AverageCost,
		OccurredAt:    time.Now(),
	}); err != nil {
		logger.Warn(ctx, "Failed to publish transaction event", "holding_id", holding.HoldingID, "error", err)
	}

	return holding, nil
}

func (s *LedgerService) applyOnce(ctx context.Context, cmd ApplyTransactionCommand, symbol string) (*domain.Holding, *domain.Transaction, error) {
	holding, err := s.holdings.GetByPortfolioSymbol(ctx, cmd.PortfolioID, symbol)
	if err != nil {
		return nil, nil, err
	}
	if holding == nil {
		holding = domain.NewHolding(cmd.PortfolioID, symbol)
	}
	expectedVersion := holding.Version

	journal, err := s.txns.ListByHolding(ctx, holding.HoldingID)
	if err != nil {
		return nil, nil, err
	}

	txn := domain.NewTransaction(holding.HoldingID, cmd.Type, cmd.Shares, cmd.PricePerShare, cmd.Fees, cmd.ExecutedAt, cmd.Notes)
	txn.Seq = int64(len(journal)) + 1

	// 派生状态始终等于完整日志按 (执行时间, 序号) 的折叠结果：
	// 补录的历史交易落在其时间位置，而不是叠加在当前状态之后。
	// 折叠被拒绝时交易不入账，持久状态不变
	updated := *holding
	if err := updated.Rebuild(append(journal, txn)); err != nil {
		return nil, nil, err
	}
	updated.Version = expectedVersion + 1

	if err := s.ledger.ApplyTransaction(ctx, &updated, txn, expectedVersion); err != nil {
		return nil, nil, err
	}

	return &updated, txn, nil
}

// GetHoldingState 查询持仓派生状态
func (s *LedgerService) GetHoldingState(ctx context.Context, holdingID string) (*HoldingState, error) {
	holding, err := s.holdings.Get(ctx, holdingID)
	if err != nil {
		return nil, err
	}
	if holding == nil {
		return nil, domain.ErrHoldingNotFound
	}

	count, err := s.txns.CountByHolding(ctx, holdingID)
	if err != nil {
		return nil, err
	}

	return &HoldingState{
		HoldingID:        holding.HoldingID,
		PortfolioID:      holding.PortfolioID,
		Symbol:           holding.Symbol,
		Quantity:         holding.Quantity,
		AverageCost:      holding.AverageCost,
		RealizedGain:     holding.RealizedGain,
		FeesPaid:         holding.FeesPaid,
		TransactionCount: count,
	}, nil
}

// DeleteHolding 删除持仓，仅当其交易日志为空
func (s *LedgerService) DeleteHolding(ctx context.Context, holdingID string) error {
	holding, err := s.holdings.Get(ctx, holdingID)
	if err != nil {
		return err
	}
	if holding == nil {
		return domain.ErrHoldingNotFound
	}

	unlock := s.lockHolding(holding.PortfolioID, holding.Symbol)
	defer unlock()

	count, err := s.txns.CountByHolding(ctx, holdingID)
	if err != nil {
		return err
	}
	if count > 0 {
		return domain.ErrHoldingNotEmpty
	}

	return s.holdings.Delete(ctx, holdingID)
}

// RebuildHolding 从不可变交易日志重放派生字段，用于修复损坏的派生状态
func (s *LedgerService) RebuildHolding(ctx context.Context, holdingID string) (*domain.Holding, error) {
	holding, err := s.holdings.Get(ctx, holdingID)
	if err != nil {
		return nil, err
	}
	if holding == nil {
		return nil, domain.ErrHoldingNotFound
	}

	unlock := s.lockHolding(holding.PortfolioID, holding.Symbol)
	defer unlock()

	txns, err := s.txns.ListByHolding(ctx, holdingID)
	if err != nil {
		return nil, err
	}

	expectedVersion := holding.Version
	if err := holding.Rebuild(txns); err != nil {
		return nil, err
	}
	holding.Version = expectedVersion + 1

	if err := s.holdings.Update(ctx, holding, expectedVersion); err != nil {
		return nil, err
	}

	logger.Info(ctx, "Holding rebuilt from transaction log",
		"holding_id", holdingID,
		"quantity", holding.Quantity,
		"average_cost", holding.AverageCost,
	)
	return holding, nil
}

func (s *LedgerService) lockHolding(portfolioID, symbol string) func() {
	key := portfolioID + "/" + symbol
	value, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
