package domain

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Holding 持仓实体，每个 (组合, 证券) 至多一条
// Quantity/AverageCost/RealizedGain/FeesPaid 为派生状态，只能通过应用交易变更，
// 必须与交易日志可重放一致；Version 用于乐观并发控制
type Holding struct {
	gorm.Model
	HoldingID    string          `gorm:"column:holding_id;type:varchar(36);uniqueIndex;not null" json:"holding_id"`
	PortfolioID  string          `gorm:"column:portfolio_id;type:varchar(32);uniqueIndex:idx_portfolio_symbol;not null" json:"portfolio_id"`
	Symbol       string          `gorm:"column:symbol;type:varchar(20);uniqueIndex:idx_portfolio_symbol;not null" json:"symbol"`
	Quantity     decimal.Decimal `gorm:"column:quantity;type:decimal(20,6);not null;default:0" json:"quantity"`
	AverageCost  decimal.Decimal `gorm:"column:average_cost;type:decimal(20,6);not null;default:0" json:"average_cost"`
	RealizedGain decimal.Decimal `gorm:"column:realized_gain;type:decimal(20,6);not null;default:0" json:"realized_gain"`
	FeesPaid     decimal.Decimal `gorm:"column:fees_paid;type:decimal(20,6);not null;default:0" json:"fees_paid"`
	Version      int64           `gorm:"column:version;not null;default:0" json:"version"`
}

// TableName 指定表名
func (Holding) TableName() string { return "holdings" }

// NewHolding 创建空持仓
func NewHolding(portfolioID, symbol string) *Holding {
	return &Holding{
		HoldingID:    uuid.New().String(),
		PortfolioID:  portfolioID,
		Symbol:       symbol,
		Quantity:     decimal.Zero,
		AverageCost:  decimal.Zero,
		RealizedGain: decimal.Zero,
		FeesPaid:     decimal.Zero,
	}
}

// Apply 将单笔交易应用到持仓派生状态（加权平均成本法）
func (h *Holding) Apply(t *Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	switch t.Type {
	case TransactionBuy:
		h.applyBuy(t.Shares, t.PricePerShare, t.Fees)
		return nil
	case TransactionSell:
		return h.applySell(t.Shares, t.PricePerShare, t.Fees)
	default:
		return ErrInvalidTransaction
	}
}

// applyBuy 买入：重新计算加权平均成本，费用不摊入均价，单独累计
func (h *Holding) applyBuy(shares, price, fees decimal.Decimal) {
	totalCost := h.AverageCost.Mul(h.Quantity).Add(price.Mul(shares))
	newQuantity := h.Quantity.Add(shares)
	h.AverageCost = totalCost.Div(newQuantity)
	h.Quantity = newQuantity
	h.FeesPaid = h.FeesPaid.Add(fees)
}

// applySell 卖出：实现盈亏入账，均价不变；清仓时均价归零，历史盈亏保留
func (h *Holding) applySell(shares, price, fees decimal.Decimal) error {
	if shares.GreaterThan(h.Quantity) {
		return ErrInsufficientShares
	}
	h.RealizedGain = h.RealizedGain.Add(shares.Mul(price.Sub(h.AverageCost)).Sub(fees))
	h.FeesPaid = h.FeesPaid.Add(fees)
	h.Quantity = h.Quantity.Sub(shares)
	if h.Quantity.IsZero() {
		h.AverageCost = decimal.Zero
	}
	return nil
}

// IsEmpty 是否空仓
func (h *Holding) IsEmpty() bool {
	return h.Quantity.IsZero()
}

// CostBasis 当前持仓成本
func (h *Holding) CostBasis() decimal.Decimal {
	return h.AverageCost.Mul(h.Quantity)
}

// MarketValue 按给定价格计算市值
func (h *Holding) MarketValue(price decimal.Decimal) decimal.Decimal {
	return h.Quantity.Mul(price)
}

// LedgerState 账本折叠结果
type LedgerState struct {
	Quantity     decimal.Decimal
	AverageCost  decimal.Decimal
	RealizedGain decimal.Decimal
	FeesPaid     decimal.Decimal
}

// Replay 从有序交易日志重放出派生状态
// 纯内存计算，确定性：同一交易序列重放任意次结果相同，
// 派生字段损坏后可据此重建
func Replay(txns []*Transaction) (LedgerState, error) {
	ordered := make([]*Transaction, len(txns))
	copy(ordered, txns)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ExecutedAt.Equal(ordered[j].ExecutedAt) {
			return ordered[i].Seq < ordered[j].Seq
		}
		return ordered[i].ExecutedAt.Before(ordered[j].ExecutedAt)
	})

	h := NewHolding("", "")
	for _, t := range ordered {
		if err := h.Apply(t); err != nil {
			return LedgerState{}, err
		}
	}

	return LedgerState{
		Quantity:     h.Quantity,
		AverageCost:  h.AverageCost,
		RealizedGain: h.RealizedGain,
		FeesPaid:     h.FeesPaid,
	}, nil
}

// Rebuild 用重放结果覆盖派生字段
func (h *Holding) Rebuild(txns []*Transaction) error {
	state, err := Replay(txns)
	if err != nil {
		return err
	}
	h.Quantity = state.Quantity
	h.AverageCost = state.AverageCost
	h.RealizedGain = state.RealizedGain
	h.FeesPaid = state.FeesPaid
	return nil
}
