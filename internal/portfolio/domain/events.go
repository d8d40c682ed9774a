package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionAppliedEvent 交易入账事件
type TransactionAppliedEvent struct {
	TransactionID string          `json:"transaction_id"`
	HoldingID     string          `json:"holding_id"`
	PortfolioID   string          `json:"portfolio_id"`
	Symbol        string          `json:"symbol"`
	Type          TransactionType `json:"type"`
	Shares        decimal.Decimal `json:"shares"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
	Quantity      decimal.Decimal `json:"quantity"`
	AverageCost   decimal.Decimal `json:"average_cost"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// SnapshotCreatedEvent 快照生成事件
type SnapshotCreatedEvent struct {
	PortfolioID  string          `json:"portfolio_id"`
	SnapshotDate time.Time       `json:"snapshot_date"`
	Revision     int             `json:"revision"`
	MarketValue  decimal.Decimal `json:"market_value"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	Partial      bool            `json:"partial"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// EventPublisher 领域事件发布接口
type EventPublisher interface {
	PublishTransactionApplied(event TransactionAppliedEvent) error
	PublishSnapshotCreated(event SnapshotCreatedEvent) error
}
