package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PortfolioSnapshot 组合每日快照，不可变
// (portfolio_id, snapshot_date, revision) 唯一；强制重建不改行，
// 以更高 revision 插入新行取代旧行，读取取最大 revision
type PortfolioSnapshot struct {
	gorm.Model
	PortfolioID    string          `gorm:"column:portfolio_id;type:varchar(32);uniqueIndex:idx_portfolio_date_rev;not null" json:"portfolio_id"`
	SnapshotDate   time.Time       `gorm:"column:snapshot_date;type:date;uniqueIndex:idx_portfolio_date_rev;not null" json:"snapshot_date"`
	Revision       int             `gorm:"column:revision;not null;default:0;uniqueIndex:idx_portfolio_date_rev" json:"revision"`
	MarketValue    decimal.Decimal `gorm:"column:market_value;type:decimal(20,4);not null" json:"market_value"`
	CostBasis      decimal.Decimal `gorm:"column:cost_basis;type:decimal(20,4);not null" json:"cost_basis"`
	UnrealizedGain decimal.Decimal `gorm:"column:unrealized_gain;type:decimal(20,4);not null" json:"unrealized_gain"`
	Currency       string          `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	// 估值时存在未定价持仓
	Partial bool `gorm:"column:partial;not null;default:false" json:"partial"`
}

// TableName 指定表名
func (PortfolioSnapshot) TableName() string { return "portfolio_snapshots" }

// NewSnapshot 由估值结果创建快照
func NewSnapshot(portfolioID string, date time.Time, revision int, marketValue, costBasis decimal.Decimal, currency string, partial bool) *PortfolioSnapshot {
	return &PortfolioSnapshot{
		PortfolioID:    portfolioID,
		SnapshotDate:   date,
		Revision:       revision,
		MarketValue:    marketValue,
		CostBasis:      costBasis,
		UnrealizedGain: marketValue.Sub(costBasis),
		Currency:       currency,
		Partial:        partial,
	}
}
