package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionType 交易类型
type TransactionType string

const (
	// TransactionBuy 买入
	TransactionBuy TransactionType = "BUY"
	// TransactionSell 卖出
	TransactionSell TransactionType = "SELL"
)

// Transaction 交易记录，不可变、只追加
// 按 (ExecutedAt, Seq) 排序重放，Seq 为持仓内插入序号，打破同时刻并列
type Transaction struct {
	gorm.Model
	TransactionID string          `gorm:"column:transaction_id;type:varchar(36);uniqueIndex;not null" json:"transaction_id"`
	HoldingID     string          `gorm:"column:holding_id;type:varchar(36);index;not null" json:"holding_id"`
	Type          TransactionType `gorm:"column:type;type:varchar(4);not null" json:"type"`
	Shares        decimal.Decimal `gorm:"column:shares;type:decimal(20,6);not null" json:"shares"`
	PricePerShare decimal.Decimal `gorm:"column:price_per_share;type:decimal(20,6);not null" json:"price_per_share"`
	Fees          decimal.Decimal `gorm:"column:fees;type:decimal(20,6);not null;default:0" json:"fees"`
	ExecutedAt    time.Time       `gorm:"column:executed_at;type:datetime;index;not null" json:"executed_at"`
	Seq           int64           `gorm:"column:seq;not null" json:"seq"`
	Notes         string          `gorm:"column:notes;type:text" json:"notes"`
}

// TableName 指定表名
func (Transaction) TableName() string { return "transactions" }

// NewTransaction 创建交易记录，Seq 由账本仓储在持久化时分配
func NewTransaction(holdingID string, txnType TransactionType, shares, pricePerShare, fees decimal.Decimal, executedAt time.Time, notes string) *Transaction {
	return &Transaction{
		TransactionID: uuid.New().String(),
		HoldingID:     holdingID,
		Type:          txnType,
		Shares:        shares,
		PricePerShare: pricePerShare,
		Fees:          fees,
		ExecutedAt:    executedAt,
		Notes:         notes,
	}
}

// Validate 校验交易字段
func (t *Transaction) Validate() error {
	if t.Type != TransactionBuy && t.Type != TransactionSell {
		return ErrInvalidTransaction
	}
	if !t.Shares.IsPositive() {
		return ErrInvalidTransaction
	}
	if t.PricePerShare.IsNegative() {
		return ErrInvalidTransaction
	}
	if t.Fees.IsNegative() {
		return ErrInvalidTransaction
	}
	if t.ExecutedAt.IsZero() {
		return ErrInvalidTransaction
	}
	return nil
}
