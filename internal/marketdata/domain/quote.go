// Package domain 包含市场数据上下文的领域模型、提供商契约与仓储接口
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Quote 行情快照值对象
// 代表某个证券在某个时刻的价格，不作为系统记录持久化，仅带 TTL 缓存
type Quote struct {
	// 证券代码（大写）
	Symbol string `json:"symbol"`
	// 价格
	Price decimal.Decimal `json:"price"`
	// 计价货币
	Currency string `json:"currency"`
	// 行情时刻
	AsOf time.Time `json:"as_of"`
	// 数据来源（提供商名称）
	Source string `json:"source"`
	// 是否超出新鲜度窗口（提供商不可用时的兜底返回）
	Stale bool `json:"stale"`
}

// Age 返回行情距现在的时长
func (q *Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.AsOf)
}

// SecurityMetadata 证券元数据值对象
// 变化缓慢，缓存窗口远长于行情
type SecurityMetadata struct {
	Symbol   string    `json:"symbol"`
	Name     string    `json:"name"`
	Exchange string    `json:"exchange"`
	Currency string    `json:"currency"`
	Type     string    `json:"type"`
	AsOf     time.Time `json:"as_of"`
	Source   string    `json:"source"`
	Stale    bool      `json:"stale"`
}

// Age 返回元数据距现在的时长
func (m *SecurityMetadata) Age(now time.Time) time.Duration {
	return now.Sub(m.AsOf)
}

// PriceHistory 日度价格归档记录
// 每个证券每个日历日唯一，由缓存层在成功取价时幂等写入
type PriceHistory struct {
	gorm.Model
	Symbol     string          `gorm:"column:symbol;type:varchar(20);uniqueIndex:idx_symbol_date;not null" json:"symbol"`
	PriceDate  time.Time       `gorm:"column:price_date;type:date;uniqueIndex:idx_symbol_date;not null" json:"price_date"`
	ClosePrice decimal.Decimal `gorm:"column:close_price;type:decimal(20,6);not null" json:"close_price"`
	Source     string          `gorm:"column:source;type:varchar(32);not null" json:"source"`
}

// TableName 指定表名
func (PriceHistory) TableName() string { return "price_history" }
