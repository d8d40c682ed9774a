// Package domain 包含投资组合上下文的领域模型：组合、证券、持仓、交易、快照与成本基础账本
package domain

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Portfolio 投资组合聚合根
type Portfolio struct {
	gorm.Model
	PortfolioID  string `gorm:"column:portfolio_id;type:varchar(32);uniqueIndex;not null" json:"portfolio_id"`
	OwnerID      string `gorm:"column:owner_id;type:varchar(32);index;not null" json:"owner_id"`
	Name         string `gorm:"column:name;type:varchar(128);not null" json:"name"`
	Description  string `gorm:"column:description;type:text" json:"description"`
	BaseCurrency string `gorm:"column:base_currency;type:varchar(3);not null;default:'USD'" json:"base_currency"`
}

// Security 证券实体，symbol 为不可变标识，元数据可由缓存层刷新
type Security struct {
	gorm.Model
	Symbol   string `gorm:"column:symbol;type:varchar(20);uniqueIndex;not null" json:"symbol"`
	Name     string `gorm:"column:name;type:varchar(128);not null" json:"name"`
	Exchange string `gorm:"column:exchange;type:varchar(32)" json:"exchange"`
	Currency string `gorm:"column:currency;type:varchar(3);not null;default:'USD'" json:"currency"`
	Type     string `gorm:"column:type;type:varchar(20);not null;default:'EQUITY'" json:"type"`
}

func (Portfolio) TableName() string { return "portfolios" }
func (Security) TableName() string  { return "securities" }

// NewPortfolio 创建新组合
func NewPortfolio(ownerID, name, baseCurrency string) *Portfolio {
	if baseCurrency == "" {
		baseCurrency = "USD"
	}
	return &Portfolio{
		PortfolioID:  generatePortfolioID(),
		OwnerID:      ownerID,
		Name:         name,
		BaseCurrency: baseCurrency,
	}
}

// generatePortfolioID 生成组合ID
func generatePortfolioID() string {
	return fmt.Sprintf("PF%d", time.Now().UnixNano())
}
