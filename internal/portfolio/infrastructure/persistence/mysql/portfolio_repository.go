// Package mysql 投资组合上下文的 MySQL 持久化实现
package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/wyfcoding/portfoliotracker/internal/portfolio/domain"
)

// PortfolioRepository 组合仓储 MySQL 实现
type PortfolioRepository struct {
	db *gorm.DB
}

// NewPortfolioRepository 创建组合仓储
func NewPortfolioRepository(db *gorm.DB) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

// Save 保存组合
func (r *PortfolioRepository) Save(ctx context.Context, portfolio *domain.Portfolio) error {
	return r.db.WithContext(ctx).Save(portfolio).Error
}

// Get 按业务ID查询组合，不存在返回 (nil, nil)
func (r *PortfolioRepository) Get(ctx context.Context, portfolioID string) (*domain.Portfolio, error) {
	var portfolio domain.Portfolio
	err := r.db.WithContext(ctx).Where("portfolio_id = ?", portfolioID).First(&portfolio).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &portfolio, nil
}

// List 查询全部组合
func (r *PortfolioRepository) List(ctx context.Context) ([]*domain.Portfolio, error) {
	var portfolios []*domain.Portfolio
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&portfolios).Error; err != nil {
		return nil, err
	}
	return portfolios, nil
}

// SecurityRepository 证券仓储 MySQL 实现
type SecurityRepository struct {
	db *gorm.DB
}

// NewSecurityRepository 创建证券仓储
func NewSecurityRepository(db *gorm.DB) *SecurityRepository {
	return &SecurityRepository{db: db}
}

// Save 保存证券，symbol 冲突时覆盖元数据
func (r *SecurityRepository) Save(ctx context.Context, security *domain.Security) error {
	var existing domain.Security
	err := r.db.WithContext(ctx).Where("symbol = ?", security.Symbol).First(&existing).Error
	if err == nil {
		security.ID = existing.ID
		security.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return r.db.WithContext(ctx).Save(security).Error
}

// GetBySymbol 按代码查询证券，不存在返回 (nil, nil)
func (r *SecurityRepository) GetBySymbol(ctx context.Context, symbol string) (*domain.Security, error) {
	var security domain.Security
	err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&security).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &security, nil
}
