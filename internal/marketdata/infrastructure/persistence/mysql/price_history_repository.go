// Package mysql 提供了市场数据仓储接口的 MySQL GORM 实现。
package mysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/portfoliotracker/internal/marketdata/domain"
)

// PriceHistoryRepository domain.PriceHistoryRepository 的 GORM 实现
type PriceHistoryRepository struct {
	db *gorm.DB
}

// NewPriceHistoryRepository 创建价格归档仓储实例
func NewPriceHistoryRepository(db *gorm.DB) *PriceHistoryRepository {
	return &PriceHistoryRepository{db: db}
}

// Upsert 实现 domain.PriceHistoryRepository
// (symbol, price_date) 唯一，冲突时覆盖价格与来源，不产生重复行
func (r *PriceHistoryRepository) Upsert(ctx context.Context, record *domain.PriceHistory) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "price_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"close_price", "source", "updated_at"}),
	}).Create(record).Error

	if err != nil {
		return fmt.Errorf("failed to upsert price history: %w", err)
	}
	return nil
}

// GetRange 实现 domain.PriceHistoryRepository
func (r *PriceHistoryRepository) GetRange(ctx context.Context, symbol string, from, to time.Time) ([]*domain.PriceHistory, error) {
	var records []*domain.PriceHistory
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND price_date >= ? AND price_date <= ?", symbol, from, to).
		Order("price_date asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get price history: %w", err)
	}
	return records, nil
}
