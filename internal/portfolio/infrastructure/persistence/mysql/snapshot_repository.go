package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/wyfcoding/portfoliotracker/internal/portfolio/domain"
)

// SnapshotRepository 快照仓储 MySQL 实现
type SnapshotRepository struct {
	db *gorm.DB
}

// NewSnapshotRepository 创建快照仓储
func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// GetLatest 返回某日最大修订号的快照，无则返回 (nil, nil)
func (r *SnapshotRepository) GetLatest(ctx context.Context, portfolioID string, date time.Time) (*domain.PortfolioSnapshot, error) {
	var snapshot domain.PortfolioSnapshot
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ? AND snapshot_date = ?", portfolioID, date).
		Order("revision DESC").
		First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Create 插入快照行，(组合, 日期, 修订号) 唯一
func (r *SnapshotRepository) Create(ctx context.Context, snapshot *domain.PortfolioSnapshot) error {
	if err := r.db.WithContext(ctx).Create(snapshot).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("snapshot %s@%s rev %d: %w",
				snapshot.PortfolioID, snapshot.SnapshotDate.Format("2006-01-02"), snapshot.Revision, domain.ErrPersistenceConflict)
		}
		return err
	}
	return nil
}

// ListByPortfolio 查询日期区间内每日最新修订的快照
func (r *SnapshotRepository) ListByPortfolio(ctx context.Context, portfolioID string, from, to time.Time) ([]*domain.PortfolioSnapshot, error) {
	var snapshots []*domain.PortfolioSnapshot
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ? AND snapshot_date BETWEEN ? AND ?", portfolioID, from, to).
		Where("(portfolio_id, snapshot_date, revision) IN (?)",
			r.db.Model(&domain.PortfolioSnapshot{}).
				Select("portfolio_id, snapshot_date, MAX(revision)").
				Where("portfolio_id = ?", portfolioID).
				Group("portfolio_id, snapshot_date"),
		).
		Order("snapshot_date ASC").
		Find(&snapshots).Error
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}
