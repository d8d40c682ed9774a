package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/wyfcoding/portfoliotracker/internal/portfolio/domain"
)

// HoldingRepository 持仓仓储 MySQL 实现
type HoldingRepository struct {
	db *gorm.DB
}

// NewHoldingRepository 创建持仓仓储
func NewHoldingRepository(db *gorm.DB) *HoldingRepository {
	return &HoldingRepository{db: db}
}

// Get 按业务ID查询持仓，不存在返回 (nil, nil)
func (r *HoldingRepository) Get(ctx context.Context, holdingID string) (*domain.Holding, error) {
	var holding domain.Holding
	err := r.db.WithContext(ctx).Where("holding_id = ?", holdingID).First(&holding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &holding, nil
}

// GetByPortfolioSymbol 按组合与代码查询持仓，不存在返回 (nil, nil)
func (r *HoldingRepository) GetByPortfolioSymbol(ctx context.Context, portfolioID, symbol string) (*domain.Holding, error) {
	var holding domain.Holding
	err := r.db.WithContext(ctx).Where("portfolio_id = ? AND symbol = ?", portfolioID, symbol).First(&holding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &holding, nil
}

// ListByPortfolio 查询组合下全部持仓
func (r *HoldingRepository) ListByPortfolio(ctx context.Context, portfolioID string) ([]*domain.Holding, error) {
	var holdings []*domain.Holding
	if err := r.db.WithContext(ctx).Where("portfolio_id = ?", portfolioID).Order("symbol ASC").Find(&holdings).Error; err != nil {
		return nil, err
	}
	return holdings, nil
}

// Update 版本比较覆盖派生字段
func (r *HoldingRepository) Update(ctx context.Context, holding *domain.Holding, expectedVersion int64) error {
	result := r.db.WithContext(ctx).Model(&domain.Holding{}).
		Where("holding_id = ? AND version = ?", holding.HoldingID, expectedVersion).
		Updates(derivedFields(holding))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("holding %s at version %d: %w", holding.HoldingID, expectedVersion, domain.ErrPersistenceConflict)
	}
	return nil
}

// Delete 删除持仓行
func (r *HoldingRepository) Delete(ctx context.Context, holdingID string) error {
	return r.db.WithContext(ctx).Where("holding_id = ?", holdingID).Delete(&domain.Holding{}).Error
}

// TransactionRepository 交易日志仓储 MySQL 实现
type TransactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository 创建交易日志仓储
func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// ListByHolding 按执行时间与序号返回持仓的全部交易
func (r *TransactionRepository) ListByHolding(ctx context.Context, holdingID string) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	if err := r.db.WithContext(ctx).
		Where("holding_id = ?", holdingID).
		Order("executed_at ASC, seq ASC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// CountByHolding 统计持仓的交易笔数
func (r *TransactionRepository) CountByHolding(ctx context.Context, holdingID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Transaction{}).Where("holding_id = ?", holdingID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// LedgerRepository 账本落库实现
// 交易插入与持仓派生字段更新在同一数据库事务内提交
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository 创建账本仓储
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ApplyTransaction 原子落库：分配序号、写交易日志、版本比较更新持仓
// 版本不匹配或唯一键冲突返回 ErrPersistenceConflict，整个事务回滚
func (r *LedgerRepository) ApplyTransaction(ctx context.Context, holding *domain.Holding, txn *domain.Transaction, expectedVersion int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&domain.Transaction{}).
			Where("holding_id = ?", holding.HoldingID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("assign transaction seq: %w", err)
		}
		txn.Seq = maxSeq + 1
		txn.HoldingID = holding.HoldingID

		if holding.ID == 0 {
			// 首笔交易隐式创建持仓；另一实例抢先创建时按版本冲突处理
			if err := tx.Create(holding).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("holding %s/%s concurrently created: %w", holding.PortfolioID, holding.Symbol, domain.ErrPersistenceConflict)
				}
				return err
			}
		} else {
			result := tx.Model(&domain.Holding{}).
				Where("holding_id = ? AND version = ?", holding.HoldingID, expectedVersion).
				Updates(derivedFields(holding))
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("holding %s at version %d: %w", holding.HoldingID, expectedVersion, domain.ErrPersistenceConflict)
			}
		}

		return tx.Create(txn).Error
	})
}

func derivedFields(holding *domain.Holding) map[string]interface{} {
	return map[string]interface{}{
		"quantity":      holding.Quantity,
		"average_cost":  holding.AverageCost,
		"realized_gain": holding.RealizedGain,
		"fees_paid":     holding.FeesPaid,
		"version":       holding.Version,
		"updated_at":    time.Now(),
	}
}
