package domain

import (
	"context"
	"time"
)

// PortfolioRepository 组合仓储接口
type PortfolioRepository interface {
	Save(ctx context.Context, portfolio *Portfolio) error
	Get(ctx context.Context, portfolioID string) (*Portfolio, error)
	List(ctx context.Context) ([]*Portfolio, error)
}

// SecurityRepository 证券仓储接口
type SecurityRepository interface {
	Save(ctx context.Context, security *Security) error
	GetBySymbol(ctx context.Context, symbol string) (*Security, error)
}

// HoldingRepository 持仓仓储接口
type HoldingRepository interface {
	Get(ctx context.Context, holdingID string) (*Holding, error)
	GetByPortfolioSymbol(ctx context.Context, portfolioID, symbol string) (*Holding, error)
	ListByPortfolio(ctx context.Context, portfolioID string) ([]*Holding, error)
	// Update 以版本比较覆盖派生字段，版本不匹配返回 ErrPersistenceConflict
	Update(ctx context.Context, holding *Holding, expectedVersion int64) error
	// Delete 仅当交易日志为空时由应用层调用
	Delete(ctx context.Context, holdingID string) error
}

// TransactionRepository 交易日志仓储接口，只读只追加
type TransactionRepository interface {
	ListByHolding(ctx context.Context, holdingID string) ([]*Transaction, error)
	CountByHolding(ctx context.Context, holdingID string) (int64, error)
}

// LedgerRepository 账本仓储接口
// 交易插入与持仓派生字段更新必须在同一数据库事务内完成，
// 崩溃不会让派生状态与交易日志失配
type LedgerRepository interface {
	// ApplyTransaction 原子写入：分配 Seq、插入交易、按 expectedVersion
	// 条件更新持仓（新持仓则插入）；版本不匹配返回 ErrPersistenceConflict
	ApplyTransaction(ctx context.Context, holding *Holding, txn *Transaction, expectedVersion int64) error
}

// SnapshotRepository 快照仓储接口
type SnapshotRepository interface {
	// GetLatest 返回该日期最大 revision 的快照，无则返回 (nil, nil)
	GetLatest(ctx context.Context, portfolioID string, date time.Time) (*PortfolioSnapshot, error)
	// Create 插入新快照行，唯一键冲突返回 ErrPersistenceConflict
	Create(ctx context.Context, snapshot *PortfolioSnapshot) error
	ListByPortfolio(ctx context.Context, portfolioID string, from, to time.Time) ([]*PortfolioSnapshot, error)
}
