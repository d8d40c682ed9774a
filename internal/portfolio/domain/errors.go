package domain

import "errors"

// 业务规则与仓储错误定义
var (
	// ErrInsufficientShares 卖出数量超过当前持仓
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrHoldingNotEmpty 持仓仍有交易记录，不允许删除
	ErrHoldingNotEmpty = errors.New("holding has transactions")
	// ErrInvalidTransaction 交易字段非法
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrPersistenceConflict 并发写冲突（持仓版本比较失败）
	ErrPersistenceConflict = errors.New("persistence conflict")

	ErrPortfolioNotFound = errors.New("portfolio not found")
	ErrHoldingNotFound   = errors.New("holding not found")
	ErrSecurityNotFound  = errors.New("security not found")
	ErrSnapshotNotFound  = errors.New("snapshot not found")
)
