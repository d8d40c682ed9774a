package application

import (
	"context"
	"fmt"
	"time"

	"github.com/wyfcoding/portfoliotracker/internal/portfolio/domain"
	"github.com/wyfcoding/portfoliotracker/pkg/logger"
)

// SnapshotScheduler 每日在配置的时刻为全部组合生成快照
// 重复触发是安全的：当日已有快照时原样返回，不重复落库
type SnapshotScheduler struct {
	portfolios domain.PortfolioRepository
	valuation  *ValuationService
	at         string // "HH:MM"，本地时区

	now func() time.Time
}

// NewSnapshotScheduler 创建快照调度器
func NewSnapshotScheduler(portfolios domain.PortfolioRepository, valuation *ValuationService, at string) *SnapshotScheduler {
	return &SnapshotScheduler{
		portfolios: portfolios,
		valuation:  valuation,
		at:         at,
		now:        time.Now,
	}
}

// Run 阻塞运行直到 ctx 取消
func (s *SnapshotScheduler) Run(ctx context.Context) error {
	at, err := time.Parse("15:04", s.at)
	if err != nil {
		return fmt.Errorf("invalid snapshot time %q: %w", s.at, err)
	}

	logger.Info(ctx, "Snapshot scheduler started", "at", s.at)
	for {
		now := s.now()
		timer := time.NewTimer(nextRunAfter(now, at.Hour(), at.Minute()).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info(ctx, "Snapshot scheduler stopped")
			return nil
		case <-timer.C:
			s.snapshotAll(ctx)
		}
	}
}

func (s *SnapshotScheduler) snapshotAll(ctx context.Context) {
	portfolios, err := s.portfolios.List(ctx)
	if err != nil {
		logger.Error(ctx, "Failed to list portfolios for snapshot run", "error", err)
		return
	}

	today := s.now()
	created := 0
	for _, p := range portfolios {
		if ctx.Err() != nil {
			return
		}
		if _, ok, err := s.valuation.GetOrCreateSnapshot(ctx, p.PortfolioID, today, false); err != nil {
			logger.Error(ctx, "Snapshot run failed for portfolio", "portfolio_id", p.PortfolioID, "error", err)
		} else if ok {
			created++
		}
	}
	logger.Info(ctx, "Snapshot run completed", "portfolios", len(portfolios), "created", created)
}

// nextRunAfter 返回 now 之后最近一次 hh:mm 的时间点
func nextRunAfter(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
