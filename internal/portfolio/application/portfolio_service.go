package application

import (
	"context"
	"strings"

	mddomain "github.com/wyfcoding/portfoliotracker/internal/marketdata/domain"
	"github.com/wyfcoding/portfoliotracker/internal/portfolio/domain"
	"github.com/wyfcoding/portfoliotracker/pkg/logger"
)

// MetadataSource 证券元数据来源，由 marketdata 上下文的报价缓存实现
type MetadataSource interface {
	GetMetadata(ctx context.Context, symbol string) (*mddomain.SecurityMetadata, error)
}

// PortfolioService 投资组合管理服务
type PortfolioService struct {
	portfolios domain.PortfolioRepository
	securities domain.SecurityRepository
	metadata   MetadataSource
}

// NewPortfolioService 创建组合管理服务
func NewPortfolioService(portfolios domain.PortfolioRepository, securities domain.SecurityRepository, metadata MetadataSource) *PortfolioService {
	return &PortfolioService{
		portfolios: portfolios,
		securities: securities,
		metadata:   metadata,
	}
}

// CreatePortfolio 创建投资组合
func (s *PortfolioService) CreatePortfolio(ctx context.Context, ownerID, name, description, baseCurrency string) (*domain.Portfolio, error) {
	portfolio := domain.NewPortfolio(ownerID, name, baseCurrency)
	portfolio.Description = description
	if err := s.portfolios.Save(ctx, portfolio); err != nil {
		return nil, err
	}
	logger.Info(ctx, "Portfolio created", "portfolio_id", portfolio.PortfolioID, "owner_id", ownerID)
	return portfolio, nil
}

// GetPortfolio 查询组合
func (s *PortfolioService) GetPortfolio(ctx context.Context, portfolioID string) (*domain.Portfolio, error) {
	portfolio, err := s.portfolios.Get(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	if portfolio == nil {
		return nil, domain.ErrPortfolioNotFound
	}
	return portfolio, nil
}

// ListPortfolios 查询全部组合
func (s *PortfolioService) ListPortfolios(ctx context.Context) ([]*domain.Portfolio, error) {
	return s.portfolios.List(ctx)
}

// RegisterSecurity 登记证券，元数据从行情提供方拉取
// 重复登记以最新元数据覆盖，幂等
func (s *PortfolioService) RegisterSecurity(ctx context.Context, symbol string) (*domain.Security, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	meta, err := s.metadata.GetMetadata(ctx, symbol)
	if err != nil {
		return nil, err
	}

	security := &domain.Security{
		Symbol:   symbol,
		Name:     meta.Name,
		Exchange: meta.Exchange,
		Currency: meta.Currency,
		Type:     meta.Type,
	}
	if err := s.securities.Save(ctx, security); err != nil {
		return nil, err
	}
	logger.Info(ctx, "Security registered", "symbol", symbol, "exchange", meta.Exchange)
	return security, nil
}

// GetSecurity 查询已登记证券
func (s *PortfolioService) GetSecurity(ctx context.Context, symbol string) (*domain.Security, error) {
	security, err := s.securities.GetBySymbol(ctx, strings.ToUpper(strings.TrimSpace(symbol)))
	if err != nil {
		return nil, err
	}
	if security == nil {
		return nil, domain.ErrSecurityNotFound
	}
	return security, nil
}
