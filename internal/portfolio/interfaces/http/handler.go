// Package http 投资组合服务的 HTTP 接口
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/portfoliotracker/internal/portfolio/application"
	"github.com/wyfcoding/portfoliotracker/internal/portfolio/domain"
)

type Handler struct {
	portfolios *application.PortfolioService
	ledger     *application.LedgerService
	valuation  *application.ValuationService
}

func NewHandler(portfolios *application.PortfolioService, ledger *application.LedgerService, valuation *application.ValuationService) *Handler {
	return &Handler{
		portfolios: portfolios,
		ledger:     ledger,
		valuation:  valuation,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	p := r.Group("/portfolios")
	{
		p.POST("", h.CreatePortfolio)
		p.GET("", h.ListPortfolios)
		p.GET("/:id", h.GetPortfolio)
		p.POST("/:id/transactions", h.ApplyTransaction)
		p.GET("/:id/valuation", h.ValuePortfolio)
		p.POST("/:id/snapshots", h.CreateSnapshot)
		p.GET("/:id/snapshots", h.ListSnapshots)
	}

	hg := r.Group("/holdings")
	{
		hg.GET("/:id", h.GetHolding)
		hg.POST("/:id/rebuild", h.RebuildHolding)
		hg.DELETE("/:id", h.DeleteHolding)
	}

	s := r.Group("/securities")
	{
		s.POST("", h.RegisterSecurity)
		s.GET("/:symbol", h.GetSecurity)
	}
}

type CreatePortfolioReq struct {
	OwnerID      string `json:"owner_id" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Description  string `json:"description"`
	BaseCurrency string `json:"base_currency"`
}

func (h *Handler) CreatePortfolio(c *gin.Context) {
	var req CreatePortfolioReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	portfolio, err := h.portfolios.CreatePortfolio(c.Request.Context(), req.OwnerID, req.Name, req.Description, req.BaseCurrency)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, portfolio)
}

func (h *Handler) GetPortfolio(c *gin.Context) {
	portfolio, err := h.portfolios.GetPortfolio(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, portfolio)
}

func (h *Handler) ListPortfolios(c *gin.Context) {
	portfolios, err := h.portfolios.ListPortfolios(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolios": portfolios})
}

type ApplyTransactionReq struct {
	Symbol        string `json:"symbol" binding:"required"`
	Type          string `json:"type" binding:"required,oneof=BUY SELL"`
	Shares        string `json:"shares" binding:"required"`
	PricePerShare string `json:"price_per_share" binding:"required"`
	Fees          string `json:"fees"`
	ExecutedAt    string `json:"executed_at"`
	Notes         string `json:"notes"`
}

func (h *Handler) ApplyTransaction(c *gin.Context) {
	var req ApplyTransactionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shares, err := decimal.NewFromString(req.Shares)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shares"})
		return
	}
	price, err := decimal.NewFromString(req.PricePerShare)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price_per_share"})
		return
	}
	fees := decimal.Zero
	if req.Fees != "" {
		if fees, err = decimal.NewFromString(req.Fees); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fees"})
			return
		}
	}
	executedAt := time.Now()
	if req.ExecutedAt != "" {
		if executedAt, err = time.Parse(time.RFC3339, req.ExecutedAt); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "executed_at must be RFC3339"})
			return
		}
	}

	holding, err := h.ledger.ApplyTransaction(c.Request.Context(), application.ApplyTransactionCommand{
		PortfolioID:   c.Param("id"),
		Symbol:        req.Symbol,
		Type:          domain.TransactionType(req.Type),
		Shares:        shares,
		PricePerShare: price,
		Fees:          fees,
		ExecutedAt:    executedAt,
		Notes:         req.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, holding)
}

func (h *Handler) ValuePortfolio(c *gin.Context) {
	valuation, err := h.valuation.ValuePortfolio(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, valuation)
}

func (h *Handler) CreateSnapshot(c *gin.Context) {
	date := time.Now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = parsed
	}
	force := c.Query("force") == "true"

	snapshot, created, err := h.valuation.GetOrCreateSnapshot(c.Request.Context(), c.Param("id"), date, force)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, snapshot)
}

func (h *Handler) ListSnapshots(c *gin.Context) {
	to := time.Now()
	from := to.AddDate(0, -1, 0)
	var err error
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse("2006-01-02", raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM-DD"})
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse("2006-01-02", raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM-DD"})
			return
		}
	}

	snapshots, err := h.valuation.ListSnapshots(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots})
}

func (h *Handler) GetHolding(c *gin.Context) {
	state, err := h.ledger.GetHoldingState(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) RebuildHolding(c *gin.Context) {
	holding, err := h.ledger.RebuildHolding(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, holding)
}

func (h *Handler) DeleteHolding(c *gin.Context) {
	if err := h.ledger.DeleteHolding(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type RegisterSecurityReq struct {
	Symbol string `json:"symbol" binding:"required"`
}

func (h *Handler) RegisterSecurity(c *gin.Context) {
	var req RegisterSecurityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	security, err := h.portfolios.RegisterSecurity(c.Request.Context(), req.Symbol)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, security)
}

func (h *Handler) GetSecurity(c *gin.Context) {
	security, err := h.portfolios.GetSecurity(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, security)
}

// writeError 按错误类别映射 HTTP 状态码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrPortfolioNotFound),
		errors.Is(err, domain.ErrHoldingNotFound),
		errors.Is(err, domain.ErrSecurityNotFound),
		errors.Is(err, domain.ErrSnapshotNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInsufficientShares),
		errors.Is(err, domain.ErrHoldingNotEmpty),
		errors.Is(err, domain.ErrInvalidTransaction):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrPersistenceConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
