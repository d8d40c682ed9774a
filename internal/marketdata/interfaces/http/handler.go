// Package http 行情数据服务的 HTTP 接口
package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/portfoliotracker/internal/marketdata/application"
	"github.com/wyfcoding/portfoliotracker/internal/marketdata/domain"
)

type Handler struct {
	quotes  *application.QuoteCache
	history domain.PriceHistoryRepository
}

func NewHandler(quotes *application.QuoteCache, history domain.PriceHistoryRepository) *Handler {
	return &Handler{quotes: quotes, history: history}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/quotes")
	{
		g.GET("/:symbol", h.GetQuote)
		g.GET("/:symbol/metadata", h.GetMetadata)
		g.GET("/:symbol/history", h.GetHistory)
	}
}

func (h *Handler) GetQuote(c *gin.Context) {
	quote, err := h.quotes.GetQuote(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *Handler) GetMetadata(c *gin.Context) {
	meta, err := h.quotes.GetMetadata(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (h *Handler) GetHistory(c *gin.Context) {
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

	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	records, err := h.history.GetRange(c.Request.Context(), symbol, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "history": records})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSymbol):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrSymbolNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrQuoteUnavailable), errors.Is(err, domain.ErrMetadataUnavailable), errors.Is(err, domain.ErrUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
