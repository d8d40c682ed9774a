// Package middleware 提供 Gin 通用中间件（日志、trace、panic recover、指标）
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wyfcoding/portfoliotracker/pkg/logger"
	"github.com/wyfcoding/portfoliotracker/pkg/metrics"
)

// RequestIDKey gin context key for request ID
const RequestIDKey = "request_id"

// TraceIDKey gin context key for trace ID
const TraceIDKey = "trace_id"

// GinLogging Gin 日志中间件，注入 request_id/trace_id 并记录请求耗时
func GinLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Set(TraceIDKey, traceID)
		c.Header("X-Request-ID", requestID)

		ctx := logger.ContextWithTrace(c.Request.Context(), traceID, requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Info(ctx, "HTTP request completed",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// GinRecovery Gin panic 恢复中间件，单个请求的崩溃不影响进程
func GinRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), "HTTP handler panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
				)
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// GinMetrics Gin 指标中间件
func GinMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
