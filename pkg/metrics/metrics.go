// Package metrics 提供 Prometheus helper，包含服务级 counter/gauge/histogram 模板
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wyfcoding/portfoliotracker/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 行情缓存命中计数
	QuoteCacheHits prometheus.Counter
	// 行情缓存未命中计数
	QuoteCacheMisses prometheus.Counter
	// 过期兜底返回计数
	QuoteCacheStaleServed prometheus.Counter

	// 提供商请求计数（按提供商名称）
	ProviderRequestsTotal *prometheus.CounterVec
	// 提供商请求失败计数（按提供商名称与错误类别）
	ProviderErrorsTotal *prometheus.CounterVec
	// 提供商请求耗时
	ProviderRequestDuration *prometheus.HistogramVec

	// 已应用交易计数（按类型）
	TransactionsApplied *prometheus.CounterVec
	// 乐观并发冲突计数
	PersistenceConflicts prometheus.Counter

	// 估值计算耗时
	ValuationDuration prometheus.Histogram
	// 部分估值结果计数
	ValuationPartial prometheus.Counter
	// 已生成快照计数
	SnapshotsCreated prometheus.Counter
}

// New 创建指标实例并注册到独立的 registry
func New(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto(registry)

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.histogramVec(prometheus.HistogramOpts{
			Namespace: "portfolio",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		QuoteCacheHits: factory.counter(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: serviceName,
			Name:      "quote_cache_hits_total",
			Help:      "Quote cache hits within the freshness window",
		}),
		QuoteCacheMisses: factory.counter(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: serviceName,
			Name:      "quote_cache_misses_total",
			Help:      "Quote cache misses or stale entries requiring a provider call",
		}),
		QuoteCacheStaleServed: factory.counter(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: serviceName,
			Name:      "quote_cache_stale_served_total",
			Help:      "Stale quotes served because all providers failed",
		}),
		ProviderRequestsTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: serviceName,
			Name:      "provider_requests_total",
			Help:      "Total market data provider requests",
		}, []string{"provider"}),
		ProviderErrorsTotal: factory.counterVec(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: serviceName,
			Name:      "provider_errors_total",
			Help:      "Market data provider request failures",
		}, []string{"provider", "kind"}),
		ProviderRequestDuration: factory.histogramVec(prometheus.HistogramOpts{
			Namespace: "portfolio",
			Subsystem: serviceName,
			Name:      "provider_request_duration_seconds",
			Help:      "Market data provider request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		TransactionsApplied: factory.counterVec(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: serviceName,
			Name:      "transactions_applied_total",
			Help:      "Ledger transactions applied",
		}, []string{"type"}),
		PersistenceConflicts: factory.counter(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: serviceName,
			Name:      "persistence_conflicts_total",
			Help:      "Optimistic concurrency conflicts on holding updates",
		}),
		ValuationDuration: factory.histogram(prometheus.HistogramOpts{
			Namespace: "portfolio",
			Subsystem: serviceName,
			Name:      "valuation_duration_seconds",
			Help:      "Portfolio valuation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ValuationPartial: factory.counter(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: serviceName,
			Name:      "valuation_partial_total",
			Help:      "Valuations completed with at least one unpriced holding",
		}),
		SnapshotsCreated: factory.counter(prometheus.CounterOpts{
			Namespace: "portfolio",
			Subsystem: serviceName,
			Name:      "snapshots_created_total",
			Help:      "Portfolio snapshots materialized",
		}),
	}

	return m
}

// ExposeHTTP 在独立端口暴露 /metrics
func (m *Metrics) ExposeHTTP(port int, path string) {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "Metrics endpoint listening", "addr", addr, "path", path)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error(context.Background(), "Metrics endpoint failed", "error", err)
	}
}

type factory struct {
	registry *prometheus.Registry
}

func promauto(registry *prometheus.Registry) factory {
	return factory{registry: registry}
}

func (f factory) counter(opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	f.registry.MustRegister(c)
	return c
}

func (f factory) counterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(opts, labels)
	f.registry.MustRegister(c)
	return c
}

func (f factory) histogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	h := prometheus.NewHistogram(opts)
	f.registry.MustRegister(h)
	return h
}

func (f factory) histogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(opts, labels)
	f.registry.MustRegister(h)
	return h
}
