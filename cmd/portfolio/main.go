package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	mdapplication "github.com/wyfcoding/portfoliotracker/internal/marketdata/application"
	mddomain "github.com/wyfcoding/portfoliotracker/internal/marketdata/domain"
	mdmysql "github.com/wyfcoding/portfoliotracker/internal/marketdata/infrastructure/persistence/mysql"
	mdredis "github.com/wyfcoding/portfoliotracker/internal/marketdata/infrastructure/persistence/redis"
	mdhttp "github.com/wyfcoding/portfoliotracker/internal/marketdata/interfaces/http"
	"github.com/wyfcoding/portfoliotracker/internal/marketdata/provider"
	"github.com/wyfcoding/portfoliotracker/internal/portfolio/application"
	"github.com/wyfcoding/portfoliotracker/internal/portfolio/domain"
	"github.com/wyfcoding/portfoliotracker/internal/portfolio/infrastructure/messaging"
	pfmysql "github.com/wyfcoding/portfoliotracker/internal/portfolio/infrastructure/persistence/mysql"
	pfhttp "github.com/wyfcoding/portfoliotracker/internal/portfolio/interfaces/http"
	"github.com/wyfcoding/portfoliotracker/pkg/cache"
	"github.com/wyfcoding/portfoliotracker/pkg/config"
	"github.com/wyfcoding/portfoliotracker/pkg/db"
	"github.com/wyfcoding/portfoliotracker/pkg/logger"
	"github.com/wyfcoding/portfoliotracker/pkg/metrics"
	"github.com/wyfcoding/portfoliotracker/pkg/middleware"
	"github.com/wyfcoding/portfoliotracker/pkg/mq"
)

var configPath = flag.String("config", "configs/portfolio/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Logger
	if err := logger.Init(cfg.Logger); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	slog.SetDefault(logger.Get())

	// 3. Metrics
	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		go m.ExposeHTTP(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	// 4. Database
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if cfg.Environment == "dev" {
		if err := database.AutoMigrate(
			&domain.Portfolio{},
			&domain.Security{},
			&domain.Holding{},
			&domain.Transaction{},
			&domain.PortfolioSnapshot{},
			&mddomain.PriceHistory{},
		); err != nil {
			slog.Error("failed to migrate database", "error", err)
		}
	}

	// 5. Redis
	redisCache, err := cache.New(cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ConnTimeout:  cfg.Redis.ConnTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		slog.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}
	defer redisCache.Close()

	// 6. Market data providers
	primary, err := provider.New(cfg.Providers.Primary)
	if err != nil {
		slog.Error("failed to build primary provider", "error", err)
		os.Exit(1)
	}
	var secondary mddomain.Provider
	if cfg.Providers.Secondary.Kind != "" {
		if secondary, err = provider.New(cfg.Providers.Secondary); err != nil {
			slog.Error("failed to build secondary provider", "error", err)
			os.Exit(1)
		}
	}
	if cfg.Providers.BreakerEnabled {
		primary = provider.WithBreaker(primary)
		if secondary != nil {
			secondary = provider.WithBreaker(secondary)
		}
	}

	// 7. Quote cache
	quoteStore := mdredis.NewQuoteStore(redisCache, time.Duration(cfg.QuoteCache.RetentionHours)*time.Hour)
	priceHistory := mdmysql.NewPriceHistoryRepository(database.DB)
	quoteCache := mdapplication.NewQuoteCache(quoteStore, priceHistory, primary, secondary, mdapplication.QuoteCacheConfig{
		QuoteFreshFor:    time.Duration(cfg.QuoteCache.QuoteFreshMinutes) * time.Minute,
		MetadataFreshFor: time.Duration(cfg.QuoteCache.MetadataFreshDays) * 24 * time.Hour,
	}, m)

	// 8. Event publisher
	var publisher domain.EventPublisher = application.NoopEventPublisher{}
	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			slog.Error("failed to create kafka producer", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = messaging.NewKafkaEventPublisher(producer)
	}

	// 9. Repositories & services
	portfolioRepo := pfmysql.NewPortfolioRepository(database.DB)
	securityRepo := pfmysql.NewSecurityRepository(database.DB)
	holdingRepo := pfmysql.NewHoldingRepository(database.DB)
	txnRepo := pfmysql.NewTransactionRepository(database.DB)
	ledgerRepo := pfmysql.NewLedgerRepository(database.DB)
	snapshotRepo := pfmysql.NewSnapshotRepository(database.DB)

	portfolioService := application.NewPortfolioService(portfolioRepo, securityRepo, quoteCache)
	ledgerService := application.NewLedgerService(portfolioRepo, securityRepo, holdingRepo, txnRepo, ledgerRepo, publisher, m)
	valuationService := application.NewValuationService(portfolioRepo, holdingRepo, snapshotRepo, quoteCache, publisher, m)

	// 10. HTTP server
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(middleware.GinRecovery(), middleware.GinLogging(), middleware.GinMetrics(m))

	api := r.Group("/api/v1")
	pfhttp.NewHandler(portfolioService, ledgerService, valuationService).RegisterRoutes(api)
	mdhttp.NewHandler(quoteCache, priceHistory).RegisterRoutes(api)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName})
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	// 11. Start
	g, ctx := errgroup.WithContext(context.Background())
	schedulerCtx, stopScheduler := context.WithCancel(ctx)

	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if cfg.Snapshot.Enabled {
		scheduler := application.NewSnapshotScheduler(portfolioRepo, valuationService, cfg.Snapshot.At)
		g.Go(func() error {
			return scheduler.Run(schedulerCtx)
		})
	}

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			slog.Info("shutting down servers...")
		case <-ctx.Done():
			slog.Info("context cancelled, shutting down...")
		}
		stopScheduler()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("server exited")
}
