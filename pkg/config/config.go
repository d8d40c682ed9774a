// Package config 提供 TOML 配置加载、环境变量覆盖与基础校验
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/wyfcoding/portfoliotracker/pkg/logger"
)

// Config 服务配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 行情提供商配置
	Providers ProvidersConfig `mapstructure:"providers"`
	// 行情缓存配置
	QuoteCache QuoteCacheConfig `mapstructure:"quotecache"`
	// 每日快照配置
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	// 日志配置
	Logger logger.Config `mapstructure:"logger"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否启用 SQL 日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxPoolSize  int    `mapstructure:"max_pool_size"`
	ConnTimeout  int    `mapstructure:"conn_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// 是否启用事件发布
	Enabled bool `mapstructure:"enabled"`
	// Broker 地址列表
	Brokers []string `mapstructure:"brokers"`
	// 事件主题
	Topic string `mapstructure:"topic"`
	// 最大重试次数
	MaxRetries int `mapstructure:"max_retries"`
	// 重试退避（毫秒）
	RetryBackoff int `mapstructure:"retry_backoff"`
}

// ProviderConfig 单个行情提供商配置
type ProviderConfig struct {
	// 提供商类型：alphavantage, finnhub
	Kind string `mapstructure:"kind"`
	// API 基础地址（留空使用默认）
	BaseURL string `mapstructure:"base_url"`
	// API Key
	APIKey string `mapstructure:"api_key"`
	// 请求超时（秒）
	Timeout int `mapstructure:"timeout"`
}

// ProvidersConfig 行情提供商配置，主备两级
type ProvidersConfig struct {
	Primary ProviderConfig `mapstructure:"primary"`
	// 备用提供商，kind 为空时禁用
	Secondary ProviderConfig `mapstructure:"secondary"`
	// 是否启用熔断器
	BreakerEnabled bool `mapstructure:"breaker_enabled"`
}

// QuoteCacheConfig 行情缓存配置
type QuoteCacheConfig struct {
	// 行情新鲜度窗口（分钟）
	QuoteFreshMinutes int `mapstructure:"quote_fresh_minutes"`
	// 证券元数据新鲜度窗口（天）
	MetadataFreshDays int `mapstructure:"metadata_fresh_days"`
	// 缓存条目保留时间（小时），须大于新鲜度窗口以支持过期回退
	RetentionHours int `mapstructure:"retention_hours"`
}

// SnapshotConfig 每日快照配置
type SnapshotConfig struct {
	// 是否启用定时快照
	Enabled bool `mapstructure:"enabled"`
	// 每日执行时刻（HH:MM，服务本地时区）
	At string `mapstructure:"at"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Load 从 TOML 文件加载配置，使用默认值，支持环境变量覆盖
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.Providers.Primary.Kind == "" {
		return fmt.Errorf("providers.primary.kind is required")
	}
	if c.QuoteCache.RetentionHours*60 < c.QuoteCache.QuoteFreshMinutes {
		return fmt.Errorf("quotecache retention must exceed the freshness window")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "portfolio.events")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)

	v.SetDefault("providers.primary.timeout", 10)
	v.SetDefault("providers.secondary.timeout", 10)
	v.SetDefault("providers.breaker_enabled", true)

	v.SetDefault("quotecache.quote_fresh_minutes", 15)
	v.SetDefault("quotecache.metadata_fresh_days", 30)
	v.SetDefault("quotecache.retention_hours", 24)

	v.SetDefault("snapshot.enabled", true)
	v.SetDefault("snapshot.at", "23:50")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/app.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")
}
