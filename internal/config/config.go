package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ringo380/inferno-sub006/internal/models"
	"github.com/ringo380/inferno-sub006/internal/tokenizer"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Batching BatchingConfig `mapstructure:"batching"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

type BatchingConfig struct {
	Enabled                bool    `mapstructure:"enabled"`
	MaxBatchSize           int     `mapstructure:"max_batch_size"`
	MinBatchSize           int     `mapstructure:"min_batch_size"`
	MaxWaitTimeMs          int     `mapstructure:"max_wait_time_ms"`
	AdaptiveBatching       bool    `mapstructure:"adaptive_batching"`
	PriorityLevels         int     `mapstructure:"priority_levels"`
	SequenceLengthGrouping bool    `mapstructure:"sequence_length_grouping"`
	PaddingStrategy        string  `mapstructure:"padding_strategy"`
	ThroughputTarget       float64 `mapstructure:"throughput_target"`
	MaxConcurrentBatches   int     `mapstructure:"max_concurrent_batches"`
	TickIntervalMs         int     `mapstructure:"tick_interval_ms"`
	AdjustmentIntervalMs   int     `mapstructure:"adjustment_interval_ms"`
	BatchTimeoutMs         int     `mapstructure:"batch_timeout_ms"`
	Tokenizer              string  `mapstructure:"tokenizer"`
}

type BackendConfig struct {
	BaseLatencyMs     float64 `mapstructure:"base_latency_ms"`
	PerTokenLatencyMs float64 `mapstructure:"per_token_latency_ms"`
	LatencyVariance   float64 `mapstructure:"latency_variance"`
	MaxBatchTokens    int     `mapstructure:"max_batch_tokens"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Batching.MinBatchSize <= 0 {
		return fmt.Errorf("batching.min_batch_size must be > 0")
	}
	if c.Batching.MaxBatchSize < c.Batching.MinBatchSize {
		return fmt.Errorf("batching.max_batch_size must be >= batching.min_batch_size")
	}
	if c.Batching.MaxWaitTimeMs < 1 {
		return fmt.Errorf("batching.max_wait_time_ms must be >= 1")
	}
	if c.Batching.ThroughputTarget <= 0 {
		return fmt.Errorf("batching.throughput_target must be > 0")
	}
	if c.Batching.MaxConcurrentBatches <= 0 {
		return fmt.Errorf("batching.max_concurrent_batches must be > 0")
	}
	if c.Batching.TickIntervalMs <= 0 {
		return fmt.Errorf("batching.tick_interval_ms must be > 0")
	}
	if c.Batching.BatchTimeoutMs < 0 {
		return fmt.Errorf("batching.batch_timeout_ms must be >= 0")
	}
	if _, err := models.ParsePaddingStrategy(c.Batching.PaddingStrategy); err != nil {
		return fmt.Errorf("batching.padding_strategy: %w", err)
	}
	if _, err := tokenizer.New(c.Batching.Tokenizer); err != nil {
		return fmt.Errorf("batching.tokenizer: %w", err)
	}
	if c.Backend.LatencyVariance < 0 || c.Backend.LatencyVariance > 1 {
		return fmt.Errorf("backend.latency_variance must be within [0, 1]")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be json or console")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 60*time.Second)
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)
	viper.SetDefault("server.rate_limit_rps", 0)
	viper.SetDefault("server.rate_limit_burst", 100)

	viper.SetDefault("batching.enabled", true)
	viper.SetDefault("batching.max_batch_size", 32)
	viper.SetDefault("batching.min_batch_size", 1)
	viper.SetDefault("batching.max_wait_time_ms", 50)
	viper.SetDefault("batching.adaptive_batching", true)
	viper.SetDefault("batching.priority_levels", 3)
	viper.SetDefault("batching.sequence_length_grouping", true)
	viper.SetDefault("batching.padding_strategy", string(models.PaddingLeft))
	viper.SetDefault("batching.throughput_target", 1000.0)
	viper.SetDefault("batching.max_concurrent_batches", 10)
	viper.SetDefault("batching.tick_interval_ms", 10)
	viper.SetDefault("batching.adjustment_interval_ms", 5000)
	viper.SetDefault("batching.batch_timeout_ms", 0)
	viper.SetDefault("batching.tokenizer", tokenizer.TypeCharacter)

	viper.SetDefault("backend.base_latency_ms", 5.0)
	viper.SetDefault("backend.per_token_latency_ms", 0.1)
	viper.SetDefault("backend.latency_variance", 0.1)
	viper.SetDefault("backend.max_batch_tokens", 0)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.namespace", "inferno_batching")
}

func bindEnvKeys(keys ...string) error {
	for _, key := range keys {
		if err := viper.BindEnv(key); err != nil {
			return err
		}
	}
	return nil
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("IBS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()
	if err := bindEnvKeys(
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.shutdown_timeout",
		"server.rate_limit_rps",
		"server.rate_limit_burst",
		"batching.enabled",
		"batching.max_batch_size",
		"batching.min_batch_size",
		"batching.max_wait_time_ms",
		"batching.adaptive_batching",
		"batching.priority_levels",
		"batching.sequence_length_grouping",
		"batching.padding_strategy",
		"batching.throughput_target",
		"batching.max_concurrent_batches",
		"batching.tick_interval_ms",
		"batching.adjustment_interval_ms",
		"batching.batch_timeout_ms",
		"batching.tokenizer",
		"backend.base_latency_ms",
		"backend.per_token_latency_ms",
		"backend.latency_variance",
		"backend.max_batch_tokens",
		"log.level",
		"log.format",
		"metrics.enabled",
		"metrics.path",
		"metrics.namespace",
	); err != nil {
		return nil, err
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
