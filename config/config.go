package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Liqflow    LiqflowConfig    `yaml:"liqflow"`
	Source     SourceConfig     `yaml:"source"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Scanner    ScannerConfig    `yaml:"scanner"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Collector  CollectorConfig  `yaml:"collector"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Storage    StorageConfig    `yaml:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type LiqflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// SourceConfig describes the upstream on-chain info API and the limits the
// shared client enforces against it.
type SourceConfig struct {
	APIURL      string          `yaml:"api_url"`
	WSURL       string          `yaml:"ws_url"`
	Timeout     time.Duration   `yaml:"timeout"`
	MaxInFlight int             `yaml:"max_in_flight"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Retry       RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type DiscoveryConfig struct {
	// Lookback bounds how far back a trade may be for its counterparties to
	// count as active.
	Lookback        time.Duration `yaml:"lookback"`
	Websocket       bool          `yaml:"websocket"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	WalletCacheFile string        `yaml:"wallet_cache_file"`
}

type ScannerConfig struct {
	MaxWorkers          int           `yaml:"max_workers"`
	MaxWallets          int           `yaml:"max_wallets"`
	MinPositionValueUSD float64       `yaml:"min_position_value_usd"`
	WalletTimeout       time.Duration `yaml:"wallet_timeout"`
}

type AggregatorConfig struct {
	// BandWidthPercent sizes the price bands as a percentage of the current
	// price, keeping cluster granularity comparable across assets.
	BandWidthPercent  float64 `yaml:"band_width_percent"`
	MergeGapPercent   float64 `yaml:"merge_gap_percent"`
	MinClusterSizeUSD float64 `yaml:"min_cluster_size_usd"`
}

type MarketDataConfig struct {
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	DepthBandsPercent []float64     `yaml:"depth_bands_percent"`
}

type CollectorConfig struct {
	ScanInterval   time.Duration `yaml:"scan_interval"`
	Assets         []string      `yaml:"assets"`
	PriorityAssets []string      `yaml:"priority_assets"`
}

// OrderedAssets returns every tracked asset, priority assets first. The
// priority list only reorders; assets it leaves out still follow in their
// configured order, and priority entries that are not tracked are ignored.
func (c CollectorConfig) OrderedAssets() []string {
	tracked := make(map[string]bool, len(c.Assets))
	for _, a := range c.Assets {
		tracked[a] = true
	}
	out := make([]string, 0, len(c.Assets))
	seen := make(map[string]bool, len(c.Assets))
	for _, a := range c.PriorityAssets {
		if tracked[a] && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, a := range c.Assets {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

type ChannelsConfig struct {
	PositionBuffer int `yaml:"position_buffer"`
}

type StorageConfig struct {
	SQLite  SQLiteConfig  `yaml:"sqlite"`
	S3      S3Config      `yaml:"s3"`
	Parquet ParquetConfig `yaml:"parquet"`
}

type SQLiteConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	PathStyle       bool          `yaml:"path_style"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	MaxBuffer       int           `yaml:"max_buffer"`
	UploadWorkers   int           `yaml:"upload_workers"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression"`
}

type MetricsConfig struct {
	Prometheus bool             `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Region        string `yaml:"region"`
	Namespace     string `yaml:"namespace"`
	DashboardName string `yaml:"dashboard_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// envSiblingPaths maps each environment to the config file that would shadow
// path for it, e.g. config.yml -> config.production.yml.
func envSiblingPaths(path string) map[string]string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return map[string]string{
		environmentProduction: base + "." + environmentProduction + ext,
		environmentStaging:    base + "." + environmentStaging + ext,
	}
}

// LoadConfig reads the configuration at path. When APP_ENV names an
// environment and an environment specific sibling file exists next to path,
// that file is loaded instead.
func LoadConfig(path string) (*Config, error) {
	if envPath := resolveEnvSpecificPath(path, path, envSiblingPaths(path)); envPath != path {
		if _, err := os.Stat(envPath); err == nil {
			path = envPath
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Source: SourceConfig{
			APIURL:      "https://api.hyperliquid.xyz",
			WSURL:       "wss://api.hyperliquid.xyz/ws",
			Timeout:     10 * time.Second,
			MaxInFlight: 10,
			RateLimit:   RateLimitConfig{RequestsPerSecond: 10, BurstSize: 1},
			Retry: RetryConfig{
				MaxAttempts:       3,
				BaseDelay:         time.Second,
				MaxDelay:          30 * time.Second,
				BackoffMultiplier: 2,
			},
		},
		Discovery: DiscoveryConfig{
			Lookback:       24 * time.Hour,
			ReconnectDelay: 5 * time.Second,
		},
		Scanner: ScannerConfig{
			MaxWorkers:    10,
			MaxWallets:    5000,
			WalletTimeout: 10 * time.Second,
		},
		Aggregator: AggregatorConfig{
			BandWidthPercent: 0.1,
			MergeGapPercent:  0.5,
		},
		MarketData: MarketDataConfig{
			CacheTTL:          60 * time.Second,
			DepthBandsPercent: []float64{0.5, 1, 2},
		},
		Collector: CollectorConfig{
			ScanInterval: 900 * time.Second,
		},
		Channels: ChannelsConfig{PositionBuffer: 4096},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Liqflow.Name == "" {
		return fmt.Errorf("liqflow.name is required")
	}
	if cfg.Liqflow.Version == "" {
		return fmt.Errorf("liqflow.version is required")
	}

	if cfg.Source.APIURL == "" {
		return fmt.Errorf("source.api_url is required")
	}
	if cfg.Source.MaxInFlight <= 0 {
		return fmt.Errorf("source.max_in_flight must be greater than 0")
	}
	if cfg.Source.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("source.rate_limit.requests_per_second must be greater than 0")
	}
	if cfg.Source.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("source.retry.max_attempts must be greater than 0")
	}

	if cfg.Scanner.MaxWorkers <= 0 {
		return fmt.Errorf("scanner.max_workers must be greater than 0")
	}
	if cfg.Scanner.WalletTimeout <= 0 {
		return fmt.Errorf("scanner.wallet_timeout must be greater than 0")
	}

	if cfg.Aggregator.BandWidthPercent <= 0 {
		return fmt.Errorf("aggregator.band_width_percent must be greater than 0")
	}
	if cfg.Aggregator.MergeGapPercent < 0 {
		return fmt.Errorf("aggregator.merge_gap_percent must not be negative")
	}

	if cfg.MarketData.CacheTTL <= 0 {
		return fmt.Errorf("market_data.cache_ttl must be greater than 0")
	}
	if len(cfg.MarketData.DepthBandsPercent) == 0 {
		return fmt.Errorf("market_data.depth_bands_percent must not be empty")
	}
	for _, b := range cfg.MarketData.DepthBandsPercent {
		if b <= 0 {
			return fmt.Errorf("market_data.depth_bands_percent entries must be greater than 0")
		}
	}

	if cfg.Collector.ScanInterval <= 0 {
		return fmt.Errorf("collector.scan_interval must be greater than 0")
	}
	if len(cfg.Collector.Assets) == 0 {
		return fmt.Errorf("collector.assets must not be empty")
	}

	if cfg.Channels.PositionBuffer <= 0 {
		return fmt.Errorf("channels.position_buffer must be greater than 0")
	}

	if cfg.Storage.SQLite.Enabled && cfg.Storage.SQLite.Path == "" {
		return fmt.Errorf("storage.sqlite.path is required when sqlite is enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		// Development deployments may rely on the default AWS credential
		// chain; production-like ones must configure keys explicitly.
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			if IsProductionLike(AppEnvironment()) {
				return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
			}
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
