package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, path, appName string) {
	t.Helper()
	content := `liqflow:
  name: "` + appName + `"
  version: "1.0"
collector:
  scan_interval: 300s
  assets: ["BTC"]
scanner:
  max_workers: 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func TestLoadConfigPrefersEnvSpecificFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yml")
	writeConfigFile(t, base, "DevApp")
	writeConfigFile(t, filepath.Join(dir, "config.production.yml"), "ProdApp")

	// "prod" exercises alias normalisation on the way to the file lookup.
	t.Setenv(appEnvVar, "prod")

	cfg, err := LoadConfig(base)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Liqflow.Name != "ProdApp" {
		t.Errorf("expected production config to shadow the base file, got %s", cfg.Liqflow.Name)
	}
}

func TestLoadConfigFallsBackWhenEnvFileMissing(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yml")
	writeConfigFile(t, base, "DevApp")

	t.Setenv(appEnvVar, environmentProduction)

	cfg, err := LoadConfig(base)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Liqflow.Name != "DevApp" {
		t.Errorf("expected base config when no env file exists, got %s", cfg.Liqflow.Name)
	}
}

func TestAppEnvironmentDefaultsToDevelopment(t *testing.T) {
	t.Setenv(appEnvVar, "")
	if got := AppEnvironment(); got != EnvironmentDevelopment {
		t.Errorf("expected development default, got %s", got)
	}
}

func TestIsProductionLike(t *testing.T) {
	cases := map[string]bool{
		EnvironmentProduction:  true,
		EnvironmentStaging:     true,
		EnvironmentDevelopment: false,
		"local":                false,
	}
	for env, want := range cases {
		if got := IsProductionLike(env); got != want {
			t.Errorf("IsProductionLike(%q) = %v, want %v", env, got, want)
		}
	}
}

func TestValidateConfigS3CredentialsByEnvironment(t *testing.T) {
	cfg := &Config{
		Liqflow: LiqflowConfig{Name: "App", Version: "1.0"},
		Source: SourceConfig{
			APIURL:      "https://api.example.com",
			MaxInFlight: 1,
			RateLimit:   RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1},
			Retry:       RetryConfig{MaxAttempts: 1},
		},
		Scanner:    ScannerConfig{MaxWorkers: 1, WalletTimeout: 1},
		Aggregator: AggregatorConfig{BandWidthPercent: 0.1},
		MarketData: MarketDataConfig{CacheTTL: 1, DepthBandsPercent: []float64{1}},
		Collector:  CollectorConfig{ScanInterval: 1, Assets: []string{"BTC"}},
		Channels:   ChannelsConfig{PositionBuffer: 1},
		Storage: StorageConfig{S3: S3Config{
			Enabled: true,
			Bucket:  "liqflow-snapshots",
			Region:  "us-east-1",
		}},
	}

	t.Setenv(appEnvVar, environmentDevelopment)
	if err := validateConfig(cfg); err != nil {
		t.Errorf("development should allow the default credential chain, got %v", err)
	}

	t.Setenv(appEnvVar, environmentProduction)
	if err := validateConfig(cfg); err == nil {
		t.Error("production must require explicit S3 credentials")
	}
}
