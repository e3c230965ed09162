package config

import (
	"os"
	"strings"
	"testing"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `liqflow:
  name: "TestApp"
  version: "1.0"
collector:
  scan_interval: 300s
  assets: ["BTC", "ETH"]
scanner:
  max_workers: 4
storage:
  s3:
    enabled: false
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Liqflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Liqflow.Name)
	}
	if cfg.Scanner.MaxWorkers != 4 {
		t.Errorf("unexpected max workers: %d", cfg.Scanner.MaxWorkers)
	}
	if len(cfg.Collector.Assets) != 2 {
		t.Errorf("unexpected asset count: %d", len(cfg.Collector.Assets))
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Aggregator.BandWidthPercent != 0.1 {
		t.Errorf("unexpected band width default: %v", cfg.Aggregator.BandWidthPercent)
	}
	if cfg.MarketData.CacheTTL.Seconds() != 60 {
		t.Errorf("unexpected cache ttl default: %v", cfg.MarketData.CacheTTL)
	}
	if len(cfg.MarketData.DepthBandsPercent) != 3 {
		t.Errorf("unexpected depth band defaults: %v", cfg.MarketData.DepthBandsPercent)
	}
	if cfg.Source.Retry.MaxAttempts != 3 {
		t.Errorf("unexpected retry attempts default: %d", cfg.Source.Retry.MaxAttempts)
	}
}

func TestLoadConfigRejectsMissingAssets(t *testing.T) {
	content := `liqflow:
  name: "TestApp"
  version: "1.0"
scanner:
  max_workers: 4
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatal("expected validation error for missing assets")
	} else if !strings.Contains(err.Error(), "collector.assets") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOrderedAssets(t *testing.T) {
	cases := []struct {
		name     string
		assets   []string
		priority []string
		want     []string
	}{
		{"no priority keeps configured order", []string{"BTC", "ETH", "SOL"}, nil, []string{"BTC", "ETH", "SOL"}},
		{"priority moves to the front", []string{"BTC", "ETH", "SOL"}, []string{"SOL"}, []string{"SOL", "BTC", "ETH"}},
		{"priority never drops the rest", []string{"BTC", "ETH"}, []string{"ETH", "BTC"}, []string{"ETH", "BTC"}},
		{"untracked priority entries are ignored", []string{"BTC"}, []string{"DOGE", "BTC"}, []string{"BTC"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := CollectorConfig{Assets: tc.assets, PriorityAssets: tc.priority}
			got := cfg.OrderedAssets()
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"liqflow-snapshots", true},
		{"a", false},
		{"Invalid_Bucket", false},
		{"double..dot", false},
	}
	for _, tc := range cases {
		if got := isValidS3Bucket(tc.name); got != tc.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", tc.name, got, tc.valid)
		}
	}
}
