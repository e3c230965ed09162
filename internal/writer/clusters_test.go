package writer

import (
	"strings"
	"testing"
	"time"

	appconfig "liqflow/config"
	"liqflow/internal/models"
	"liqflow/logger"
)

func testWriter() *ClusterWriter {
	return &ClusterWriter{
		cfg: &appconfig.Config{
			Liqflow: appconfig.LiqflowConfig{Name: "liqflow", Version: "test"},
			Storage: appconfig.StorageConfig{
				S3:      appconfig.S3Config{Bucket: "test-bucket"},
				Parquet: appconfig.ParquetConfig{Compression: "snappy"},
			},
		},
		log:    logger.GetLogger(),
		buffer: make(map[string][]clusterEntry),
	}
}

func sampleBatch() clusterBatch {
	ts := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	entries := []clusterEntry{{
		CycleID:      "cycle-1",
		Coin:         "BTC",
		CurrentPrice: 85000,
		Timestamp:    ts,
		Cluster: models.LiquidationCluster{
			Coin: "BTC", Side: models.SideLong,
			PriceLow: 84830, PriceHigh: 85085, PriceCenter: 84990,
			TotalSizeUSD: 5_000_000, PositionCount: 2, AvgLeverage: 16,
		},
	}}
	return clusterBatch{Coin: "BTC", Entries: entries, Timestamp: ts, Reason: "test", RecordCount: 1}
}

func TestCreateParquetProducesData(t *testing.T) {
	w := testWriter()
	data, size, err := w.createParquet(sampleBatch())
	if err != nil {
		t.Fatalf("createParquet failed: %v", err)
	}
	if size == 0 || len(data) == 0 {
		t.Fatal("expected non-empty parquet output")
	}
	if int64(len(data)) != size {
		t.Errorf("size mismatch: %d vs %d", len(data), size)
	}
}

func TestGenerateS3KeyPartitions(t *testing.T) {
	w := testWriter()
	key := w.generateS3Key(sampleBatch())

	if !strings.HasPrefix(key, "liquidation_clusters/coin=BTC/date=2026-08-28/") {
		t.Errorf("unexpected key prefix: %s", key)
	}
	if !strings.HasSuffix(key, ".parquet") {
		t.Errorf("expected parquet suffix: %s", key)
	}
	if strings.Contains(key, "\\") {
		t.Errorf("key must use forward slashes: %s", key)
	}
}

func TestArchiveBuffersAllSides(t *testing.T) {
	w := testWriter()
	w.maxBuffer = 100
	m := models.AssetLiquidationMap{
		Coin:         "ETH",
		CurrentPrice: 3000,
		LongLiquidations: []models.LiquidationCluster{
			{Coin: "ETH", Side: models.SideLong, PriceCenter: 2800, TotalSizeUSD: 100},
		},
		ShortLiquidations: []models.LiquidationCluster{
			{Coin: "ETH", Side: models.SideShort, PriceCenter: 3200, TotalSizeUSD: 200},
		},
	}
	w.Archive("cycle-1", time.Now(), map[string]models.AssetLiquidationMap{"ETH": m})

	w.mu.Lock()
	defer w.mu.Unlock()
	if got := len(w.buffer["ETH"]); got != 2 {
		t.Fatalf("expected 2 buffered entries, got %d", got)
	}
}
