package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"liqflow/internal/models"
	"liqflow/logger"
)

// SnapshotRow stores one asset's liquidation map from one cycle. The
// cluster list is kept as compressed JSON; headline figures are broken out
// into columns so time-series queries do not need to inflate every row.
type SnapshotRow struct {
	ID            uint      `gorm:"primaryKey"`
	CreatedAt     time.Time `gorm:"index"`
	CycleID       string    `gorm:"index;size:64"`
	Coin          string    `gorm:"index;size:32"`
	CurrentPrice  float64
	TotalLongUSD  float64
	TotalShortUSD float64
	PositionCount int
	ClustersJSON  string
}

func (SnapshotRow) TableName() string { return "snapshots" }

// PriceRow is one market observation for the price history series.
type PriceRow struct {
	ID              uint      `gorm:"primaryKey"`
	CreatedAt       time.Time `gorm:"index"`
	Coin            string    `gorm:"index;size:32"`
	MarkPrice       float64
	OraclePrice     float64
	FundingRate     float64
	OpenInterestUSD float64
}

func (PriceRow) TableName() string { return "price_history" }

// CycleRow records the outcome of one collection cycle.
type CycleRow struct {
	ID             uint      `gorm:"primaryKey"`
	CreatedAt      time.Time `gorm:"index"`
	CycleID        string    `gorm:"uniqueIndex;size:64"`
	DurationMs     int64
	WalletsScanned int
	PositionsFound int
	AssetsMapped   int
	ScanErrors     int
}

func (CycleRow) TableName() string { return "cycles" }

// Store persists cycle output to SQLite for later analysis.
type Store struct {
	db  *gorm.DB
	log *logger.Entry
}

func Open(path string, log *logger.Log) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	if err := db.AutoMigrate(&SnapshotRow{}, &PriceRow{}, &CycleRow{}); err != nil {
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	return &Store{db: db, log: log.WithComponent("history_store")}, nil
}

// SaveMaps writes every asset's liquidation map for one cycle.
func (s *Store) SaveMaps(cycleID string, maps map[string]models.AssetLiquidationMap) error {
	rows := make([]SnapshotRow, 0, len(maps))
	for coin, m := range maps {
		payload, err := json.Marshal(struct {
			Long  []models.LiquidationCluster `json:"long"`
			Short []models.LiquidationCluster `json:"short"`
		}{Long: m.LongLiquidations, Short: m.ShortLiquidations})
		if err != nil {
			return fmt.Errorf("marshal clusters for %s: %w", coin, err)
		}
		stored, err := compressJSON(payload)
		if err != nil {
			return fmt.Errorf("compress clusters for %s: %w", coin, err)
		}
		rows = append(rows, SnapshotRow{
			CycleID:       cycleID,
			Coin:          coin,
			CurrentPrice:  m.CurrentPrice,
			TotalLongUSD:  m.TotalLongAtRiskUSD,
			TotalShortUSD: m.TotalShortAtRiskUSD,
			PositionCount: m.PositionCount(),
			ClustersJSON:  stored,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.Create(&rows).Error; err != nil {
		return fmt.Errorf("insert snapshots: %w", err)
	}
	logger.IncrementStoreWrite(int64(len(rows)))
	return nil
}

// LatestMap loads the most recent stored map for a coin, inflating the
// cluster payload. Legacy uncompressed rows decode the same way.
func (s *Store) LatestMap(coin string) (*models.AssetLiquidationMap, error) {
	var row SnapshotRow
	err := s.db.Where("coin = ?", coin).Order("id DESC").First(&row).Error
	if err != nil {
		return nil, err
	}
	data, err := decompressJSON(row.ClustersJSON)
	if err != nil {
		return nil, fmt.Errorf("row %d: %w", row.ID, err)
	}
	var clusters struct {
		Long  []models.LiquidationCluster `json:"long"`
		Short []models.LiquidationCluster `json:"short"`
	}
	if err := json.Unmarshal(data, &clusters); err != nil {
		return nil, fmt.Errorf("row %d: %w", row.ID, err)
	}
	return &models.AssetLiquidationMap{
		Coin:                row.Coin,
		CurrentPrice:        row.CurrentPrice,
		LongLiquidations:    clusters.Long,
		ShortLiquidations:   clusters.Short,
		TotalLongAtRiskUSD:  row.TotalLongUSD,
		TotalShortAtRiskUSD: row.TotalShortUSD,
	}, nil
}

// RecordPrices appends one price history row per market snapshot.
func (s *Store) RecordPrices(markets map[string]models.MarketSnapshot) error {
	rows := make([]PriceRow, 0, len(markets))
	for coin, snap := range markets {
		rows = append(rows, PriceRow{
			Coin:            coin,
			MarkPrice:       snap.MarkPrice,
			OraclePrice:     snap.OraclePrice,
			FundingRate:     snap.FundingRate,
			OpenInterestUSD: snap.OpenInterestUSD,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.Create(&rows).Error; err != nil {
		return fmt.Errorf("insert price history: %w", err)
	}
	return nil
}

// SaveCycle records the outcome of a completed cycle.
func (s *Store) SaveCycle(result models.CycleResult) error {
	row := CycleRow{
		CycleID:        result.CycleID,
		DurationMs:     result.Duration.Milliseconds(),
		WalletsScanned: result.WalletsScanned,
		PositionsFound: result.PositionsFound,
		AssetsMapped:   result.AssetsMapped,
		ScanErrors:     result.ScanErrors,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// PruneOlderThan deletes history rows created before the cutoff.
func (s *Store) PruneOlderThan(cutoff time.Time) error {
	for _, model := range []any{&SnapshotRow{}, &PriceRow{}, &CycleRow{}} {
		if err := s.db.Where("created_at < ?", cutoff).Delete(model).Error; err != nil {
			return fmt.Errorf("prune history: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
