// Package metrics registers the service's prometheus collectors and exposes
// them over the standard /metrics endpoint:
//
//	liqflow_cycles_total
//	liqflow_cycle_errors_total
//	liqflow_cycle_duration_seconds
//	liqflow_wallets_scanned
//	liqflow_positions_found
//	liqflow_scan_errors_total
//	liqflow_positions_dropped_total
//	liqflow_liquidation_clusters
//	liqflow_at_risk_usd
//	liqflow_state_age_seconds
//
// plus the go_* and process_* system collectors.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liqflow/internal/models"
)

var (
	once             sync.Once
	cyclesTotal      prometheus.Counter
	cycleErrors      prometheus.Counter
	cycleDuration    prometheus.Histogram
	walletsScanned   prometheus.Gauge
	positionsFound   prometheus.Gauge
	scanErrors       prometheus.Counter
	positionsDropped prometheus.Counter
	clusterCount     *prometheus.GaugeVec
	atRiskUSD        *prometheus.GaugeVec
	stateAge         prometheus.Gauge
)

// Init registers the collectors and starts the /metrics endpoint. The addr
// is host:port; an empty addr serves on :2112 like earlier deployments.
func Init(addr string) {
	once.Do(func() {
		if addr == "" {
			addr = "0.0.0.0:2112"
		}

		cyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liqflow_cycles_total",
			Help: "Number of completed collection cycles",
		})
		cycleErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liqflow_cycle_errors_total",
			Help: "Number of collection cycles that failed outright",
		})
		cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "liqflow_cycle_duration_seconds",
			Help:    "Wall time of collection cycles",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		})
		walletsScanned = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "liqflow_wallets_scanned",
			Help: "Wallets scanned in the latest cycle",
		})
		positionsFound = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "liqflow_positions_found",
			Help: "Open positions found in the latest cycle",
		})
		scanErrors = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liqflow_scan_errors_total",
			Help: "Wallet scans that failed",
		})
		positionsDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liqflow_positions_dropped_total",
			Help: "Positions dropped on a full channel buffer",
		})
		clusterCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liqflow_liquidation_clusters",
			Help: "Liquidation clusters in the published map",
		}, []string{"coin", "side"})
		atRiskUSD = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liqflow_at_risk_usd",
			Help: "Total notional at liquidation risk in the published map",
		}, []string{"coin", "side"})
		stateAge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "liqflow_state_age_seconds",
			Help: "Age of the last successfully published snapshot",
		})

		_ = prometheus.Register(cyclesTotal)
		_ = prometheus.Register(cycleErrors)
		_ = prometheus.Register(cycleDuration)
		_ = prometheus.Register(walletsScanned)
		_ = prometheus.Register(positionsFound)
		_ = prometheus.Register(scanErrors)
		_ = prometheus.Register(positionsDropped)
		_ = prometheus.Register(clusterCount)
		_ = prometheus.Register(atRiskUSD)
		_ = prometheus.Register(stateAge)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, nil); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// Handler returns the prometheus scrape handler for callers that mount it on
// their own mux instead of the built-in listener.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCycle publishes the outcome of one completed cycle.
func RecordCycle(result models.CycleResult) {
	if cyclesTotal == nil {
		return
	}
	cyclesTotal.Inc()
	cycleDuration.Observe(result.Duration.Seconds())
	walletsScanned.Set(float64(result.WalletsScanned))
	positionsFound.Set(float64(result.PositionsFound))
	if result.ScanErrors > 0 {
		scanErrors.Add(float64(result.ScanErrors))
	}
}

// RecordCycleFailure counts a cycle that produced no publishable snapshot.
func RecordCycleFailure() {
	if cycleErrors != nil {
		cycleErrors.Inc()
	}
}

// RecordDroppedPositions counts positions lost to channel backpressure.
func RecordDroppedPositions(n int64) {
	if positionsDropped != nil && n > 0 {
		positionsDropped.Add(float64(n))
	}
}

// RecordLiquidationMap publishes the headline figures of one asset's map.
func RecordLiquidationMap(m models.AssetLiquidationMap) {
	if clusterCount == nil {
		return
	}
	clusterCount.WithLabelValues(m.Coin, string(models.SideLong)).Set(float64(len(m.LongLiquidations)))
	clusterCount.WithLabelValues(m.Coin, string(models.SideShort)).Set(float64(len(m.ShortLiquidations)))
	atRiskUSD.WithLabelValues(m.Coin, string(models.SideLong)).Set(m.TotalLongAtRiskUSD)
	atRiskUSD.WithLabelValues(m.Coin, string(models.SideShort)).Set(m.TotalShortAtRiskUSD)
}

// RecordStateAge publishes the staleness of the current snapshot.
func RecordStateAge(age time.Duration) {
	if stateAge != nil {
		stateAge.Set(age.Seconds())
	}
}
