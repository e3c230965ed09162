package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsScan     int64
	errorsMarket   int64
	warnsScan      int64
	warnsMarket    int64
	walletScans    int64
	cacheRefreshes int64
	storeWrites    int64
	archiveWrites  int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "scan") {
		atomic.AddInt64(&warnsScan, 1)
	} else if strings.Contains(component, "market") {
		atomic.AddInt64(&warnsMarket, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "scan") {
		atomic.AddInt64(&errorsScan, 1)
	} else if strings.Contains(component, "market") {
		atomic.AddInt64(&errorsMarket, 1)
	}
}

func IncrementWalletScan(size int) {
	atomic.AddInt64(&walletScans, 1)
	recordChannel("wallet_scan", size)
}

func IncrementCacheRefresh(size int) {
	atomic.AddInt64(&cacheRefreshes, 1)
	recordChannel("market_refresh", size)
}

func IncrementStoreWrite(size int64) {
	atomic.AddInt64(&storeWrites, 1)
	recordChannel("history_write", int(size))
}

func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
	recordChannel("s3_archive_write", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_scan":     atomic.LoadInt64(&errorsScan),
		"errors_market":   atomic.LoadInt64(&errorsMarket),
		"warns_scan":      atomic.LoadInt64(&warnsScan),
		"warns_market":    atomic.LoadInt64(&warnsMarket),
		"wallet_scans":    atomic.LoadInt64(&walletScans),
		"cache_refreshes": atomic.LoadInt64(&cacheRefreshes),
		"history_writes":  atomic.LoadInt64(&storeWrites),
		"archive_writes":  atomic.LoadInt64(&archiveWrites),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memStats.Used) / 1024 / 1024,
		"disk_mb":         int64(diskStats.Used) / 1024 / 1024,
		"channels":        channelData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Liqflow-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Liqflow-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Liqflow-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Liqflow-ErrorsScan"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_scan"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Liqflow-ErrorsMarket"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_market"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Liqflow-WarnsScan"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_scan"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Liqflow-WarnsMarket"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_market"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Liqflow-WalletScans"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["wallet_scans"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Liqflow-CacheRefreshes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["cache_refreshes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Liqflow-HistoryWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["history_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Liqflow-ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["archive_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Liqflow-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Liqflow-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Liqflow-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Liqflow-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
