package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "liqflow/config"
	"liqflow/internal/metadata"
	"liqflow/internal/models"
	"liqflow/logger"
)

type clusterParquetRecord struct {
	CycleID       string  `parquet:"name=cycle_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Coin          string  `parquet:"name=coin, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side          string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp     int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	CurrentPrice  float64 `parquet:"name=current_price, type=DOUBLE"`
	PriceLow      float64 `parquet:"name=price_low, type=DOUBLE"`
	PriceHigh     float64 `parquet:"name=price_high, type=DOUBLE"`
	PriceCenter   float64 `parquet:"name=price_center, type=DOUBLE"`
	TotalSizeUSD  float64 `parquet:"name=total_size_usd, type=DOUBLE"`
	PositionCount int32   `parquet:"name=position_count, type=INT32"`
	AvgLeverage   float64 `parquet:"name=avg_leverage, type=DOUBLE"`
}

type clusterEntry struct {
	CycleID      string
	Coin         string
	CurrentPrice float64
	Cluster      models.LiquidationCluster
	Timestamp    time.Time
}

type clusterBatch struct {
	Coin        string
	Entries     []clusterEntry
	Timestamp   time.Time
	Reason      string
	RecordCount int
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// ClusterWriter archives liquidation clusters to S3 as partitioned parquet
// files so historical cluster evolution can be queried offline.
type ClusterWriter struct {
	cfg      *appconfig.Config
	s3Client *s3.Client
	metaGen  *metadata.Generator

	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup

	log *logger.Log

	mu          sync.Mutex
	buffer      map[string][]clusterEntry
	flushTicker *time.Ticker
	maxBuffer   int

	jobCh   chan clusterBatch
	running bool
}

// NewClusterWriter configures a ClusterWriter backed by the provided configuration.
func NewClusterWriter(cfg *appconfig.Config) (*ClusterWriter, error) {
	if !cfg.Storage.S3.Enabled {
		return nil, fmt.Errorf("s3 storage disabled")
	}

	ctx := context.Background()
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	metaDir, err := os.MkdirTemp("", "cluster-metadata")
	if err != nil {
		return nil, fmt.Errorf("create metadata dir: %w", err)
	}
	meta := metadata.NewGenerator(metaDir, cfg.Liqflow.Name+"_liquidation_clusters")

	maxBuffer := cfg.Storage.S3.MaxBuffer
	if maxBuffer <= 0 {
		maxBuffer = 512
	}

	jobCapacity := maxBuffer * 2
	if jobCapacity < 128 {
		jobCapacity = 128
	}

	return &ClusterWriter{
		cfg:       cfg,
		s3Client:  s3Client,
		metaGen:   meta,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		buffer:    make(map[string][]clusterEntry),
		maxBuffer: maxBuffer,
		jobCh:     make(chan clusterBatch, jobCapacity),
	}, nil
}

// Start launches the flush and upload workers.
func (w *ClusterWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("cluster writer already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.buffer = make(map[string][]clusterEntry)
	flushInterval := w.cfg.Storage.S3.FlushInterval
	if flushInterval <= 0 {
		flushInterval = time.Minute
	}
	w.flushTicker = time.NewTicker(flushInterval)
	w.mu.Unlock()

	w.log.WithComponent("cluster_writer").WithFields(logger.Fields{
		"flush_interval": flushInterval,
		"max_buffer":     w.maxBuffer,
	}).Info("starting cluster archive writer")

	w.wg.Add(1)
	go w.flushLoop()

	workers := w.cfg.Storage.S3.UploadWorkers
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.uploadWorker()
	}

	return nil
}

// Stop flushes pending buffers and waits for all workers to finish.
func (w *ClusterWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	ticker := w.flushTicker
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ticker != nil {
		ticker.Stop()
	}

	w.flushBuffers("shutdown")
	close(w.jobCh)
	w.wg.Wait()
	w.log.WithComponent("cluster_writer").Info("cluster archive writer stopped")
}

// Archive queues every cluster of a cycle's liquidation maps for upload.
func (w *ClusterWriter) Archive(cycleID string, at time.Time, maps map[string]models.AssetLiquidationMap) {
	for coin, m := range maps {
		for _, c := range m.LongLiquidations {
			w.addEntry(clusterEntry{CycleID: cycleID, Coin: coin, CurrentPrice: m.CurrentPrice, Cluster: c, Timestamp: at})
		}
		for _, c := range m.ShortLiquidations {
			w.addEntry(clusterEntry{CycleID: cycleID, Coin: coin, CurrentPrice: m.CurrentPrice, Cluster: c, Timestamp: at})
		}
	}
}

func (w *ClusterWriter) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flushBuffers("interval")
		}
	}
}

func (w *ClusterWriter) uploadWorker() {
	defer w.wg.Done()
	for batch := range w.jobCh {
		w.processBatch(batch)
	}
}

func (w *ClusterWriter) addEntry(e clusterEntry) {
	key := strings.ToUpper(e.Coin)

	var flushEntries []clusterEntry
	w.mu.Lock()
	w.buffer[key] = append(w.buffer[key], e)
	if len(w.buffer[key]) >= w.maxBuffer {
		flushEntries = w.buffer[key]
		delete(w.buffer, key)
	}
	w.mu.Unlock()

	if len(flushEntries) > 0 {
		w.enqueueBatch(key, flushEntries, "max_buffer")
	}
}

func (w *ClusterWriter) flushBuffers(reason string) {
	w.mu.Lock()
	buffers := w.buffer
	w.buffer = make(map[string][]clusterEntry)
	w.mu.Unlock()

	for key, entries := range buffers {
		if len(entries) == 0 {
			continue
		}
		w.enqueueBatch(key, entries, reason)
	}
}

func (w *ClusterWriter) enqueueBatch(coin string, entries []clusterEntry, reason string) {
	ts := time.Now().UTC()
	if len(entries) > 0 && !entries[len(entries)-1].Timestamp.IsZero() {
		ts = entries[len(entries)-1].Timestamp
	}
	batch := clusterBatch{
		Coin:        coin,
		Entries:     entries,
		Timestamp:   ts,
		Reason:      reason,
		RecordCount: len(entries),
	}
	select {
	case w.jobCh <- batch:
	case <-w.ctx.Done():
	}
}

func (w *ClusterWriter) processBatch(batch clusterBatch) {
	entryLog := w.log.WithComponent("cluster_writer").WithFields(logger.Fields{
		"coin":         batch.Coin,
		"record_count": batch.RecordCount,
		"reason":       batch.Reason,
	})

	if batch.RecordCount == 0 {
		entryLog.Debug("cluster batch empty, skipping")
		return
	}

	key := w.generateS3Key(batch)
	data, size, err := w.createParquet(batch)
	if err != nil {
		entryLog.WithError(err).Error("failed to create cluster parquet")
		return
	}

	if err := w.uploadToS3(key, data); err != nil {
		entryLog.WithError(err).WithFields(logger.Fields{"key": key}).Error("failed to upload cluster parquet")
		return
	}

	df := metadata.DataFile{
		Path:        fmt.Sprintf("s3://%s/%s", w.cfg.Storage.S3.Bucket, key),
		FileSize:    size,
		RecordCount: int64(batch.RecordCount),
		Partition: map[string]any{
			"coin": batch.Coin,
			"date": batch.Timestamp.UTC().Format("2006-01-02"),
		},
		Timestamp: batch.Timestamp,
	}
	if w.metaGen != nil {
		if err := w.metaGen.AddFile(df); err != nil {
			entryLog.WithError(err).Warn("failed to update cluster metadata")
		}
	}

	logger.IncrementArchiveWrite(size)
	entryLog.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": size,
	}).Info("cluster batch uploaded")
}

func (w *ClusterWriter) createParquet(batch clusterBatch) ([]byte, int64, error) {
	records := make([]clusterParquetRecord, 0, len(batch.Entries))
	for _, entry := range batch.Entries {
		ts := entry.Timestamp
		if ts.IsZero() {
			ts = batch.Timestamp
		}
		records = append(records, clusterParquetRecord{
			CycleID:       entry.CycleID,
			Coin:          entry.Coin,
			Side:          string(entry.Cluster.Side),
			Timestamp:     ts.UnixMilli(),
			CurrentPrice:  entry.CurrentPrice,
			PriceLow:      entry.Cluster.PriceLow,
			PriceHigh:     entry.Cluster.PriceHigh,
			PriceCenter:   entry.Cluster.PriceCenter,
			TotalSizeUSD:  entry.Cluster.TotalSizeUSD,
			PositionCount: int32(entry.Cluster.PositionCount),
			AvgLeverage:   entry.Cluster.AvgLeverage,
		})
	}

	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(clusterParquetRecord), 1)
	if err != nil {
		return nil, 0, fmt.Errorf("new parquet writer: %w", err)
	}

	switch strings.ToLower(w.cfg.Storage.Parquet.Compression) {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, 0, fmt.Errorf("write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, 0, fmt.Errorf("finalize parquet: %w", err)
	}

	data := mem.Bytes()
	return data, int64(len(data)), nil
}

func (w *ClusterWriter) generateS3Key(batch clusterBatch) string {
	datePart := batch.Timestamp.UTC().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s_clusters.parquet",
		strings.ToUpper(batch.Coin),
		time.Now().UTC().Format("20060102150405")+uuid.NewString(),
	)
	key := filepath.Join(
		"liquidation_clusters",
		fmt.Sprintf("coin=%s", strings.ToUpper(batch.Coin)),
		fmt.Sprintf("date=%s", datePart),
		filename,
	)
	return filepath.ToSlash(key)
}

func (w *ClusterWriter) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.cfg.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":    "parquet",
			"compression":     w.cfg.Storage.Parquet.Compression,
			"liqflow-version": w.cfg.Liqflow.Version,
		},
	}

	ctx, cancel := context.WithTimeout(w.ctx, 2*time.Minute)
	defer cancel()
	_, err := w.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("upload cluster parquet: %w", err)
	}
	return nil
}
