package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"liqflow/config"
	"liqflow/internal/aggregator"
	"liqflow/internal/collector"
	"liqflow/internal/discovery"
	"liqflow/internal/history"
	"liqflow/internal/hyperliquid"
	"liqflow/internal/marketdata"
	"liqflow/internal/metrics"
	"liqflow/internal/scanner"
	"liqflow/internal/state"
	"liqflow/internal/writer"
	"liqflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Liqflow.Name,
		"version":     cfg.Liqflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting liqflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Metrics.Prometheus {
		metrics.Init("")
	}
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(
			cfg.Metrics.CloudWatch.Region,
			cfg.Metrics.CloudWatch.Namespace,
			cfg.Metrics.CloudWatch.DashboardName,
		)
		logger.InitCloudWatch(
			cfg.Metrics.CloudWatch.Region,
			cfg.Metrics.CloudWatch.Namespace,
			cfg.Metrics.CloudWatch.DashboardName,
		)
	}

	client := hyperliquid.NewClient(cfg.Source, log)
	disc := discovery.New(client, cfg.Source.WSURL, cfg.Discovery, cfg.Collector.OrderedAssets(), log)
	scan := scanner.New(client, cfg.Scanner, log)
	agg := aggregator.New(cfg.Aggregator, log)
	market := marketdata.NewCache(client, cfg.MarketData, log)
	store := state.NewStore()

	coll := collector.New(cfg, disc, scan, agg, market, store, log)

	var hist *history.Store
	if cfg.Storage.SQLite.Enabled {
		hist, err = history.Open(cfg.Storage.SQLite.Path, log)
		if err != nil {
			log.WithError(err).Error("failed to open historical store")
			os.Exit(1)
		}
		coll.SetHistory(hist)
	} else {
		log.WithComponent("main").Info("SQLite storage disabled; skipping historical store")
	}

	var archive *writer.ClusterWriter
	if cfg.Storage.S3.Enabled {
		archive, err = writer.NewClusterWriter(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create S3 archive writer")
			os.Exit(1)
		}
		coll.SetArchive(archive)
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping archive writer")
	}

	if err := disc.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start wallet discovery")
		os.Exit(1)
	}
	if archive != nil {
		if err := archive.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start archive writer")
			os.Exit(1)
		}
	}
	if err := coll.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start collector")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		log.Info("stopping collector")
		coll.Stop()

		log.Info("stopping wallet discovery")
		disc.Stop()

		if archive != nil {
			log.Info("stopping archive writer")
			archive.Stop()
		}
		if hist != nil {
			log.Info("closing historical store")
			if err := hist.Close(); err != nil {
				log.WithError(err).Warn("failed to close historical store")
			}
		}
	}()

	select {
	case <-shutdownDone:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("liqflow stopped")
}
