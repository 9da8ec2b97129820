// Package main is the entry point for the simcore daemon: it wires the
// lifecycle kernel, the instantiation job runner, the reference template
// store, and the maintenance scheduler, then seeds a demo template set so a
// freshly started process has something to instantiate. The HTTP/WebSocket
// transport is an external collaborator; this binary only exposes the core
// through the readapi package.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/simcore/internal/config"
	"github.com/aristath/simcore/internal/jobrunner"
	"github.com/aristath/simcore/internal/kernel"
	"github.com/aristath/simcore/internal/readapi"
	"github.com/aristath/simcore/internal/scheduler"
	"github.com/aristath/simcore/internal/simclock"
	"github.com/aristath/simcore/internal/templatestore"
	"github.com/aristath/simcore/pkg/logger"
	"github.com/aristath/simcore/pkg/snapshot"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	logger.SetGlobalLogger(log)

	log.Info().Msg("starting simcore")

	k := kernel.New(kernel.Config{
		FPS:       cfg.KernelTickHz,
		MaxErrors: cfg.KernelMaxErrors,
		Log:       log,
	})

	store, err := templatestore.New(templatestore.Config{Path: cfg.TemplateDBPath, Log: log})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open template store")
	}
	defer store.Close()

	if err := seedDemoTemplates(store); err != nil {
		log.Warn().Err(err).Msg("failed to seed demo templates")
	}

	initialMinute, err := simclock.ParseTimeOfDay(cfg.ExchangeInitialTime)
	if err != nil {
		log.Fatal().Err(err).Str("value", cfg.ExchangeInitialTime).Msg("invalid EXCHANGE_INITIAL_TIME")
	}
	trading, nonTrading := simclock.LoadIntervalsFile(cfg.TradingIntervalsFile, log)

	api := readapi.New(k, readapi.Config{
		InitialMinuteOfDay: initialMinute,
		Acceleration:       cfg.ExchangeAcceleration,
		TradingWindows:     trading,
		NonTradingWindows:  nonTrading,
		Log:                log,
	})

	pool := jobrunner.New(k, store, api, jobrunner.Config{
		PoolSize:      cfg.WorkerPoolSize,
		MaxConcurrent: cfg.WorkerMaxConcurrent,
		Timeout:       time.Duration(cfg.WorkerTimeoutMs) * time.Millisecond,
		RetryAttempts: cfg.WorkerRetryAttempts,
		ArchiveTTL:    time.Duration(cfg.TaskArchiveTTLMs) * time.Millisecond,
		Log:           log,
	})
	api.SetPool(pool)

	if cfg.SnapshotS3Bucket != "" {
		uploader, err := snapshot.NewUploader(context.Background(), snapshot.UploaderConfig{
			Bucket:          cfg.SnapshotS3Bucket,
			Region:          cfg.SnapshotS3Region,
			Endpoint:        cfg.SnapshotS3Endpoint,
			AccessKeyID:     cfg.SnapshotS3AccessKey,
			SecretAccessKey: cfg.SnapshotS3SecretKey,
			Log:             log,
		})
		if err != nil {
			log.Warn().Err(err).Msg("snapshot uploader unavailable, exports stay local")
		} else {
			api.SetUploader(uploader)
		}
	}

	k.Start()
	pool.Start()

	sched := scheduler.New(log)
	if err := sched.AddJob("@every 30s", jobrunner.NewArchiveSweeper(pool, log)); err != nil {
		log.Fatal().Err(err).Msg("failed to register archive sweep")
	}
	sched.Start()

	log.Info().Int("fps", cfg.KernelTickHz).Msg("simcore started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	sched.Stop()
	pool.Stop()
	k.Stop()
	log.Info().Msg("simcore stopped")
}

// seedDemoTemplates upserts a small template set so a fresh install can
// instantiate an environment immediately.
func seedDemoTemplates(store *templatestore.Store) error {
	stocks := []jobrunner.StockTemplate{
		{ID: "stock-acme", Symbol: "ACME", CompanyName: "Acme Industries", Category: "Industrials", IssuePrice: 42.50, TotalShares: 1_000_000},
		{ID: "stock-glbx", Symbol: "GLBX", CompanyName: "Globex Corporation", Category: "Technology", IssuePrice: 118.00, TotalShares: 2_500_000},
		{ID: "stock-intx", Symbol: "INTX", CompanyName: "Initech Systems", Category: "Technology", IssuePrice: 23.75, TotalShares: 800_000},
	}
	for _, s := range stocks {
		if err := store.SaveStockTemplate(s); err != nil {
			return err
		}
	}

	traders := []jobrunner.TraderTemplate{
		{ID: "trader-steady", Name: "Steady Eddie", InitialCapital: 100_000, RiskProfile: "Conservative"},
		{ID: "trader-balanced", Name: "Balanced Bella", InitialCapital: 250_000, RiskProfile: "Moderate"},
		{ID: "trader-yolo", Name: "Momentum Max", InitialCapital: 500_000, RiskProfile: "Aggressive"},
	}
	for _, t := range traders {
		if err := store.SaveTraderTemplate(t); err != nil {
			return err
		}
	}

	return store.SaveExchangeTemplate(jobrunner.ExchangeTemplate{
		ID:                "exchange-demo",
		Name:              "Demo Exchange",
		Description:       "Seeded training environment with three stocks and three traders",
		StockTemplateIDs:  []string{"stock-acme", "stock-glbx", "stock-intx"},
		TraderTemplateIDs: []string{"trader-steady", "trader-balanced", "trader-yolo"},
	})
}
