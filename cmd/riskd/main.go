package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/vitalenv/climate-risk-service/internal/adapter/httpapi"
	kafkaadapter "github.com/vitalenv/climate-risk-service/internal/adapter/kafka"
	"github.com/vitalenv/climate-risk-service/internal/adapter/openmeteo"
	"github.com/vitalenv/climate-risk-service/internal/adapter/zippopotam"
	"github.com/vitalenv/climate-risk-service/internal/cache"
	"github.com/vitalenv/climate-risk-service/internal/config"
	"github.com/vitalenv/climate-risk-service/internal/domain"
	"github.com/vitalenv/climate-risk-service/internal/enrich"
	"github.com/vitalenv/climate-risk-service/internal/observability"
	"github.com/vitalenv/climate-risk-service/internal/pipeline"
	"github.com/vitalenv/climate-risk-service/internal/scoring"
	"github.com/vitalenv/climate-risk-service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	resolver := zippopotam.NewCachedResolver(
		zippopotam.NewClient(cfg.ZipBaseURL, cfg.ZipTimeout, metrics, logger),
		cfg.ZipCacheSize)
	fetcher := openmeteo.NewClient(cfg.WeatherBaseURL, cfg.AirQualityBaseURL,
		cfg.ForecastDays, cfg.FetchTimeout, metrics, logger)
	dailyCache := cache.New(cfg.CachePath, logger)

	enricher := enrich.New(resolver, fetcher, dailyCache, cfg.FetchTimeout, metrics, logger)

	// The delegate commands are optional; without them the built-in model runs.
	var scorer domain.Scorer
	if len(cfg.ScorerBatchCmd) > 0 {
		scorer = scoring.NewSubprocess(cfg.ScorerBatchCmd, cfg.ScorerPatientCmd,
			cfg.ScratchDir, cfg.ScorerTimeout, metrics, logger)
		logger.Info("subprocess scorer enabled", "batch_cmd", cfg.ScorerBatchCmd[0])
	} else {
		scorer = scoring.NewLocal()
		logger.Info("in-process scorer enabled")
	}

	st, err := store.Open(cfg.StoreDSN, metrics, logger)
	if err != nil {
		logger.Error("failed to open result store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var publisher pipeline.Publisher
	var kafkaWriter *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		kafkaWriter = kafkaadapter.NewWriter(cfg, logger)
		publisher = kafkaWriter
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	p := pipeline.New(enricher, scorer, st, publisher, metrics, logger)

	srv := httpapi.NewServer(cfg.HTTPAddr, p, st, st, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Drop yesterday's cache shortly after midnight so the first request of
	// the day does not pay the prune.
	scheduler := gocron.NewScheduler(time.Local)
	if _, err := scheduler.Every(1).Day().At("00:05").Do(func() {
		if err := dailyCache.Prune(); err != nil {
			logger.Warn("daily cache prune failed", "error", err)
		}
	}); err != nil {
		logger.Error("failed to schedule cache prune", "error", err)
		os.Exit(1)
	}
	scheduler.StartAsync()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
