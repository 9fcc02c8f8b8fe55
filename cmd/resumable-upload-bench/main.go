package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	goanalytics "github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/resumable-upload-bench/analytics"
	"github.com/bitrise-io/resumable-upload-bench/check"
	"github.com/bitrise-io/resumable-upload-bench/config"
	"github.com/bitrise-io/resumable-upload-bench/export"
	"github.com/bitrise-io/resumable-upload-bench/loadtest"
	"github.com/bitrise-io/resumable-upload-bench/metrics"
	"github.com/bitrise-io/resumable-upload-bench/upload"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.NewLogger()
	envRepo := env.NewRepository()

	cfg, err := config.Load(envRepo)
	if err != nil {
		logger.Errorf("%s", err)
		return 1
	}
	logger.EnableDebugLog(cfg.Verbose)

	m := metrics.New()
	if cfg.MetricsAddress != "" {
		server, err := metrics.Listen(cfg.MetricsAddress, m, logger)
		if err != nil {
			logger.Errorf("%s", err)
			return 1
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				logger.Warnf("Failed to stop metrics server: %s", err)
			}
		}()
	}

	httpClient := upload.NewHTTPClient(upload.DefaultTransportConfig(cfg.Options.VirtualUsers), logger)
	defer upload.CloseIdleConnections(httpClient)

	clientOpts := []upload.Option{upload.WithRequestObserver(m)}
	if cfg.RequestsPerSecond > 0 {
		clientOpts = append(clientOpts, upload.WithLimiter(rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)))
	}
	client := upload.NewClient(httpClient, check.NewRegistry(m), logger, clientOpts...)

	runID := uuid.NewString()
	driverOpts := []loadtest.DriverOption{
		loadtest.WithRunID(runID),
		loadtest.WithIterationObserver(m),
	}
	var tracker goanalytics.Tracker = analytics.NoopTracker{}
	if cfg.Analytics {
		tracker = analytics.NewDefaultRunTracker(envRepo, logger, runID, cfg.Options.Dialect.String())
	}
	driverOpts = append(driverOpts, loadtest.WithTracker(tracker))

	driver, err := loadtest.NewDriver(cfg.Options, client, logger, driverOpts...)
	if err != nil {
		logger.Errorf("%s", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary := driver.Run(ctx)
	summary.Print(logger)

	if cfg.ExportOutputs {
		exporter := export.NewExporter(command.NewFactory(envRepo))
		if err := exporter.ExportSummary(summary); err != nil {
			logger.Warnf("Failed to export outputs: %s", err)
		}
	}

	if !summary.Passed() {
		return 1
	}
	return 0
}
