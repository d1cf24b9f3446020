package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/bangumi-scanner/internal/cache"
	"github.com/JakeFAU/bangumi-scanner/internal/clock/system"
	"github.com/JakeFAU/bangumi-scanner/internal/config"
	"github.com/JakeFAU/bangumi-scanner/internal/export"
	"github.com/JakeFAU/bangumi-scanner/internal/export/gcs"
	"github.com/JakeFAU/bangumi-scanner/internal/export/postgres"
	pubsubexport "github.com/JakeFAU/bangumi-scanner/internal/export/pubsub"
	collyfetcher "github.com/JakeFAU/bangumi-scanner/internal/fetcher/colly"
	"github.com/JakeFAU/bangumi-scanner/internal/hash/sha256"
	"github.com/JakeFAU/bangumi-scanner/internal/id/uuid"
	"github.com/JakeFAU/bangumi-scanner/internal/metrics"
	"github.com/JakeFAU/bangumi-scanner/internal/progress"
	"github.com/JakeFAU/bangumi-scanner/internal/progress/sinks"
	"github.com/JakeFAU/bangumi-scanner/internal/resolver"
	"github.com/JakeFAU/bangumi-scanner/internal/resolver/api"
	"github.com/JakeFAU/bangumi-scanner/internal/resolver/page"
	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

const shutdownTimeout = 5 * time.Second

// completionMessage is printed once the output file and every export are done.
const completionMessage = "Mission completed."

// runScan wires the scan pipeline for cfg, runs it and publishes the result.
func runScan(ctx context.Context, cfg config.Config, logger *zap.Logger, out io.Writer) error {
	runID, err := uuid.New().NewRunID()
	if err != nil {
		return err
	}
	logger = logger.With(zap.Stringer("run_id", runID))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	fetchMetrics, err := metrics.NewCollectors(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("register progress metrics: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(reg, fetchMetrics, logger)
		if err := srv.Start(cfg.Metrics.Addr); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", zap.Error(err))
			}
		}()
	}

	// Exporters are built up front so a bad destination fails before the scan.
	exporters, closeExporters, err := buildExporters(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeExporters()

	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger),
		sinks.NewReportSink(logger, cfg.ReportInterval()),
		promSink,
	)
	closeHub := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	defer closeHub()

	fetcher := fetchMetrics.InstrumentFetcher(collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Resolver.UserAgent,
		Timeout:   cfg.RequestTimeout(),
		MaxRPS:    cfg.Resolver.MaxRPS,
		Burst:     cfg.Resolver.Burst,
	}))
	res, err := buildResolver(cfg, fetcher, logger)
	if err != nil {
		return err
	}
	retrying := resolver.NewRetrying(res,
		resolver.WithCooldown(cfg.RetryCooldown()),
		resolver.WithLogger(logger),
	)

	store, err := cache.New(cache.Config{
		Dir:         cfg.Output.CacheDir,
		Delimiter:   cfg.Output.Delimiter,
		URLTemplate: cfg.Resolver.URLTemplate,
	}, logger)
	if err != nil {
		return fmt.Errorf("init cache store: %w", err)
	}
	merger, err := cache.NewMerger(store, cfg.Output.Path, cfg.Output.Delimiter, logger)
	if err != nil {
		return fmt.Errorf("init merger: %w", err)
	}

	clock := system.New()
	runBytes := progress.UUIDToBytes(runID)
	worker := scan.NewWorker(retrying, store, cfg.Scan.ThrottleStep, logger,
		scan.WithEmitter(hub),
		scan.WithRunID(runBytes),
		scan.WithClock(clock),
	)
	coordinator := scan.NewCoordinator(scan.Config{
		RangeBegin:       cfg.Scan.RangeBegin,
		RangeEnd:         cfg.Scan.RangeEnd,
		ChunkSize:        cfg.Scan.ChunkSize,
		MaxConcurrency:   cfg.Scan.MaxConcurrency,
		ThrottleStep:     cfg.Scan.ThrottleStep,
		CleanupOnFailure: cfg.Scan.CleanupOnFailure,
	}, worker, merger, hub, runBytes, logger, scan.WithCoordinatorClock(clock))

	result, err := coordinator.Run(ctx)
	closeHub()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("scan interrupted: %w", err)
		}
		return fmt.Errorf("run scan: %w", err)
	}

	digest, err := sha256.File(merger.Output())
	if err != nil {
		return err
	}
	summary := export.Summary{
		RunID:      runID,
		RangeBegin: cfg.Scan.RangeBegin,
		RangeEnd:   cfg.Scan.RangeEnd,
		Records:    result.Merged,
		Output:     merger.Output(),
		SHA256:     digest,
		FinishedAt: clock.Now(),
	}
	if err := export.RunAll(ctx, exporters, summary, merger.Records(), logger); err != nil {
		return err
	}

	logger.Info("scan finished",
		zap.String("output", merger.Output()),
		zap.Int("records", result.Merged),
		zap.String("sha256", digest),
		zap.Int64("processed", result.Processed),
		zap.Duration("dur", result.Duration),
	)
	_, err = fmt.Fprintln(out, completionMessage)
	return err
}

// buildResolver selects the API or page resolver.
func buildResolver(cfg config.Config, fetcher resolver.Fetcher, logger *zap.Logger) (scan.Resolver, error) {
	switch resolver.Mode(cfg.Resolver.Mode) {
	case resolver.ModePage:
		r, err := page.New(cfg.Resolver.URLTemplate, fetcher, logger)
		if err != nil {
			return nil, fmt.Errorf("init page resolver: %w", err)
		}
		return r, nil
	case resolver.ModeAPI:
		r, err := api.New(api.Config{
			Endpoint:    cfg.Resolver.APIEndpoint,
			URLTemplate: cfg.Resolver.URLTemplate,
		}, fetcher, logger)
		if err != nil {
			return nil, fmt.Errorf("init api resolver: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown resolver mode %q", cfg.Resolver.Mode)
	}
}

// buildExporters returns the configured exporters in GCS, Postgres, Pub/Sub
// order and a func releasing their clients.
func buildExporters(ctx context.Context, cfg config.Config, logger *zap.Logger) ([]export.Exporter, func(), error) {
	var (
		exporters []export.Exporter
		closers   []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) ([]export.Exporter, func(), error) {
		closeAll()
		return nil, func() {}, err
	}

	if cfg.GCS.Bucket != "" {
		var opts []option.ClientOption
		if cfg.GCS.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.GCS.Endpoint), option.WithoutAuthentication())
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return fail(fmt.Errorf("create storage client: %w", err))
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("storage client close failed", zap.Error(err))
			}
		})
		exp, err := gcs.New(client, gcs.Config{
			Bucket:      cfg.GCS.Bucket,
			Prefix:      cfg.GCS.Prefix,
			ContentType: cfg.GCS.ContentType,
		})
		if err != nil {
			return fail(fmt.Errorf("init gcs exporter: %w", err))
		}
		exporters = append(exporters, exp)
	}

	if cfg.DB.DSN != "" {
		exp, err := postgres.New(ctx, postgres.Config{DSN: cfg.DB.DSN, Table: cfg.DB.Table})
		if err != nil {
			return fail(fmt.Errorf("init postgres exporter: %w", err))
		}
		closers = append(closers, exp.Close)
		exporters = append(exporters, exp)
	}

	if cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fail(fmt.Errorf("create pubsub client: %w", err))
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("pubsub client close failed", zap.Error(err))
			}
		})
		pub := pubsubexport.New(client.Topic(cfg.PubSub.TopicName))
		closers = append(closers, pub.Stop)
		exporters = append(exporters, pub)
	}

	return exporters, closeAll, nil
}
