package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"segcompact/internal/config"
	"segcompact/internal/feedback"
	"segcompact/internal/load"
	"segcompact/internal/manager"
	"segcompact/internal/metrics"
	"segcompact/internal/progress"
	"segcompact/internal/schema"
	"segcompact/internal/storage"
	"segcompact/internal/worker"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Compactor runs a compaction pass over every registered table
type Compactor struct {
	cfg      *config.Config
	logger   *zap.Logger
	client   storage.Client
	schema   schema.Store
	registry *prometheus.Registry
	metrics  *metrics.Collector
	severity *feedback.Aggregator
	sampler  *load.Sampler
	manager  *manager.Manager
	workers  *worker.Pool
}

// New creates a compactor backed by the configured bucket and schema database
func New(cfg *config.Config, logger *zap.Logger) (*Compactor, error) {
	client, err := storage.NewMinIOClient(storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Secure:    cfg.Storage.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	schemaStore, err := schema.NewSQLiteStore(cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema registry: %w", err)
	}

	return NewWithStores(cfg, logger, client, schemaStore), nil
}

// NewWithStores creates a compactor on top of existing stores
func NewWithStores(cfg *config.Config, logger *zap.Logger, client storage.Client, schemaStore schema.Store) *Compactor {
	registry := prometheus.NewRegistry()
	metricsCollector := metrics.New(registry)
	severity := feedback.NewAggregator(registry)
	mgr := manager.New(logger)

	bucket := cfg.Storage.Bucket
	sampler := load.NewSampler(func(ctx context.Context) (int64, error) {
		return storage.BucketSize(ctx, client, bucket)
	}, cfg.Compaction.LoadInterval, logger)

	workerPool := worker.NewPool(cfg.Compaction.Concurrency, worker.Config{
		Bucket:         bucket,
		PartSize:       cfg.Compaction.PartSize,
		MinSegments:    cfg.Compaction.MinSegments,
		Retries:        cfg.Compaction.Retries,
		RetryBackoffMs: cfg.Compaction.RetryBackoffMs,
	}, client, schemaStore, mgr, metricsCollector, sampler, severity, logger)

	return &Compactor{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		schema:   schemaStore,
		registry: registry,
		metrics:  metricsCollector,
		severity: severity,
		sampler:  sampler,
		manager:  mgr,
		workers:  workerPool,
	}
}

// Manager returns the registry of running operations
func (c *Compactor) Manager() *manager.Manager { return c.manager }

// Severity returns the node severity aggregator
func (c *Compactor) Severity() *feedback.Aggregator { return c.severity }

// Status returns the progress of the current pass
func (c *Compactor) Status() progress.Status {
	return c.metrics.GetProgressTracker().GetStatus()
}

// Run executes one compaction pass, serving status until it completes
func (c *Compactor) Run(ctx context.Context) error {
	c.logger.Info("Starting compaction pass",
		zap.String("bucket", c.cfg.Storage.Bucket),
		zap.Int("concurrency", c.cfg.Compaction.Concurrency),
		zap.Int("min_segments", c.cfg.Compaction.MinSegments),
	)

	// Handles capture the load when created, so take a first measurement now.
	if err := c.sampler.Refresh(ctx); err != nil {
		c.logger.Warn("Failed to measure node load, severity will not be reported", zap.Error(err))
	}

	var g run.Group

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return c.sampler.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	if c.cfg.Status.Addr != "" {
		ctx, cancel := context.WithCancel(ctx)
		handler := metrics.NewHandler(c.registry, c.manager, c.logger)
		g.Add(func() error {
			return metrics.Serve(ctx, c.cfg.Status.Addr, handler, c.logger)
		}, func(error) {
			cancel()
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return c.compactAll(ctx)
		}, func(error) {
			cancel()
			c.manager.StopAll()
		})
	}

	return g.Run()
}

func (c *Compactor) compactAll(ctx context.Context) error {
	tables, err := c.schema.ListTables()
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	var totalBytes int64
	for _, t := range tables {
		segments, err := storage.List(ctx, c.client, c.cfg.Storage.Bucket, t.Prefix())
		if err != nil {
			c.logger.Warn("Failed to size table, progress may be inaccurate",
				zap.String("keyspace", t.Keyspace), zap.String("table", t.Name), zap.Error(err))
			continue
		}
		for _, s := range segments {
			totalBytes += s.Size
		}
	}
	c.metrics.SetTotalCounts(int64(len(tables)), totalBytes)
	c.logger.Info("Tables to process",
		zap.Int("tables", len(tables)),
		zap.String("total_size", progress.FormatBytes(totalBytes)),
	)

	var display *progress.Display
	if c.cfg.Compaction.ShowProgress && progress.IsTerminalSupported() {
		display = progress.NewDisplay(c.metrics.GetProgressTracker(), c.manager, 2*time.Second, os.Stdout)
		display.Start()
	}

	tasks := make(chan worker.Task, c.cfg.Compaction.Concurrency*2)
	var wg sync.WaitGroup
	c.workers.Start(ctx, tasks, &wg)

	var enqueueErr error
enqueue:
	for _, t := range tables {
		select {
		case tasks <- worker.Task{TableID: t.ID}:
		case <-ctx.Done():
			enqueueErr = ctx.Err()
			break enqueue
		}
	}
	close(tasks)
	wg.Wait()

	if display != nil {
		display.Stop()
	}

	status := c.metrics.GetProgressTracker().GetStatus()
	c.logger.Info("Compaction pass completed",
		zap.Int64("compacted", status.CompactedTables),
		zap.Int64("skipped", status.SkippedTables),
		zap.Int64("stopped", status.StoppedTables),
		zap.Int64("failed", status.FailedTables),
	)
	return enqueueErr
}

// Close releases the compactor's resources
func (c *Compactor) Close() error {
	c.severity.Close()
	if c.schema != nil {
		return c.schema.Close()
	}
	return nil
}
