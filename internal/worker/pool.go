package worker

import (
	"context"
	"sync"

	"segcompact/internal/compaction"
	"segcompact/internal/manager"
	"segcompact/internal/metrics"
	"segcompact/internal/schema"
	"segcompact/internal/storage"

	"go.uber.org/zap"
)

// Pool manages a pool of compaction workers
type Pool struct {
	size     int
	config   Config
	client   storage.Client
	schema   schema.Store
	manager  *manager.Manager
	metrics  *metrics.Collector
	load     compaction.LoadSource
	reporter compaction.SeverityReporter
	logger   *zap.Logger
}

// NewPool creates a new worker pool
func NewPool(
	size int,
	config Config,
	client storage.Client,
	schemaStore schema.Store,
	mgr *manager.Manager,
	metricsCollector *metrics.Collector,
	load compaction.LoadSource,
	reporter compaction.SeverityReporter,
	logger *zap.Logger,
) *Pool {
	return &Pool{
		size:     size,
		config:   config,
		client:   client,
		schema:   schemaStore,
		manager:  mgr,
		metrics:  metricsCollector,
		load:     load,
		reporter: reporter,
		logger:   logger,
	}
}

// Start starts the workers; each exits when tasks is closed or ctx is done
func (p *Pool) Start(ctx context.Context, tasks <-chan Task, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, tasks, wg)
	}
}

func (p *Pool) worker(ctx context.Context, id int, tasks <-chan Task, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	processor := &TaskProcessor{
		config:   p.config,
		client:   p.client,
		schema:   p.schema,
		manager:  p.manager,
		metrics:  p.metrics,
		load:     p.load,
		reporter: p.reporter,
		logger:   logger,
	}

	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				logger.Debug("Worker finished - no more tasks")
				return
			}

			processor.Process(ctx, task)

		case <-ctx.Done():
			logger.Debug("Worker stopped - context cancelled")
			return
		}
	}
}
