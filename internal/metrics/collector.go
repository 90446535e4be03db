package metrics

import (
	"time"

	"segcompact/internal/progress"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of a compaction task
const (
	OutcomeCompacted = "compacted"
	OutcomeSkipped   = "skipped"
	OutcomeStopped   = "stopped"
	OutcomeFailed    = "failed"
)

// Collector collects and exposes compaction metrics
type Collector struct {
	tablesTotal     *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	activeTasks     prometheus.Gauge
	duration        prometheus.Histogram
	progressTracker *progress.Tracker
}

// New creates a collector registered on reg
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tablesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "segcompact_tables_total",
				Help: "Total number of tables processed, by outcome",
			},
			[]string{"outcome"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "segcompact_bytes_total",
				Help: "Total segment bytes merged",
			},
		),
		activeTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "segcompact_active_tasks",
				Help: "Number of compactions currently running",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "segcompact_task_duration_seconds",
				Help:    "Time taken to compact a table",
				Buckets: prometheus.DefBuckets,
			},
		),
		progressTracker: progress.NewTracker(),
	}

	reg.MustRegister(c.tablesTotal, c.bytesTotal, c.activeTasks, c.duration)

	return c
}

// IncCompacted records a completed compaction
func (c *Collector) IncCompacted(duration time.Duration) {
	c.tablesTotal.WithLabelValues(OutcomeCompacted).Inc()
	c.duration.Observe(duration.Seconds())
	c.progressTracker.AddCompacted()
}

// IncSkipped records a table that needed no compaction
func (c *Collector) IncSkipped(bytes int64) {
	c.tablesTotal.WithLabelValues(OutcomeSkipped).Inc()
	c.progressTracker.AddSkipped(bytes)
}

// IncStopped records a compaction stopped on request
func (c *Collector) IncStopped() {
	c.tablesTotal.WithLabelValues(OutcomeStopped).Inc()
	c.progressTracker.AddStopped()
}

// IncFailed records a failed compaction
func (c *Collector) IncFailed() {
	c.tablesTotal.WithLabelValues(OutcomeFailed).Inc()
	c.progressTracker.AddFailed()
}

// AddBytes adds merged bytes
func (c *Collector) AddBytes(bytes int64) {
	c.bytesTotal.Add(float64(bytes))
	c.progressTracker.AddBytes(bytes)
}

// SetActiveTasks sets the number of running compactions
func (c *Collector) SetActiveTasks(count int) {
	c.activeTasks.Set(float64(count))
}

// GetProgressTracker returns the pass progress tracker
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}

// SetTotalCounts sets the totals for progress tracking
func (c *Collector) SetTotalCounts(tables, bytes int64) {
	c.progressTracker.SetTotal(tables, bytes)
}
