package compaction

import (
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Progressor produces a fresh snapshot of a running operation.
// Implementations must be safe to call from any goroutine.
type Progressor interface {
	CompactionInfo() Info
}

// LoadSource exposes the node load used to weight severity
type LoadSource interface {
	Load() float64
}

// SeverityReporter accumulates severity contributions node-wide.
// Deltas may be positive (task started) or negative (task finished).
type SeverityReporter interface {
	ReportSeverity(delta float64) error
}

// Holder is the handle a running operation exposes to the rest of the node.
// Concrete tasks embed it and supply the Progressor.
type Holder struct {
	progress Progressor
	reporter SeverityReporter
	logger   *zap.Logger

	// captured once at construction
	load float64

	stopRequested atomic.Bool

	mu               sync.Mutex
	reportedSeverity bool
}

// NewHolder creates a handle for the operation described by progress
func NewHolder(progress Progressor, load LoadSource, reporter SeverityReporter, logger *zap.Logger) *Holder {
	if logger == nil {
		logger = zap.NewNop()
	}

	var l float64
	if load != nil {
		l = load.Load()
	}

	return &Holder{
		progress: progress,
		reporter: reporter,
		logger:   logger,
		load:     l,
	}
}

// CompactionInfo returns the current snapshot of the operation
func (h *Holder) CompactionInfo() Info {
	return h.progress.CompactionInfo()
}

// Stop requests the operation to stop at its next safe point
func (h *Holder) Stop() {
	h.stopRequested.Store(true)
}

// IsStopRequested reports whether Stop has been called
func (h *Holder) IsStopRequested() bool {
	return h.stopRequested.Load()
}

// LoadAtStart returns the node load captured when the handle was created
func (h *Holder) LoadAtStart() float64 {
	return h.load
}

// SeverityReported reports whether a severity contribution is outstanding
func (h *Holder) SeverityReported() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reportedSeverity
}

// Started reports the size of the operation as a severity contribution
func (h *Holder) Started() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.reportedSeverity {
		return
	}
	if h.reporter == nil {
		h.logger.Debug("No severity reporter configured, not reporting severity")
		return
	}

	severity, ok := h.severity()
	if !ok {
		h.logger.Debug("Node load unavailable, not reporting severity",
			zap.Float64("load", h.load))
		return
	}

	if err := h.reporter.ReportSeverity(severity); err != nil {
		h.logger.Warn("Failed to report severity",
			zap.Float64("severity", severity),
			zap.Error(err))
		return
	}
	h.reportedSeverity = true
}

// Finished retracts the contribution made by Started, if any
func (h *Holder) Finished() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.reportedSeverity {
		return
	}
	h.reportedSeverity = false

	// recomputed from the current total, which may differ from the one reported
	severity, ok := h.severity()
	if !ok {
		return
	}
	if err := h.reporter.ReportSeverity(-severity); err != nil {
		h.logger.Warn("Failed to retract severity",
			zap.Float64("severity", severity),
			zap.Error(err))
	}
}

func (h *Holder) severity() (float64, bool) {
	if h.load <= 0 || math.IsNaN(h.load) || math.IsInf(h.load, 0) {
		return 0, false
	}
	return float64(h.CompactionInfo().TotalBytes()) / h.load, true
}
