// Package feedback accumulates the node-wide severity signal raised by heavy
// background operations.
package feedback

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrClosed is returned when reporting to a closed aggregator
var ErrClosed = errors.New("severity aggregator is closed")

// Aggregator sums severity deltas reported by concurrent tasks
type Aggregator struct {
	mu       sync.Mutex
	severity float64
	reports  int64
	closed   bool

	gauge prometheus.Gauge
}

// NewAggregator creates an aggregator; the severity gauge is registered on reg when non-nil
func NewAggregator(reg prometheus.Registerer) *Aggregator {
	a := &Aggregator{
		gauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "segcompact_severity",
			Help: "Load-weighted severity of running background operations",
		}),
	}
	if reg != nil {
		reg.MustRegister(a.gauge)
	}
	return a
}

// ReportSeverity adds delta to the node severity
func (a *Aggregator) ReportSeverity(delta float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	a.severity += delta
	a.reports++
	a.gauge.Set(a.severity)
	return nil
}

// Severity returns the accumulated severity
func (a *Aggregator) Severity() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.severity
}

// Reports returns how many deltas have been accepted
func (a *Aggregator) Reports() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reports
}

// Close rejects further reports
func (a *Aggregator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
