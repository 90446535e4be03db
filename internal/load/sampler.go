// Package load measures the node load used to weight operation severity.
package load

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MeasureFunc returns the current live size of the node's data, in bytes
type MeasureFunc func(ctx context.Context) (int64, error)

// Sampler caches the latest load measurement.
// Load returns 0 until the first successful measurement.
type Sampler struct {
	measure  MeasureFunc
	interval time.Duration
	logger   *zap.Logger

	value atomic.Uint64 // float64 bits
}

// NewSampler creates a sampler refreshing every interval
func NewSampler(measure MeasureFunc, interval time.Duration, logger *zap.Logger) *Sampler {
	return &Sampler{
		measure:  measure,
		interval: interval,
		logger:   logger,
	}
}

// Load returns the last measured load
func (s *Sampler) Load() float64 {
	return math.Float64frombits(s.value.Load())
}

// Refresh takes a measurement now; on failure the previous value is kept
func (s *Sampler) Refresh(ctx context.Context) error {
	size, err := s.measure(ctx)
	if err != nil {
		return err
	}
	s.value.Store(math.Float64bits(float64(size)))
	return nil
}

// Run refreshes the load until ctx is done
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		err := s.Refresh(ctx)
		switch {
		case err == nil:
			s.logger.Debug("Node load measured", zap.Float64("load", s.Load()))
		case ctx.Err() == nil:
			s.logger.Warn("Failed to measure node load", zap.Error(err))
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}
