package progress

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Status is the aggregate state of a compaction pass
type Status struct {
	TotalTables     int64
	ProcessedTables int64
	CompactedTables int64
	SkippedTables   int64
	StoppedTables   int64
	FailedTables    int64
	TotalBytes      int64
	ProcessedBytes  int64
	StartTime       time.Time
	LastUpdateTime  time.Time
	CurrentSpeed    float64 // bytes/second over the last window
	AverageSpeed    float64 // bytes/second since start
	ETA             time.Duration
}

// Tracker aggregates the outcome of every table processed in a pass
type Tracker struct {
	mu           sync.RWMutex
	status       Status
	speedSamples []speedSample
	maxSamples   int
	window       time.Duration
}

type speedSample struct {
	timestamp time.Time
	bytes     int64
}

// NewTracker creates a tracker starting now
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{
		status: Status{
			StartTime:      now,
			LastUpdateTime: now,
		},
		speedSamples: make([]speedSample, 0, 60),
		maxSamples:   60,
		window:       5 * time.Second,
	}
}

// SetTotal sets the number of tables and bytes the pass will go through
func (t *Tracker) SetTotal(tables, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.TotalTables = tables
	t.status.TotalBytes = bytes
}

// AddBytes records bytes merged by a running compaction
func (t *Tracker) AddBytes(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.ProcessedBytes += bytes
	t.updateSpeed(bytes)
}

// AddCompacted records a table whose segments were merged
func (t *Tracker) AddCompacted() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.CompactedTables++
	t.status.ProcessedTables++
}

// AddSkipped records a table that needed no compaction; its bytes count as processed
func (t *Tracker) AddSkipped(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.SkippedTables++
	t.status.ProcessedTables++
	t.status.ProcessedBytes += bytes
	t.updateSpeed(bytes)
}

// AddStopped records a table whose compaction was stopped on request
func (t *Tracker) AddStopped() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.StoppedTables++
	t.status.ProcessedTables++
}

// AddFailed records a table whose compaction failed
func (t *Tracker) AddFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.FailedTables++
	t.status.ProcessedTables++
}

// updateSpeed must be called with the lock held
func (t *Tracker) updateSpeed(bytes int64) {
	now := time.Now()

	t.speedSamples = append(t.speedSamples, speedSample{timestamp: now, bytes: bytes})
	if len(t.speedSamples) > t.maxSamples {
		t.speedSamples = t.speedSamples[1:]
	}

	t.status.CurrentSpeed = t.currentSpeed(now)
	if elapsed := now.Sub(t.status.StartTime); elapsed > 0 {
		t.status.AverageSpeed = float64(t.status.ProcessedBytes) / elapsed.Seconds()
	}
	t.status.ETA = t.eta()
	t.status.LastUpdateTime = now
}

func (t *Tracker) currentSpeed(now time.Time) float64 {
	if len(t.speedSamples) < 2 {
		return 0
	}

	cutoff := now.Add(-t.window)
	var (
		recentBytes int64
		first       *speedSample
	)
	for i := len(t.speedSamples) - 1; i >= 0; i-- {
		sample := &t.speedSamples[i]
		if sample.timestamp.Before(cutoff) {
			break
		}
		recentBytes += sample.bytes
		first = sample
	}

	if first == nil {
		return 0
	}
	if d := now.Sub(first.timestamp); d > 0 {
		return float64(recentBytes) / d.Seconds()
	}
	return t.status.CurrentSpeed
}

func (t *Tracker) eta() time.Duration {
	if t.status.TotalBytes == 0 || t.status.AverageSpeed == 0 {
		return 0
	}

	remaining := t.status.TotalBytes - t.status.ProcessedBytes
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/t.status.AverageSpeed) * time.Second
}

// GetStatus returns a copy of the current status
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// BytesPercent returns the processed share of the total bytes
func (s Status) BytesPercent() float64 {
	return Percent(s.ProcessedBytes, s.TotalBytes)
}

// TablesPercent returns the processed share of the tables
func (s Status) TablesPercent() float64 {
	return Percent(s.ProcessedTables, s.TotalTables)
}

// Percent returns done/total as a percentage, 0 when total is unknown
func Percent(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatSpeed formats a byte rate in human readable format
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

// FormatDuration formats a duration as 1h2m3s; zero renders as "calculating..."
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "calculating..."
	}
	return d.Round(time.Second).String()
}
