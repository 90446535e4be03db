package worker

import (
	"sync/atomic"

	"segcompact/internal/compaction"

	"go.uber.org/zap"
)

// Task asks for one table to be compacted
type Task struct {
	TableID compaction.TableID `json:"table_id"`
}

// Config contains worker configuration
type Config struct {
	Bucket         string
	PartSize       int64
	MinSegments    int
	Retries        int
	RetryBackoffMs int
}

// CompactionTask is a running compaction of one table's segments
type CompactionTask struct {
	*compaction.Holder

	base       compaction.Info
	totalBytes int64

	// done is the high-water mark over all attempts; attempt is the
	// current attempt's merged bytes
	done    atomic.Int64
	attempt atomic.Int64
}

// NewCompactionTask creates the task and its handle; the load is captured now
func NewCompactionTask(
	lookup compaction.MetadataLookup,
	table compaction.TableID,
	totalBytes int64,
	load compaction.LoadSource,
	reporter compaction.SeverityReporter,
	logger *zap.Logger,
) *CompactionTask {
	t := &CompactionTask{
		base:       compaction.NewTableInfo(lookup, table, compaction.OperationCompaction, 0, totalBytes),
		totalBytes: totalBytes,
	}
	t.Holder = compaction.NewHolder(t, load, reporter, logger)
	return t
}

// CompactionInfo returns a snapshot of the merge progress
func (t *CompactionTask) CompactionInfo() compaction.Info {
	return t.base.WithProgress(t.done.Load(), t.totalBytes)
}

// beginAttempt resets the per-attempt counter before a merge (re)starts
func (t *CompactionTask) beginAttempt() {
	t.attempt.Store(0)
}

// advance records n bytes merged by the current attempt. The reported
// progress only moves once the attempt passes the previous high-water mark.
func (t *CompactionTask) advance(n int64) {
	t.attempt.Store(n)
	for {
		cur := t.done.Load()
		if n <= cur || t.done.CompareAndSwap(cur, n) {
			return
		}
	}
}

// attemptBytes returns the bytes merged by the current attempt
func (t *CompactionTask) attemptBytes() int64 {
	return t.attempt.Load()
}
