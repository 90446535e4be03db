package worker_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"segcompact/internal/compaction"
	"segcompact/internal/feedback"
	"segcompact/internal/manager"
	"segcompact/internal/metrics"
	"segcompact/internal/schema"
	"segcompact/internal/storage"
	"segcompact/internal/worker"
)

const bucket = "segments"

type fixedLoad float64

func (l fixedLoad) Load() float64 { return float64(l) }

type harness struct {
	client  *storage.MemoryClient
	schema  *schema.MemoryStore
	manager *manager.Manager
	metrics *metrics.Collector
	agg     *feedback.Aggregator
	pool    *worker.Pool
}

func newHarness(t *testing.T, retries int) *harness {
	h := &harness{
		client: storage.NewMemoryClient(),
		schema: schema.NewMemoryStore(
			schema.Table{ID: 1, Keyspace: "ks1", Name: "events"},
			schema.Table{ID: 2, Keyspace: "ks1", Name: "single"},
		),
		manager: manager.New(zap.NewNop()),
		metrics: metrics.New(prometheus.NewRegistry()),
		agg:     feedback.NewAggregator(nil),
	}

	cfg := worker.Config{
		Bucket:         bucket,
		PartSize:       4,
		MinSegments:    2,
		Retries:        retries,
		RetryBackoffMs: 1,
	}
	h.pool = worker.NewPool(1, cfg, h.client, h.schema, h.manager, h.metrics, fixedLoad(100), h.agg, zap.NewNop())

	h.client.Put(bucket, "ks1/events/001", []byte("hello "))
	h.client.Put(bucket, "ks1/events/002", []byte("segment "))
	h.client.Put(bucket, "ks1/events/003", []byte("world"))
	h.client.Put(bucket, "ks1/single/001", []byte("alone"))
	return h
}

func (h *harness) run(tables ...compaction.TableID) {
	tasks := make(chan worker.Task, len(tables))
	for _, id := range tables {
		tasks <- worker.Task{TableID: id}
	}
	close(tasks)

	var wg sync.WaitGroup
	h.pool.Start(context.Background(), tasks, &wg)
	wg.Wait()
}

func TestCompactMergesSegments(t *testing.T) {
	h := newHarness(t, 3)

	h.run(1)

	keys := h.client.Keys(bucket, "ks1/events/")
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "ks1/events/compacted-"))
	data, ok := h.client.Bytes(bucket, keys[0])
	require.True(t, ok)
	assert.Equal(t, "hello segment world", string(data))

	assert.Equal(t, 0, h.client.PendingUploads())
	assert.Equal(t, 0, h.manager.Active())
	assert.Equal(t, int64(2), h.agg.Reports())
	assert.InDelta(t, 0, h.agg.Severity(), 1e-9)

	status := h.metrics.GetProgressTracker().GetStatus()
	assert.Equal(t, int64(1), status.CompactedTables)
	assert.Equal(t, int64(19), status.ProcessedBytes)
}

func TestCompactSkips(t *testing.T) {
	h := newHarness(t, 3)

	h.run(2, 99)

	assert.Equal(t, []string{"ks1/single/001"}, h.client.Keys(bucket, "ks1/single/"))
	assert.Equal(t, int64(0), h.agg.Reports())

	status := h.metrics.GetProgressTracker().GetStatus()
	assert.Equal(t, int64(2), status.SkippedTables)
	assert.Equal(t, int64(5), status.ProcessedBytes)
}

func TestCompactStopRequested(t *testing.T) {
	h := newHarness(t, 3)

	var progress []compaction.Info
	h.client.PartHook = func(part int) error {
		progress = append(progress, h.manager.Compactions()...)
		if part == 2 {
			h.manager.StopCompaction(compaction.OperationCompaction)
		}
		return nil
	}

	h.run(1)

	assert.Equal(t, []string{"ks1/events/001", "ks1/events/002", "ks1/events/003"}, h.client.Keys(bucket, "ks1/events/"))
	assert.Equal(t, 0, h.client.PendingUploads())
	assert.InDelta(t, 0, h.agg.Severity(), 1e-9)
	assert.Equal(t, int64(1), h.metrics.GetProgressTracker().GetStatus().StoppedTables)

	require.Len(t, progress, 2)
	assert.Equal(t, "COMPACTION@1(ks1, events, 0/19)", progress[0].String())
	assert.Equal(t, "COMPACTION@1(ks1, events, 4/19)", progress[1].String())
}

func TestCompactRetries(t *testing.T) {
	tests := map[string]struct {
		failures     int
		failPart     int // 0 fails any part
		err          error
		expCompacted int64
		expFailed    int64
		expBytes     int64
	}{
		"transient failure is retried": {
			failures:     1,
			err:          errors.New("503 service unavailable"),
			expCompacted: 1,
			expBytes:     19,
		},
		"failure after the first part restarts the merge": {
			failures:     1,
			failPart:     2,
			err:          errors.New("503 service unavailable"),
			expCompacted: 1,
			expBytes:     19,
		},
		"permanent failure is not retried": {
			failures:  1,
			err:       errors.New("access denied"),
			expFailed: 1,
		},
		"retries exhausted": {
			failures:  10,
			failPart:  3,
			err:       errors.New("connection reset"),
			expFailed: 1,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, 3)
			failures := test.failures
			var seen []int64
			h.client.PartHook = func(part int) error {
				for _, info := range h.manager.Compactions() {
					seen = append(seen, info.BytesComplete())
				}
				if failures > 0 && (test.failPart == 0 || part == test.failPart) {
					failures--
					return test.err
				}
				return nil
			}

			h.run(1)

			status := h.metrics.GetProgressTracker().GetStatus()
			assert.Equal(t, test.expCompacted, status.CompactedTables)
			assert.Equal(t, test.expFailed, status.FailedTables)
			assert.Equal(t, test.expBytes, status.ProcessedBytes)
			assert.Equal(t, 0, h.client.PendingUploads())
			assert.InDelta(t, 0, h.agg.Severity(), 1e-9)

			for i := 1; i < len(seen); i++ {
				assert.GreaterOrEqual(t, seen[i], seen[i-1], "progress went backwards: %v", seen)
			}

			if test.expCompacted > 0 {
				keys := h.client.Keys(bucket, "ks1/events/")
				require.Len(t, keys, 1)
				data, ok := h.client.Bytes(bucket, keys[0])
				require.True(t, ok)
				assert.Equal(t, "hello segment world", string(data))
			}
		})
	}
}

func TestCompactionTaskSeverity(t *testing.T) {
	agg := feedback.NewAggregator(nil)
	lookup := schema.Lookup{Store: schema.NewMemoryStore(schema.Table{ID: 42, Keyspace: "ks1", Name: "cf1"})}
	task := worker.NewCompactionTask(lookup, 42, 1000, fixedLoad(10), agg, zap.NewNop())

	assert.Equal(t, "COMPACTION@42(ks1, cf1, 0/1000)", task.CompactionInfo().String())

	task.Started()
	assert.InDelta(t, 100, agg.Severity(), 1e-9)
	task.Finished()
	assert.InDelta(t, 0, agg.Severity(), 1e-9)
}
