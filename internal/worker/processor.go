package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"segcompact/internal/compaction"
	"segcompact/internal/manager"
	"segcompact/internal/metrics"
	"segcompact/internal/progress"
	"segcompact/internal/schema"
	"segcompact/internal/storage"

	"go.uber.org/zap"
)

// ErrStopped is returned when a compaction observes a stop request
var ErrStopped = errors.New("compaction stopped")

// compactedPrefix names the objects written by a compaction
const compactedPrefix = "compacted-"

// TaskProcessor compacts tables one at a time
type TaskProcessor struct {
	config   Config
	client   storage.Client
	schema   schema.Store
	manager  *manager.Manager
	metrics  *metrics.Collector
	load     compaction.LoadSource
	reporter compaction.SeverityReporter
	logger   *zap.Logger
}

// Process compacts the segments of one table
func (p *TaskProcessor) Process(ctx context.Context, task Task) {
	startTime := time.Now()
	logger := p.logger.With(zap.Int32("table_id", int32(task.TableID)))

	table, err := p.schema.GetTable(task.TableID)
	if err != nil {
		p.metrics.IncFailed()
		logger.Error("Failed to resolve table", zap.Error(err))
		return
	}
	if table == nil {
		p.metrics.IncSkipped(0)
		logger.Info("Skipping dropped table")
		return
	}
	logger = logger.With(zap.String("keyspace", table.Keyspace), zap.String("table", table.Name))

	segments, err := storage.List(ctx, p.client, p.config.Bucket, table.Prefix())
	if err != nil {
		p.metrics.IncFailed()
		logger.Error("Failed to list segments", zap.Error(err))
		return
	}

	var totalBytes int64
	for _, seg := range segments {
		totalBytes += seg.Size
	}

	if len(segments) < p.config.MinSegments {
		p.metrics.IncSkipped(totalBytes)
		logger.Debug("Not enough segments to compact", zap.Int("segments", len(segments)))
		return
	}

	ct := NewCompactionTask(schema.Lookup{Store: p.schema}, table.ID, totalBytes, p.load, p.reporter, logger)
	p.manager.Begin(ct)
	p.metrics.SetActiveTasks(p.manager.Active())
	defer func() {
		p.manager.Finish(ct)
		p.metrics.SetActiveTasks(p.manager.Active())
	}()

	var lastErr error
	for attempt := 1; attempt <= p.config.Retries; attempt++ {
		err := p.compact(ctx, ct, table, segments)
		if err == nil {
			p.metrics.IncCompacted(time.Since(startTime))
			logger.Info("Table compacted",
				zap.Int("segments", len(segments)),
				zap.String("size", progress.FormatBytes(totalBytes)),
				zap.Duration("duration", time.Since(startTime)),
			)
			return
		}

		if errors.Is(err, ErrStopped) || ctx.Err() != nil {
			p.metrics.IncStopped()
			logger.Info("Compaction stopped", zap.Stringer("info", ct.CompactionInfo()))
			return
		}

		lastErr = err
		logger.Warn("Compaction attempt failed",
			zap.Int("attempt", attempt),
			zap.Int64("discarded_bytes", ct.attemptBytes()),
			zap.Error(err))

		if !p.isRetriableError(err) || attempt == p.config.Retries {
			break
		}

		select {
		case <-time.After(p.calculateBackoff(attempt)):
		case <-ctx.Done():
		}
	}

	p.metrics.IncFailed()
	logger.Error("Compaction failed after all retries", zap.Error(lastErr))
}

// compact merges segments into one object and removes the inputs
func (p *TaskProcessor) compact(ctx context.Context, ct *CompactionTask, table *schema.Table, segments []storage.ObjectInfo) error {
	bucket := p.config.Bucket
	ct.beginAttempt()
	output := fmt.Sprintf("%s%s%d", table.Prefix(), compactedPrefix, time.Now().UnixNano())

	if ct.totalBytes == 0 {
		if err := p.client.PutObject(ctx, bucket, output, bytes.NewReader(nil), 0, storage.PutOptions{}); err != nil {
			return fmt.Errorf("failed to write empty segment: %w", err)
		}
		p.removeSegments(ctx, table, segments)
		return nil
	}

	opts := storage.PutOptions{
		ContentType: "application/octet-stream",
		Metadata:    map[string]string{"segments": fmt.Sprint(len(segments))},
	}
	uploadID, err := p.client.NewMultipartUpload(ctx, bucket, output, opts)
	if err != nil {
		return fmt.Errorf("failed to initiate multipart upload: %w", err)
	}

	parts, err := p.uploadParts(ctx, ct, uploadID, output, segments)
	if err != nil {
		if abortErr := p.client.AbortMultipartUpload(context.WithoutCancel(ctx), bucket, output, uploadID); abortErr != nil {
			p.logger.Warn("Failed to abort upload", zap.String("key", output), zap.Error(abortErr))
		}
		return err
	}

	if err := p.client.CompleteMultipartUpload(ctx, bucket, output, uploadID, parts); err != nil {
		if abortErr := p.client.AbortMultipartUpload(context.WithoutCancel(ctx), bucket, output, uploadID); abortErr != nil {
			p.logger.Warn("Failed to abort upload", zap.String("key", output), zap.Error(abortErr))
		}
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	p.metrics.AddBytes(ct.totalBytes)

	p.removeSegments(ctx, table, segments)
	return nil
}

// uploadParts streams the segments into parts of PartSize bytes, polling for
// stop requests before every read and every upload.
func (p *TaskProcessor) uploadParts(ctx context.Context, ct *CompactionTask, uploadID, output string, segments []storage.ObjectInfo) ([]storage.CompletedPart, error) {
	partCount := int(math.Ceil(float64(ct.totalBytes) / float64(p.config.PartSize)))
	parts := make([]storage.CompletedPart, 0, partCount)
	buf := make([]byte, 0, p.config.PartSize)

	var written int64
	flush := func() error {
		if err := p.checkStop(ctx, ct); err != nil {
			return err
		}

		partNum := len(parts) + 1
		etag, err := p.client.UploadPart(ctx, p.config.Bucket, output, uploadID, partNum,
			bytes.NewReader(buf), int64(len(buf)))
		if err != nil {
			return fmt.Errorf("failed to upload part %d: %w", partNum, err)
		}
		parts = append(parts, storage.CompletedPart{PartNumber: partNum, ETag: etag})

		written += int64(len(buf))
		ct.advance(written)
		buf = buf[:0]
		return nil
	}

	for _, seg := range segments {
		if err := p.checkStop(ctx, ct); err != nil {
			return nil, err
		}

		obj, err := p.client.GetObject(ctx, p.config.Bucket, seg.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to get segment %s: %w", seg.Key, err)
		}

		for {
			n, err := io.ReadFull(obj, buf[len(buf):cap(buf)])
			buf = buf[:len(buf)+n]
			if len(buf) == cap(buf) {
				if err := flush(); err != nil {
					obj.Close()
					return nil, err
				}
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			if err != nil {
				obj.Close()
				return nil, fmt.Errorf("failed to read segment %s: %w", seg.Key, err)
			}
		}
		obj.Close()
	}

	if len(buf) > 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}

	return parts, nil
}

func (p *TaskProcessor) checkStop(ctx context.Context, ct *CompactionTask) error {
	if ct.IsStopRequested() {
		return ErrStopped
	}
	return ctx.Err()
}

func (p *TaskProcessor) removeSegments(ctx context.Context, table *schema.Table, segments []storage.ObjectInfo) {
	for _, seg := range segments {
		if err := p.client.RemoveObject(ctx, p.config.Bucket, seg.Key); err != nil {
			p.logger.Warn("Failed to remove compacted segment",
				zap.String("keyspace", table.Keyspace),
				zap.String("table", table.Name),
				zap.String("key", seg.Key),
				zap.Error(err))
		}
	}
}

func (p *TaskProcessor) isRetriableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "slow down")
}

func (p *TaskProcessor) calculateBackoff(attempt int) time.Duration {
	base := time.Duration(p.config.RetryBackoffMs) * time.Millisecond
	return base * time.Duration(math.Pow(2, float64(attempt-1)))
}
