// pkg/loader/loader.go

// Package loader moves cleaned trips into the sink in transactional batches,
// with bounded retries for transient failures and a per-row fallback so one
// bad row never sinks its batchmates.
package loader

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/urbanmetrics/trip-ingress/pkg/model"
)

// FailedRow describes a single row the loader gave up on.
type FailedRow struct {
	Row model.CleanedTripRecord
	Err error
}

// FlushResult summarizes one flush.
type FlushResult struct {
	Inserted int
	Failed   []FailedRow
}

// BatchLoader accumulates cleaned rows and writes them to a RowSink in
// batches of a fixed maximum size. It is not safe for concurrent use; the
// pipeline feeds it from a single goroutine.
type BatchLoader struct {
	sink       RowSink
	batchSize  int
	attempts   int
	retryDelay time.Duration
	logger     *zap.Logger

	pending []model.CleanedTripRecord
}

// LoaderOption configures a BatchLoader.
type LoaderOption func(*BatchLoader)

// WithRetry sets the number of attempts per batch and the base delay between
// them. The delay doubles after each failed attempt.
func WithRetry(attempts int, delay time.Duration) LoaderOption {
	return func(l *BatchLoader) {
		if attempts > 0 {
			l.attempts = attempts
		}
		l.retryDelay = delay
	}
}

// NewBatchLoader builds a loader that flushes at batchSize rows.
func NewBatchLoader(sink RowSink, batchSize int, opts ...LoaderOption) *BatchLoader {
	l := &BatchLoader{
		sink:       sink,
		batchSize:  batchSize,
		attempts:   3,
		retryDelay: time.Second,
		logger:     zap.L().Named("loader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add queues a row and flushes automatically when the batch is full. The
// returned result is zero unless a flush happened.
func (l *BatchLoader) Add(ctx context.Context, row model.CleanedTripRecord) (FlushResult, error) {
	l.pending = append(l.pending, row)
	if len(l.pending) >= l.batchSize {
		return l.Flush(ctx)
	}
	return FlushResult{}, nil
}

// Flush writes all pending rows. The whole batch is attempted first; on a
// retryable error the batch is retried with exponential backoff, and on a
// non-retryable error each row is attempted on its own so only the genuinely
// bad rows fail. Retry exhaustion on a retryable error means the sink itself
// is gone, and that is fatal: the per-row path exists for bad rows, not for
// outages. Context cancellation is likewise fatal.
func (l *BatchLoader) Flush(ctx context.Context) (FlushResult, error) {
	if len(l.pending) == 0 {
		return FlushResult{}, nil
	}
	batch := l.pending
	l.pending = nil

	var result FlushResult
	for start := 0; start < len(batch); start += l.batchSize {
		end := start + l.batchSize
		if end > len(batch) {
			end = len(batch)
		}
		sub, err := l.flushBatch(ctx, batch[start:end])
		result.Inserted += sub.Inserted
		result.Failed = append(result.Failed, sub.Failed...)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

func (l *BatchLoader) flushBatch(ctx context.Context, batch []model.CleanedTripRecord) (FlushResult, error) {
	var result FlushResult

	err := l.insertWithRetry(ctx, batch)
	if err == nil {
		result.Inserted = len(batch)
		return result, nil
	}
	if ctx.Err() != nil {
		return result, fmt.Errorf("load aborted: %w", ctx.Err())
	}
	if IsRetryable(err) {
		return result, fmt.Errorf("sink unavailable after %d attempts: %w", l.attempts, err)
	}

	l.logger.Warn("Batch insert failed, falling back to per-row inserts",
		zap.Int("batchSize", len(batch)),
		zap.Error(err))

	for _, row := range batch {
		if ctx.Err() != nil {
			return result, fmt.Errorf("load aborted: %w", ctx.Err())
		}
		if rowErr := l.sink.InsertRow(ctx, row); rowErr != nil {
			if IsRetryable(rowErr) {
				return result, fmt.Errorf("sink unavailable during row fallback: %w", rowErr)
			}
			l.logger.Warn("Row insert failed",
				zap.Int64("line", row.Line),
				zap.Bool("constraintViolation", IsConstraintViolation(rowErr)),
				zap.Error(rowErr))
			result.Failed = append(result.Failed, FailedRow{Row: row, Err: rowErr})
			continue
		}
		result.Inserted++
	}
	return result, nil
}

func (l *BatchLoader) insertWithRetry(ctx context.Context, batch []model.CleanedTripRecord) error {
	delay := l.retryDelay
	var err error
	for attempt := 1; attempt <= l.attempts; attempt++ {
		err = l.sink.InsertBatch(ctx, batch)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == l.attempts {
			return err
		}

		l.logger.Warn("Retryable batch insert failure",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", l.attempts),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// Pending reports how many rows are queued but not yet flushed.
func (l *BatchLoader) Pending() int {
	return len(l.pending)
}
