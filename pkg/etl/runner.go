// pkg/etl/runner.go

// Package etl orchestrates the pipeline: chunked read, validate, derive,
// batch load, exclusion logging, and run accounting. One run is one pass
// over one input file into one table.
package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/urbanmetrics/trip-ingress/pkg/derive"
	"github.com/urbanmetrics/trip-ingress/pkg/exclusion"
	"github.com/urbanmetrics/trip-ingress/pkg/loader"
	"github.com/urbanmetrics/trip-ingress/pkg/model"
	"github.com/urbanmetrics/trip-ingress/pkg/source"
	"github.com/urbanmetrics/trip-ingress/pkg/validate"
)

// Runner drives one ETL run. Build it with NewRunner, call Run once.
type Runner struct {
	source    source.Source
	validator *validate.Validator
	loader    *loader.BatchLoader
	exclusion *exclusion.Logger
	verifier  *Verifier

	inputPath    string
	table        string
	exclusionLog string

	state  State
	logger *zap.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithVerifier enables the post-run row-count check.
func WithVerifier(v *Verifier) RunnerOption {
	return func(r *Runner) { r.verifier = v }
}

// NewRunner wires a pipeline. The exclusion logger may be nil, in which case
// rejected rows are only counted, not persisted.
func NewRunner(
	src source.Source,
	validator *validate.Validator,
	batchLoader *loader.BatchLoader,
	excl *exclusion.Logger,
	inputPath, table, exclusionLog string,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		source:       src,
		validator:    validator,
		loader:       batchLoader,
		exclusion:    excl,
		inputPath:    inputPath,
		table:        table,
		exclusionLog: exclusionLog,
		state:        StateIdle,
		logger:       zap.L().Named("etl"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State reports the pipeline's current lifecycle state.
func (r *Runner) State() State {
	return r.state
}

// Run executes the pipeline to completion or first fatal error. Row-level
// problems (rejections, per-row insert failures) never fail the run; source
// errors, exhausted batch retries, and context cancellation do. Counters in
// the returned summary are valid in either case.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		RunID:        uuid.New().String(),
		InputPath:    r.inputPath,
		Table:        r.table,
		ExclusionLog: r.exclusionLog,
		StartedAt:    time.Now().UTC(),
		Counters:     newCounters(),
	}
	logger := r.logger.With(zap.String("runId", summary.RunID))

	logger.Info("Starting run",
		zap.String("input", r.inputPath),
		zap.String("table", r.table))

	if r.verifier != nil {
		if err := r.verifier.Begin(ctx); err != nil {
			summary.Warnings = append(summary.Warnings,
				fmt.Sprintf("row-count verification disabled: %v", err))
			r.verifier = nil
		}
	}

	chunkIndex := 0
	for {
		if err := ctx.Err(); err != nil {
			return r.fail(summary, logger, fmt.Errorf("run cancelled: %w", err))
		}

		r.state = StateReading
		chunk, err := r.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return r.fail(summary, logger, fmt.Errorf("source failed at chunk %d: %w", chunkIndex, err))
		}

		if err := r.processChunk(ctx, summary, chunkIndex, chunk); err != nil {
			return r.fail(summary, logger, err)
		}

		logger.Info("Chunk complete",
			zap.Int("chunk", chunkIndex),
			zap.Int("rows", len(chunk)),
			zap.Int64("totalRead", summary.Counters.RowsRead),
			zap.Int64("totalInserted", summary.Counters.RowsInserted),
			zap.Int64("totalExcluded", summary.Counters.RowsExcluded))

		chunkIndex++
		summary.ChunksRead = chunkIndex
	}

	if r.verifier != nil {
		if warning := r.verifier.Check(ctx, summary.Counters.RowsInserted); warning != "" {
			summary.Warnings = append(summary.Warnings, warning)
			logger.Warn("Row-count verification mismatch", zap.String("detail", warning))
		}
	}

	r.state = StateComplete
	summary.finalize(StateComplete, nil)

	logger.Info("Run complete",
		zap.Int64("rowsRead", summary.Counters.RowsRead),
		zap.Int64("rowsInserted", summary.Counters.RowsInserted),
		zap.Int64("rowsExcluded", summary.Counters.RowsExcluded),
		zap.Float64("successRate", summary.SuccessRate),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// processChunk validates and derives every row of the chunk, queues the
// survivors, and flushes the loader so chunk boundaries are also batch
// boundaries.
func (r *Runner) processChunk(ctx context.Context, summary *Summary, chunkIndex int, chunk []model.RawTripRecord) error {
	r.state = StateProcessing

	// Raw rows by source line, for exclusion logging of insert failures.
	raws := make(map[int64]model.RawTripRecord, len(chunk))

	for _, raw := range chunk {
		summary.Counters.RowsRead++
		raws[raw.Line] = raw

		rec, reason := r.validator.Validate(raw)
		if reason != validate.ReasonNone {
			summary.Counters.exclude(reason)
			r.logExclusion(summary.RunID, chunkIndex, raw, reason, "")
			continue
		}

		derive.Features(&rec)
		summary.Counters.RowsCleaned++

		result, err := r.loader.Add(ctx, rec)
		if err != nil {
			return fmt.Errorf("load failed at chunk %d: %w", chunkIndex, err)
		}
		r.account(summary, chunkIndex, raws, result)
	}

	r.state = StateLoading
	result, err := r.loader.Flush(ctx)
	if err != nil {
		return fmt.Errorf("load failed at chunk %d: %w", chunkIndex, err)
	}
	r.account(summary, chunkIndex, raws, result)

	return nil
}

func (r *Runner) account(summary *Summary, chunkIndex int, raws map[int64]model.RawTripRecord, result loader.FlushResult) {
	summary.Counters.RowsInserted += int64(result.Inserted)
	for _, failed := range result.Failed {
		summary.Counters.markInsertFailed()
		raw, ok := raws[failed.Row.Line]
		if !ok {
			raw = model.RawTripRecord{Line: failed.Row.Line}
		}
		r.logExclusion(summary.RunID, chunkIndex, raw, validate.ReasonInsertFailed, failed.Err.Error())
	}
}

// logExclusion persists a rejection. Audit-trail failures degrade to a log
// warning; they never affect the run.
func (r *Runner) logExclusion(runID string, chunkIndex int, raw model.RawTripRecord, reason validate.Reason, detail string) {
	if r.exclusion == nil {
		return
	}
	rec := exclusion.NewRecord(runID, chunkIndex, raw, reason, detail)
	if err := r.exclusion.Log(rec); err != nil {
		r.logger.Warn("Failed to persist exclusion record",
			zap.Int64("line", raw.Line),
			zap.String("reason", reason.String()),
			zap.Error(err))
	}
}

func (r *Runner) fail(summary *Summary, logger *zap.Logger, err error) (*Summary, error) {
	r.state = StateFailed
	summary.finalize(StateFailed, err)
	logger.Error("Run failed",
		zap.Int64("rowsRead", summary.Counters.RowsRead),
		zap.Int64("rowsInserted", summary.Counters.RowsInserted),
		zap.Error(err))
	return summary, err
}
