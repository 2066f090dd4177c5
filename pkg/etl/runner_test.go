// pkg/etl/runner_test.go
package etl

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/urbanmetrics/trip-ingress/pkg/exclusion"
	"github.com/urbanmetrics/trip-ingress/pkg/loader"
	"github.com/urbanmetrics/trip-ingress/pkg/model"
	"github.com/urbanmetrics/trip-ingress/pkg/source"
	"github.com/urbanmetrics/trip-ingress/pkg/validate"
)

// sliceSource serves pre-built rows in fixed-size chunks, optionally failing
// after a number of chunks.
type sliceSource struct {
	rows      []model.RawTripRecord
	chunkSize int
	failAfter int // chunks served before Next errors; -1 never fails
	served    int
}

func newSliceSource(rows []model.RawTripRecord, chunkSize int) *sliceSource {
	return &sliceSource{rows: rows, chunkSize: chunkSize, failAfter: -1}
}

func (s *sliceSource) Next(ctx context.Context) ([]model.RawTripRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.failAfter >= 0 && s.served >= s.failAfter {
		return nil, errors.New("simulated read failure")
	}
	if len(s.rows) == 0 {
		return nil, io.EOF
	}
	n := s.chunkSize
	if n > len(s.rows) {
		n = len(s.rows)
	}
	chunk := s.rows[:n]
	s.rows = s.rows[n:]
	s.served++
	return chunk, nil
}

func (s *sliceSource) Close() error { return nil }

// memorySink collects inserted rows and can reject scripted lines or play
// dead entirely.
type memorySink struct {
	rejectLines map[int64]bool
	unreachable bool
	inserted    []model.CleanedTripRecord
}

func (m *memorySink) InsertBatch(_ context.Context, rows []model.CleanedTripRecord) error {
	if m.unreachable {
		return errors.New("dial tcp: connection refused")
	}
	for _, row := range rows {
		if m.rejectLines[row.Line] {
			return errors.New(`pq: value violates unique constraint`)
		}
	}
	m.inserted = append(m.inserted, rows...)
	return nil
}

func (m *memorySink) InsertRow(_ context.Context, row model.CleanedTripRecord) error {
	if m.unreachable {
		return errors.New("dial tcp: connection refused")
	}
	if m.rejectLines[row.Line] {
		return errors.New(`pq: value violates unique constraint`)
	}
	m.inserted = append(m.inserted, row)
	return nil
}

func goodRaw(line int64) model.RawTripRecord {
	return model.RawTripRecord{
		Line:            line,
		VendorCode:      "2",
		PickupDatetime:  "2016-01-15 08:30:00",
		DropoffDatetime: "2016-01-15 08:50:00",
		PickupLat:       "40.7580",
		PickupLon:       "-73.9855",
		DropoffLat:      "40.7128",
		DropoffLon:      "-74.0060",
		PassengerCount:  "2",
		TripDistance:    "5.0",
		TripDuration:    "1200",
		FareAmount:      "20.00",
		TipAmount:       "3.00",
	}
}

func badRaw(line int64) model.RawTripRecord {
	raw := goodRaw(line)
	raw.PassengerCount = "-1"
	return raw
}

func newTestRunner(t *testing.T, src source.Source, sink loader.RowSink, batchSize int) *Runner {
	t.Helper()
	excl, err := exclusion.Open(filepath.Join(t.TempDir(), "exclusions.csv"), false)
	require.NoError(t, err)
	t.Cleanup(func() { excl.Close() })

	return NewRunner(
		src,
		validate.NewValidator(),
		loader.NewBatchLoader(sink, batchSize, loader.WithRetry(2, time.Millisecond)),
		excl,
		"test.csv", "trips", "exclusions.csv",
	)
}

func TestRunCountersBalance(t *testing.T) {
	rows := []model.RawTripRecord{
		goodRaw(1), badRaw(2), goodRaw(3), goodRaw(4), badRaw(5),
		goodRaw(6), goodRaw(7),
	}
	sink := &memorySink{}
	runner := newTestRunner(t, newSliceSource(rows, 3), sink, 2)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateComplete, runner.State())
	require.Equal(t, StateComplete, summary.State)

	c := summary.Counters
	require.Equal(t, int64(7), c.RowsRead)
	require.Equal(t, int64(5), c.RowsCleaned)
	require.Equal(t, int64(2), c.RowsExcluded)
	require.Equal(t, int64(5), c.RowsInserted)
	require.Equal(t, c.RowsRead, c.RowsCleaned+c.RowsExcluded)
	require.Equal(t, c.RowsCleaned, c.RowsInserted)
	require.Equal(t, int64(2), c.ExclusionsByReason["InvalidPassengerCount"])
	require.InDelta(t, 5.0/7.0, summary.SuccessRate, 1e-9)
	require.Len(t, sink.inserted, 5)
	require.NotEmpty(t, summary.RunID)
}

func TestRunInsertFailureMovesRowToExcluded(t *testing.T) {
	rows := []model.RawTripRecord{goodRaw(1), goodRaw(2), goodRaw(3)}
	sink := &memorySink{rejectLines: map[int64]bool{2: true}}
	runner := newTestRunner(t, newSliceSource(rows, 10), sink, 10)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	c := summary.Counters
	require.Equal(t, int64(3), c.RowsRead)
	require.Equal(t, int64(2), c.RowsCleaned)
	require.Equal(t, int64(1), c.RowsExcluded)
	require.Equal(t, int64(2), c.RowsInserted)
	require.Equal(t, int64(1), c.ExclusionsByReason["InsertFailed"])
	require.Equal(t, c.RowsRead, c.RowsCleaned+c.RowsExcluded)
}

func TestRunChunkSizeInvariance(t *testing.T) {
	build := func() []model.RawTripRecord {
		var rows []model.RawTripRecord
		for i := int64(1); i <= 20; i++ {
			if i%4 == 0 {
				rows = append(rows, badRaw(i))
			} else {
				rows = append(rows, goodRaw(i))
			}
		}
		return rows
	}

	var summaries []*Summary
	for _, chunkSize := range []int{1, 3, 20} {
		sink := &memorySink{}
		runner := newTestRunner(t, newSliceSource(build(), chunkSize), sink, 4)
		summary, err := runner.Run(context.Background())
		require.NoError(t, err)
		summaries = append(summaries, summary)
	}

	for _, s := range summaries[1:] {
		require.Equal(t, summaries[0].Counters.RowsRead, s.Counters.RowsRead)
		require.Equal(t, summaries[0].Counters.RowsCleaned, s.Counters.RowsCleaned)
		require.Equal(t, summaries[0].Counters.RowsExcluded, s.Counters.RowsExcluded)
		require.Equal(t, summaries[0].Counters.RowsInserted, s.Counters.RowsInserted)
	}
}

func TestRunUnreachableSinkIsFatal(t *testing.T) {
	// A sink that stays down through every retry must fail the run; the
	// rows it could not take are never excluded as InsertFailed.
	rows := []model.RawTripRecord{goodRaw(1), goodRaw(2), goodRaw(3)}
	sink := &memorySink{unreachable: true}
	runner := newTestRunner(t, newSliceSource(rows, 10), sink, 10)

	summary, err := runner.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "sink unavailable")
	require.Equal(t, StateFailed, runner.State())
	require.Equal(t, StateFailed, summary.State)

	c := summary.Counters
	require.Zero(t, c.RowsInserted)
	require.Zero(t, c.ExclusionsByReason["InsertFailed"])
	require.Zero(t, c.RowsExcluded)
}

func TestRunSourceFailureIsFatal(t *testing.T) {
	src := newSliceSource([]model.RawTripRecord{goodRaw(1), goodRaw(2)}, 1)
	src.failAfter = 1
	sink := &memorySink{}
	runner := newTestRunner(t, src, sink, 10)

	summary, err := runner.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, StateFailed, runner.State())
	require.Equal(t, StateFailed, summary.State)
	require.Contains(t, summary.Error, "simulated read failure")

	// Progress up to the failure is preserved.
	require.Equal(t, int64(1), summary.Counters.RowsRead)
	require.Equal(t, int64(1), summary.Counters.RowsInserted)
}

func TestRunCancelledContext(t *testing.T) {
	rows := make([]model.RawTripRecord, 0, 10)
	for i := int64(1); i <= 10; i++ {
		rows = append(rows, goodRaw(i))
	}
	runner := newTestRunner(t, newSliceSource(rows, 2), &memorySink{}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateFailed, summary.State)
}

func TestRunEmptySource(t *testing.T) {
	runner := newTestRunner(t, newSliceSource(nil, 5), &memorySink{}, 5)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateComplete, summary.State)
	require.Zero(t, summary.Counters.RowsRead)
	require.Zero(t, summary.SuccessRate)
}

func TestStateTerminal(t *testing.T) {
	require.True(t, StateComplete.Terminal())
	require.True(t, StateFailed.Terminal())
	require.False(t, StateLoading.Terminal())
	require.False(t, StateIdle.Terminal())
}
