// pkg/exclusion/exclusion.go

// Package exclusion persists every rejected row to an append-only CSV audit
// trail: one line per rejected row, tagged with the single reason that
// excluded it and enough of the raw payload to re-inspect the decision.
package exclusion

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/jszwec/csvutil"
	"go.uber.org/zap"

	"github.com/urbanmetrics/trip-ingress/pkg/model"
	"github.com/urbanmetrics/trip-ingress/pkg/validate"
)

// Record is one exclusion log line.
type Record struct {
	RunID           string          `csv:"run_id"`
	ChunkIndex      int             `csv:"chunk_index"`
	Line            int64           `csv:"line"`
	Reason          validate.Reason `csv:"reason"`
	Detail          string          `csv:"detail"`
	PickupDatetime  string          `csv:"pickup_datetime"`
	DropoffDatetime string          `csv:"dropoff_datetime"`
	PickupLat       string          `csv:"pickup_lat"`
	PickupLon       string          `csv:"pickup_lon"`
	DropoffLat      string          `csv:"dropoff_lat"`
	DropoffLon      string          `csv:"dropoff_lon"`
	PassengerCount  string          `csv:"passenger_count"`
	TripDistance    string          `csv:"trip_distance"`
	FareAmount      string          `csv:"fare_amount"`
}

// NewRecord builds a log line from a raw row and the reason that rejected it.
func NewRecord(runID string, chunkIndex int, raw model.RawTripRecord, reason validate.Reason, detail string) Record {
	return Record{
		RunID:           runID,
		ChunkIndex:      chunkIndex,
		Line:            raw.Line,
		Reason:          reason,
		Detail:          detail,
		PickupDatetime:  raw.PickupDatetime,
		DropoffDatetime: raw.DropoffDatetime,
		PickupLat:       raw.PickupLat,
		PickupLon:       raw.PickupLon,
		DropoffLat:      raw.DropoffLat,
		DropoffLon:      raw.DropoffLon,
		PassengerCount:  raw.PassengerCount,
		TripDistance:    raw.TripDistance,
		FareAmount:      raw.FareAmount,
	}
}

// Logger writes exclusion records to a CSV file. Safe for concurrent use.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	encoder *csvutil.Encoder
	logger  *zap.Logger
	written int64
}

// Open opens (or creates) the exclusion log at path. With overwrite set the
// file is truncated; otherwise new records append after the existing ones
// and the header is only written for an empty file.
func Open(path string, overwrite bool) (*Logger, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if overwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open exclusion log %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat exclusion log %s: %w", path, err)
	}

	writer := csv.NewWriter(file)
	encoder := csvutil.NewEncoder(writer)
	// A non-empty file already carries its header.
	encoder.AutoHeader = info.Size() == 0

	return &Logger{
		file:    file,
		writer:  writer,
		encoder: encoder,
		logger:  zap.L().Named("exclusion-log"),
	}, nil
}

// Log appends one record and flushes it to disk. A logging failure is
// reported but must never abort the run; callers treat the error as a
// warning.
func (l *Logger) Log(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.encoder.Encode(rec); err != nil {
		l.logger.Warn("Failed to encode exclusion record",
			zap.Int64("line", rec.Line),
			zap.Error(err))
		return err
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		l.logger.Warn("Failed to flush exclusion record",
			zap.Int64("line", rec.Line),
			zap.Error(err))
		return err
	}
	l.written++
	return nil
}

// Written reports how many records this logger has persisted.
func (l *Logger) Written() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
