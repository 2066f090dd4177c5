// pkg/source/source.go
package source

import (
	"context"
	"errors"

	"github.com/urbanmetrics/trip-ingress/pkg/model"
)

// Source produces a lazy, finite sequence of raw record chunks. Next returns
// io.EOF once the source is exhausted. Only one chunk lives in memory at a
// time, so the pipeline scales to inputs far larger than available RAM.
//
// The orchestrator is written against this interface so the same pipeline
// runs against a file, a stream, or a test fixture.
type Source interface {
	// Next returns the next chunk of at most the configured chunk size.
	// The last chunk may be shorter. Returns io.EOF when exhausted.
	Next(ctx context.Context) ([]model.RawTripRecord, error)

	// Close releases the underlying resources.
	Close() error
}

// ErrSourceUnavailable indicates the input could not be opened at all.
var ErrSourceUnavailable = errors.New("source unavailable")

// ErrMalformedSource indicates the structural parse failed before any data
// row was read (missing or unrecognizable column headers).
var ErrMalformedSource = errors.New("malformed source")
