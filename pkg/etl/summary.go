// pkg/etl/summary.go
package etl

import (
	"time"

	"github.com/urbanmetrics/trip-ingress/pkg/validate"
)

// Counters accumulates row accounting across the run. At any chunk boundary
// RowsCleaned + RowsExcluded == RowsRead, and at Complete
// RowsInserted == RowsCleaned: a row that fails insert is moved from cleaned
// to excluded with reason InsertFailed.
type Counters struct {
	RowsRead     int64 `json:"rows_read"`
	RowsCleaned  int64 `json:"rows_cleaned"`
	RowsExcluded int64 `json:"rows_excluded"`
	RowsInserted int64 `json:"rows_inserted"`

	ExclusionsByReason map[string]int64 `json:"exclusions_by_reason"`
}

func newCounters() Counters {
	return Counters{ExclusionsByReason: make(map[string]int64)}
}

func (c *Counters) exclude(reason validate.Reason) {
	c.RowsExcluded++
	c.ExclusionsByReason[reason.String()]++
}

// markInsertFailed reclassifies an already-cleaned row as excluded.
func (c *Counters) markInsertFailed() {
	c.RowsCleaned--
	c.exclude(validate.ReasonInsertFailed)
}

// Summary is the final report of a run, emitted as JSON.
type Summary struct {
	RunID        string        `json:"run_id"`
	State        State         `json:"state"`
	InputPath    string        `json:"input_path"`
	Table        string        `json:"table"`
	ChunksRead   int           `json:"chunks_read"`
	Counters     Counters      `json:"counters"`
	SuccessRate  float64       `json:"success_rate"`
	ExclusionLog string        `json:"exclusion_log"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Duration     time.Duration `json:"duration_ns"`
	Warnings     []string      `json:"warnings,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (s *Summary) finalize(state State, err error) {
	s.State = state
	s.FinishedAt = time.Now().UTC()
	s.Duration = s.FinishedAt.Sub(s.StartedAt)
	if s.Counters.RowsRead > 0 {
		s.SuccessRate = float64(s.Counters.RowsInserted) / float64(s.Counters.RowsRead)
	}
	if err != nil {
		s.Error = err.Error()
	}
}
