// pkg/etl/state.go
package etl

// State is the pipeline lifecycle. Transitions only move forward:
// Idle -> Reading -> Processing -> Loading -> (next chunk: Reading) and
// finally Complete, or Failed from anywhere.
type State string

const (
	StateIdle       State = "Idle"
	StateReading    State = "Reading"
	StateProcessing State = "Processing"
	StateLoading    State = "Loading"
	StateComplete   State = "Complete"
	StateFailed     State = "Failed"
)

// Terminal reports whether the pipeline has stopped.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}
