// pkg/validate/reason.go
package validate

// Reason is the closed set of exclusion reasons. Every rejected row carries
// exactly one of these; the first rule that fires wins.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonMissingOrUnparseable
	ReasonInvalidTimeRange
	ReasonOutOfBounds
	ReasonInvalidPassengerCount
	ReasonInvalidFare
	ReasonDegenerateTrip
	ReasonInsertFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonMissingOrUnparseable:
		return "MissingOrUnparseable"
	case ReasonInvalidTimeRange:
		return "InvalidTimeRange"
	case ReasonOutOfBounds:
		return "OutOfBounds"
	case ReasonInvalidPassengerCount:
		return "InvalidPassengerCount"
	case ReasonInvalidFare:
		return "InvalidFare"
	case ReasonDegenerateTrip:
		return "DegenerateTrip"
	case ReasonInsertFailed:
		return "InsertFailed"
	default:
		return "Unknown"
	}
}

// MarshalText lets the reason serialize by name in the exclusion log.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
