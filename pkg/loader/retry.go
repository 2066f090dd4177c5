// pkg/loader/retry.go
package loader

import (
	"context"
	"errors"
	"strings"

	"github.com/lib/pq"
)

// IsRetryable reports whether an insert error is worth retrying: connection
// drops, resource pressure, and operator interventions are transient; bad
// data never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08": // connection exception
			return true
		case "53": // insufficient resources
			return true
		case "57": // operator intervention
			return true
		case "40": // transaction rollback (serialization, deadlock)
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	retryable := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"database is locked",
		"too many connections",
		"temporarily unavailable",
	}
	for _, s := range retryable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsConstraintViolation reports whether the error came from the data itself
// violating a sink constraint, which makes the row a candidate for the
// per-row fallback rather than a whole-batch retry.
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23" // integrity constraint violation
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint") ||
		strings.Contains(msg, "unique") ||
		strings.Contains(msg, "not null")
}
