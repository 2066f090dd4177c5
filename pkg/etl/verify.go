// pkg/etl/verify.go
package etl

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Verifier cross-checks the sink after a run: the table must have grown by
// exactly the number of rows the run reports inserted. A mismatch is a
// warning on the summary, not a failure.
type Verifier struct {
	db       *sqlx.DB
	table    string
	baseline int64
	logger   *zap.Logger
}

// NewVerifier builds a verifier over the run's target table.
func NewVerifier(db *sqlx.DB, table string) *Verifier {
	return &Verifier{
		db:     db,
		table:  table,
		logger: zap.L().Named("verifier"),
	}
}

// Begin captures the pre-run row count.
func (v *Verifier) Begin(ctx context.Context) error {
	count, err := v.count(ctx)
	if err != nil {
		return fmt.Errorf("failed to capture baseline row count: %w", err)
	}
	v.baseline = count
	v.logger.Debug("Captured baseline row count",
		zap.String("table", v.table),
		zap.Int64("baseline", count))
	return nil
}

// Check compares the table's growth against the run's inserted count and
// returns a human-readable warning on mismatch, or "" when consistent.
func (v *Verifier) Check(ctx context.Context, inserted int64) string {
	count, err := v.count(ctx)
	if err != nil {
		return fmt.Sprintf("row-count verification failed: %v", err)
	}
	delta := count - v.baseline
	if delta != inserted {
		return fmt.Sprintf("row-count mismatch on %s: table grew by %d, run inserted %d",
			v.table, delta, inserted)
	}
	return ""
}

func (v *Verifier) count(ctx context.Context) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", v.table)
	if err := v.db.GetContext(ctx, &count, query); err != nil {
		return 0, err
	}
	return count, nil
}
