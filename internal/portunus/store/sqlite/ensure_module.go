package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// ensureModule guarantees a modules row exists for moduleID so the heartbeat
// foreign key is satisfied. New rows start disabled, uncommissioned and
// without a door; only an operator (or the dev seeder) changes that.
//
// Must be called inside an existing transaction.
func ensureModule(ctx context.Context, tx *sql.Tx, moduleID string, nowMs int64) error {
	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO modules(
  module_id, enabled, created_at_ms, updated_at_ms
) VALUES (?, 0, ?, ?);
`, moduleID, nowMs, nowMs); err != nil {
		return fmt.Errorf("ensureModule %s: %w", moduleID, err)
	}
	return nil
}

func nullable[T comparable](v T) any {
	var zero T
	if v == zero {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
