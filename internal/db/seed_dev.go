package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type SeedDevOptions struct {
	// KnownModules are commissioned and mounted on the starter door.
	KnownModules []string
}

// SeedDev loads a small, idempotent data set for local development: a
// business-hours schedule, two doors, a staff group, a master card and a
// recurring holiday.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	steps := []struct {
		name string
		sql  string
		args []any
	}{
		{"schedule", `
INSERT OR IGNORE INTO access_schedules(
  id, name, description, is_24_7,
  monday_start, monday_end, tuesday_start, tuesday_end,
  wednesday_start, wednesday_end, thursday_start, thursday_end,
  friday_start, friday_end, created_at_ms, updated_at_ms
) VALUES (1, 'Business Hours', 'Weekdays 08:00-18:00', 0,
  '08:00', '18:00', '08:00', '18:00', '08:00', '18:00', '08:00', '18:00',
  '08:00', '18:00', ?, ?);`, []any{now, now}},
		{"doors", `
INSERT OR IGNORE INTO doors(name, location, schedule_id, unlock_duration_s, created_at_ms, updated_at_ms)
VALUES ('front', 'Main Entrance', NULL, 5, ?, ?),
       ('back', 'Loading Dock', 1, 3, ?, ?);`, []any{now, now, now, now}},
		{"group", `
INSERT OR IGNORE INTO access_groups(id, name, description, doors, created_at_ms, updated_at_ms)
VALUES (1, 'Staff', 'Front and back doors', '["front","back"]', ?, ?);`, []any{now, now}},
		{"master card", `
INSERT OR IGNORE INTO cards(card_id, user_id, facility, bstr, firstname, lastname, doors, active, master, created_at_ms, updated_at_ms)
VALUES ('02c8775d', '15278', '100', '10110010000111011101011101', 'Master', 'Card', '*', 1, 1, ?, ?);`, []any{now, now}},
		{"holiday", `
INSERT INTO holidays(name, date, recurring, no_access, created_at_ms)
SELECT 'Christmas Day', '2024-12-25', 1, 1, ?
WHERE NOT EXISTS (SELECT 1 FROM holidays WHERE name = 'Christmas Day');`, []any{now}},
	}
	for _, st := range steps {
		if _, err := tx.ExecContext(ctx, st.sql, st.args...); err != nil {
			return fmt.Errorf("seed %s: %w", st.name, err)
		}
	}

	for _, mid := range opt.KnownModules {
		mid = strings.TrimSpace(mid)
		if mid == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO modules(
  module_id, door_name, display_name,
  enabled, commissioned_at_ms,
  created_at_ms, updated_at_ms
) VALUES (?, 'front', ?, 1, ?, ?, ?)
ON CONFLICT(module_id) DO UPDATE SET
  door_name = COALESCE(modules.door_name, excluded.door_name),
  enabled = 1,
  commissioned_at_ms = COALESCE(modules.commissioned_at_ms, excluded.commissioned_at_ms),
  updated_at_ms = excluded.updated_at_ms;
`, mid, mid, now, now, now); err != nil {
			return fmt.Errorf("seed module %s: %w", mid, err)
		}
	}

	return tx.Commit()
}
