package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/portunus-access/internal/db"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store"
)

type DeviceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDeviceStore(db *sql.DB, writer *dbpkg.Worker) *DeviceStore {
	return &DeviceStore{db: db, writer: writer}
}

// IsKnown treats "known" as commissioned, enabled and not revoked.
func (s *DeviceStore) IsKnown(ctx context.Context, moduleID string) (bool, error) {
	moduleID = strings.TrimSpace(moduleID)
	if moduleID == "" {
		return false, nil
	}

	var enabled int
	var commissioned sql.NullInt64
	var revoked sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
SELECT enabled, commissioned_at_ms, revoked_at_ms
FROM modules
WHERE module_id = ?;
`, moduleID).Scan(&enabled, &commissioned, &revoked)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("IsKnown query: %w", err)
	}

	return enabled == 1 && commissioned.Valid && !revoked.Valid, nil
}

// MarkSeen creates the module row if needed (unknown modules start disabled)
// and bumps last_seen.
func (s *DeviceStore) MarkSeen(ctx context.Context, moduleID string, _ bool, t time.Time) error {
	moduleID = strings.TrimSpace(moduleID)
	if moduleID == "" {
		return nil
	}
	if t.IsZero() {
		t = time.Now().UTC()
	}
	ms := t.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureModule(ctx, tx, moduleID, ms); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE modules
SET last_seen_at_ms = ?,
    updated_at_ms   = ?
WHERE module_id = ?;
`, ms, ms, moduleID); err != nil {
			return fmt.Errorf("MarkSeen update module: %w", err)
		}
		return nil
	})
}

func (s *DeviceStore) DoorForModule(ctx context.Context, moduleID string) (string, error) {
	var door sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT door_name FROM modules WHERE module_id = ?;
`, strings.TrimSpace(moduleID)).Scan(&door)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("DoorForModule: %w", err)
	}
	return door.String, nil
}

func (s *DeviceStore) ListDevices(ctx context.Context) ([]store.DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT module_id, door_name, enabled, commissioned_at_ms, revoked_at_ms, last_seen_at_ms
FROM modules
ORDER BY module_id;
`)
	if err != nil {
		return nil, fmt.Errorf("ListDevices: %w", err)
	}
	defer rows.Close()

	var out []store.DeviceRecord
	for rows.Next() {
		var (
			rec          store.DeviceRecord
			door         sql.NullString
			enabled      int
			commissioned sql.NullInt64
			revoked      sql.NullInt64
			lastSeen     sql.NullInt64
		)
		if err := rows.Scan(&rec.ModuleID, &door, &enabled, &commissioned, &revoked, &lastSeen); err != nil {
			return nil, fmt.Errorf("ListDevices scan: %w", err)
		}
		rec.DoorName = door.String
		rec.Known = enabled == 1 && commissioned.Valid && !revoked.Valid
		if lastSeen.Valid {
			rec.LastSeen = time.UnixMilli(lastSeen.Int64).UTC()
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
