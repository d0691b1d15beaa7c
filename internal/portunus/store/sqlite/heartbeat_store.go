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

type HeartbeatStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewHeartbeatStore(db *sql.DB, writer *dbpkg.Worker) *HeartbeatStore {
	return &HeartbeatStore{db: db, writer: writer}
}

// UpsertHeartbeat appends a heartbeat row and refreshes the module's
// snapshot columns in one transaction.
func (s *HeartbeatStore) UpsertHeartbeat(ctx context.Context, moduleID string, rec store.HeartbeatRecord) error {
	moduleID = strings.TrimSpace(moduleID)
	if moduleID == "" {
		return nil
	}

	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	recvMs := rec.ReceivedAt.UTC().UnixMilli()

	req := rec.Request
	fw := strings.TrimSpace(req.FirmwareVersion)
	ip := strings.TrimSpace(req.IP)

	var rssi any
	if req.RSSIDbm != nil {
		rssi = *req.RSSIDbm
	}

	var uptimeMs any
	if req.UptimeSeconds != 0 {
		uptimeMs = int64(req.UptimeSeconds) * 1000
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureModule(ctx, tx, moduleID, recvMs); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO module_heartbeats(
  module_id, received_at_ms, seq, uptime_ms, fw_version, wifi_rssi, ip, free_heap_bytes
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`, moduleID, recvMs, nullable(req.Sequence), uptimeMs, fw, rssi, ip, nullable(req.FreeHeapBytes)); err != nil {
			return fmt.Errorf("UpsertHeartbeat insert heartbeat: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE modules
SET last_seen_at_ms = ?,
    last_ip = ?,
    last_fw_version = ?,
    last_wifi_rssi = ?,
    updated_at_ms = ?
WHERE module_id = ?;
`, recvMs, ip, fw, rssi, recvMs, moduleID); err != nil {
			return fmt.Errorf("UpsertHeartbeat update module snapshot: %w", err)
		}

		return nil
	})
}

// PruneOlderThan deletes heartbeat rows received before cutoff and returns
// how many went.
func (s *HeartbeatStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return pruneBefore(ctx, s.writer, "module_heartbeats", "received_at_ms", cutoff)
}

// pruneBefore deletes rows of table whose column (unix ms) is before cutoff.
// table and column are compile-time constants from this package.
func pruneBefore(ctx context.Context, w *dbpkg.Worker, table, column string, cutoff time.Time) (int64, error) {
	var deleted int64
	err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s < ?;", table, column),
			cutoff.UTC().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("prune %s: %w", table, err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
