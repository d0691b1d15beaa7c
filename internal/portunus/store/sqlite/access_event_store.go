package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/BrandonDHaskell/portunus-access/internal/db"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store"
)

type AccessEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessEventStore(db *sql.DB, writer *dbpkg.Worker) *AccessEventStore {
	return &AccessEventStore{db: db, writer: writer}
}

func (s *AccessEventStore) RecordEvent(ctx context.Context, rec store.AccessEventRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.EventType == "" {
		rec.EventType = "access_attempt"
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}

	var requestedMs any
	if rec.RequestedAt != nil {
		requestedMs = rec.RequestedAt.UTC().UnixMilli()
	}

	var doorClosed any
	if rec.DoorClosed != nil {
		doorClosed = boolInt(*rec.DoorClosed)
	}

	var cardIDHash any
	if len(rec.CardIDHash) == 32 {
		cardIDHash = rec.CardIDHash
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		door := nullable(rec.DoorName)
		if door == nil && rec.ModuleID != "" {
			// Fall back to the module's current door. NULL is fine when it has none.
			var resolved sql.NullString
			err := tx.QueryRowContext(ctx, `
SELECT door_name FROM modules WHERE module_id = ?;
`, rec.ModuleID).Scan(&resolved)
			if err != nil && err != sql.ErrNoRows {
				return fmt.Errorf("RecordEvent resolve door: %w", err)
			}
			if resolved.Valid {
				door = resolved.String
			}
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events(
  id, event_type, module_id, door_name, user_id, ip_address,
  received_at_ms, requested_at_ms, door_closed, card_id_hash,
  decision_granted, decision_reason, details, decided_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.ID, rec.EventType, rec.ModuleID, door, nullable(rec.UserID), nullable(rec.IPAddress),
			rec.ReceivedAt.UTC().UnixMilli(), requestedMs, doorClosed, cardIDHash,
			boolInt(rec.Granted), rec.Reason, rec.Details, rec.DecidedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}

		return nil
	})
}

// PruneOlderThan deletes access events decided before cutoff.
func (s *AccessEventStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return pruneBefore(ctx, s.writer, "access_events", "decided_at_ms", cutoff)
}
