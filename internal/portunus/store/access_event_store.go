package store

import (
	"context"
	"time"
)

// AccessEventRecord is one row of the append-only access log. The raw card
// id is never persisted, only its SHA-256.
type AccessEventRecord struct {
	ID          string
	EventType   string
	ModuleID    string
	DoorName    string
	UserID      string
	IPAddress   string
	ReceivedAt  time.Time
	RequestedAt *time.Time // optional device-reported timestamp
	DoorClosed  *bool
	CardIDHash  []byte
	Granted     bool
	Reason      string
	Details     string
	DecidedAt   time.Time
}

// AccessEventStore persists access decisions as an append-only audit log.
type AccessEventStore interface {
	RecordEvent(ctx context.Context, rec AccessEventRecord) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
