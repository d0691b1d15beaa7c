package store

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/types"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

type HeartbeatRecord struct {
	ReceivedAt time.Time
	Request    types.HeartbeatRequest
}

type HeartbeatStore interface {
	UpsertHeartbeat(ctx context.Context, moduleID string, rec HeartbeatRecord) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
