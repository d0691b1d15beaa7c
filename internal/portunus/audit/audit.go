// Package audit records access decisions without ever slowing them down.
// Events go into a bounded queue; a single goroutine drains it into a Sink.
package audit

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"time"
)

const EventAccessAttempt = "access_attempt"

// Event is one access attempt as it is persisted. CardID is the raw
// credential and is only handed to sinks that need it; the stored form is
// CardIDHash.
type Event struct {
	ID         string
	EventType  string
	CardID     string
	CardIDHash []byte
	UserID     string
	ModuleID   string
	DoorName   string
	Granted    bool
	Reason     string
	IPAddress  string
	Details    string

	RequestedAt *time.Time
	DoorClosed  *bool

	// OccurredAt is when the decision was made; RecordedAt is when the
	// request reached the server.
	OccurredAt time.Time
	RecordedAt time.Time
}

// HashCardID returns the SHA-256 of the normalized (trimmed, lower-case)
// card id, or nil for an empty id.
func HashCardID(cardID string) []byte {
	cardID = strings.ToLower(strings.TrimSpace(cardID))
	if cardID == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(cardID))
	return sum[:]
}

type Sink interface {
	Write(ctx context.Context, ev Event) error
}

type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Write(ctx context.Context, ev Event) error { return f(ctx, ev) }

// MultiSink writes to every sink and joins their errors. One failing sink
// does not stop the others.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
