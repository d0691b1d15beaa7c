package audit

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store"
)

// StoreSink persists events through an AccessEventStore. The raw card id is
// not stored, only its hash.
func StoreSink(s store.AccessEventStore) Sink {
	return SinkFunc(func(ctx context.Context, ev Event) error {
		return s.RecordEvent(ctx, store.AccessEventRecord{
			ID:          ev.ID,
			EventType:   ev.EventType,
			ModuleID:    ev.ModuleID,
			DoorName:    ev.DoorName,
			UserID:      ev.UserID,
			IPAddress:   ev.IPAddress,
			ReceivedAt:  ev.RecordedAt,
			RequestedAt: ev.RequestedAt,
			DoorClosed:  ev.DoorClosed,
			CardIDHash:  ev.CardIDHash,
			Granted:     ev.Granted,
			Reason:      ev.Reason,
			Details:     ev.Details,
			DecidedAt:   ev.OccurredAt,
		})
	})
}

const DefaultStream = "portunus:access_events"

// RedisStreamSink appends events to a capped Redis stream so other systems
// can follow access activity live.
type RedisStreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewRedisStreamSink keeps roughly maxLen entries (0 means uncapped).
func NewRedisStreamSink(client redis.Cmdable, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Write(ctx context.Context, ev Event) error {
	values := map[string]any{
		"id":          ev.ID,
		"event_type":  ev.EventType,
		"module_id":   ev.ModuleID,
		"door":        ev.DoorName,
		"user_id":     ev.UserID,
		"card_hash":   hex.EncodeToString(ev.CardIDHash),
		"granted":     strconv.FormatBool(ev.Granted),
		"reason":      ev.Reason,
		"ip":          ev.IPAddress,
		"occurred_at": ev.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if ev.Details != "" {
		values["details"] = ev.Details
	}

	args := &redis.XAddArgs{Stream: s.stream, Values: values}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("audit: xadd %s: %w", s.stream, err)
	}
	return nil
}

// LogSink writes each event as one structured log line.
func LogSink(l *logrus.Logger) Sink {
	return SinkFunc(func(_ context.Context, ev Event) error {
		l.WithFields(logrus.Fields{
			"event_id":  ev.ID,
			"module_id": ev.ModuleID,
			"door":      ev.DoorName,
			"user_id":   ev.UserID,
			"granted":   ev.Granted,
			"reason":    ev.Reason,
		}).Info("access decision")
		return nil
	})
}
