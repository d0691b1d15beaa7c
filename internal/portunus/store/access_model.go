package store

import (
	"context"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/engine"
)

// CardStore resolves credentials. Lookups return ErrNotFound for unknown cards.
type CardStore interface {
	CardByID(ctx context.Context, cardID string) (engine.Card, error)
	CardByCredential(ctx context.Context, facility, userID string) (engine.Card, error)
	UpsertCard(ctx context.Context, c engine.Card) error
	// EnrollInactive records a never-seen card as inactive so an operator can
	// activate it later. Existing cards are left untouched.
	EnrollInactive(ctx context.Context, c engine.Card) error
}

type DoorStore interface {
	DoorByName(ctx context.Context, name string) (engine.Door, error)
	UpsertDoor(ctx context.Context, d engine.Door) error
	SetDoorStatus(ctx context.Context, name string, status engine.DoorStatus) error
}

type GroupStore interface {
	GroupByID(ctx context.Context, id int64) (engine.AccessGroup, error)
	UpsertGroup(ctx context.Context, g engine.AccessGroup) (int64, error)
}

type ScheduleStore interface {
	ScheduleByID(ctx context.Context, id int64) (engine.Schedule, error)
	UpsertSchedule(ctx context.Context, s engine.Schedule) (int64, error)
}

type HolidayStore interface {
	ListHolidays(ctx context.Context) ([]engine.Holiday, error)
	AddHoliday(ctx context.Context, h engine.Holiday) error
}

// AccessModel is everything the access service reads to build a decision
// snapshot.
type AccessModel interface {
	CardStore
	DoorStore
	GroupStore
	ScheduleStore
	HolidayStore
}
