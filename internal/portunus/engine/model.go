// Package engine holds the access decision core: given a consistent snapshot
// of a card, a door, the card's group, the relevant schedules and the holiday
// calendar, it answers whether the card may open the door at a given instant.
//
// Everything in this package is pure. Nothing here performs I/O, reads the
// clock, or keeps state between calls, so every function is safe to call
// concurrently.
package engine

import (
	"time"

	"cloud.google.com/go/civil"
)

type DoorStatus string

const (
	DoorOnline  DoorStatus = "online"
	DoorOffline DoorStatus = "offline"
	DoorUnknown DoorStatus = "unknown"
)

// Card is a credential as the decision core sees it. Nil pointers mean the
// field is unset: no group, no schedule (24/7), unbounded validity.
type Card struct {
	CardID   string
	UserID   string
	Facility string

	Doors  DoorSet
	Active bool
	Master bool

	GroupID    *int64
	ScheduleID *int64

	ValidFrom  *civil.Date
	ValidUntil *civil.Date
}

// Door is a controlled entry point. Status is informational and never
// consulted by Decide.
type Door struct {
	Name           string
	ScheduleID     *int64
	UnlockDuration time.Duration
	Status         DoorStatus
}

// AccessGroup bundles doors for many cards. An empty door set grants every
// door.
type AccessGroup struct {
	ID    int64
	Name  string
	Doors DoorSet
}

// Window is one weekday's access interval. A window with only one side set
// is malformed and grants nothing.
type Window struct {
	Start *civil.Time
	End   *civil.Time
}

type Schedule struct {
	ID      int64
	Name    string
	Is24x7  bool
	Windows map[time.Weekday]Window
}

// Holiday suppresses scheduled access on its date when NoAccess is set.
// Recurring holidays match the same month and day every year.
type Holiday struct {
	Name      string
	Date      civil.Date
	Recurring bool
	NoAccess  bool
}

// TimeContext is an instant resolved against the configured timezone and
// holiday calendar.
type TimeContext struct {
	Instant   time.Time
	Date      civil.Date
	Weekday   time.Weekday
	TimeOfDay civil.Time
	IsHoliday bool
}

type Reason string

const (
	ReasonOK                Reason = "ok"
	ReasonMasterOverride    Reason = "master_override"
	ReasonUnknownDoor       Reason = "unknown_door"
	ReasonUnknownCard       Reason = "unknown_card"
	ReasonInactiveCard      Reason = "inactive_card"
	ReasonOutsideValidity   Reason = "expired_or_not_yet_valid"
	ReasonDoorNotAuthorized Reason = "door_not_authorized"
	ReasonOutsideSchedule   Reason = "outside_schedule"
)

// Decision is the verdict for one (card, door, time) evaluation. Reason is
// safe to log and display as-is.
type Decision struct {
	Granted bool
	Reason  Reason
}

func granted(r Reason) Decision { return Decision{Granted: true, Reason: r} }
func denied(r Reason) Decision  { return Decision{Granted: false, Reason: r} }
