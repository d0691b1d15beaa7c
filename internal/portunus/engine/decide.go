package engine

import (
	"fmt"
	"strings"
)

// SchedulePolicy picks which schedule governs a card at a door when the card
// and the door each carry one.
type SchedulePolicy string

const (
	// CardThenDoor uses the card's schedule when it has one, else the door's.
	CardThenDoor SchedulePolicy = "card_then_door"
	// DoorThenCard uses the door's schedule when it has one, else the card's.
	DoorThenCard SchedulePolicy = "door_then_card"
	// Intersect requires every assigned schedule to be open.
	Intersect SchedulePolicy = "intersect"
)

func ParseSchedulePolicy(s string) (SchedulePolicy, error) {
	switch p := SchedulePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CardThenDoor, nil
	case CardThenDoor, DoorThenCard, Intersect:
		return p, nil
	default:
		return "", fmt.Errorf("engine: unknown schedule policy %q", s)
	}
}

// Input is one consistent snapshot handed to Decide. Nil Card or Door means
// the caller could not resolve it. CardSchedule and DoorSchedule are the
// records referenced by Card.ScheduleID and Door.ScheduleID.
type Input struct {
	Card         *Card
	Door         *Door
	Group        *AccessGroup
	CardSchedule *Schedule
	DoorSchedule *Schedule
	Time         TimeContext
	Policy       SchedulePolicy
}

// Decide evaluates the rules in order and returns the first verdict that
// applies:
//
//  1. unknown door
//  2. unknown card
//  3. inactive card
//  4. date outside the card's validity bounds
//  5. master card (any door, any time)
//  6. door not in AllowedDoors
//  7. effective schedule closed
//  8. granted
//
// Structural checks run before time checks so a wrong door and a wrong time
// are always told apart.
func Decide(in Input) Decision {
	switch {
	case in.Door == nil:
		return denied(ReasonUnknownDoor)
	case in.Card == nil:
		return denied(ReasonUnknownCard)
	case !in.Card.Active:
		return denied(ReasonInactiveCard)
	case !ValidOn(*in.Card, in.Time.Date):
		return denied(ReasonOutsideValidity)
	case in.Card.Master:
		return granted(ReasonMasterOverride)
	}

	if !AllowedDoors(*in.Card, in.Group, in.Time.Date).Has(in.Door.Name) {
		return denied(ReasonDoorNotAuthorized)
	}

	if !scheduleOpen(in) {
		return denied(ReasonOutsideSchedule)
	}
	return granted(ReasonOK)
}

// scheduleOpen applies the policy. A schedule that is referenced but was not
// supplied counts as closed.
func scheduleOpen(in Input) bool {
	card := slot{assigned: in.Card.ScheduleID != nil || in.CardSchedule != nil, s: in.CardSchedule}
	door := slot{assigned: in.Door.ScheduleID != nil || in.DoorSchedule != nil, s: in.DoorSchedule}

	switch in.Policy {
	case Intersect:
		return card.open(in.Time) && door.open(in.Time)
	case DoorThenCard:
		if door.assigned {
			return door.open(in.Time)
		}
		return card.open(in.Time)
	default:
		if card.assigned {
			return card.open(in.Time)
		}
		return door.open(in.Time)
	}
}

type slot struct {
	assigned bool
	s        *Schedule
}

func (sl slot) open(tc TimeContext) bool {
	if !sl.assigned {
		return true
	}
	if sl.s == nil {
		return false
	}
	return InWindow(sl.s, tc)
}
