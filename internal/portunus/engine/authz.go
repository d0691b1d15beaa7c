package engine

import "cloud.google.com/go/civil"

// ValidOn reports whether d lies within the card's inclusive validity bounds.
// A missing bound is open on that side.
func ValidOn(c Card, d civil.Date) bool {
	if c.ValidFrom != nil && d.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && d.After(*c.ValidUntil) {
		return false
	}
	return true
}

// AllowedDoors returns the doors a card can structurally open on date d,
// ignoring schedules. Inactive or out-of-validity cards get nothing.
//
// With a group, the result is the card's own doors plus the group's; a group
// with no doors grants every door. Without a group only the card's own doors
// count.
func AllowedDoors(c Card, g *AccessGroup, d civil.Date) DoorSet {
	if !c.Active || !ValidOn(c, d) {
		return DoorSet{}
	}
	if g == nil {
		return c.Doors
	}
	if g.Doors.IsEmpty() {
		return AllDoors()
	}
	return c.Doors.Union(g.Doors)
}
