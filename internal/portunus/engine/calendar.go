package engine

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Resolve places t in loc and checks it against the holiday calendar. A nil
// loc means UTC.
func Resolve(t time.Time, loc *time.Location, holidays []Holiday) TimeContext {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	date := civil.DateOf(local)
	return TimeContext{
		Instant:   t,
		Date:      date,
		Weekday:   local.Weekday(),
		TimeOfDay: civil.TimeOf(local),
		IsHoliday: IsHoliday(date, holidays),
	}
}

// IsHoliday reports whether a no-access holiday falls on d. Holidays that
// only inform (NoAccess unset) and holidays with an invalid date never match.
func IsHoliday(d civil.Date, holidays []Holiday) bool {
	for _, h := range holidays {
		if !h.NoAccess || !h.Date.IsValid() {
			continue
		}
		if h.Recurring {
			if h.Date.Month == d.Month && h.Date.Day == d.Day {
				return true
			}
			continue
		}
		if h.Date == d {
			return true
		}
	}
	return false
}

// ParseClock parses a wall-clock time as stored by the admin panel
// ("09:00" or "09:00:00").
func ParseClock(s string) (civil.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.TimeOf(t), nil
		}
	}
	return civil.Time{}, fmt.Errorf("engine: bad clock value %q", s)
}

func secondOfDay(t civil.Time) int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}
