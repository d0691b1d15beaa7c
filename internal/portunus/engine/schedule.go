package engine

// InWindow reports whether tc falls inside s.
//
// A nil schedule is unrestricted. A 24/7 schedule is open even on no-access
// holidays. Otherwise a holiday closes the day, and the weekday's window is
// the half-open interval [Start, End): the End minute itself is outside.
// Malformed windows (one side missing, or End not after Start) close the day.
func InWindow(s *Schedule, tc TimeContext) bool {
	if s == nil || s.Is24x7 {
		return true
	}
	if tc.IsHoliday {
		return false
	}
	w, ok := s.Windows[tc.Weekday]
	if !ok || !w.wellFormed() {
		return false
	}
	now := secondOfDay(tc.TimeOfDay)
	return now >= secondOfDay(*w.Start) && now < secondOfDay(*w.End)
}

func (w Window) wellFormed() bool {
	if w.Start == nil || w.End == nil {
		return false
	}
	if !w.Start.IsValid() || !w.End.IsValid() {
		return false
	}
	return secondOfDay(*w.End) > secondOfDay(*w.Start)
}
