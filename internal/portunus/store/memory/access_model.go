package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/engine"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store"
)

// AccessModel holds cards, doors, groups, schedules and holidays in maps.
type AccessModel struct {
	mu        sync.RWMutex
	cards     map[string]engine.Card
	doors     map[string]engine.Door
	groups    map[int64]engine.AccessGroup
	schedules map[int64]engine.Schedule
	holidays  []engine.Holiday
	nextID    int64
}

func NewAccessModel() *AccessModel {
	return &AccessModel{
		cards:     make(map[string]engine.Card),
		doors:     make(map[string]engine.Door),
		groups:    make(map[int64]engine.AccessGroup),
		schedules: make(map[int64]engine.Schedule),
	}
}

func (m *AccessModel) CardByID(_ context.Context, cardID string) (engine.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cards[cardID]
	if !ok {
		return engine.Card{}, store.ErrNotFound
	}
	return c, nil
}

func (m *AccessModel) CardByCredential(_ context.Context, facility, userID string) (engine.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.cards {
		if c.Facility == facility && c.UserID == userID {
			return c, nil
		}
	}
	return engine.Card{}, store.ErrNotFound
}

func (m *AccessModel) UpsertCard(_ context.Context, c engine.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[c.CardID] = c
	return nil
}

func (m *AccessModel) EnrollInactive(_ context.Context, c engine.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[c.CardID]; ok {
		return nil
	}
	c.Active = false
	c.Master = false
	m.cards[c.CardID] = c
	return nil
}

func (m *AccessModel) DoorByName(_ context.Context, name string) (engine.Door, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doors[name]
	if !ok {
		return engine.Door{}, store.ErrNotFound
	}
	return d, nil
}

func (m *AccessModel) UpsertDoor(_ context.Context, d engine.Door) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.Status == "" {
		d.Status = engine.DoorUnknown
	}
	m.doors[d.Name] = d
	return nil
}

func (m *AccessModel) SetDoorStatus(_ context.Context, name string, status engine.DoorStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doors[name]
	if !ok {
		return store.ErrNotFound
	}
	d.Status = status
	m.doors[name] = d
	return nil
}

func (m *AccessModel) GroupByID(_ context.Context, id int64) (engine.AccessGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return engine.AccessGroup{}, store.ErrNotFound
	}
	return g, nil
}

func (m *AccessModel) UpsertGroup(_ context.Context, g engine.AccessGroup) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == 0 {
		g.ID = m.allocID()
	}
	m.groups[g.ID] = g
	return g.ID, nil
}

func (m *AccessModel) ScheduleByID(_ context.Context, id int64) (engine.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return engine.Schedule{}, store.ErrNotFound
	}
	return s, nil
}

func (m *AccessModel) UpsertSchedule(_ context.Context, s engine.Schedule) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.allocID()
	}
	m.schedules[s.ID] = s
	return s.ID, nil
}

func (m *AccessModel) ListHolidays(_ context.Context) ([]engine.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Holiday, len(m.holidays))
	copy(out, m.holidays)
	return out, nil
}

func (m *AccessModel) AddHoliday(_ context.Context, h engine.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays = append(m.holidays, h)
	return nil
}

// allocID hands out ids above anything seen so far. Caller holds mu.
func (m *AccessModel) allocID() int64 {
	m.nextID++
	for {
		_, g := m.groups[m.nextID]
		_, s := m.schedules[m.nextID]
		if !g && !s {
			return m.nextID
		}
		m.nextID++
	}
}
