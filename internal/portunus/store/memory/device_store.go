package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store"
)

type DeviceStore struct {
	mu    sync.RWMutex
	known map[string]struct{}
	doors map[string]string
	seen  map[string]time.Time
}

func NewDeviceStore(knownModules []string) *DeviceStore {
	k := make(map[string]struct{}, len(knownModules))
	for _, m := range knownModules {
		m = strings.TrimSpace(m)
		if m != "" {
			k[m] = struct{}{}
		}
	}
	return &DeviceStore{
		known: k,
		doors: make(map[string]string),
		seen:  make(map[string]time.Time),
	}
}

// AssignDoor mounts a module on a door and marks it known.
func (s *DeviceStore) AssignDoor(moduleID, door string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known[moduleID] = struct{}{}
	s.doors[moduleID] = door
}

func (s *DeviceStore) IsKnown(_ context.Context, moduleID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.known[moduleID]
	return ok, nil
}

func (s *DeviceStore) MarkSeen(_ context.Context, moduleID string, _ bool, t time.Time) error {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[moduleID] = t
	return nil
}

func (s *DeviceStore) DoorForModule(_ context.Context, moduleID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doors[moduleID], nil
}

func (s *DeviceStore) ListDevices(_ context.Context) ([]store.DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]struct{}, len(s.known)+len(s.seen))
	for id := range s.known {
		ids[id] = struct{}{}
	}
	for id := range s.seen {
		ids[id] = struct{}{}
	}
	out := make([]store.DeviceRecord, 0, len(ids))
	for id := range ids {
		_, known := s.known[id]
		out = append(out, store.DeviceRecord{
			ModuleID: id,
			DoorName: s.doors[id],
			Known:    known,
			LastSeen: s.seen[id],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out, nil
}
