package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/portunus-access/internal/logging"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/audit"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/engine"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/service"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store/memory"
)

// site is UTC-5 all year so tests do not depend on tzdata.
var site = time.FixedZone("site", -5*3600)

// monday10am is Monday 2026-03-02 10:00 site time.
var monday10am = time.Date(2026, 3, 2, 10, 0, 0, 0, site)

type recorded struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recorded) Record(ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorded) all() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

type decisionCounter struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *decisionCounter) ObserveDecision(reason string, _ bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = map[string]int{}
	}
	c.n[reason]++
}

func (c *decisionCounter) count(reason string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[reason]
}

type fixture struct {
	svc     *service.AccessService
	model   *memory.AccessModel
	devices *memory.DeviceStore
	events  *recorded
	counts  *decisionCounter
	now     time.Time
}

// newFixture wires an AccessService over memory stores. reader-1 is mounted
// on "front", reader-2 on "lab" (weekday 09:00-17:00), and card 0000abcd may
// use "front".
func newFixture(t *testing.T, mutate ...func(*service.AccessOptions)) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		model:   memory.NewAccessModel(),
		devices: memory.NewDeviceStore(nil),
		events:  &recorded{},
		counts:  &decisionCounter{},
		now:     monday10am,
	}
	f.devices.AssignDoor("reader-1", "front")
	f.devices.AssignDoor("reader-2", "lab")

	nine, five := civil.Time{Hour: 9}, civil.Time{Hour: 17}
	weekdays := map[time.Weekday]engine.Window{}
	for d := time.Monday; d <= time.Friday; d++ {
		weekdays[d] = engine.Window{Start: &nine, End: &five}
	}
	sid, err := f.model.UpsertSchedule(ctx, engine.Schedule{Name: "office", Windows: weekdays})
	require.NoError(t, err)

	require.NoError(t, f.model.UpsertDoor(ctx, engine.Door{Name: "front", UnlockDuration: 5 * time.Second}))
	require.NoError(t, f.model.UpsertDoor(ctx, engine.Door{Name: "lab", ScheduleID: &sid, UnlockDuration: 3 * time.Second}))
	require.NoError(t, f.model.UpsertCard(ctx, engine.Card{
		CardID: "0000abcd", UserID: "43981", Facility: "0", Doors: engine.NewDoorSet("front"), Active: true,
	}))

	opt := service.AccessOptions{
		Location: site,
		Logger:   logging.Discard(),
		Observer: f.counts,
		Now:      func() time.Time { return f.now },
	}
	for _, m := range mutate {
		m(&opt)
	}
	f.svc = service.NewAccessService(service.NewDeviceRegistry(f.devices), f.model, f.events, nil, opt)
	return f
}
