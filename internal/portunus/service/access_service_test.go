package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/audit"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/engine"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/service"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store/memory"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/types"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/wiegand"
)

func TestDecide_GrantedCarriesUnlockAndAudit(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.Decide(context.Background(), types.AccessRequest{ModuleID: "reader-1", CardID: "0000ABCD"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.True(t, resp.Known)
	assert.True(t, resp.Granted)
	assert.Equal(t, "ok", resp.Reason)
	assert.Equal(t, "front", resp.Door)
	assert.EqualValues(t, 5000, resp.UnlockMs)

	events := f.events.all()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "reader-1", ev.ModuleID)
	assert.Equal(t, "front", ev.DoorName)
	assert.Equal(t, "43981", ev.UserID)
	assert.Equal(t, "0000abcd", ev.CardID)
	assert.True(t, ev.Granted)
	assert.Equal(t, 1, f.counts.count("ok"))
}

func TestDecide_WrongDoorAndOutsideSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Decide(ctx, types.AccessRequest{ModuleID: "reader-2", CardID: "0000abcd"})
	require.NoError(t, err)
	assert.False(t, resp.Granted)
	assert.Equal(t, string(engine.ReasonDoorNotAuthorized), resp.Reason)
	assert.Zero(t, resp.UnlockMs)

	require.NoError(t, f.model.UpsertCard(ctx, engine.Card{
		CardID: "0000abcd", UserID: "43981", Doors: engine.NewDoorSet("front", "lab"), Active: true,
	}))
	f.now = monday10am.Add(8 * time.Hour) // 18:00 site time
	resp, err = f.svc.Decide(ctx, types.AccessRequest{ModuleID: "reader-2", CardID: "0000abcd"})
	require.NoError(t, err)
	assert.Equal(t, string(engine.ReasonOutsideSchedule), resp.Reason)
}

func TestDecide_UnknownModuleIsAuditedButNotOK(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.Decide(context.Background(), types.AccessRequest{ModuleID: "rogue", CardID: "0000abcd"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.False(t, resp.Known)
	assert.False(t, resp.Granted)
	assert.Equal(t, service.ReasonUnknownModule, resp.Reason)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, service.ReasonUnknownModule, events[0].Reason)
	assert.False(t, events[0].Granted)
}

func TestDecide_ModuleWithoutDoor(t *testing.T) {
	f := newFixture(t)
	f.devices.AssignDoor("reader-3", "")

	resp, err := f.svc.Decide(context.Background(), types.AccessRequest{ModuleID: "reader-3", CardID: "0000abcd"})
	require.NoError(t, err)
	assert.Equal(t, string(engine.ReasonUnknownDoor), resp.Reason)
}

func TestDecide_UnknownCardEnrollment(t *testing.T) {
	ctx := context.Background()

	off := newFixture(t)
	resp, err := off.svc.Decide(ctx, types.AccessRequest{ModuleID: "reader-1", CardID: "deadbeef"})
	require.NoError(t, err)
	assert.Equal(t, string(engine.ReasonUnknownCard), resp.Reason)
	_, err = off.model.CardByID(ctx, "deadbeef")
	assert.Error(t, err, "enrollment disabled by default")

	on := newFixture(t, func(o *service.AccessOptions) { o.EnrollUnknownCards = true })
	resp, err = on.svc.Decide(ctx, types.AccessRequest{ModuleID: "reader-1", CardID: "deadbeef"})
	require.NoError(t, err)
	assert.Equal(t, string(engine.ReasonUnknownCard), resp.Reason)

	c, err := on.model.CardByID(ctx, "deadbeef")
	require.NoError(t, err)
	assert.False(t, c.Active)

	resp, err = on.svc.Decide(ctx, types.AccessRequest{ModuleID: "reader-1", CardID: "deadbeef"})
	require.NoError(t, err)
	assert.Equal(t, string(engine.ReasonInactiveCard), resp.Reason)
}

func TestDecide_WiegandBits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.model.UpsertCard(ctx, engine.Card{
		CardID: "02c8775d", UserID: "15278", Facility: "100", Doors: engine.AllDoors(), Active: true, Master: true,
	}))

	resp, err := f.svc.Decide(ctx, types.AccessRequest{ModuleID: "reader-2", Bits: "10110010000111011101011101"})
	require.NoError(t, err)
	assert.True(t, resp.Granted)
	assert.Equal(t, string(engine.ReasonMasterOverride), resp.Reason)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, "facility=100", events[0].Details)

	_, err = f.svc.Decide(ctx, types.AccessRequest{ModuleID: "reader-2", Bits: "10110010000111011101011100"})
	assert.ErrorIs(t, err, service.ErrInvalidCredential)
	assert.ErrorIs(t, err, wiegand.ErrParity)
}

func TestDecide_FallsBackToFacilityAndUserID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Enrolled under a different id, e.g. by an older reader.
	require.NoError(t, f.model.UpsertCard(ctx, engine.Card{
		CardID: "legacy-1", UserID: "15278", Facility: "100", Doors: engine.NewDoorSet("front"), Active: true,
	}))

	resp, err := f.svc.Decide(ctx, types.AccessRequest{ModuleID: "reader-1", Bits: "10110010000111011101011101"})
	require.NoError(t, err)
	assert.True(t, resp.Granted)
}

func TestDecide_RequestedAtWithinSkew(t *testing.T) {
	f := newFixture(t, func(o *service.AccessOptions) { o.ClockSkew = 5 * time.Minute })
	ctx := context.Background()
	require.NoError(t, f.model.UpsertCard(ctx, engine.Card{
		CardID: "0000abcd", UserID: "43981", Doors: engine.NewDoorSet("lab"), Active: true,
	}))

	// Server sees 17:01, device says 16:59: the device time wins.
	f.now = time.Date(2026, 3, 2, 17, 1, 0, 0, site)
	resp, err := f.svc.Decide(ctx, types.AccessRequest{
		ModuleID: "reader-2", CardID: "0000abcd", RequestedAt: "2026-03-02T16:59:00-05:00",
	})
	require.NoError(t, err)
	assert.True(t, resp.Granted)

	// An hour of drift is ignored.
	resp, err = f.svc.Decide(ctx, types.AccessRequest{
		ModuleID: "reader-2", CardID: "0000abcd", RequestedAt: "2026-03-02T16:00:00-05:00",
	})
	require.NoError(t, err)
	assert.False(t, resp.Granted)

	events := f.events.all()
	require.Len(t, events, 2)
	require.NotNil(t, events[0].RequestedAt)
	assert.Equal(t, 21, events[0].RequestedAt.Hour(), "stored in UTC")
}

func TestDecide_HolidayClosesDoorSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.model.UpsertCard(ctx, engine.Card{
		CardID: "0000abcd", UserID: "43981", Doors: engine.NewDoorSet("lab"), Active: true,
	}))
	require.NoError(t, f.model.AddHoliday(ctx, engine.Holiday{
		Name: "Founders", Date: civil.Date{Year: 2020, Month: time.March, Day: 2}, Recurring: true, NoAccess: true,
	}))

	resp, err := f.svc.Decide(ctx, types.AccessRequest{ModuleID: "reader-2", CardID: "0000abcd"})
	require.NoError(t, err)
	assert.Equal(t, string(engine.ReasonOutsideSchedule), resp.Reason)
}

func TestDecide_DoorClosedPassedThrough(t *testing.T) {
	f := newFixture(t)
	closed := true
	_, err := f.svc.Decide(context.Background(), types.AccessRequest{
		ModuleID: "reader-1", CardID: "0000abcd", DoorClosed: &closed,
	})
	require.NoError(t, err)

	events := f.events.all()
	require.Len(t, events, 1)
	require.NotNil(t, events[0].DoorClosed)
	assert.True(t, *events[0].DoorClosed)
}

func TestDecide_ClientIPFromContext(t *testing.T) {
	f := newFixture(t)
	ctx := service.WithClientIP(context.Background(), "10.1.2.3")
	_, err := f.svc.Decide(ctx, types.AccessRequest{ModuleID: "reader-1", CardID: "0000abcd"})
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", f.events.all()[0].IPAddress)
}

func TestDecide_ValidationRecordsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Decide(ctx, types.AccessRequest{CardID: "0000abcd"})
	assert.ErrorIs(t, err, service.ErrInvalidModuleID)

	_, err = f.svc.Decide(ctx, types.AccessRequest{ModuleID: "reader-1", CardID: "  "})
	assert.ErrorIs(t, err, service.ErrInvalidCardID)

	assert.Empty(t, f.events.all())
}

type failingModel struct {
	*memory.AccessModel
}

func (failingModel) ListHolidays(context.Context) ([]engine.Holiday, error) {
	return nil, errors.New("database is locked")
}

func TestDecide_StoreErrorFailsClosed(t *testing.T) {
	f := newFixture(t)
	svc := service.NewAccessService(service.NewDeviceRegistry(f.devices), failingModel{f.model}, f.events, nil,
		service.AccessOptions{Location: site, Observer: f.counts, Now: func() time.Time { return monday10am }})

	resp, err := svc.Decide(context.Background(), types.AccessRequest{ModuleID: "reader-1", CardID: "0000abcd"})
	require.Error(t, err)
	assert.False(t, resp.Granted)

	// The attempt still leaves an audit row and a decision count.
	events := f.events.all()
	require.Len(t, events, 1)
	assert.False(t, events[0].Granted)
	assert.Equal(t, service.ReasonStorageError, events[0].Reason)
	assert.Equal(t, "front", events[0].DoorName)
	assert.Equal(t, "reader-1", events[0].ModuleID)
	assert.Equal(t, 1, f.counts.count(service.ReasonStorageError))
}

func TestDecide_ConcurrentCallsAgree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			resp, err := f.svc.Decide(ctx, types.AccessRequest{ModuleID: "reader-1", CardID: "0000abcd"})
			if err == nil && !resp.Granted {
				err = errors.New("unexpected deny: " + resp.Reason)
			}
			errs <- err
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-errs)
	}
	assert.Len(t, f.events.all(), 20)
}

func TestEvaluate_DryRun(t *testing.T) {
	f := newFixture(t, func(o *service.AccessOptions) { o.EnrollUnknownCards = true })
	ctx := context.Background()

	resp, err := f.svc.Evaluate(ctx, types.EvaluateRequest{CardID: "0000ABCD", Door: "front", At: "2026-03-07T23:30:00-05:00"})
	require.NoError(t, err)
	assert.True(t, resp.Granted)
	assert.Equal(t, "Saturday", resp.Weekday)
	assert.Equal(t, "23:30:00", resp.LocalTime)
	assert.Equal(t, "0000abcd", resp.CardID)

	resp, err = f.svc.Evaluate(ctx, types.EvaluateRequest{CardID: "cafef00d", Door: "front"})
	require.NoError(t, err)
	assert.Equal(t, string(engine.ReasonUnknownCard), resp.Reason)
	_, err = f.model.CardByID(ctx, "cafef00d")
	assert.Error(t, err, "evaluate never enrolls")

	resp, err = f.svc.Evaluate(ctx, types.EvaluateRequest{CardID: "0000abcd", Door: "vault"})
	require.NoError(t, err)
	assert.Equal(t, string(engine.ReasonUnknownDoor), resp.Reason)

	_, err = f.svc.Evaluate(ctx, types.EvaluateRequest{CardID: "0000abcd", Door: "front", At: "tomorrow"})
	assert.ErrorIs(t, err, service.ErrInvalidTime)
	_, err = f.svc.Evaluate(ctx, types.EvaluateRequest{CardID: "0000abcd"})
	assert.ErrorIs(t, err, service.ErrInvalidDoor)

	assert.Empty(t, f.events.all())
}

func TestDecide_WithRealRecorder(t *testing.T) {
	f := newFixture(t)
	events := memory.NewAccessEventStore()
	rec := audit.NewRecorder(audit.StoreSink(events), audit.Options{})
	rec.Start(context.Background())

	svc := service.NewAccessService(service.NewDeviceRegistry(f.devices), f.model, rec, nil,
		service.AccessOptions{Location: site, Now: func() time.Time { return monday10am }})
	_, err := svc.Decide(context.Background(), types.AccessRequest{ModuleID: "reader-1", CardID: "0000abcd"})
	require.NoError(t, err)
	require.NoError(t, rec.Close(context.Background()))

	stored := events.Events()
	require.Len(t, stored, 1)
	assert.Equal(t, audit.HashCardID("0000abcd"), stored[0].CardIDHash)
	assert.Equal(t, "front", stored[0].DoorName)
}
