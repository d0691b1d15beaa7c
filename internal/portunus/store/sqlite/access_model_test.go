package sqlite_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/portunus-access/internal/portunus/engine"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store"
	sqlitestore "github.com/BrandonDHaskell/portunus-access/internal/portunus/store/sqlite"
)

func newAccessModel(t *testing.T) *sqlitestore.AccessModel {
	t.Helper()
	conn := openTestDB(t)
	return sqlitestore.NewAccessModel(conn, newTestWriter(t, conn))
}

func TestAccessModel_CardRoundTrip(t *testing.T) {
	m := newAccessModel(t)
	ctx := context.Background()

	sched, err := m.UpsertSchedule(ctx, engine.Schedule{Name: "always", Is24x7: true})
	require.NoError(t, err)
	group, err := m.UpsertGroup(ctx, engine.AccessGroup{Name: "staff", Doors: engine.NewDoorSet("lab")})
	require.NoError(t, err)

	in := engine.Card{
		CardID:     "02C8775D",
		UserID:     "15278",
		Facility:   "100",
		Doors:      engine.NewDoorSet("front", "back"),
		Active:     true,
		GroupID:    &group,
		ScheduleID: &sched,
		ValidFrom:  &civil.Date{Year: 2026, Month: time.January, Day: 1},
		ValidUntil: &civil.Date{Year: 2026, Month: time.December, Day: 31},
	}
	require.NoError(t, m.UpsertCard(ctx, in))

	got, err := m.CardByID(ctx, "02c8775d")
	require.NoError(t, err)
	assert.Equal(t, "02c8775d", got.CardID, "card ids are stored lower case")
	assert.Equal(t, "back,front", got.Doors.String())
	assert.True(t, got.Active)
	assert.False(t, got.Master)
	assert.Equal(t, &group, got.GroupID)
	assert.Equal(t, &sched, got.ScheduleID)
	assert.Equal(t, in.ValidFrom, got.ValidFrom)
	assert.Equal(t, in.ValidUntil, got.ValidUntil)

	byCred, err := m.CardByCredential(ctx, "100", "15278")
	require.NoError(t, err)
	assert.Equal(t, got.CardID, byCred.CardID)

	_, err = m.CardByID(ctx, "ffffffff")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccessModel_CardLegacyDoorColumnAndWildcard(t *testing.T) {
	conn := openTestDB(t)
	m := sqlitestore.NewAccessModel(conn, newTestWriter(t, conn))
	ctx := context.Background()

	_, err := conn.Exec(`
INSERT INTO cards(card_id, user_id, doors, active, created_at_ms, updated_at_ms)
VALUES ('00000001', '1', 'front back', 1, 0, 0),
       ('00000002', '2', '*', 1, 0, 0);`)
	require.NoError(t, err)

	c, err := m.CardByID(ctx, "00000001")
	require.NoError(t, err)
	assert.Equal(t, []string{"back", "front"}, c.Doors.Names())

	c, err = m.CardByID(ctx, "00000002")
	require.NoError(t, err)
	assert.True(t, c.Doors.IsWildcard())
}

func TestAccessModel_CorruptValidityDateIsAnError(t *testing.T) {
	conn := openTestDB(t)
	m := sqlitestore.NewAccessModel(conn, newTestWriter(t, conn))

	_, err := conn.Exec(`
INSERT INTO cards(card_id, user_id, active, valid_until, created_at_ms, updated_at_ms)
VALUES ('0000000a', '10', 1, 'someday', 0, 0);`)
	require.NoError(t, err)

	_, err = m.CardByID(context.Background(), "0000000a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestAccessModel_EnrollInactiveLeavesExistingCards(t *testing.T) {
	m := newAccessModel(t)
	ctx := context.Background()

	require.NoError(t, m.UpsertCard(ctx, engine.Card{CardID: "0000abcd", UserID: "43981", Active: true, Master: true}))
	require.NoError(t, m.EnrollInactive(ctx, engine.Card{CardID: "0000abcd", UserID: "43981"}))

	c, err := m.CardByID(ctx, "0000abcd")
	require.NoError(t, err)
	assert.True(t, c.Active)
	assert.True(t, c.Master)

	require.NoError(t, m.EnrollInactive(ctx, engine.Card{CardID: "0000beef", UserID: "48879", Facility: "7"}))
	c, err = m.CardByID(ctx, "0000beef")
	require.NoError(t, err)
	assert.False(t, c.Active)
	assert.Equal(t, "7", c.Facility)
}

func TestAccessModel_Doors(t *testing.T) {
	m := newAccessModel(t)
	ctx := context.Background()

	require.NoError(t, m.UpsertDoor(ctx, engine.Door{Name: "front", UnlockDuration: 3 * time.Second}))

	d, err := m.DoorByName(ctx, "front")
	require.NoError(t, err)
	assert.Equal(t, engine.DoorUnknown, d.Status)
	assert.Equal(t, 3*time.Second, d.UnlockDuration)
	assert.Nil(t, d.ScheduleID)

	require.NoError(t, m.SetDoorStatus(ctx, "front", engine.DoorOnline))
	d, err = m.DoorByName(ctx, "front")
	require.NoError(t, err)
	assert.Equal(t, engine.DoorOnline, d.Status)

	assert.ErrorIs(t, m.SetDoorStatus(ctx, "side", engine.DoorOnline), store.ErrNotFound)
	_, err = m.DoorByName(ctx, "side")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccessModel_GroupsKeepEmptyAsWildcard(t *testing.T) {
	m := newAccessModel(t)
	ctx := context.Background()

	id, err := m.UpsertGroup(ctx, engine.AccessGroup{Name: "everyone"})
	require.NoError(t, err)
	g, err := m.GroupByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, g.Doors.IsEmpty())

	_, err = m.UpsertGroup(ctx, engine.AccessGroup{ID: id, Name: "everyone", Doors: engine.NewDoorSet("a", "b")})
	require.NoError(t, err)
	g, err = m.GroupByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, g.Doors.Names())

	_, err = m.GroupByID(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAccessModel_ScheduleRoundTrip(t *testing.T) {
	m := newAccessModel(t)
	ctx := context.Background()

	in := engine.Schedule{
		Name: "weekday",
		Windows: map[time.Weekday]engine.Window{
			time.Monday: {Start: &civil.Time{Hour: 9}, End: &civil.Time{Hour: 17}},
			time.Friday: {Start: &civil.Time{Hour: 9}, End: &civil.Time{Hour: 12, Minute: 30}},
		},
	}
	id, err := m.UpsertSchedule(ctx, in)
	require.NoError(t, err)
	in.ID = id

	got, err := m.ScheduleByID(ctx, id)
	require.NoError(t, err)
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("schedule mismatch (-want +got):\n%s", diff)
	}
}

func TestAccessModel_ScheduleBadTimeClosesDay(t *testing.T) {
	conn := openTestDB(t)
	m := sqlitestore.NewAccessModel(conn, newTestWriter(t, conn))

	_, err := conn.Exec(`
INSERT INTO access_schedules(id, name, tuesday_start, tuesday_end, created_at_ms, updated_at_ms)
VALUES (5, 'broken', '09:00', 'late', 0, 0);`)
	require.NoError(t, err)

	s, err := m.ScheduleByID(context.Background(), 5)
	require.NoError(t, err)
	w := s.Windows[time.Tuesday]
	assert.NotNil(t, w.Start)
	assert.Nil(t, w.End)

	tc := engine.TimeContext{Weekday: time.Tuesday, TimeOfDay: civil.Time{Hour: 10}}
	assert.False(t, engine.InWindow(&s, tc))
}

func TestAccessModel_HolidaysSkipInvalidDates(t *testing.T) {
	conn := openTestDB(t)
	m := sqlitestore.NewAccessModel(conn, newTestWriter(t, conn))
	ctx := context.Background()

	require.NoError(t, m.AddHoliday(ctx, engine.Holiday{
		Name: "Christmas", Date: civil.Date{Year: 2024, Month: time.December, Day: 25}, Recurring: true, NoAccess: true,
	}))
	_, err := conn.Exec(`INSERT INTO holidays(name, date, created_at_ms) VALUES ('typo', '2024-13-45', 0);`)
	require.NoError(t, err)

	hs, err := m.ListHolidays(ctx)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, "Christmas", hs[0].Name)
	assert.True(t, hs[0].Recurring)
	assert.True(t, engine.IsHoliday(civil.Date{Year: 2031, Month: time.December, Day: 25}, hs))
}
