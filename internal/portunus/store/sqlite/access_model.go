package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	dbpkg "github.com/BrandonDHaskell/portunus-access/internal/db"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/engine"
	"github.com/BrandonDHaskell/portunus-access/internal/portunus/store"
)

// AccessModel reads and writes cards, doors, groups, schedules and holidays.
// Reads go straight to the pool; writes go through the writer.
type AccessModel struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessModel(db *sql.DB, writer *dbpkg.Worker) *AccessModel {
	return &AccessModel{db: db, writer: writer}
}

var _ store.AccessModel = (*AccessModel)(nil)

// ---- cards ----

const cardColumns = `card_id, user_id, facility, doors, active, master,
  group_id, schedule_id, valid_from, valid_until`

func (m *AccessModel) CardByID(ctx context.Context, cardID string) (engine.Card, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE card_id = ?;`,
		strings.ToLower(strings.TrimSpace(cardID)))
	return scanCard(row)
}

func (m *AccessModel) CardByCredential(ctx context.Context, facility, userID string) (engine.Card, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE facility = ? AND user_id = ?;`,
		facility, userID)
	return scanCard(row)
}

func scanCard(row *sql.Row) (engine.Card, error) {
	var (
		c                  engine.Card
		doors              string
		active, master     int
		groupID, schedID   sql.NullInt64
		validFrom, validTo sql.NullString
	)
	err := row.Scan(&c.CardID, &c.UserID, &c.Facility, &doors, &active, &master,
		&groupID, &schedID, &validFrom, &validTo)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Card{}, store.ErrNotFound
	}
	if err != nil {
		return engine.Card{}, fmt.Errorf("scan card: %w", err)
	}

	c.Doors = engine.ParseDoorList(doors)
	c.Active = active == 1
	c.Master = master == 1
	c.GroupID = nullInt(groupID)
	c.ScheduleID = nullInt(schedID)

	// A corrupt bound is an error rather than "unbounded" so the caller
	// denies instead of silently widening access.
	if c.ValidFrom, err = nullDate(validFrom); err != nil {
		return engine.Card{}, fmt.Errorf("card %s valid_from: %w", c.CardID, err)
	}
	if c.ValidUntil, err = nullDate(validTo); err != nil {
		return engine.Card{}, fmt.Errorf("card %s valid_until: %w", c.CardID, err)
	}
	return c, nil
}

func (m *AccessModel) UpsertCard(ctx context.Context, c engine.Card) error {
	now := time.Now().UTC().UnixMilli()
	return m.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO cards(
  card_id, user_id, facility, doors, active, master,
  group_id, schedule_id, valid_from, valid_until, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(card_id) DO UPDATE SET
  user_id = excluded.user_id,
  facility = excluded.facility,
  doors = excluded.doors,
  active = excluded.active,
  master = excluded.master,
  group_id = excluded.group_id,
  schedule_id = excluded.schedule_id,
  valid_from = excluded.valid_from,
  valid_until = excluded.valid_until,
  updated_at_ms = excluded.updated_at_ms;
`,
			strings.ToLower(c.CardID), c.UserID, c.Facility, c.Doors.String(), boolInt(c.Active), boolInt(c.Master),
			intArg(c.GroupID), intArg(c.ScheduleID), dateArg(c.ValidFrom), dateArg(c.ValidUntil), now, now,
		); err != nil {
			return fmt.Errorf("UpsertCard %s: %w", c.CardID, err)
		}
		return nil
	})
}

func (m *AccessModel) EnrollInactive(ctx context.Context, c engine.Card) error {
	now := time.Now().UTC().UnixMilli()
	return m.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// user_id is UNIQUE; a clash with another card's credential is left
		// alone just like an existing card_id.
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO cards(card_id, user_id, facility, active, master, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, 0, 0, ?, ?);
`, strings.ToLower(c.CardID), c.UserID, c.Facility, now, now); err != nil {
			return fmt.Errorf("EnrollInactive %s: %w", c.CardID, err)
		}
		return nil
	})
}

// ---- doors ----

func (m *AccessModel) DoorByName(ctx context.Context, name string) (engine.Door, error) {
	var (
		d       engine.Door
		schedID sql.NullInt64
		unlockS int64
		status  string
	)
	err := m.db.QueryRowContext(ctx, `
SELECT name, schedule_id, unlock_duration_s, status FROM doors WHERE name = ?;
`, name).Scan(&d.Name, &schedID, &unlockS, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Door{}, store.ErrNotFound
	}
	if err != nil {
		return engine.Door{}, fmt.Errorf("DoorByName: %w", err)
	}
	d.ScheduleID = nullInt(schedID)
	d.UnlockDuration = time.Duration(unlockS) * time.Second
	d.Status = engine.DoorStatus(status)
	return d, nil
}

func (m *AccessModel) UpsertDoor(ctx context.Context, d engine.Door) error {
	now := time.Now().UTC().UnixMilli()
	if d.Status == "" {
		d.Status = engine.DoorUnknown
	}
	unlock := int64(d.UnlockDuration / time.Second)
	if unlock <= 0 {
		unlock = 5
	}
	return m.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO doors(name, schedule_id, unlock_duration_s, status, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  schedule_id = excluded.schedule_id,
  unlock_duration_s = excluded.unlock_duration_s,
  status = excluded.status,
  updated_at_ms = excluded.updated_at_ms;
`, d.Name, intArg(d.ScheduleID), unlock, string(d.Status), now, now); err != nil {
			return fmt.Errorf("UpsertDoor %s: %w", d.Name, err)
		}
		return nil
	})
}

func (m *AccessModel) SetDoorStatus(ctx context.Context, name string, status engine.DoorStatus) error {
	now := time.Now().UTC().UnixMilli()
	return m.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE doors SET status = ?, updated_at_ms = ? WHERE name = ?;
`, string(status), now, name)
		if err != nil {
			return fmt.Errorf("SetDoorStatus %s: %w", name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// ---- groups ----

func (m *AccessModel) GroupByID(ctx context.Context, id int64) (engine.AccessGroup, error) {
	var (
		g     engine.AccessGroup
		doors string
	)
	err := m.db.QueryRowContext(ctx, `
SELECT id, name, doors FROM access_groups WHERE id = ?;
`, id).Scan(&g.ID, &g.Name, &doors)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.AccessGroup{}, store.ErrNotFound
	}
	if err != nil {
		return engine.AccessGroup{}, fmt.Errorf("GroupByID: %w", err)
	}

	var names []string
	if strings.TrimSpace(doors) != "" {
		if err := json.Unmarshal([]byte(doors), &names); err != nil {
			return engine.AccessGroup{}, fmt.Errorf("group %d doors: %w", id, err)
		}
	}
	g.Doors = engine.NewDoorSet(names...)
	return g, nil
}

func (m *AccessModel) UpsertGroup(ctx context.Context, g engine.AccessGroup) (int64, error) {
	names := g.Doors.Names()
	if names == nil {
		names = []string{}
	}
	doors, err := json.Marshal(names)
	if err != nil {
		return 0, fmt.Errorf("UpsertGroup encode doors: %w", err)
	}

	now := time.Now().UTC().UnixMilli()
	id := g.ID
	err = m.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if id == 0 {
			res, err := tx.ExecContext(ctx, `
INSERT INTO access_groups(name, doors, created_at_ms, updated_at_ms) VALUES (?, ?, ?, ?);
`, g.Name, string(doors), now, now)
			if err != nil {
				return fmt.Errorf("UpsertGroup insert: %w", err)
			}
			id, err = res.LastInsertId()
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_groups(id, name, doors, created_at_ms, updated_at_ms) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  doors = excluded.doors,
  updated_at_ms = excluded.updated_at_ms;
`, id, g.Name, string(doors), now, now); err != nil {
			return fmt.Errorf("UpsertGroup %d: %w", id, err)
		}
		return nil
	})
	return id, err
}

// ---- schedules ----

// weekdayColumns lists the per-day column prefixes in time.Weekday order.
var weekdayColumns = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

func scheduleSelect() string {
	cols := make([]string, 0, 14)
	for _, d := range weekdayColumns {
		cols = append(cols, d+"_start", d+"_end")
	}
	return `SELECT id, name, is_24_7, ` + strings.Join(cols, ", ") + ` FROM access_schedules WHERE id = ?;`
}

func (m *AccessModel) ScheduleByID(ctx context.Context, id int64) (engine.Schedule, error) {
	var (
		s      engine.Schedule
		is24x7 int
		times  [14]sql.NullString
	)
	dest := []any{&s.ID, &s.Name, &is24x7}
	for i := range times {
		dest = append(dest, &times[i])
	}

	err := m.db.QueryRowContext(ctx, scheduleSelect(), id).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Schedule{}, store.ErrNotFound
	}
	if err != nil {
		return engine.Schedule{}, fmt.Errorf("ScheduleByID: %w", err)
	}

	s.Is24x7 = is24x7 == 1
	s.Windows = make(map[time.Weekday]engine.Window)
	for wd := range weekdayColumns {
		start, end := clockOrNil(times[2*wd]), clockOrNil(times[2*wd+1])
		if start == nil && end == nil {
			continue
		}
		// An unparseable side stays nil, which leaves the window malformed
		// and the day closed.
		s.Windows[time.Weekday(wd)] = engine.Window{Start: start, End: end}
	}
	return s, nil
}

func (m *AccessModel) UpsertSchedule(ctx context.Context, s engine.Schedule) (int64, error) {
	cols := []string{"name", "is_24_7"}
	args := []any{s.Name, boolInt(s.Is24x7)}
	for wd, day := range weekdayColumns {
		w := s.Windows[time.Weekday(wd)]
		cols = append(cols, day+"_start", day+"_end")
		args = append(args, clockArg(w.Start), clockArg(w.End))
	}

	now := time.Now().UTC().UnixMilli()
	id := s.ID
	err := m.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		c := append([]string{}, cols...)
		a := append([]any{}, args...)
		if id != 0 {
			c = append([]string{"id"}, c...)
			a = append([]any{id}, a...)
		}
		c = append(c, "created_at_ms", "updated_at_ms")
		a = append(a, now, now)

		sets := make([]string, 0, len(cols)+1)
		for _, col := range cols {
			sets = append(sets, col+" = excluded."+col)
		}
		sets = append(sets, "updated_at_ms = excluded.updated_at_ms")

		q := fmt.Sprintf(`INSERT INTO access_schedules(%s) VALUES (%s)
ON CONFLICT(id) DO UPDATE SET %s;`,
			strings.Join(c, ", "),
			strings.TrimSuffix(strings.Repeat("?, ", len(c)), ", "),
			strings.Join(sets, ", "),
		)
		res, err := tx.ExecContext(ctx, q, a...)
		if err != nil {
			return fmt.Errorf("UpsertSchedule: %w", err)
		}
		if id == 0 {
			id, err = res.LastInsertId()
		}
		return err
	})
	return id, err
}

// ---- holidays ----

func (m *AccessModel) ListHolidays(ctx context.Context) ([]engine.Holiday, error) {
	rows, err := m.db.QueryContext(ctx, `
SELECT name, date, recurring, no_access FROM holidays ORDER BY date;
`)
	if err != nil {
		return nil, fmt.Errorf("ListHolidays: %w", err)
	}
	defer rows.Close()

	var out []engine.Holiday
	for rows.Next() {
		var (
			h                   engine.Holiday
			date                string
			recurring, noAccess int
		)
		if err := rows.Scan(&h.Name, &date, &recurring, &noAccess); err != nil {
			return nil, fmt.Errorf("ListHolidays scan: %w", err)
		}
		d, err := civil.ParseDate(strings.TrimSpace(date))
		if err != nil {
			// Unparseable dates match nothing.
			continue
		}
		h.Date = d
		h.Recurring = recurring == 1
		h.NoAccess = noAccess == 1
		out = append(out, h)
	}
	return out, rows.Err()
}

func (m *AccessModel) AddHoliday(ctx context.Context, h engine.Holiday) error {
	now := time.Now().UTC().UnixMilli()
	return m.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO holidays(name, date, recurring, no_access, created_at_ms) VALUES (?, ?, ?, ?, ?);
`, h.Name, h.Date.String(), boolInt(h.Recurring), boolInt(h.NoAccess), now); err != nil {
			return fmt.Errorf("AddHoliday: %w", err)
		}
		return nil
	})
}

// ---- column helpers ----

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func intArg(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullDate(v sql.NullString) (*civil.Date, error) {
	s := strings.TrimSpace(v.String)
	if !v.Valid || s == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func dateArg(d *civil.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func clockOrNil(v sql.NullString) *civil.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	t, err := engine.ParseClock(v.String)
	if err != nil {
		return nil
	}
	return &t
}

func clockArg(t *civil.Time) any {
	if t == nil {
		return nil
	}
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}
