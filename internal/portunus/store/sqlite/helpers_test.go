package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/BrandonDHaskell/portunus-access/internal/db"
)

// openTestDB returns a private in-memory database with production PRAGMAs
// and every migration applied. It is closed when the test ends.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Shared cache keeps the in-memory database alive if the pool recycles
	// its single connection.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := sql.Open("sqlite", fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", name,
	))
	require.NoError(t, err)

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.Ping())
	_, err = db.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return conn
}

func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()
	w := db.NewWorker(conn)
	t.Cleanup(w.Close)
	return w
}

// seedModule inserts a disabled, uncommissioned module. A non-empty door is
// created on the fly and the module is mounted on it.
func seedModule(t *testing.T, conn *sql.DB, moduleID, door string) {
	t.Helper()
	ctx := context.Background()
	nowMs := time.Now().UTC().UnixMilli()

	var doorArg any
	if door != "" {
		seedDoor(t, conn, door)
		doorArg = door
	}
	_, err := conn.ExecContext(ctx, `
INSERT OR IGNORE INTO modules(module_id, door_name, enabled, created_at_ms, updated_at_ms)
VALUES (?, ?, 0, ?, ?);`, moduleID, doorArg, nowMs, nowMs)
	require.NoError(t, err, "seedModule %s", moduleID)
}

func seedDoor(t *testing.T, conn *sql.DB, name string) {
	t.Helper()
	nowMs := time.Now().UTC().UnixMilli()
	_, err := conn.ExecContext(context.Background(), `
INSERT OR IGNORE INTO doors(name, created_at_ms, updated_at_ms) VALUES (?, ?, ?);`,
		name, nowMs, nowMs)
	require.NoError(t, err, "seedDoor %s", name)
}

func commission(t *testing.T, conn *sql.DB, moduleID string) {
	t.Helper()
	_, err := conn.ExecContext(context.Background(), `
UPDATE modules SET enabled = 1, commissioned_at_ms = ? WHERE module_id = ?;`,
		time.Now().UTC().UnixMilli(), moduleID)
	require.NoError(t, err)
}
