package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type Config struct {
	Path string // e.g. "./data/portunus.db"
	Env  string // "dev" | "prod"
}

// Open connects to the sqlite database at cfg.Path, creating its directory if
// needed, and brings the schema up to date.
func Open(ctx context.Context, cfg Config, logger *logrus.Logger) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = "./data/portunus.db"
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", DSN(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// Single connection: all writes go through Worker anyway, and sqlite
	// allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	applied, err := Migrate(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, name := range applied {
		logger.WithField("migration", name).Info("applied migration")
	}

	return db, nil
}

// DSN builds a modernc.org/sqlite DSN with per-connection PRAGMAs:
// foreign keys on, WAL, synchronous NORMAL and a busy timeout.
func DSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)
}
