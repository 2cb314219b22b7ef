package localdb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"go.uber.org/zap"
)

var DBClient *sql.DB

var (
	ErrNotInitialized = errors.New("database not initialized")
	ErrNotFound       = errors.New("record not found")
)

func SetupDB(dbPath string) (*sql.DB, error) {
	if DBClient != nil {
		return DBClient, nil
	}

	// WAL + busy timeout: concurrent sweeps and message posts share one file.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer; one connection serialises conditional updates.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		setting_type TEXT NOT NULL DEFAULT 'normal',
		is_required BOOLEAN NOT NULL DEFAULT false,
		description TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}

	setups := []struct {
		name string
		fn   func(*sql.DB) error
	}{
		{"prompts", SetupPromptTables},
		{"rooms", SetupRoomTables},
		{"triads", SetupTriadTables},
		{"messages", SetupMessagesTable},
		{"ledger", SetupLedgerTable},
		{"leases", SetupLeaseTables},
		{"word_filter", SetupWordFilterTable},
	}
	for _, s := range setups {
		if err := s.fn(db); err != nil {
			logger.Error("Failed to setup tables", zap.String("group", s.name), zap.Error(err))
			_ = db.Close()
			return nil, err
		}
	}

	DBClient = db
	return db, nil
}

// GetDB returns the current database connection.
func GetDB() *sql.DB {
	return DBClient
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// GenerateID returns a new URL-safe record id.
func GenerateID() (string, error) {
	return gonanoid.New()
}
