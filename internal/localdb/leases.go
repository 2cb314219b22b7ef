package localdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"go.uber.org/zap"
)

// SetupLeaseTables creates the leases and counters tables.
func SetupLeaseTables(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS leases (
			key TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create leases table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS counters (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create counters table: %w", err)
	}
	return nil
}

// AcquireLease takes key for holder until now+ttl. It succeeds only when the
// key is free or its previous lease has expired; a live lease is never waited on.
func AcquireLease(key, holder string, ttl time.Duration, now time.Time) (bool, error) {
	db := GetDB()
	if db == nil {
		return false, ErrNotInitialized
	}

	result, err := db.Exec(`
		INSERT INTO leases (key, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			holder = excluded.holder,
			expires_at = excluded.expires_at
		WHERE leases.expires_at <= ?
	`, key, holder, toMillis(now.Add(ttl)), toMillis(now))
	if err != nil {
		logger.Error("Failed to acquire lease", zap.Error(err), zap.String("key", key))
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lease result: %w", err)
	}
	return n == 1, nil
}

// ReleaseLease frees key if holder still owns it.
func ReleaseLease(key, holder string) error {
	db := GetDB()
	if db == nil {
		return ErrNotInitialized
	}

	if _, err := db.Exec(`DELETE FROM leases WHERE key = ? AND holder = ?`, key, holder); err != nil {
		logger.Warn("Failed to release lease", zap.Error(err), zap.String("key", key))
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// RenewLease pushes holder's lease on key out to now+ttl. It returns false
// when holder no longer owns the key.
func RenewLease(key, holder string, ttl time.Duration, now time.Time) (bool, error) {
	db := GetDB()
	if db == nil {
		return false, ErrNotInitialized
	}

	result, err := db.Exec(`UPDATE leases SET expires_at = ? WHERE key = ? AND holder = ?`,
		toMillis(now.Add(ttl)), key, holder)
	if err != nil {
		logger.Warn("Failed to renew lease", zap.Error(err), zap.String("key", key))
		return false, fmt.Errorf("failed to renew lease: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lease result: %w", err)
	}
	return n == 1, nil
}

// NextCounter atomically increments key and returns the new value (1 on first use).
func NextCounter(key string) (int64, error) {
	db := GetDB()
	if db == nil {
		return 0, ErrNotInitialized
	}

	var value int64
	err := db.QueryRow(`
		INSERT INTO counters (key, value, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = counters.value + 1,
			updated_at = excluded.updated_at
		RETURNING value
	`, key, toMillis(time.Now())).Scan(&value)
	if err != nil {
		logger.Error("Failed to increment counter", zap.Error(err), zap.String("key", key))
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return value, nil
}
