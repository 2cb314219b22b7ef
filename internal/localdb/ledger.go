package localdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"github.com/nantokaworks/triad-arena/internal/types"
	"go.uber.org/zap"
)

// SetupLedgerTable creates token_transactions. There is no balance column:
// a balance is always the sum of a user's rows.
func SetupLedgerTable(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS token_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			reason TEXT NOT NULL,
			triad_id TEXT NOT NULL DEFAULT '',
			prompt_id TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		logger.Error("Failed to create token_transactions table", zap.Error(err))
		return fmt.Errorf("failed to create token_transactions table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_token_transactions_user ON token_transactions(user_id, created_at)`); err != nil {
		logger.Warn("Failed to create token_transactions index", zap.Error(err))
	}

	// Settlement credits are unique per (user, triad, reason).
	if _, err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_token_transactions_settlement
		ON token_transactions(user_id, triad_id, reason)
		WHERE triad_id != '' AND reason IN ('participation', 'win')`); err != nil {
		return fmt.Errorf("failed to create settlement index: %w", err)
	}
	return nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertTransaction(e execer, t types.TokenTransaction) (bool, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	result, err := e.Exec(`
		INSERT OR IGNORE INTO token_transactions (user_id, amount, reason, triad_id, prompt_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.UserID, t.Amount, string(t.Reason), t.TriadID, t.PromptID, t.Metadata, toMillis(t.CreatedAt))
	if err != nil {
		logger.Error("Failed to insert token transaction", zap.Error(err), zap.String("user_id", t.UserID))
		return false, fmt.Errorf("failed to insert token transaction: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// AddTokenTransaction appends a ledger entry. Returns false when a settlement
// credit for the same (user, triad, reason) already exists.
func AddTokenTransaction(t types.TokenTransaction) (bool, error) {
	db := GetDB()
	if db == nil {
		return false, ErrNotInitialized
	}
	return insertTransaction(db, t)
}

// GetBalance sums the user's ledger.
func GetBalance(userID string) (int, error) {
	db := GetDB()
	if db == nil {
		return 0, ErrNotInitialized
	}

	var balance int
	if err := db.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM token_transactions WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		logger.Error("Failed to get balance", zap.Error(err), zap.String("user_id", userID))
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// GetTokenTransactions returns the user's ledger, newest first.
func GetTokenTransactions(userID string, limit int) ([]types.TokenTransaction, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	query := `SELECT id, user_id, amount, reason, triad_id, prompt_id, metadata, created_at
		FROM token_transactions WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = db.Query(query+" LIMIT ?", userID, limit)
	} else {
		rows, err = db.Query(query, userID)
	}
	if err != nil {
		logger.Error("Failed to get token transactions", zap.Error(err))
		return nil, fmt.Errorf("failed to get token transactions: %w", err)
	}
	defer rows.Close()

	out := []types.TokenTransaction{}
	for rows.Next() {
		var (
			t         types.TokenTransaction
			reason    string
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &reason, &t.TriadID, &t.PromptID, &t.Metadata, &createdAt); err != nil {
			logger.Error("Failed to scan token transaction", zap.Error(err))
			continue
		}
		t.Reason = types.TransactionReason(reason)
		t.CreatedAt = fromMillis(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTriadCredits returns how many settlement credits exist for a triad.
func CountTriadCredits(triadID string) (int, error) {
	db := GetDB()
	if db == nil {
		return 0, ErrNotInitialized
	}

	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM token_transactions WHERE triad_id = ? AND reason IN ('participation', 'win')`, triadID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count triad credits: %w", err)
	}
	return n, nil
}

// SpendTokens appends a negative entry only if the user's balance covers it.
// Returns false when the balance is insufficient.
func SpendTokens(userID string, amount int, metadata string, at time.Time) (bool, error) {
	db := GetDB()
	if db == nil {
		return false, ErrNotInitialized
	}

	result, err := db.Exec(`
		INSERT INTO token_transactions (user_id, amount, reason, metadata, created_at)
		SELECT ?, ?, 'spend', ?, ?
		WHERE (SELECT COALESCE(SUM(amount), 0) FROM token_transactions WHERE user_id = ?) >= ?
	`, userID, -amount, metadata, toMillis(at), userID, amount)
	if err != nil {
		logger.Error("Failed to spend tokens", zap.Error(err), zap.String("user_id", userID))
		return false, fmt.Errorf("failed to spend tokens: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}
