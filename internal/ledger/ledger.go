// Package ledger is the append-only token ledger. Balances are always sums.
// Settlement credits are written together with the triad they settle, see
// localdb.FinishTriad.
package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"github.com/nantokaworks/triad-arena/internal/types"
	"go.uber.org/zap"
)

const DefaultHistoryLimit = 50

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMissingUser         = errors.New("user id is required")
	ErrMissingNote         = errors.New("adjustment note is required")
	ErrNotRecorded         = errors.New("ledger entry was not recorded")
)

var (
	now            = time.Now
	addTransaction = localdb.AddTokenTransaction
)

func checkUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUser
	}
	return nil
}

// Spend deducts amount if the balance covers it.
func Spend(userID string, amount int, note string) (*types.TokenTransaction, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	at := now()
	ok, err := localdb.SpendTokens(userID, amount, note, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientBalance
	}

	logger.Info("Tokens spent", zap.String("user_id", userID), zap.Int("amount", amount))
	return &types.TokenTransaction{
		UserID:    userID,
		Amount:    -amount,
		Reason:    types.ReasonSpend,
		Metadata:  note,
		CreatedAt: at,
	}, nil
}

// AdminAdjust appends a signed correction. A note is mandatory.
func AdminAdjust(userID string, delta int, note string) (*types.TokenTransaction, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, ErrInvalidAmount
	}
	if strings.TrimSpace(note) == "" {
		return nil, ErrMissingNote
	}

	t := types.TokenTransaction{
		UserID:    userID,
		Amount:    delta,
		Reason:    types.ReasonAdminAdjustment,
		Metadata:  note,
		CreatedAt: now(),
	}
	inserted, err := addTransaction(t)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrNotRecorded
	}

	logger.Info("Balance adjusted by admin",
		zap.String("user_id", userID), zap.Int("delta", delta), zap.String("note", note))
	return &t, nil
}

func Balance(userID string) (int, error) {
	if err := checkUser(userID); err != nil {
		return 0, err
	}
	return localdb.GetBalance(userID)
}

// Transactions lists the newest entries first.
func Transactions(userID string, limit int) ([]types.TokenTransaction, error) {
	if err := checkUser(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return localdb.GetTokenTransactions(userID, limit)
}
