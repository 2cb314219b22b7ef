package ledger

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/types"
)

func setupLedgerTest(t *testing.T) {
	t.Helper()

	if localdb.DBClient != nil {
		_ = localdb.DBClient.Close()
		localdb.DBClient = nil
	}
	db, err := localdb.SetupDB(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("SetupDB failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
		localdb.DBClient = nil
	})

	base := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	prev := now
	now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	t.Cleanup(func() { now = prev })
}

func TestLedgerFlow(t *testing.T) {
	setupLedgerTest(t)

	if _, err := localdb.AddTokenTransaction(types.TokenTransaction{
		UserID: "alice", Amount: 10, Reason: types.ReasonWin, TriadID: "t1", PromptID: "p1", CreatedAt: now(),
	}); err != nil {
		t.Fatalf("AddTokenTransaction failed: %v", err)
	}
	if _, err := AdminAdjust("alice", 2, "welcome bonus"); err != nil {
		t.Fatalf("AdminAdjust failed: %v", err)
	}

	if _, err := Spend("alice", 5, "sticker pack"); err != nil {
		t.Fatalf("Spend failed: %v", err)
	}
	if _, err := Spend("alice", 100, "yacht"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("overspend: unexpected error: %v", err)
	}
	if _, err := AdminAdjust("alice", -3, "refund reversal"); err != nil {
		t.Fatalf("AdminAdjust failed: %v", err)
	}
	if _, err := AdminAdjust("alice", 4, " "); !errors.Is(err, ErrMissingNote) {
		t.Fatalf("missing note: unexpected error: %v", err)
	}

	balance, err := Balance("alice")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 4 {
		t.Fatalf("balance: got=%d want=4", balance)
	}

	history, err := Transactions("alice", 0)
	if err != nil {
		t.Fatalf("Transactions failed: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history: got=%d want=4", len(history))
	}
	if history[0].Reason != types.ReasonAdminAdjustment || history[3].Reason != types.ReasonWin {
		t.Fatalf("history should be newest first: %+v", history)
	}
	sum := 0
	for _, tx := range history {
		sum += tx.Amount
	}
	if sum != balance {
		t.Fatalf("balance must equal the sum of entries: sum=%d balance=%d", sum, balance)
	}
}

func TestLedgerValidation(t *testing.T) {
	setupLedgerTest(t)

	if _, err := AdminAdjust("", 1, "note"); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := AdminAdjust("bob", 0, "note"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Spend("bob", -1, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAdminAdjust_IgnoredInsertIsAnError(t *testing.T) {
	setupLedgerTest(t)

	prev := addTransaction
	addTransaction = func(types.TokenTransaction) (bool, error) { return false, nil }
	t.Cleanup(func() { addTransaction = prev })

	if _, err := AdminAdjust("bob", 5, "manual fix"); !errors.Is(err, ErrNotRecorded) {
		t.Fatalf("ignored insert: unexpected error: %v", err)
	}
}
