package collector

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/persona"
	"github.com/nantokaworks/triad-arena/internal/types"
)

func setupCollectorTest(t *testing.T) (*Collector, *persona.Registry) {
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

	reg, err := persona.Default()
	if err != nil {
		t.Fatalf("persona.Default failed: %v", err)
	}
	return New(reg), reg
}

func setClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func addPrompt(t *testing.T, id string, deadline time.Time, active bool) {
	t.Helper()
	if err := localdb.InsertPrompts([]types.Prompt{{
		ID: id, Text: "Is remote work here to stay?", Category: types.CategoryAI,
		ScheduledFor: deadline, Active: active, CreatedAt: deadline.Add(-time.Hour),
	}}); err != nil {
		t.Fatalf("InsertPrompts failed: %v", err)
	}
}

func TestSubmitResponse(t *testing.T) {
	c, reg := setupCollectorTest(t)
	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	setClock(t, base)
	addPrompt(t, "open", base.Add(time.Minute), true)
	addPrompt(t, "past", base.Add(-time.Minute), true)
	addPrompt(t, "claimed", base.Add(time.Minute), false)

	resp, err := c.SubmitResponse("open", "alice", "  Yes, offices are optional now. ")
	if err != nil {
		t.Fatalf("SubmitResponse failed: %v", err)
	}
	if resp.Content != "Yes, offices are optional now." || resp.IsPersona {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if _, err := c.SubmitResponse("open", "alice", "changed my mind"); !errors.Is(err, ErrAlreadyResponded) {
		t.Fatalf("duplicate: unexpected error: %v", err)
	}
	if _, err := c.SubmitResponse("missing", "bob", "hi"); !errors.Is(err, ErrPromptNotFound) {
		t.Fatalf("missing prompt: unexpected error: %v", err)
	}
	if _, err := c.SubmitResponse("past", "bob", "hi"); !errors.Is(err, ErrPromptClosed) {
		t.Fatalf("past deadline: unexpected error: %v", err)
	}
	if _, err := c.SubmitResponse("claimed", "bob", "hi"); !errors.Is(err, ErrPromptClosed) {
		t.Fatalf("inactive prompt: unexpected error: %v", err)
	}
	if _, err := c.SubmitResponse("open", "bob", "   "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("empty content: unexpected error: %v", err)
	}
	if _, err := c.SubmitResponse("open", reg.All()[0].UserID, "hi"); !errors.Is(err, ErrReservedUser) {
		t.Fatalf("persona id: unexpected error: %v", err)
	}

	stored, err := localdb.GetPromptResponses("open")
	if err != nil {
		t.Fatalf("GetPromptResponses failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored responses: got=%d want=1", len(stored))
	}
}

func TestRecordBotAssignmentAndQueue(t *testing.T) {
	c, reg := setupCollectorTest(t)
	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	addPrompt(t, "p1", base.Add(time.Hour), true)

	setClock(t, base)
	if _, err := c.SubmitResponse("p1", "carol", "Pro."); err != nil {
		t.Fatalf("SubmitResponse failed: %v", err)
	}
	setClock(t, base.Add(time.Second))
	if _, err := c.RecordBotAssignment("p1", "dave", reg.All()[1].Key); err != nil {
		t.Fatalf("RecordBotAssignment failed: %v", err)
	}
	setClock(t, base.Add(2*time.Second))
	if _, err := c.SubmitResponse("p1", "erin", "Con."); err != nil {
		t.Fatalf("SubmitResponse failed: %v", err)
	}
	if _, err := c.RecordBotAssignment("p1", "carol", reg.All()[0].Key); err != nil {
		t.Fatalf("RecordBotAssignment failed: %v", err)
	}

	if _, err := c.RecordBotAssignment("p1", "frank", "nobody"); !errors.Is(err, ErrUnknownPersona) {
		t.Fatalf("unknown persona: unexpected error: %v", err)
	}

	queue, err := c.UnassignedQueue("p1")
	if err != nil {
		t.Fatalf("UnassignedQueue failed: %v", err)
	}
	if want := []string{"carol", "dave", "erin"}; !reflect.DeepEqual(queue, want) {
		t.Fatalf("queue: got=%v want=%v", queue, want)
	}
}
