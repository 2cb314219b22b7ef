package moderation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nantokaworks/triad-arena/internal/env"
	"github.com/nantokaworks/triad-arena/internal/localdb"
)

func setupModerationTestDB(t *testing.T) {
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
}

type failingModerator struct{}

func (failingModerator) Moderate(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("moderation backend down")
}

func TestSeedDefaultWordsRunsOnce(t *testing.T) {
	setupModerationTestDB(t)

	if err := SeedDefaultWords(); err != nil {
		t.Fatalf("SeedDefaultWords failed: %v", err)
	}
	first, err := localdb.GetWordFilterWords()
	if err != nil {
		t.Fatalf("GetWordFilterWords failed: %v", err)
	}
	if len(first) == 0 {
		t.Fatalf("expected seeded words")
	}

	w, err := localdb.AddWordFilterWord("en", "clown", "bad")
	if err != nil {
		t.Fatalf("AddWordFilterWord failed: %v", err)
	}
	if err := localdb.DeleteWordFilterWord(first[0].ID); err != nil {
		t.Fatalf("DeleteWordFilterWord failed: %v", err)
	}
	if err := SeedDefaultWords(); err != nil {
		t.Fatalf("second SeedDefaultWords failed: %v", err)
	}
	second, _ := localdb.GetWordFilterWords()
	if len(second) != len(first) {
		t.Fatalf("seeding must not run twice: got=%d want=%d", len(second), len(first))
	}
	if w.Word != "clown" {
		t.Fatalf("unexpected word: %+v", w)
	}
}

func TestWordFilterModerate(t *testing.T) {
	setupModerationTestDB(t)
	if err := SeedDefaultWords(); err != nil {
		t.Fatalf("SeedDefaultWords failed: %v", err)
	}

	f := NewWordFilter()
	ctx := context.Background()

	cases := []struct {
		text    string
		allowed bool
	}{
		{"I think public transit is underfunded.", true},
		{"You're an IDIOT.", false},
		{"what a bunch of idiots", false},
		{"Let me assess that assumption first.", true},
		{"just shut up already", false},
		{"shutup is one word here", true},
	}
	for _, c := range cases {
		d, err := f.Moderate(ctx, c.text)
		if err != nil {
			t.Fatalf("Moderate(%q) failed: %v", c.text, err)
		}
		if d.Allowed != c.allowed {
			t.Fatalf("Moderate(%q): got allowed=%v want=%v (matched=%q)", c.text, d.Allowed, c.allowed, d.Matched)
		}
	}

	if _, err := localdb.AddWordFilterWord("en", "clown", "bad"); err != nil {
		t.Fatalf("AddWordFilterWord failed: %v", err)
	}
	if d, _ := f.Moderate(ctx, "clown"); !d.Allowed {
		t.Fatalf("cached list should not see the new word before Reload")
	}
	f.Reload()
	if d, _ := f.Moderate(ctx, "clown"); d.Allowed {
		t.Fatalf("new word should block after Reload")
	}
}

func TestCheckAppliesFailMode(t *testing.T) {
	ctx := context.Background()

	if d := Check(ctx, failingModerator{}, "hello", env.ModerationFailBlock); d.Allowed {
		t.Fatalf("block fail mode must reject on moderation error")
	}
	if d := Check(ctx, failingModerator{}, "hello", env.ModerationFailAllow); !d.Allowed {
		t.Fatalf("allow fail mode must pass on moderation error")
	}
	if d := Check(ctx, failingModerator{}, "hello", "bogus"); d.Allowed {
		t.Fatalf("unknown fail mode must block")
	}
	if d := Check(ctx, nil, "hello", env.ModerationFailBlock); !d.Allowed {
		t.Fatalf("no moderator configured should allow")
	}
}
