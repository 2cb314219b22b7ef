package settlement

import (
	"testing"

	"github.com/nantokaworks/triad-arena/internal/types"
)

func TestWeightedOverall(t *testing.T) {
	got := WeightedOverall(Rubric{Defense: 90, Evidence: 70, Logic: 60, Responsiveness: 50, Clarity: 40})
	// 31.5 + 14 + 12 + 7.5 + 4
	if got != 69 {
		t.Fatalf("unexpected overall: got=%d want=69", got)
	}

	if got := WeightedOverall(Rubric{Defense: 150, Evidence: 100, Logic: 100, Responsiveness: 100, Clarity: 100}); got != 100 {
		t.Fatalf("criteria should be clamped: got=%d want=100", got)
	}
	if got := WeightedOverall(Rubric{Defense: -20}); got != 0 {
		t.Fatalf("negative criteria should be clamped: got=%d want=0", got)
	}
}

func TestNeutralScores(t *testing.T) {
	scores := NeutralScores([]string{"a", "b"})
	if len(scores) != 2 {
		t.Fatalf("unexpected score count: got=%d want=2", len(scores))
	}
	for _, s := range scores {
		if s.Overall != NeutralScore || s.Defense != NeutralScore || s.Clarity != NeutralScore {
			t.Fatalf("unexpected neutral score: %+v", s)
		}
	}
}

func TestGroupScore(t *testing.T) {
	scores := []types.UserScore{{UserID: "a", Overall: 70}, {UserID: "b", Overall: 75}}

	if got := GroupScore(nil, scores); got != 73 {
		t.Fatalf("mean should round half up: got=%d want=73", got)
	}

	overall := 90
	if got := GroupScore(&overall, scores); got != 90 {
		t.Fatalf("grader overall should win: got=%d want=90", got)
	}

	if got := GroupScore(nil, nil); got != NeutralScore {
		t.Fatalf("no scores should be neutral: got=%d", got)
	}
}

func TestProvisionalWinner(t *testing.T) {
	scores := []types.UserScore{
		{UserID: "a", Overall: 60},
		{UserID: "b", Overall: 80},
		{UserID: "c", Overall: 80},
	}
	if got := ProvisionalWinner(scores); got != "b" {
		t.Fatalf("first maximum should win: got=%q want=%q", got, "b")
	}
	if got := ProvisionalWinner(nil); got != "" {
		t.Fatalf("no scores should have no winner: got=%q", got)
	}
}
