package settlement

import (
	"errors"
	"fmt"

	"github.com/nantokaworks/triad-arena/internal/types"
)

var ErrNoTriads = errors.New("no triads to settle")

// CreditOptions controls the credits a settlement hands out.
type CreditOptions struct {
	WinCredit           int
	ParticipationCredit int
	// IsPersona excludes AI participants from credits.
	IsPersona func(userID string) bool
	// WinnerAwarded means an earlier settlement already crowned this prompt's
	// winner; every triad then gets participation credit only.
	WinnerAwarded bool
}

// TriadResult is the settlement of one triad.
type TriadResult struct {
	Triad    types.Triad
	IsWinner bool
	Credits  []types.TokenTransaction
}

// Outcome is the settlement of every triad of one prompt.
type Outcome struct {
	PromptID string
	WinnerID string
	Results  []TriadResult
}

// PickWinner returns the index of the triad with the highest group score.
// Ties go to the earliest start, then the lowest triad id.
func PickWinner(triads []types.Triad) (int, error) {
	if len(triads) == 0 {
		return -1, ErrNoTriads
	}

	best := 0
	for i := 1; i < len(triads); i++ {
		if beats(triads[i], triads[best]) {
			best = i
		}
	}
	return best, nil
}

func beats(a, b types.Triad) bool {
	if a.GroupScore() != b.GroupScore() {
		return a.GroupScore() > b.GroupScore()
	}
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.Before(b.StartedAt)
	}
	return a.ID < b.ID
}

// Settle picks the single winner among one prompt's triads and plans every
// participant's credit. All triads must share a prompt.
func Settle(triads []types.Triad, opts CreditOptions) (*Outcome, error) {
	winnerIdx, err := PickWinner(triads)
	if err != nil {
		return nil, err
	}

	promptID := triads[0].PromptID
	outcome := &Outcome{
		PromptID: promptID,
		Results:  make([]TriadResult, 0, len(triads)),
	}
	if opts.WinnerAwarded {
		winnerIdx = -1
	} else {
		outcome.WinnerID = triads[winnerIdx].ID
	}

	for i, triad := range triads {
		if triad.PromptID != promptID {
			return nil, fmt.Errorf("triad %s belongs to prompt %s, not %s", triad.ID, triad.PromptID, promptID)
		}

		isWinner := i == winnerIdx
		amount, reason := opts.ParticipationCredit, types.ReasonParticipation
		if isWinner {
			amount, reason = opts.WinCredit, types.ReasonWin
		}

		result := TriadResult{Triad: triad, IsWinner: isWinner, Credits: []types.TokenTransaction{}}
		if amount > 0 {
			for _, userID := range triad.Participants {
				if opts.IsPersona != nil && opts.IsPersona(userID) {
					continue
				}
				result.Credits = append(result.Credits, types.TokenTransaction{
					UserID:   userID,
					Amount:   amount,
					Reason:   reason,
					TriadID:  triad.ID,
					PromptID: triad.PromptID,
					Metadata: fmt.Sprintf(`{"group_score":%d}`, triad.GroupScore()),
				})
			}
		}
		outcome.Results = append(outcome.Results, result)
	}
	return outcome, nil
}

// GroupByPrompt splits triads by prompt, keeping first-seen prompt order and
// the input order within each prompt.
func GroupByPrompt(triads []types.Triad) [][]types.Triad {
	index := map[string]int{}
	groups := [][]types.Triad{}
	for _, t := range triads {
		i, ok := index[t.PromptID]
		if !ok {
			i = len(groups)
			index[t.PromptID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], t)
	}
	return groups
}
