package settlement

import (
	"fmt"
	"time"

	"github.com/nantokaworks/triad-arena/internal/types"
)

const testPersonaID = "persona-test"

// GenerateTriads builds n active triads of one prompt with the given scores.
// Triad i starts i seconds after the epoch and has two humans plus a persona.
func GenerateTriads(promptID string, scores ...int) []types.Triad {
	triads := make([]types.Triad, len(scores))
	for i, score := range scores {
		s := score
		triads[i] = types.Triad{
			ID:       fmt.Sprintf("triad-%03d", i+1),
			PromptID: promptID,
			RoomID:   fmt.Sprintf("room-%03d", i+1),
			Participants: []string{
				fmt.Sprintf("user-%03d", 2*i+1),
				fmt.Sprintf("user-%03d", 2*i+2),
				testPersonaID,
			},
			StartedAt:   time.Unix(0, 0).Add(time.Duration(i) * time.Second),
			DurationSec: 600,
			Status:      types.TriadActive,
			Score:       &s,
		}
	}
	return triads
}

func isTestPersona(userID string) bool {
	return userID == testPersonaID
}
