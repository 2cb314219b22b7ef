package settlement

import (
	"math"

	"github.com/nantokaworks/triad-arena/internal/types"
)

// NeutralScore is given to every participant when grading is unavailable.
const NeutralScore = 50

const (
	defenseWeight        = 0.35
	evidenceWeight       = 0.20
	logicWeight          = 0.20
	responsivenessWeight = 0.15
	clarityWeight        = 0.10
)

// Rubric is one participant's raw criterion scores (0-100 each).
type Rubric struct {
	Defense        int
	Evidence       int
	Logic          int
	Responsiveness int
	Clarity        int
}

// WeightedOverall combines the rubric into a rounded 0-100 score.
func WeightedOverall(r Rubric) int {
	raw := float64(clampScore(r.Defense))*defenseWeight +
		float64(clampScore(r.Evidence))*evidenceWeight +
		float64(clampScore(r.Logic))*logicWeight +
		float64(clampScore(r.Responsiveness))*responsivenessWeight +
		float64(clampScore(r.Clarity))*clarityWeight
	return clampScore(int(math.Round(raw)))
}

// NeutralScores gives every participant NeutralScore on every criterion.
func NeutralScores(participants []string) []types.UserScore {
	scores := make([]types.UserScore, 0, len(participants))
	for _, userID := range participants {
		scores = append(scores, types.UserScore{
			UserID:         userID,
			Defense:        NeutralScore,
			Evidence:       NeutralScore,
			Logic:          NeutralScore,
			Responsiveness: NeutralScore,
			Clarity:        NeutralScore,
			Overall:        NeutralScore,
		})
	}
	return scores
}

// GroupScore is the grader's overall when given, otherwise the rounded mean
// of the per-user overalls. No scores yields NeutralScore.
func GroupScore(graderOverall *int, scores []types.UserScore) int {
	if graderOverall != nil {
		return clampScore(*graderOverall)
	}
	if len(scores) == 0 {
		return NeutralScore
	}
	total := 0
	for _, s := range scores {
		total += s.Overall
	}
	return clampScore(int(math.Round(float64(total) / float64(len(scores)))))
}

// ProvisionalWinner returns the user with the highest overall; the first
// maximum in order wins ties.
func ProvisionalWinner(scores []types.UserScore) string {
	winner := ""
	best := -1
	for _, s := range scores {
		if s.Overall > best {
			best = s.Overall
			winner = s.UserID
		}
	}
	return winner
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
