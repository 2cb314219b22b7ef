// Package evaluator grades expired triads and settles them.
package evaluator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nantokaworks/triad-arena/internal/broadcast"
	"github.com/nantokaworks/triad-arena/internal/env"
	"github.com/nantokaworks/triad-arena/internal/generation"
	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/persona"
	"github.com/nantokaworks/triad-arena/internal/reply"
	"github.com/nantokaworks/triad-arena/internal/settings"
	"github.com/nantokaworks/triad-arena/internal/settlement"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"github.com/nantokaworks/triad-arena/internal/types"
	"go.uber.org/zap"
)

var now = time.Now

// Grader scores a transcript per participant.
type Grader interface {
	GradeTranscript(ctx context.Context, promptText string, participantCount int, transcript string) (*generation.Grade, error)
}

type Evaluator struct {
	personas *persona.Registry
	grader   Grader
}

func New(personas *persona.Registry, grader Grader) *Evaluator {
	return &Evaluator{personas: personas, grader: grader}
}

// Summary describes one evaluation pass.
type Summary struct {
	Graded   []string `json:"graded"`
	Settled  []string `json:"settled"`
	Winners  []string `json:"winners"`
	Failures []string `json:"failures"`
}

// FinishedEvent is pushed to a room once its triad is settled.
type FinishedEvent struct {
	Triad   types.Triad `json:"triad"`
	Credits int         `json:"credits"`
}

// EvaluateExpiredTriads grades triads that need scores, then settles every
// expired active triad. Credits are written at most once per triad.
func (e *Evaluator) EvaluateExpiredTriads(ctx context.Context) (*Summary, error) {
	summary := &Summary{Graded: []string{}, Settled: []string{}, Winners: []string{}, Failures: []string{}}

	if err := e.gradePass(ctx, summary); err != nil {
		logger.Error("Grading pass failed", zap.Error(err))
	}
	if err := e.settlePass(summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func (e *Evaluator) gradePass(ctx context.Context, summary *Summary) error {
	triads, err := localdb.GetTriadsNeedingGrades(now())
	if err != nil {
		return err
	}

	for _, triad := range triads {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.gradeTriad(ctx, triad); err != nil {
			logger.Error("Failed to grade triad", zap.Error(err), zap.String("triad_id", triad.ID))
			summary.Failures = append(summary.Failures, fmt.Sprintf("grade %s: %v", triad.ID, err))
			continue
		}
		summary.Graded = append(summary.Graded, triad.ID)
	}
	return nil
}

func (e *Evaluator) gradeTriad(ctx context.Context, triad types.Triad) error {
	messages, err := localdb.GetTriadMessages(triad.ID)
	if err != nil {
		return err
	}

	promptText := ""
	if prompt, err := localdb.GetPrompt(triad.PromptID); err == nil {
		promptText = prompt.Text
	}

	scores := settlement.NeutralScores(triad.Participants)
	var (
		groupOverall *int
		feedback     string
	)
	transcript := e.transcript(triad, messages)
	if transcript != "" && e.grader != nil {
		grade, err := e.grader.GradeTranscript(ctx, promptText, len(triad.Participants), transcript)
		if err != nil {
			logger.Warn("Grading failed, using neutral scores", zap.Error(err), zap.String("triad_id", triad.ID))
		} else {
			scores = applyGrade(scores, grade)
			groupOverall = grade.GroupOverall
			feedback = grade.GroupFeedback
		}
	}

	if err := localdb.SetTriadUserScores(triad.ID, scores); err != nil {
		return err
	}
	if triad.Status != types.TriadActive {
		return nil
	}

	group := settlement.GroupScore(groupOverall, scores)
	if _, err := localdb.SetTriadProvisionalResult(triad.ID, group, settlement.ProvisionalWinner(scores), feedback); err != nil {
		return err
	}
	return nil
}

// transcript numbers senders by their position in the participant list.
func (e *Evaluator) transcript(triad types.Triad, messages []types.Message) string {
	index := make(map[string]int, len(triad.Participants))
	for i, userID := range triad.Participants {
		index[userID] = i + 1
	}

	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		i, ok := index[m.SenderID]
		if !ok {
			lines = append(lines, "System: "+text)
			continue
		}
		name := m.SenderID
		if e.personas != nil {
			name = e.personas.DisplayName(m.SenderID)
		}
		lines = append(lines, fmt.Sprintf("[%d] %s: %s", i, name, text))
	}
	return strings.Join(lines, "\n")
}

func applyGrade(scores []types.UserScore, grade *generation.Grade) []types.UserScore {
	for _, g := range grade.PerUser {
		i := g.UserIndex - 1
		if i < 0 || i >= len(scores) {
			continue
		}
		s := &scores[i]
		s.Defense = g.Defense
		s.Evidence = g.Evidence
		s.Logic = g.Logic
		s.Responsiveness = g.Responsiveness
		s.Clarity = g.Clarity
		s.Overall = settlement.WeightedOverall(settlement.Rubric{
			Defense:        g.Defense,
			Evidence:       g.Evidence,
			Logic:          g.Logic,
			Responsiveness: g.Responsiveness,
			Clarity:        g.Clarity,
		})
		s.Feedback = g.Feedback
	}
	return scores
}

func (e *Evaluator) creditOptions() settlement.CreditOptions {
	opts := settlement.CreditOptions{
		WinCredit:           env.Value.WinCredit,
		ParticipationCredit: env.Value.ParticipationCredit,
	}
	if db := localdb.GetDB(); db != nil {
		sm := settings.NewSettingsManager(db)
		opts.WinCredit = sm.GetInt("WIN_CREDIT", opts.WinCredit)
		opts.ParticipationCredit = sm.GetInt("PARTICIPATION_CREDIT", opts.ParticipationCredit)
	}
	if e.personas != nil {
		opts.IsPersona = e.personas.IsPersona
	}
	return opts
}

// settlePass settles a prompt only once none of its triads is still running,
// so siblings that expire in different passes compete for one winner.
func (e *Evaluator) settlePass(summary *Summary) error {
	at := now()
	triads, err := localdb.GetExpiredActiveTriads(at)
	if err != nil {
		return err
	}
	if len(triads) == 0 {
		return nil
	}

	base := e.creditOptions()
	for _, group := range settlement.GroupByPrompt(triads) {
		promptID := group[0].PromptID
		siblings, err := localdb.GetTriadsForPrompt(promptID)
		if err != nil {
			summary.Failures = append(summary.Failures, fmt.Sprintf("settle %s: %v", promptID, err))
			continue
		}
		running, awarded := promptState(siblings, at)
		if running {
			logger.Debug("Deferring settlement until every triad of the prompt expires",
				zap.String("prompt_id", promptID))
			continue
		}

		opts := base
		opts.WinnerAwarded = awarded
		outcome, err := settlement.Settle(group, opts)
		if err != nil {
			logger.Error("Failed to settle prompt", zap.Error(err), zap.String("prompt_id", promptID))
			summary.Failures = append(summary.Failures, fmt.Sprintf("settle %s: %v", promptID, err))
			continue
		}

		for _, result := range outcome.Results {
			finished, err := localdb.FinishTriad(result.Triad.ID, result.IsWinner, at, result.Credits)
			if err != nil {
				logger.Error("Failed to finish triad", zap.Error(err), zap.String("triad_id", result.Triad.ID))
				summary.Failures = append(summary.Failures, fmt.Sprintf("finish %s: %v", result.Triad.ID, err))
				continue
			}
			if !finished {
				continue
			}

			summary.Settled = append(summary.Settled, result.Triad.ID)
			if result.IsWinner {
				summary.Winners = append(summary.Winners, result.Triad.ID)
			}
			e.announce(result, at)
		}

		logger.Info("Prompt settled",
			zap.String("prompt_id", outcome.PromptID),
			zap.String("winner_triad_id", outcome.WinnerID),
			zap.Bool("winner_already_awarded", awarded),
			zap.Int("triads", len(outcome.Results)))
	}
	return nil
}

// promptState reports whether any triad is still inside its window and
// whether one has already been settled as the winner.
func promptState(triads []types.Triad, at time.Time) (running, awarded bool) {
	for _, t := range triads {
		if t.Status == types.TriadActive && !t.Expired(at) {
			running = true
		}
		if t.IsWinner {
			awarded = true
		}
	}
	return running, awarded
}

func (e *Evaluator) announce(result settlement.TriadResult, at time.Time) {
	triad := result.Triad
	reply.Notify(triad.RoomID, broadcast.TypeTriadLocked, map[string]any{
		"triad_id":   triad.ID,
		"room_id":    triad.RoomID,
		"expired_at": triad.ExpiresAt(),
	})

	if fresh, err := localdb.GetTriad(triad.ID); err == nil {
		triad = *fresh
	} else {
		triad.Status = types.TriadFinished
		triad.IsWinner = result.IsWinner
		triad.EndedAt = &at
	}
	credits := 0
	for _, c := range result.Credits {
		credits += c.Amount
	}
	reply.Notify(triad.RoomID, broadcast.TypeTriadFinished, FinishedEvent{Triad: triad, Credits: credits})
}
