// Package scheduler turns due prompts into triads.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nantokaworks/triad-arena/internal/broadcast"
	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/persona"
	"github.com/nantokaworks/triad-arena/internal/reply"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"github.com/nantokaworks/triad-arena/internal/types"
	"go.uber.org/zap"
)

const (
	rotationCounter = "persona-rotation"
	DefaultDuration = 600 * time.Second
	// DefaultRetryAfter leaves a claiming pass time to finish seeding before a
	// later pass treats its leftover respondents as stranded.
	DefaultRetryAfter = time.Minute
)

var now = time.Now

// StanceGenerator writes a persona's opening position.
type StanceGenerator interface {
	GeneratePersonaStance(ctx context.Context, p persona.Persona, promptText string) (string, error)
}

// Queue lists the humans still waiting for a triad on a prompt.
type Queue interface {
	UnassignedQueue(promptID string) ([]string, error)
}

// Dispatcher starts persona replies in the background.
type Dispatcher interface {
	Dispatch(req reply.Request)
}

type Config struct {
	Duration        time.Duration
	KickoffCooldown time.Duration
	// RetryAfter and RetryWindow bound the claim age of prompts whose
	// respondents are re-queued. The window defaults to Duration.
	RetryAfter  time.Duration
	RetryWindow time.Duration
}

type Scheduler struct {
	personas *persona.Registry
	queue    Queue
	stances  StanceGenerator
	replies  Dispatcher
	cfg      Config
}

func New(personas *persona.Registry, queue Queue, stances StanceGenerator, replies Dispatcher, cfg Config) *Scheduler {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.KickoffCooldown <= 0 {
		cfg.KickoffCooldown = reply.DefaultKickoffCooldown
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = DefaultRetryAfter
	}
	if cfg.RetryWindow <= 0 {
		cfg.RetryWindow = cfg.Duration
	}
	return &Scheduler{personas: personas, queue: queue, stances: stances, replies: replies, cfg: cfg}
}

// GroupFailure records a group that could not be seeded.
type GroupFailure struct {
	PromptID string   `json:"prompt_id"`
	Users    []string `json:"users"`
	Error    string   `json:"error"`
}

// Summary describes one scheduling pass.
type Summary struct {
	DuePrompts     int            `json:"due_prompts"`
	ClaimedPrompts []string       `json:"claimed_prompts"`
	RetriedPrompts []string       `json:"retried_prompts"`
	TriadsCreated  []string       `json:"triads_created"`
	Failures       []GroupFailure `json:"failures"`
}

// Partition splits the queue into pairs; an odd trailing user is alone.
func Partition(users []string) [][]string {
	groups := make([][]string, 0, (len(users)+1)/2)
	for i := 0; i < len(users); i += 2 {
		end := i + 2
		if end > len(users) {
			end = len(users)
		}
		groups = append(groups, append([]string(nil), users[i:end]...))
	}
	return groups
}

// ScheduleDuePrompts claims every due prompt and seeds a triad per group of
// waiting humans. A prompt claimed by another caller is skipped silently.
// A failing group is recorded and the pass continues; its humans stay queued
// and are placed by a later pass once the claim is older than RetryAfter.
func (s *Scheduler) ScheduleDuePrompts(ctx context.Context) (*Summary, error) {
	at := now()
	due, err := localdb.GetDuePrompts(at)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		DuePrompts:     len(due),
		ClaimedPrompts: []string{},
		RetriedPrompts: []string{},
		TriadsCreated:  []string{},
		Failures:       []GroupFailure{},
	}

	for _, prompt := range due {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		start := now()
		claimed, err := localdb.ClaimPrompt(prompt.ID, start)
		if err != nil {
			logger.Error("Failed to claim prompt", zap.Error(err), zap.String("prompt_id", prompt.ID))
			continue
		}
		if !claimed {
			continue
		}
		summary.ClaimedPrompts = append(summary.ClaimedPrompts, prompt.ID)
		s.placeQueue(ctx, prompt, start, summary)
	}

	stranded, err := localdb.GetStrandedPrompts(at.Add(-s.cfg.RetryWindow), at.Add(-s.cfg.RetryAfter))
	if err != nil {
		logger.Error("Failed to list stranded prompts", zap.Error(err))
		return summary, nil
	}
	for _, prompt := range stranded {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.RetriedPrompts = append(summary.RetriedPrompts, prompt.ID)
		s.placeQueue(ctx, prompt, now(), summary)
	}

	return summary, nil
}

// placeQueue seeds one triad per group of the prompt's waiting humans. Every
// triad seeded here starts at start so the prompt's triads expire together.
func (s *Scheduler) placeQueue(ctx context.Context, prompt types.Prompt, start time.Time, summary *Summary) {
	users, err := s.queue.UnassignedQueue(prompt.ID)
	if err != nil {
		logger.Error("Failed to build unassigned queue", zap.Error(err), zap.String("prompt_id", prompt.ID))
		summary.Failures = append(summary.Failures, GroupFailure{PromptID: prompt.ID, Error: err.Error()})
		return
	}

	for _, group := range Partition(users) {
		triadID, err := s.seedGroup(ctx, prompt, group, start)
		if err != nil {
			logger.Error("Failed to seed triad",
				zap.Error(err),
				zap.String("prompt_id", prompt.ID),
				zap.Strings("users", group))
			summary.Failures = append(summary.Failures, GroupFailure{PromptID: prompt.ID, Users: group, Error: err.Error()})
			continue
		}
		summary.TriadsCreated = append(summary.TriadsCreated, triadID)
	}

	logger.Info("Prompt scheduled",
		zap.String("prompt_id", prompt.ID),
		zap.Int("respondents", len(users)))
}

func (s *Scheduler) seedGroup(ctx context.Context, prompt types.Prompt, humans []string, start time.Time) (string, error) {
	seq, err := localdb.NextCounter(rotationCounter)
	if err != nil {
		return "", err
	}
	p := s.personas.At(seq)

	roomID, err := localdb.GenerateID()
	if err != nil {
		return "", fmt.Errorf("failed to generate room id: %w", err)
	}
	triadID, err := localdb.GenerateID()
	if err != nil {
		return "", fmt.Errorf("failed to generate triad id: %w", err)
	}

	participants := append(append([]string{}, humans...), p.UserID)
	room := types.ChatRoom{
		ID:             roomID,
		Name:           prompt.Text,
		Participants:   participants,
		LastActivityAt: start,
		CreatedAt:      start,
	}
	triad := types.Triad{
		ID:           triadID,
		PromptID:     prompt.ID,
		RoomID:       roomID,
		Participants: participants,
		PersonaKey:   p.Key,
		StartedAt:    start,
		DurationSec:  int(s.cfg.Duration / time.Second),
		Status:       types.TriadActive,
		CreatedAt:    start,
	}
	if err := localdb.CreateTriadWithRoom(room, triad, []string{p.UserID}); err != nil {
		return "", err
	}

	for _, userID := range humans {
		resp, err := localdb.GetPromptResponse(prompt.ID, userID)
		if errors.Is(err, localdb.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.Warn("Failed to load response for seeding", zap.Error(err), zap.String("user_id", userID))
			continue
		}
		if _, err := reply.Post(roomID, triadID, prompt.ID, userID, resp.Content, now()); err != nil {
			logger.Warn("Failed to seed response message", zap.Error(err), zap.String("triad_id", triadID))
		}
	}

	stance := s.personaStance(ctx, p, prompt)
	if _, err := reply.Post(roomID, triadID, prompt.ID, p.UserID, stance, now()); err != nil {
		logger.Warn("Failed to post persona stance", zap.Error(err), zap.String("triad_id", triadID))
	}
	if err := s.recordPersonaResponse(prompt.ID, p, stance); err != nil {
		logger.Warn("Failed to record persona response", zap.Error(err), zap.String("prompt_id", prompt.ID))
	}

	reply.Notify(roomID, broadcast.TypeTriadStarted, triad)

	// Kickoff waits out the cooldown started by the stance.
	if s.replies != nil {
		s.replies.Dispatch(reply.Request{
			RoomID:   roomID,
			TriadID:  triadID,
			PromptID: prompt.ID,
			Cooldown: s.cfg.KickoffCooldown,
			Delay:    s.cfg.KickoffCooldown,
		})
	}

	logger.Info("Triad started",
		zap.String("triad_id", triadID),
		zap.String("room_id", roomID),
		zap.String("persona", p.Key),
		zap.Strings("participants", participants))
	return triadID, nil
}

func (s *Scheduler) personaStance(ctx context.Context, p persona.Persona, prompt types.Prompt) string {
	if s.stances != nil {
		text, err := s.stances.GeneratePersonaStance(ctx, p, prompt.Text)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		if err != nil {
			logger.Warn("Persona stance generation failed, using canned stance",
				zap.Error(err), zap.String("persona", p.Key))
		}
	}
	return p.Stance
}

func (s *Scheduler) recordPersonaResponse(promptID string, p persona.Persona, stance string) error {
	id, err := localdb.GenerateID()
	if err != nil {
		return err
	}
	_, err = localdb.AddPromptResponse(types.PromptResponse{
		ID:        id,
		PromptID:  promptID,
		UserID:    p.UserID,
		Content:   stance,
		IsPersona: true,
		CreatedAt: now(),
	})
	return err
}
