// Package pool keeps a steady supply of open prompts with staggered deadlines.
package pool

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nantokaworks/triad-arena/internal/generation"
	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"github.com/nantokaworks/triad-arena/internal/types"
	"go.uber.org/zap"
)

const (
	leaseKey = "prompt-pool"
	leaseTTL = 5 * time.Second

	DefaultTargetCount = 5
	DefaultSpacing     = 10 * time.Minute
	maxPromptLength    = 280
)

var (
	ErrNoPromptsGenerated = errors.New("no prompts generated")
	ErrEmptyPrompt        = errors.New("prompt text is empty")
	ErrPromptTooLong      = errors.New("prompt text is too long")
	ErrInvalidCategory    = errors.New("invalid prompt category")
)

var (
	now             = time.Now
	jitterRandomInt = secureRandomInt
)

// PromptGenerator drafts new prompts.
type PromptGenerator interface {
	GeneratePrompts(ctx context.Context, categories []string, count int) ([]generation.PromptDraft, error)
}

type Config struct {
	Spacing    time.Duration
	Jitter     time.Duration
	Categories []string
}

type Manager struct {
	gen PromptGenerator
	cfg Config
}

func NewManager(gen PromptGenerator, cfg Config) *Manager {
	if cfg.Spacing <= 0 {
		cfg.Spacing = DefaultSpacing
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Manager{gen: gen, cfg: cfg}
}

// Result describes one top-up attempt.
type Result struct {
	Skipped  bool           `json:"skipped"`
	Existing int            `json:"existing"`
	Inserted []types.Prompt `json:"inserted"`
}

// EnsurePoolTarget tops the pool up to targetCount future active prompts.
// When another caller holds the pool lease it returns a skipped result and
// does nothing.
func (m *Manager) EnsurePoolTarget(ctx context.Context, targetCount int) (*Result, error) {
	if targetCount <= 0 {
		targetCount = DefaultTargetCount
	}

	holder, err := localdb.GenerateID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate lease holder: %w", err)
	}

	acquired, err := localdb.AcquireLease(leaseKey, holder, leaseTTL, now())
	if err != nil {
		return nil, err
	}
	if !acquired {
		logger.Debug("Prompt pool lease held elsewhere, skipping top-up")
		return &Result{Skipped: true, Inserted: []types.Prompt{}}, nil
	}
	defer func() {
		if err := localdb.ReleaseLease(leaseKey, holder); err != nil {
			logger.Warn("Failed to release prompt pool lease", zap.Error(err))
		}
	}()

	start := now()
	existing, err := localdb.GetFutureActivePrompts(start)
	if err != nil {
		return nil, err
	}

	result := &Result{Existing: len(existing), Inserted: []types.Prompt{}}
	short := targetCount - len(existing)
	if short <= 0 {
		return result, nil
	}

	drafts, err := m.gen.GeneratePrompts(ctx, m.cfg.Categories, short)
	if err != nil {
		logger.Error("Failed to generate prompts", zap.Error(err), zap.Int("requested", short))
		return result, fmt.Errorf("%w: %v", ErrNoPromptsGenerated, err)
	}
	if len(drafts) == 0 {
		return result, ErrNoPromptsGenerated
	}
	if len(drafts) > short {
		drafts = drafts[:short]
	}

	base := start
	if len(existing) > 0 {
		base = existing[len(existing)-1].ScheduledFor
	}

	prompts := make([]types.Prompt, 0, len(drafts))
	for i, d := range drafts {
		id, err := localdb.GenerateID()
		if err != nil {
			return result, fmt.Errorf("failed to generate prompt id: %w", err)
		}
		prompts = append(prompts, types.Prompt{
			ID:           id,
			Text:         d.Text,
			Category:     types.CategoryAI,
			Topic:        d.Topic,
			ScheduledFor: base.Add(time.Duration(i+1)*m.cfg.Spacing + m.jitter()),
			Active:       true,
			CreatedAt:    start,
		})
	}

	if err := localdb.InsertPrompts(prompts); err != nil {
		return result, err
	}

	result.Inserted = prompts
	logger.Info("Topped up prompt pool",
		zap.Int("existing", len(existing)),
		zap.Int("inserted", len(prompts)),
		zap.Int("target", targetCount))
	return result, nil
}

// SubmitPrompt adds a user or admin prompt one spacing after the current pool tail.
func (m *Manager) SubmitPrompt(text, creatorID string, category types.PromptCategory) (*types.Prompt, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyPrompt
	}
	if utf8.RuneCountInString(text) > maxPromptLength {
		return nil, ErrPromptTooLong
	}
	if category != types.CategoryUser && category != types.CategoryAdmin {
		return nil, ErrInvalidCategory
	}

	current := now()
	existing, err := localdb.GetFutureActivePrompts(current)
	if err != nil {
		return nil, err
	}
	base := current
	if len(existing) > 0 {
		base = existing[len(existing)-1].ScheduledFor
	}

	id, err := localdb.GenerateID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate prompt id: %w", err)
	}
	prompt := types.Prompt{
		ID:           id,
		Text:         text,
		Category:     category,
		CreatorID:    creatorID,
		ScheduledFor: base.Add(m.cfg.Spacing),
		Active:       true,
		CreatedAt:    current,
	}
	if err := localdb.InsertPrompts([]types.Prompt{prompt}); err != nil {
		return nil, err
	}

	logger.Info("Prompt submitted",
		zap.String("prompt_id", prompt.ID),
		zap.String("category", string(category)),
		zap.Time("scheduled_for", prompt.ScheduledFor))
	return &prompt, nil
}

func (m *Manager) jitter() time.Duration {
	if m.cfg.Jitter <= 0 {
		return 0
	}
	n, err := jitterRandomInt(int(m.cfg.Jitter / time.Millisecond))
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}

func secureRandomInt(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	n, err := crand.Int(crand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
