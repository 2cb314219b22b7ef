// Package collector accepts responses and bot assignments for open prompts.
package collector

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/persona"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"github.com/nantokaworks/triad-arena/internal/types"
	"go.uber.org/zap"
)

const maxResponseLength = 1000

var (
	ErrPromptNotFound   = errors.New("prompt not found")
	ErrPromptClosed     = errors.New("prompt is closed")
	ErrAlreadyResponded = errors.New("already responded to this prompt")
	ErrEmptyContent     = errors.New("response content is empty")
	ErrContentTooLong   = errors.New("response content is too long")
	ErrMissingUser      = errors.New("user id is required")
	ErrReservedUser     = errors.New("user id belongs to a persona")
	ErrUnknownPersona   = errors.New("unknown persona")
)

var now = time.Now

type Collector struct {
	personas *persona.Registry
}

func New(personas *persona.Registry) *Collector {
	return &Collector{personas: personas}
}

// openPrompt returns the prompt if it still accepts input.
func openPrompt(promptID string, at time.Time) (*types.Prompt, error) {
	p, err := localdb.GetPrompt(promptID)
	if errors.Is(err, localdb.ErrNotFound) {
		return nil, ErrPromptNotFound
	}
	if err != nil {
		return nil, err
	}
	if !p.Active || !at.Before(p.ScheduledFor) {
		return nil, ErrPromptClosed
	}
	return p, nil
}

func (c *Collector) checkUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrMissingUser
	}
	if c.personas != nil && c.personas.IsPersona(userID) {
		return ErrReservedUser
	}
	return nil
}

// SubmitResponse stores a user's single response to an open prompt.
func (c *Collector) SubmitResponse(promptID, userID, content string) (*types.PromptResponse, error) {
	if err := c.checkUser(userID); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > maxResponseLength {
		return nil, ErrContentTooLong
	}

	at := now()
	if _, err := openPrompt(promptID, at); err != nil {
		return nil, err
	}

	id, err := localdb.GenerateID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate response id: %w", err)
	}
	resp := types.PromptResponse{
		ID:        id,
		PromptID:  promptID,
		UserID:    userID,
		Content:   content,
		CreatedAt: at,
	}
	inserted, err := localdb.AddPromptResponse(resp)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrAlreadyResponded
	}

	logger.Info("Prompt response recorded",
		zap.String("prompt_id", promptID),
		zap.String("user_id", userID))
	return &resp, nil
}

// RecordBotAssignment appends a request from userID to debate promptID
// alongside the named persona.
func (c *Collector) RecordBotAssignment(promptID, userID, personaKey string) (*types.BotAssignment, error) {
	if err := c.checkUser(userID); err != nil {
		return nil, err
	}
	if c.personas == nil {
		return nil, ErrUnknownPersona
	}
	if _, ok := c.personas.ByKey(personaKey); !ok {
		return nil, ErrUnknownPersona
	}

	at := now()
	if _, err := openPrompt(promptID, at); err != nil {
		return nil, err
	}

	a := types.BotAssignment{PromptID: promptID, UserID: userID, PersonaKey: personaKey, CreatedAt: at}
	id, err := localdb.AddBotAssignment(a)
	if err != nil {
		return nil, err
	}
	a.ID = id
	return &a, nil
}

// UnassignedQueue lists humans waiting for a triad on promptID, earliest
// first action first.
func (c *Collector) UnassignedQueue(promptID string) ([]string, error) {
	users, err := localdb.GetUnassignedUsers(promptID)
	if err != nil {
		return nil, err
	}
	if c.personas == nil {
		return users, nil
	}

	queue := make([]string, 0, len(users))
	for _, u := range users {
		if !c.personas.IsPersona(u) {
			queue = append(queue, u)
		}
	}
	return queue, nil
}
