package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nantokaworks/triad-arena/internal/persona"
)

// SkipSentinel is what a persona answers when it has nothing to add.
const SkipSentinel = "[SKIP]"

// PromptDraft is a generated prompt before it gets a deadline.
type PromptDraft struct {
	Text  string `json:"text"`
	Topic string `json:"category"`
}

// UserGrade is the grader's rubric for one participant. UserIndex is 1-based
// and follows the participant order given to GradeTranscript.
type UserGrade struct {
	UserIndex      int    `json:"user_index"`
	Defense        int    `json:"defense"`
	Evidence       int    `json:"evidence"`
	Logic          int    `json:"logic"`
	Responsiveness int    `json:"responsiveness"`
	Clarity        int    `json:"clarity"`
	Overall        int    `json:"overall"`
	Feedback       string `json:"feedback"`
}

type Grade struct {
	PerUser       []UserGrade `json:"per_user"`
	GroupOverall  *int        `json:"group_overall,omitempty"`
	GroupFeedback string      `json:"group_feedback"`
}

// Client builds the domain prompts and parses model output. It is safe for
// concurrent use.
type Client struct {
	backend Completer
}

func NewClient(backend Completer) *Client {
	return &Client{backend: backend}
}

func (c *Client) complete(ctx context.Context, req Request) (string, error) {
	if c == nil || c.backend == nil {
		return "", ErrNotConfigured
	}
	return c.backend.Complete(ctx, req)
}

var promptDraftSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"prompts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text":     map[string]any{"type": "string"},
					"category": map[string]any{"type": "string"},
				},
				"required":             []string{"text", "category"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"prompts"},
	"additionalProperties": false,
}

// GeneratePrompts asks for count debate prompts spread over categories.
// Drafts with empty text are dropped; the result may be shorter than count.
func (c *Client) GeneratePrompts(ctx context.Context, categories []string, count int) ([]PromptDraft, error) {
	if count <= 0 {
		return nil, nil
	}

	input := fmt.Sprintf(
		"Write %d short, concrete debate prompts that reasonable people disagree on.\n"+
			"Each prompt is one sentence under 140 characters, phrased as a question.\n"+
			"Spread them over these categories: %s.\n"+
			"Return the category each prompt belongs to.",
		count, strings.Join(categories, ", "))

	text, err := c.complete(ctx, Request{
		System:      "You write debate prompts for a small-group discussion app.",
		Input:       input,
		SchemaName:  "prompt_drafts",
		Schema:      promptDraftSchema,
		Temperature: 0.9,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Prompts []PromptDraft `json:"prompts"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode prompt drafts: %w", err)
	}

	drafts := make([]PromptDraft, 0, len(parsed.Prompts))
	for _, d := range parsed.Prompts {
		d.Text = strings.TrimSpace(d.Text)
		d.Topic = strings.ToLower(strings.TrimSpace(d.Topic))
		if d.Text == "" {
			continue
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// GeneratePersonaStance asks the persona for a short opening position.
func (c *Client) GeneratePersonaStance(ctx context.Context, p persona.Persona, promptText string) (string, error) {
	text, err := c.complete(ctx, Request{
		System:      p.Style,
		Input:       fmt.Sprintf("Debate prompt: %s\n\nState your opening position in one or two sentences.", promptText),
		Temperature: 0.8,
		MaxTokens:   120,
	})
	if err != nil {
		return "", err
	}
	return cleanReply(text), nil
}

// GeneratePersonaReply asks the persona for its next turn. The answer may be
// SkipSentinel.
func (c *Client) GeneratePersonaReply(ctx context.Context, p persona.Persona, promptText, transcript string) (string, error) {
	system := p.Style + "\nYou are one participant in a three-way chat. Reply to the latest point only. " +
		"If you have nothing useful to add, answer exactly " + SkipSentinel + "."
	text, err := c.complete(ctx, Request{
		System:      system,
		Input:       fmt.Sprintf("Debate prompt: %s\n\nConversation so far:\n%s\n\nYour reply as %s:", promptText, transcript, p.DisplayName),
		Temperature: 0.8,
		MaxTokens:   160,
	})
	if err != nil {
		return "", err
	}
	return cleanReply(text), nil
}

var gradeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"per_user": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_index":     map[string]any{"type": "integer"},
					"defense":        map[string]any{"type": "integer"},
					"evidence":       map[string]any{"type": "integer"},
					"logic":          map[string]any{"type": "integer"},
					"responsiveness": map[string]any{"type": "integer"},
					"clarity":        map[string]any{"type": "integer"},
					"overall":        map[string]any{"type": "integer"},
					"feedback":       map[string]any{"type": "string"},
				},
				"required":             []string{"user_index", "defense", "evidence", "logic", "responsiveness", "clarity", "overall", "feedback"},
				"additionalProperties": false,
			},
		},
		"group_overall":  map[string]any{"type": "integer"},
		"group_feedback": map[string]any{"type": "string"},
	},
	"required":             []string{"per_user", "group_overall", "group_feedback"},
	"additionalProperties": false,
}

// GradeTranscript scores each participant 0-100 on the debate rubric. The
// transcript lines must reference participants as [1]..[participantCount].
func (c *Client) GradeTranscript(ctx context.Context, promptText string, participantCount int, transcript string) (*Grade, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrEmptyResponse
	}

	input := fmt.Sprintf(
		"Debate prompt: %s\nParticipants: %d, referenced as [1]..[%d].\n\n"+
			"Score every participant from 0 to 100 on defense of their position, use of evidence, "+
			"logic, responsiveness to others and clarity. Give each a one-sentence feedback and the "+
			"group an overall score and one sentence of feedback.\n\nTranscript:\n%s",
		promptText, participantCount, participantCount, transcript)

	text, err := c.complete(ctx, Request{
		System:      "You are a fair debate judge. Score arguments, not opinions.",
		Input:       input,
		SchemaName:  "triad_grade",
		Schema:      gradeSchema,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}

	var grade Grade
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &grade); err != nil {
		return nil, fmt.Errorf("failed to decode grade: %w", err)
	}

	valid := grade.PerUser[:0]
	for _, g := range grade.PerUser {
		if g.UserIndex < 1 || g.UserIndex > participantCount {
			continue
		}
		valid = append(valid, g)
	}
	grade.PerUser = valid
	if len(grade.PerUser) == 0 {
		return nil, ErrEmptyResponse
	}
	return &grade, nil
}

// IsSkip reports whether a persona reply is the skip sentinel.
func IsSkip(reply string) bool {
	return strings.EqualFold(strings.TrimSpace(reply), SkipSentinel)
}

func cleanReply(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "\"")
	return strings.TrimSpace(text)
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
