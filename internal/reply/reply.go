// Package reply makes persona participants answer in their triad rooms.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nantokaworks/triad-arena/internal/analysis"
	"github.com/nantokaworks/triad-arena/internal/broadcast"
	"github.com/nantokaworks/triad-arena/internal/generation"
	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/persona"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"github.com/nantokaworks/triad-arena/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	TranscriptMessages = 12
	TranscriptBudget   = 2000

	DefaultCooldown        = 20 * time.Second
	DefaultKickoffCooldown = 1500 * time.Millisecond
	DefaultDispatchTimeout = 45 * time.Second

	snippetRunes = 60
	minLeaseTTL  = time.Second
)

var now = time.Now

// Generator produces persona chat replies.
type Generator interface {
	GeneratePersonaReply(ctx context.Context, p persona.Persona, promptText, transcript string) (string, error)
}

// Request identifies the room event that should make personas talk.
type Request struct {
	RoomID        string
	TriadID       string
	PromptID      string
	ExcludeUserID string
	Cooldown      time.Duration
	// Delay postpones a dispatched trigger.
	Delay time.Duration
}

type Coordinator struct {
	personas        *persona.Registry
	gen             Generator
	group           singleflight.Group
	wg              sync.WaitGroup
	failures        atomic.Int64
	DispatchTimeout time.Duration
}

func NewCoordinator(personas *persona.Registry, gen Generator) *Coordinator {
	return &Coordinator{
		personas:        personas,
		gen:             gen,
		DispatchTimeout: DefaultDispatchTimeout,
	}
}

// Failures counts dispatched triggers that ended in an error or panic.
func (c *Coordinator) Failures() int64 {
	return c.failures.Load()
}

// Wait blocks until every dispatched trigger has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Dispatch runs TriggerPersonaReplies in the background with its own context
// and error boundary. It never blocks the caller.
func (c *Coordinator) Dispatch(req Request) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				c.failures.Add(1)
				logger.Error("Persona reply task panicked",
					zap.Any("panic", recovered),
					zap.String("triad_id", req.TriadID))
			}
		}()

		if req.Delay > 0 {
			time.Sleep(req.Delay)
		}

		timeout := c.DispatchTimeout
		if timeout <= 0 {
			timeout = DefaultDispatchTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if _, err := c.TriggerPersonaReplies(ctx, req); err != nil {
			c.failures.Add(1)
			logger.Error("Persona reply task failed",
				zap.Error(err),
				zap.String("room_id", req.RoomID),
				zap.String("triad_id", req.TriadID))
		}
	}()
}

// TriggerPersonaReplies lets every persona of the triad, other than
// ExcludeUserID, post at most one reply. Personas still cooling down or
// already replying elsewhere are skipped. It returns the messages posted.
func (c *Coordinator) TriggerPersonaReplies(ctx context.Context, req Request) ([]types.Message, error) {
	triad, err := localdb.GetTriad(req.TriadID)
	if errors.Is(err, localdb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if triad.Status != types.TriadActive || triad.Expired(now()) {
		return nil, nil
	}

	cooldown := req.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = triad.RoomID
	}

	posted := []types.Message{}
	var errs []error
	for _, userID := range triad.Participants {
		if userID == req.ExcludeUserID {
			continue
		}
		p, ok := c.personas.ByUserID(userID)
		if !ok {
			continue
		}

		key := triad.ID + ":" + p.UserID
		v, err, _ := c.group.Do(key, func() (any, error) {
			return c.replyOnce(ctx, roomID, triad, p, cooldown)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("persona %s: %w", p.Key, err))
			continue
		}
		if msg, ok := v.(*types.Message); ok && msg != nil {
			posted = append(posted, *msg)
		}
	}
	return posted, errors.Join(errs...)
}

func (c *Coordinator) replyOnce(ctx context.Context, roomID string, triad *types.Triad, p persona.Persona, cooldown time.Duration) (*types.Message, error) {
	start := now()

	last, err := localdb.GetLastMessageBySender(triad.ID, p.UserID)
	if err != nil {
		return nil, err
	}
	if last != nil && start.Sub(last.CreatedAt) < cooldown {
		logger.Debug("Persona still cooling down",
			zap.String("triad_id", triad.ID), zap.String("persona", p.Key))
		return nil, nil
	}

	ttl := cooldown
	if ttl < minLeaseTTL {
		ttl = minLeaseTTL
	}
	holder, err := localdb.GenerateID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate lease holder: %w", err)
	}
	acquired, err := localdb.AcquireLease("reply:"+triad.ID+":"+p.UserID, holder, ttl, start)
	if err != nil {
		return nil, err
	}
	if !acquired {
		logger.Debug("Persona reply already in progress",
			zap.String("triad_id", triad.ID), zap.String("persona", p.Key))
		return nil, nil
	}

	recent, err := localdb.GetRecentTriadMessages(triad.ID, TranscriptMessages)
	if err != nil {
		return nil, err
	}

	promptText := ""
	if prompt, err := localdb.GetPrompt(triad.PromptID); err == nil {
		promptText = prompt.Text
	}

	text := ""
	if c.gen != nil {
		text, err = c.gen.GeneratePersonaReply(ctx, p, promptText, BuildTranscript(recent, c.personas, TranscriptBudget))
		if err != nil {
			logger.Warn("Persona reply generation failed, using fallback",
				zap.Error(err), zap.String("persona", p.Key))
			text = ""
		}
	}
	text = strings.TrimSpace(text)
	if text == "" || generation.IsSkip(text) {
		text = p.FallbackReply(persona.Snippet(latestFromOthers(recent, p.UserID), snippetRunes))
	}

	msg, err := Post(roomID, triad.ID, triad.PromptID, p.UserID, text, now())
	if err != nil {
		return nil, err
	}
	if _, err := localdb.AddRoomParticipant(roomID, p.UserID, msg.CreatedAt); err != nil {
		logger.Warn("Failed to add persona to room", zap.Error(err), zap.String("room_id", roomID))
	}
	return msg, nil
}

// Post stores a message with its analysis, records room activity and pushes
// it to live listeners. Delivery failure is logged only.
func Post(roomID, triadID, promptID, senderID, content string, at time.Time) (*types.Message, error) {
	id, err := localdb.GenerateID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	a := analysis.Analyze(content)
	msg, err := localdb.AddMessage(types.Message{
		ID:        id,
		RoomID:    roomID,
		TriadID:   triadID,
		PromptID:  promptID,
		SenderID:  senderID,
		Content:   content,
		Sentiment: a.Sentiment,
		Tags:      a.Tags,
		WordCount: a.WordCount,
		Language:  a.Language,
		CreatedAt: at,
	})
	if err != nil {
		return nil, err
	}

	if err := localdb.TouchRoom(roomID, at, msg.Tags); err != nil {
		logger.Warn("Failed to touch room", zap.Error(err), zap.String("room_id", roomID))
	}
	Notify(roomID, broadcast.TypeMessage, msg)
	return &msg, nil
}

// Notify pushes an event to the room, asking the hub to warm up when it is
// not running yet.
func Notify(roomID, msgType string, data any) {
	err := broadcast.ToRoom(roomID, msgType, data)
	if err == nil {
		return
	}
	if errors.Is(err, broadcast.ErrNotReady) {
		broadcast.Warmup()
	}
	logger.Warn("Failed to broadcast room event",
		zap.Error(err), zap.String("room_id", roomID), zap.String("type", msgType))
}

// BuildTranscript renders messages as "Name: text" lines, dropping the
// oldest text first when the result would exceed budget runes.
func BuildTranscript(messages []types.Message, personas *persona.Registry, budget int) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		name := "System"
		if m.SenderID != "" {
			name = m.SenderID
			if personas != nil {
				name = personas.DisplayName(m.SenderID)
			}
		}
		lines = append(lines, name+": "+strings.TrimSpace(m.Content))
	}

	if budget <= 0 {
		return strings.Join(lines, "\n")
	}

	kept := []string{}
	used := 0
	for i := len(lines) - 1; i >= 0; i-- {
		runes := []rune(lines[i])
		cost := len(runes)
		if len(kept) > 0 {
			cost++
		}
		if used+cost > budget {
			if len(kept) == 0 {
				kept = append(kept, string(runes[len(runes)-budget:]))
			}
			break
		}
		kept = append(kept, lines[i])
		used += cost
	}

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}

func latestFromOthers(messages []types.Message, personaID string) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.SenderID != "" && m.SenderID != personaID {
			return m.Content
		}
	}
	return ""
}
