// Package chat accepts live messages for triad rooms.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nantokaworks/triad-arena/internal/broadcast"
	"github.com/nantokaworks/triad-arena/internal/env"
	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/moderation"
	"github.com/nantokaworks/triad-arena/internal/reply"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"github.com/nantokaworks/triad-arena/internal/types"
	"go.uber.org/zap"
)

const (
	maxMessageLength = 1000
	DefaultPageSize  = 50
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrNoActiveTriad   = errors.New("room has no active triad")
	ErrTimeOver        = errors.New("time is over")
	ErrNotParticipant  = errors.New("sender is not a room participant")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageTooLong  = errors.New("message is too long")
	ErrMessageRejected = errors.New("message rejected by moderation")
)

var now = time.Now

// Dispatcher starts persona replies in the background.
type Dispatcher interface {
	Dispatch(req reply.Request)
}

type Config struct {
	ModerationFailMode string
	ReplyCooldown      time.Duration
}

type Service struct {
	moderator moderation.Moderator
	replies   Dispatcher
	cfg       Config
}

func New(moderator moderation.Moderator, replies Dispatcher, cfg Config) *Service {
	if cfg.ModerationFailMode == "" {
		cfg.ModerationFailMode = env.ModerationFailBlock
	}
	if cfg.ReplyCooldown <= 0 {
		cfg.ReplyCooldown = reply.DefaultCooldown
	}
	return &Service{moderator: moderator, replies: replies, cfg: cfg}
}

// LockedEvent is pushed when a message arrives after the triad window.
type LockedEvent struct {
	TriadID   string    `json:"triad_id"`
	RoomID    string    `json:"room_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

func roomTriad(roomID string) (*types.Triad, error) {
	room, err := localdb.GetRoom(roomID)
	if errors.Is(err, localdb.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	var triad *types.Triad
	if room.TriadID != "" {
		triad, err = localdb.GetTriad(room.TriadID)
	} else {
		triad, err = localdb.GetLatestTriadForRoom(roomID)
	}
	if errors.Is(err, localdb.ErrNotFound) {
		return nil, ErrNoActiveTriad
	}
	return triad, err
}

// PostMessage stores a participant's message in the room's active triad and
// asks the other personas to respond. Messages after the triad window are
// rejected with ErrTimeOver.
func (s *Service) PostMessage(ctx context.Context, roomID, senderID, content string) (*types.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, ErrMessageTooLong
	}

	triad, err := roomTriad(roomID)
	if err != nil {
		return nil, err
	}

	at := now()
	if triad.Status == types.TriadFinished || triad.Expired(at) {
		reply.Notify(roomID, broadcast.TypeTriadLocked, LockedEvent{TriadID: triad.ID, RoomID: roomID, ExpiredAt: triad.ExpiresAt()})
		return nil, ErrTimeOver
	}
	if triad.Status != types.TriadActive {
		return nil, ErrNoActiveTriad
	}

	member, err := localdb.IsRoomParticipant(roomID, senderID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotParticipant
	}

	decision := moderation.Check(ctx, s.moderator, content, s.cfg.ModerationFailMode)
	if !decision.Allowed {
		logger.Info("Message rejected by moderation",
			zap.String("room_id", roomID),
			zap.String("sender_id", senderID),
			zap.String("matched", decision.Matched))
		return nil, ErrMessageRejected
	}

	msg, err := reply.Post(roomID, triad.ID, triad.PromptID, senderID, content, at)
	if err != nil {
		return nil, err
	}

	if s.replies != nil {
		s.replies.Dispatch(reply.Request{
			RoomID:        roomID,
			TriadID:       triad.ID,
			PromptID:      triad.PromptID,
			ExcludeUserID: senderID,
			Cooldown:      s.cfg.ReplyCooldown,
		})
	}
	return msg, nil
}

// History returns room messages after the cursor seq, oldest first. Message
// ids and seqs are stable, so clients can merge pushes and pages by id.
func History(roomID string, afterSeq int64, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if _, err := localdb.GetRoom(roomID); err != nil {
		if errors.Is(err, localdb.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return localdb.GetRoomMessages(roomID, afterSeq, limit)
}
