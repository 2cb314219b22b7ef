package types

import "time"

// PromptCategory tags where a prompt came from.
type PromptCategory string

const (
	CategoryAI    PromptCategory = "ai"
	CategoryUser  PromptCategory = "user"
	CategoryAdmin PromptCategory = "admin"
)

// Prompt is a debate topic with a deadline.
type Prompt struct {
	ID           string         `json:"id"`
	Text         string         `json:"text"`
	Category     PromptCategory `json:"category"`
	Topic        string         `json:"topic,omitempty"`
	CreatorID    string         `json:"creator_id,omitempty"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	Active       bool           `json:"active"`
	CreatedAt    time.Time      `json:"created_at"`
}

// PromptResponse is one participant's submitted take on a prompt.
type PromptResponse struct {
	ID        string    `json:"id"`
	PromptID  string    `json:"prompt_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	IsPersona bool      `json:"is_persona"`
	CreatedAt time.Time `json:"created_at"`
}

// BotAssignment records a user attaching a persona to a prompt.
type BotAssignment struct {
	ID         int64     `json:"id"`
	PromptID   string    `json:"prompt_id"`
	UserID     string    `json:"user_id"`
	PersonaKey string    `json:"persona_key"`
	CreatedAt  time.Time `json:"created_at"`
}

type TriadStatus string

const (
	TriadPending  TriadStatus = "pending"
	TriadActive   TriadStatus = "active"
	TriadFinished TriadStatus = "finished"
)

// UserScore is the rubric outcome for one triad participant.
type UserScore struct {
	UserID         string `json:"user_id"`
	Defense        int    `json:"defense"`
	Evidence       int    `json:"evidence"`
	Logic          int    `json:"logic"`
	Responsiveness int    `json:"responsiveness"`
	Clarity        int    `json:"clarity"`
	Overall        int    `json:"overall"`
	Feedback       string `json:"feedback,omitempty"`
}

// Triad is a timed group conversation tied to one prompt.
type Triad struct {
	ID            string      `json:"id"`
	PromptID      string      `json:"prompt_id"`
	RoomID        string      `json:"room_id"`
	Participants  []string    `json:"participants"`
	PersonaKey    string      `json:"persona_key"`
	StartedAt     time.Time   `json:"started_at"`
	DurationSec   int         `json:"duration_sec"`
	Status        TriadStatus `json:"status"`
	Score         *int        `json:"score,omitempty"`
	UserScores    []UserScore `json:"user_scores,omitempty"`
	WinnerUserID  string      `json:"winner_user_id,omitempty"`
	IsWinner      bool        `json:"is_winner"`
	GroupFeedback string      `json:"group_feedback,omitempty"`
	EndedAt       *time.Time  `json:"ended_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// ExpiresAt is the end of the triad's conversation window.
func (t Triad) ExpiresAt() time.Time {
	return t.StartedAt.Add(time.Duration(t.DurationSec) * time.Second)
}

// Expired reports whether the window has closed at now.
func (t Triad) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt())
}

// GroupScore returns the overall score, or 0 when the triad is ungraded.
func (t Triad) GroupScore() int {
	if t.Score == nil {
		return 0
	}
	return *t.Score
}

// ChatRoom holds a triad conversation.
type ChatRoom struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	TriadID        string    `json:"triad_id,omitempty"`
	Participants   []string  `json:"participants"`
	Tags           []string  `json:"tags,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Message is an append-only chat entry. SenderID is empty for system messages.
type Message struct {
	Seq       int64     `json:"seq"`
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	TriadID   string    `json:"triad_id,omitempty"`
	PromptID  string    `json:"prompt_id,omitempty"`
	SenderID  string    `json:"sender_id,omitempty"`
	Content   string    `json:"content"`
	Sentiment float64   `json:"sentiment"`
	Tags      []string  `json:"tags,omitempty"`
	WordCount int       `json:"word_count"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type TransactionReason string

const (
	ReasonParticipation   TransactionReason = "participation"
	ReasonWin             TransactionReason = "win"
	ReasonSpend           TransactionReason = "spend"
	ReasonAdminAdjustment TransactionReason = "admin_adjustment"
)

// TokenTransaction is a signed ledger entry; balances are sums of these.
type TokenTransaction struct {
	ID        int64             `json:"id"`
	UserID    string            `json:"user_id"`
	Amount    int               `json:"amount"`
	Reason    TransactionReason `json:"reason"`
	TriadID   string            `json:"triad_id,omitempty"`
	PromptID  string            `json:"prompt_id,omitempty"`
	Metadata  string            `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
