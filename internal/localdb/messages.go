package localdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"github.com/nantokaworks/triad-arena/internal/types"
	"go.uber.org/zap"
)

// SetupMessagesTable creates the append-only messages table. seq gives a total
// order per insert; id is the stable identity clients dedupe on.
func SetupMessagesTable(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			room_id TEXT NOT NULL,
			triad_id TEXT NOT NULL DEFAULT '',
			prompt_id TEXT NOT NULL DEFAULT '',
			sender_id TEXT,
			content TEXT NOT NULL,
			sentiment REAL NOT NULL DEFAULT 0,
			tags_json TEXT NOT NULL DEFAULT '[]',
			word_count INTEGER NOT NULL DEFAULT 0,
			language TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		logger.Error("Failed to create messages table", zap.Error(err))
		return fmt.Errorf("failed to create messages table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_room_seq ON messages(room_id, seq)`); err != nil {
		logger.Warn("Failed to create messages room index", zap.Error(err))
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_triad_sender ON messages(triad_id, sender_id, created_at)`); err != nil {
		logger.Warn("Failed to create messages triad index", zap.Error(err))
	}
	return nil
}

const messageColumns = `seq, id, room_id, triad_id, prompt_id, COALESCE(sender_id, ''), content, sentiment, tags_json, word_count, language, created_at`

func scanMessage(row interface{ Scan(...any) error }) (types.Message, error) {
	var (
		m         types.Message
		tagsJSON  string
		createdAt int64
	)
	if err := row.Scan(&m.Seq, &m.ID, &m.RoomID, &m.TriadID, &m.PromptID, &m.SenderID, &m.Content,
		&m.Sentiment, &tagsJSON, &m.WordCount, &m.Language, &createdAt); err != nil {
		return types.Message{}, err
	}
	if tagsJSON != "" {
		_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	}
	m.CreatedAt = fromMillis(createdAt)
	return m, nil
}

// AddMessage appends a message and returns it with Seq filled in.
func AddMessage(m types.Message) (types.Message, error) {
	db := GetDB()
	if db == nil {
		return types.Message{}, ErrNotInitialized
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to encode tags: %w", err)
	}

	result, err := db.Exec(`
		INSERT INTO messages (id, room_id, triad_id, prompt_id, sender_id, content, sentiment, tags_json, word_count, language, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.RoomID, m.TriadID, m.PromptID, nullString(m.SenderID), m.Content, m.Sentiment,
		string(tagsJSON), m.WordCount, m.Language, toMillis(m.CreatedAt))
	if err != nil {
		logger.Error("Failed to insert message", zap.Error(err), zap.String("room_id", m.RoomID))
		return types.Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	m.Seq, _ = result.LastInsertId()
	return m, nil
}

func queryMessages(query string, args ...any) ([]types.Message, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []types.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			logger.Error("Failed to scan message", zap.Error(err))
			continue
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// GetTriadMessages returns the full transcript of a triad in order.
func GetTriadMessages(triadID string) ([]types.Message, error) {
	messages, err := queryMessages(`SELECT `+messageColumns+` FROM messages WHERE triad_id = ? ORDER BY seq ASC`, triadID)
	if err != nil {
		logger.Error("Failed to get triad messages", zap.Error(err), zap.String("triad_id", triadID))
		return nil, fmt.Errorf("failed to get triad messages: %w", err)
	}
	return messages, nil
}

// GetRecentTriadMessages returns the last limit messages of a triad, oldest first.
func GetRecentTriadMessages(triadID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		return GetTriadMessages(triadID)
	}
	messages, err := queryMessages(`SELECT * FROM (
			SELECT `+messageColumns+` FROM messages WHERE triad_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, triadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent triad messages: %w", err)
	}
	return messages, nil
}

// GetLastMessageBySender returns the sender's newest message in a triad, or nil.
func GetLastMessageBySender(triadID, senderID string) (*types.Message, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages
		WHERE triad_id = ? AND sender_id = ? ORDER BY seq DESC LIMIT 1`, triadID, senderID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last message: %w", err)
	}
	return &m, nil
}

// GetRoomMessages pages through a room's history after the given seq.
func GetRoomMessages(roomID string, afterSeq int64, limit int) ([]types.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	messages, err := queryMessages(`SELECT `+messageColumns+` FROM messages
		WHERE room_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`, roomID, afterSeq, limit)
	if err != nil {
		logger.Error("Failed to get room messages", zap.Error(err), zap.String("room_id", roomID))
		return nil, fmt.Errorf("failed to get room messages: %w", err)
	}
	return messages, nil
}
