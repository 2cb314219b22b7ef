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

// SetupTriadTables creates triads and triad_members. Human members are unique
// per prompt; persona members may repeat across a prompt's triads.
func SetupTriadTables(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS triads (
			id TEXT PRIMARY KEY,
			prompt_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			participants_json TEXT NOT NULL,
			persona_key TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			duration_sec INTEGER NOT NULL DEFAULT 600,
			status TEXT NOT NULL DEFAULT 'pending',
			score INTEGER,
			user_scores_json TEXT NOT NULL DEFAULT '',
			winner_user_id TEXT NOT NULL DEFAULT '',
			is_winner INTEGER NOT NULL DEFAULT 0,
			group_feedback TEXT NOT NULL DEFAULT '',
			ended_at INTEGER,
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create triads table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_triads_status_started ON triads(status, started_at)`); err != nil {
		logger.Warn("Failed to create triads status index", zap.Error(err))
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_triads_room ON triads(room_id)`); err != nil {
		logger.Warn("Failed to create triads room index", zap.Error(err))
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS triad_members (
			triad_id TEXT NOT NULL,
			prompt_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			is_persona INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (triad_id, user_id)
		)
	`); err != nil {
		return fmt.Errorf("failed to create triad_members table: %w", err)
	}

	if _, err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_triad_members_prompt_human ON triad_members(prompt_id, user_id) WHERE is_persona = 0`); err != nil {
		return fmt.Errorf("failed to create triad_members index: %w", err)
	}

	return nil
}

const triadColumns = `id, prompt_id, room_id, participants_json, persona_key, started_at, duration_sec, status,
	score, user_scores_json, winner_user_id, is_winner, group_feedback, ended_at, created_at`

func scanTriad(row interface{ Scan(...any) error }) (types.Triad, error) {
	var (
		t                    types.Triad
		participantsJSON     string
		userScoresJSON       string
		status               string
		startedAt, createdAt int64
		score, endedAt       sql.NullInt64
		isWinner             int
	)
	if err := row.Scan(&t.ID, &t.PromptID, &t.RoomID, &participantsJSON, &t.PersonaKey, &startedAt, &t.DurationSec,
		&status, &score, &userScoresJSON, &t.WinnerUserID, &isWinner, &t.GroupFeedback, &endedAt, &createdAt); err != nil {
		return types.Triad{}, err
	}

	if err := json.Unmarshal([]byte(participantsJSON), &t.Participants); err != nil {
		return types.Triad{}, fmt.Errorf("invalid participants for triad %s: %w", t.ID, err)
	}
	if userScoresJSON != "" {
		if err := json.Unmarshal([]byte(userScoresJSON), &t.UserScores); err != nil {
			logger.Warn("Ignoring malformed triad user scores", zap.String("triad_id", t.ID), zap.Error(err))
			t.UserScores = nil
		}
	}
	t.Status = types.TriadStatus(status)
	t.StartedAt = fromMillis(startedAt)
	t.CreatedAt = fromMillis(createdAt)
	t.IsWinner = isWinner == 1
	if score.Valid {
		s := int(score.Int64)
		t.Score = &s
	}
	if endedAt.Valid {
		e := fromMillis(endedAt.Int64)
		t.EndedAt = &e
	}
	return t, nil
}

// CreateTriadWithRoom writes the room, its participants, the triad and its
// members atomically. A human already placed in another triad of the same
// prompt makes the whole write fail.
func CreateTriadWithRoom(room types.ChatRoom, triad types.Triad, personaIDs []string) error {
	db := GetDB()
	if db == nil {
		return ErrNotInitialized
	}

	participantsJSON, err := json.Marshal(triad.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}

	now := time.Now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	if room.LastActivityAt.IsZero() {
		room.LastActivityAt = room.CreatedAt
	}
	if triad.CreatedAt.IsZero() {
		triad.CreatedAt = now
	}

	isPersona := make(map[string]bool, len(personaIDs))
	for _, id := range personaIDs {
		isPersona[id] = true
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO chat_rooms (id, name, triad_id, last_activity_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		room.ID, room.Name, nullString(triad.ID), toMillis(room.LastActivityAt), toMillis(room.CreatedAt)); err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}

	for i, userID := range room.Participants {
		// joined_at offsets keep the seeded order stable.
		if _, err := tx.Exec(`INSERT OR IGNORE INTO room_participants (room_id, user_id, joined_at) VALUES (?, ?, ?)`,
			room.ID, userID, toMillis(room.CreatedAt)+int64(i)); err != nil {
			return fmt.Errorf("failed to add room participant: %w", err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO triads (id, prompt_id, room_id, participants_json, persona_key, started_at, duration_sec, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, triad.ID, triad.PromptID, room.ID, string(participantsJSON), triad.PersonaKey, toMillis(triad.StartedAt),
		triad.DurationSec, string(triad.Status), toMillis(triad.CreatedAt)); err != nil {
		return fmt.Errorf("failed to create triad: %w", err)
	}

	for _, userID := range triad.Participants {
		persona := 0
		if isPersona[userID] {
			persona = 1
		}
		if _, err := tx.Exec(`INSERT INTO triad_members (triad_id, prompt_id, user_id, is_persona) VALUES (?, ?, ?, ?)`,
			triad.ID, triad.PromptID, userID, persona); err != nil {
			return fmt.Errorf("failed to add triad member %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetTriad returns one triad or ErrNotFound.
func GetTriad(id string) (*types.Triad, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	t, err := scanTriad(db.QueryRow(`SELECT `+triadColumns+` FROM triads WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Error("Failed to get triad", zap.Error(err), zap.String("triad_id", id))
		return nil, fmt.Errorf("failed to get triad: %w", err)
	}
	return &t, nil
}

// GetLatestTriadForRoom returns the most recently started triad of a room.
func GetLatestTriadForRoom(roomID string) (*types.Triad, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	t, err := scanTriad(db.QueryRow(`SELECT `+triadColumns+` FROM triads WHERE room_id = ?
		ORDER BY started_at DESC, id DESC LIMIT 1`, roomID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room triad: %w", err)
	}
	return &t, nil
}

func queryTriads(query string, args ...any) ([]types.Triad, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	triads := []types.Triad{}
	for rows.Next() {
		t, err := scanTriad(rows)
		if err != nil {
			logger.Error("Failed to scan triad", zap.Error(err))
			continue
		}
		triads = append(triads, t)
	}
	return triads, rows.Err()
}

// GetTriadsForPrompt lists a prompt's triads in start order.
func GetTriadsForPrompt(promptID string) ([]types.Triad, error) {
	triads, err := queryTriads(`SELECT `+triadColumns+` FROM triads WHERE prompt_id = ?
		ORDER BY started_at ASC, id ASC`, promptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get prompt triads: %w", err)
	}
	return triads, nil
}

// GetTriadsNeedingGrades returns triads past their window that have no
// per-user scores yet. Chat is closed once the window ends, so one grade is final.
func GetTriadsNeedingGrades(now time.Time) ([]types.Triad, error) {
	triads, err := queryTriads(`SELECT `+triadColumns+` FROM triads
		WHERE user_scores_json = ''
		  AND (status = 'finished' OR (status = 'active' AND started_at + duration_sec * 1000 <= ?))
		ORDER BY started_at ASC, id ASC`, toMillis(now))
	if err != nil {
		logger.Error("Failed to get triads needing grades", zap.Error(err))
		return nil, fmt.Errorf("failed to get triads needing grades: %w", err)
	}
	return triads, nil
}

// GetExpiredActiveTriads returns active triads past their window, grouped by
// prompt and ordered by start time then id within each prompt.
func GetExpiredActiveTriads(now time.Time) ([]types.Triad, error) {
	triads, err := queryTriads(`SELECT `+triadColumns+` FROM triads
		WHERE status = 'active' AND started_at + duration_sec * 1000 <= ?
		ORDER BY prompt_id ASC, started_at ASC, id ASC`, toMillis(now))
	if err != nil {
		logger.Error("Failed to get expired triads", zap.Error(err))
		return nil, fmt.Errorf("failed to get expired triads: %w", err)
	}
	return triads, nil
}

// SetTriadUserScores overwrites per-user scores regardless of status.
func SetTriadUserScores(triadID string, scores []types.UserScore) error {
	db := GetDB()
	if db == nil {
		return ErrNotInitialized
	}

	encoded, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("failed to encode user scores: %w", err)
	}

	if _, err := db.Exec(`UPDATE triads SET user_scores_json = ? WHERE id = ?`, string(encoded), triadID); err != nil {
		logger.Error("Failed to set triad user scores", zap.Error(err), zap.String("triad_id", triadID))
		return fmt.Errorf("failed to set triad user scores: %w", err)
	}
	return nil
}

// SetTriadProvisionalResult stores the group score, provisional winner and
// feedback, but only while the triad is still active.
func SetTriadProvisionalResult(triadID string, score int, winnerUserID, feedback string) (bool, error) {
	db := GetDB()
	if db == nil {
		return false, ErrNotInitialized
	}

	result, err := db.Exec(`UPDATE triads SET score = ?, winner_user_id = ?, group_feedback = ?
		WHERE id = ? AND status = 'active'`, score, winnerUserID, feedback, triadID)
	if err != nil {
		logger.Error("Failed to set triad result", zap.Error(err), zap.String("triad_id", triadID))
		return false, fmt.Errorf("failed to set triad result: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// FinishTriad moves an active triad to finished and writes its credits in the
// same transaction. It returns false without writing anything when the triad
// was no longer active, or when isWinner is set but a sibling triad of the
// same prompt already won.
func FinishTriad(triadID string, isWinner bool, endedAt time.Time, credits []types.TokenTransaction) (bool, error) {
	db := GetDB()
	if db == nil {
		return false, ErrNotInitialized
	}

	winner := 0
	if isWinner {
		winner = 1
	}

	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`UPDATE triads SET status = 'finished', ended_at = ?, is_winner = ?
		WHERE id = ? AND status = 'active'
		  AND (? = 0 OR NOT EXISTS (
			SELECT 1 FROM triads w WHERE w.prompt_id = triads.prompt_id AND w.is_winner = 1))`,
		toMillis(endedAt), winner, triadID, winner)
	if err != nil {
		return false, fmt.Errorf("failed to finish triad: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n != 1 {
		return false, err
	}

	for _, credit := range credits {
		if _, err := insertTransaction(tx, credit); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}
