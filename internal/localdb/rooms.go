package localdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"github.com/nantokaworks/triad-arena/internal/types"
	"go.uber.org/zap"
)

// SetupRoomTables creates chat_rooms, room_participants and room_tags.
func SetupRoomTables(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			triad_id TEXT,
			last_activity_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create chat_rooms table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS room_participants (
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			joined_at INTEGER NOT NULL,
			PRIMARY KEY (room_id, user_id)
		)
	`); err != nil {
		return fmt.Errorf("failed to create room_participants table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS room_tags (
			room_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (room_id, tag)
		)
	`); err != nil {
		return fmt.Errorf("failed to create room_tags table: %w", err)
	}

	return nil
}

// GetRoom returns a room with its participants (join order) and tags
// (most frequent first).
func GetRoom(id string) (*types.ChatRoom, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	var (
		room                    types.ChatRoom
		triadID                 sql.NullString
		lastActivity, createdAt int64
	)
	err := db.QueryRow(`SELECT id, name, triad_id, last_activity_at, created_at FROM chat_rooms WHERE id = ?`, id).
		Scan(&room.ID, &room.Name, &triadID, &lastActivity, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Error("Failed to get room", zap.Error(err), zap.String("room_id", id))
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	room.TriadID = triadID.String
	room.LastActivityAt = fromMillis(lastActivity)
	room.CreatedAt = fromMillis(createdAt)

	if room.Participants, err = GetRoomParticipants(id); err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT tag FROM room_tags WHERE room_id = ? ORDER BY count DESC, tag ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get room tags: %w", err)
	}
	defer rows.Close()
	room.Tags = []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err == nil {
			room.Tags = append(room.Tags, tag)
		}
	}
	return &room, rows.Err()
}

// GetRoomParticipants lists room members in join order.
func GetRoomParticipants(roomID string) ([]string, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := db.Query(`SELECT user_id FROM room_participants WHERE room_id = ? ORDER BY joined_at ASC, rowid ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get room participants: %w", err)
	}
	defer rows.Close()

	users := []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err == nil {
			users = append(users, userID)
		}
	}
	return users, rows.Err()
}

// AddRoomParticipant adds the user to the room if missing. Returns true when
// a row was added.
func AddRoomParticipant(roomID, userID string, at time.Time) (bool, error) {
	db := GetDB()
	if db == nil {
		return false, ErrNotInitialized
	}

	result, err := db.Exec(`INSERT OR IGNORE INTO room_participants (room_id, user_id, joined_at) VALUES (?, ?, ?)`,
		roomID, userID, toMillis(at))
	if err != nil {
		logger.Error("Failed to add room participant", zap.Error(err), zap.String("room_id", roomID))
		return false, fmt.Errorf("failed to add room participant: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// IsRoomParticipant reports room membership.
func IsRoomParticipant(roomID, userID string) (bool, error) {
	db := GetDB()
	if db == nil {
		return false, ErrNotInitialized
	}

	var exists int
	err := db.QueryRow(`SELECT 1 FROM room_participants WHERE room_id = ? AND user_id = ? LIMIT 1`, roomID, userID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check room participant: %w", err)
	}
	return true, nil
}

// TouchRoom records activity and folds message tags into the room's counts.
func TouchRoom(roomID string, at time.Time, tags []string) error {
	db := GetDB()
	if db == nil {
		return ErrNotInitialized
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE chat_rooms SET last_activity_at = MAX(last_activity_at, ?) WHERE id = ?`, toMillis(at), roomID); err != nil {
		return fmt.Errorf("failed to touch room: %w", err)
	}

	for _, tag := range tags {
		if _, err := tx.Exec(`
			INSERT INTO room_tags (room_id, tag, count, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT(room_id, tag) DO UPDATE SET
				count = room_tags.count + 1,
				updated_at = excluded.updated_at
		`, roomID, tag, toMillis(at)); err != nil {
			return fmt.Errorf("failed to add room tag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
