package localdb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"go.uber.org/zap"
)

var ErrWordExists = errors.New("word already exists")

// SetupWordFilterTable creates the moderation word list table.
func SetupWordFilterTable(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS word_filter_words (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			language TEXT NOT NULL,
			word TEXT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('bad', 'good')),
			UNIQUE(language, word)
		)
	`); err != nil {
		return fmt.Errorf("failed to create word_filter_words table: %w", err)
	}
	return nil
}

// WordFilterWord is one entry of a moderation list. Type is "bad" (blocked)
// or "good" (allowed even when it contains a bad word).
type WordFilterWord struct {
	ID       int    `json:"id"`
	Language string `json:"language"`
	Word     string `json:"word"`
	Type     string `json:"type"`
}

// GetWordFilterWords returns words for the given languages ("" matches every
// language).
func GetWordFilterWords(languages ...string) ([]WordFilterWord, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	query := `SELECT id, language, word, type FROM word_filter_words`
	args := []any{}
	if len(languages) > 0 {
		placeholders := make([]string, len(languages))
		for i, lang := range languages {
			placeholders[i] = "?"
			args = append(args, lang)
		}
		query += ` WHERE language IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY language, word`

	rows, err := db.Query(query, args...)
	if err != nil {
		logger.Error("Failed to get word filter words", zap.Error(err), zap.Strings("languages", languages))
		return nil, fmt.Errorf("failed to get word filter words: %w", err)
	}
	defer rows.Close()

	words := []WordFilterWord{}
	for rows.Next() {
		var w WordFilterWord
		if err := rows.Scan(&w.ID, &w.Language, &w.Word, &w.Type); err != nil {
			logger.Error("Failed to scan word filter word", zap.Error(err))
			continue
		}
		words = append(words, w)
	}
	return words, rows.Err()
}

// GetWordFilterLanguages lists languages that have at least one word.
func GetWordFilterLanguages() ([]string, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := db.Query(`SELECT DISTINCT language FROM word_filter_words ORDER BY language`)
	if err != nil {
		return nil, fmt.Errorf("failed to get word filter languages: %w", err)
	}
	defer rows.Close()

	languages := []string{}
	for rows.Next() {
		var lang string
		if err := rows.Scan(&lang); err == nil {
			languages = append(languages, lang)
		}
	}
	return languages, rows.Err()
}

// AddWordFilterWord adds a word to a moderation list.
func AddWordFilterWord(language, word, wordType string) (*WordFilterWord, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	if wordType != "bad" && wordType != "good" {
		return nil, fmt.Errorf("invalid word type: %s (must be 'bad' or 'good')", wordType)
	}
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return nil, fmt.Errorf("word must not be empty")
	}

	result, err := db.Exec(`INSERT INTO word_filter_words (language, word, type) VALUES (?, ?, ?)`, language, word, wordType)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, ErrWordExists
		}
		logger.Error("Failed to add word filter word", zap.Error(err))
		return nil, fmt.Errorf("failed to add word filter word: %w", err)
	}

	id, _ := result.LastInsertId()
	return &WordFilterWord{ID: int(id), Language: language, Word: word, Type: wordType}, nil
}

// DeleteWordFilterWord removes a word by id.
func DeleteWordFilterWord(id int) error {
	db := GetDB()
	if db == nil {
		return ErrNotInitialized
	}

	result, err := db.Exec(`DELETE FROM word_filter_words WHERE id = ?`, id)
	if err != nil {
		logger.Error("Failed to delete word filter word", zap.Error(err), zap.Int("id", id))
		return fmt.Errorf("failed to delete word filter word: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkInsertWordFilterWords inserts words in one transaction, skipping duplicates.
func BulkInsertWordFilterWords(words []WordFilterWord) error {
	db := GetDB()
	if db == nil {
		return ErrNotInitialized
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO word_filter_words (language, word, type) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, w := range words {
		if _, err := stmt.Exec(w.Language, strings.ToLower(w.Word), w.Type); err != nil {
			logger.Error("Failed to insert word", zap.Error(err), zap.String("word", w.Word))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsWordFilterSeeded reports whether the default lists were loaded once.
func IsWordFilterSeeded() (bool, error) {
	db := GetDB()
	if db == nil {
		return false, ErrNotInitialized
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM settings WHERE key = 'word_filter_seeded'`).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkWordFilterSeeded records that the default lists were loaded.
func MarkWordFilterSeeded() error {
	db := GetDB()
	if db == nil {
		return ErrNotInitialized
	}

	_, err := db.Exec(`INSERT OR REPLACE INTO settings (key, value, setting_type) VALUES ('word_filter_seeded', 'true', 'system')`)
	return err
}
