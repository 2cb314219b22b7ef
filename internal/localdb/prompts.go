package localdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"github.com/nantokaworks/triad-arena/internal/types"
	"go.uber.org/zap"
)

// SetupPromptTables creates prompts, prompt_responses and bot_assignments.
func SetupPromptTables(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS prompts (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			category TEXT NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			creator_id TEXT,
			scheduled_for INTEGER NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create prompts table: %w", err)
	}

	// Claim time lets a later sweep retry respondents stranded by a failed pass.
	_, _ = db.Exec(`ALTER TABLE prompts ADD COLUMN claimed_at INTEGER`)

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_prompts_active_scheduled ON prompts(active, scheduled_for)`); err != nil {
		logger.Warn("Failed to create prompts index", zap.Error(err))
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS prompt_responses (
			id TEXT PRIMARY KEY,
			prompt_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			is_persona INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			UNIQUE(prompt_id, user_id)
		)
	`); err != nil {
		return fmt.Errorf("failed to create prompt_responses table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bot_assignments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			prompt_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			persona_key TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create bot_assignments table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_bot_assignments_prompt ON bot_assignments(prompt_id)`); err != nil {
		logger.Warn("Failed to create bot_assignments index", zap.Error(err))
	}

	return nil
}

const promptColumns = `id, text, category, topic, COALESCE(creator_id, ''), scheduled_for, active, created_at`

func scanPrompt(row interface{ Scan(...any) error }) (types.Prompt, error) {
	var (
		p                       types.Prompt
		category                string
		scheduledFor, createdAt int64
		active                  int
	)
	if err := row.Scan(&p.ID, &p.Text, &category, &p.Topic, &p.CreatorID, &scheduledFor, &active, &createdAt); err != nil {
		return types.Prompt{}, err
	}
	p.Category = types.PromptCategory(category)
	p.ScheduledFor = fromMillis(scheduledFor)
	p.CreatedAt = fromMillis(createdAt)
	p.Active = active == 1
	return p, nil
}

// InsertPrompts inserts all prompts in one transaction; nothing is written on error.
func InsertPrompts(prompts []types.Prompt) error {
	db := GetDB()
	if db == nil {
		return ErrNotInitialized
	}
	if len(prompts) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO prompts (id, text, category, topic, creator_id, scheduled_for, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range prompts {
		created := p.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		active := 0
		if p.Active {
			active = 1
		}
		if _, err := stmt.Exec(p.ID, p.Text, string(p.Category), p.Topic, nullString(p.CreatorID),
			toMillis(p.ScheduledFor), active, toMillis(created)); err != nil {
			logger.Error("Failed to insert prompt", zap.Error(err), zap.String("prompt_id", p.ID))
			return fmt.Errorf("failed to insert prompt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetPrompt returns one prompt or ErrNotFound.
func GetPrompt(id string) (*types.Prompt, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	p, err := scanPrompt(db.QueryRow(`SELECT `+promptColumns+` FROM prompts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Error("Failed to get prompt", zap.Error(err), zap.String("prompt_id", id))
		return nil, fmt.Errorf("failed to get prompt: %w", err)
	}
	return &p, nil
}

func queryPrompts(query string, args ...any) ([]types.Prompt, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prompts := []types.Prompt{}
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			logger.Error("Failed to scan prompt", zap.Error(err))
			continue
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// GetFutureActivePrompts returns active prompts whose deadline is after now,
// earliest deadline first.
func GetFutureActivePrompts(now time.Time) ([]types.Prompt, error) {
	prompts, err := queryPrompts(`SELECT `+promptColumns+` FROM prompts
		WHERE active = 1 AND scheduled_for > ?
		ORDER BY scheduled_for ASC, id ASC`, toMillis(now))
	if err != nil {
		logger.Error("Failed to get future active prompts", zap.Error(err))
		return nil, fmt.Errorf("failed to get future active prompts: %w", err)
	}
	return prompts, nil
}

// GetDuePrompts returns active prompts whose deadline has passed.
func GetDuePrompts(now time.Time) ([]types.Prompt, error) {
	prompts, err := queryPrompts(`SELECT `+promptColumns+` FROM prompts
		WHERE active = 1 AND scheduled_for <= ?
		ORDER BY scheduled_for ASC, id ASC`, toMillis(now))
	if err != nil {
		logger.Error("Failed to get due prompts", zap.Error(err))
		return nil, fmt.Errorf("failed to get due prompts: %w", err)
	}
	return prompts, nil
}

// ClaimPrompt deactivates the prompt only if it is still active and stamps the
// claim time. It returns false when another caller already claimed it.
func ClaimPrompt(id string, at time.Time) (bool, error) {
	db := GetDB()
	if db == nil {
		return false, ErrNotInitialized
	}

	result, err := db.Exec(`UPDATE prompts SET active = 0, claimed_at = ? WHERE id = ? AND active = 1`, toMillis(at), id)
	if err != nil {
		logger.Error("Failed to claim prompt", zap.Error(err), zap.String("prompt_id", id))
		return false, fmt.Errorf("failed to claim prompt: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return n == 1, nil
}

// GetStrandedPrompts returns claimed prompts that still have humans outside
// every triad, claimed within [since, until].
func GetStrandedPrompts(since, until time.Time) ([]types.Prompt, error) {
	prompts, err := queryPrompts(`SELECT `+promptColumns+` FROM prompts p
		WHERE p.active = 0 AND p.claimed_at IS NOT NULL AND p.claimed_at >= ? AND p.claimed_at <= ?
		AND (
			EXISTS (SELECT 1 FROM prompt_responses r WHERE r.prompt_id = p.id AND r.is_persona = 0
				AND r.user_id NOT IN (SELECT m.user_id FROM triad_members m WHERE m.prompt_id = p.id))
			OR EXISTS (SELECT 1 FROM bot_assignments b WHERE b.prompt_id = p.id
				AND b.user_id NOT IN (SELECT m.user_id FROM triad_members m WHERE m.prompt_id = p.id))
		)
		ORDER BY p.scheduled_for ASC, p.id ASC`, toMillis(since), toMillis(until))
	if err != nil {
		logger.Error("Failed to get stranded prompts", zap.Error(err))
		return nil, fmt.Errorf("failed to get stranded prompts: %w", err)
	}
	return prompts, nil
}

// AddPromptResponse inserts a response. Returns false if the (prompt, user)
// pair already has one.
func AddPromptResponse(resp types.PromptResponse) (bool, error) {
	db := GetDB()
	if db == nil {
		return false, ErrNotInitialized
	}

	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}
	isPersona := 0
	if resp.IsPersona {
		isPersona = 1
	}

	result, err := db.Exec(`
		INSERT OR IGNORE INTO prompt_responses (id, prompt_id, user_id, content, is_persona, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, resp.ID, resp.PromptID, resp.UserID, resp.Content, isPersona, toMillis(resp.CreatedAt))
	if err != nil {
		logger.Error("Failed to insert prompt response", zap.Error(err), zap.String("prompt_id", resp.PromptID))
		return false, fmt.Errorf("failed to insert prompt response: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return false, nil
	}
	return true, nil
}

// GetPromptResponse returns the response of one user, or ErrNotFound.
func GetPromptResponse(promptID, userID string) (*types.PromptResponse, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	var (
		r         types.PromptResponse
		isPersona int
		createdAt int64
	)
	err := db.QueryRow(`
		SELECT id, prompt_id, user_id, content, is_persona, created_at
		FROM prompt_responses WHERE prompt_id = ? AND user_id = ?
	`, promptID, userID).Scan(&r.ID, &r.PromptID, &r.UserID, &r.Content, &isPersona, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prompt response: %w", err)
	}
	r.IsPersona = isPersona == 1
	r.CreatedAt = fromMillis(createdAt)
	return &r, nil
}

// GetPromptResponses lists all responses of a prompt in submission order.
func GetPromptResponses(promptID string) ([]types.PromptResponse, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := db.Query(`
		SELECT id, prompt_id, user_id, content, is_persona, created_at
		FROM prompt_responses WHERE prompt_id = ?
		ORDER BY created_at ASC, id ASC
	`, promptID)
	if err != nil {
		logger.Error("Failed to get prompt responses", zap.Error(err))
		return nil, fmt.Errorf("failed to get prompt responses: %w", err)
	}
	defer rows.Close()

	responses := []types.PromptResponse{}
	for rows.Next() {
		var (
			r         types.PromptResponse
			isPersona int
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.PromptID, &r.UserID, &r.Content, &isPersona, &createdAt); err != nil {
			logger.Error("Failed to scan prompt response", zap.Error(err))
			continue
		}
		r.IsPersona = isPersona == 1
		r.CreatedAt = fromMillis(createdAt)
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// AddBotAssignment appends a bot assignment record.
func AddBotAssignment(a types.BotAssignment) (int64, error) {
	db := GetDB()
	if db == nil {
		return 0, ErrNotInitialized
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	result, err := db.Exec(`INSERT INTO bot_assignments (prompt_id, user_id, persona_key, created_at) VALUES (?, ?, ?, ?)`,
		a.PromptID, a.UserID, a.PersonaKey, toMillis(a.CreatedAt))
	if err != nil {
		logger.Error("Failed to add bot assignment", zap.Error(err), zap.String("prompt_id", a.PromptID))
		return 0, fmt.Errorf("failed to add bot assignment: %w", err)
	}
	return result.LastInsertId()
}

// GetBotAssignments lists assignments for a prompt, oldest first.
func GetBotAssignments(promptID string) ([]types.BotAssignment, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := db.Query(`SELECT id, prompt_id, user_id, persona_key, created_at
		FROM bot_assignments WHERE prompt_id = ? ORDER BY created_at ASC, id ASC`, promptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot assignments: %w", err)
	}
	defer rows.Close()

	out := []types.BotAssignment{}
	for rows.Next() {
		var (
			a         types.BotAssignment
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.PromptID, &a.UserID, &a.PersonaKey, &createdAt); err != nil {
			continue
		}
		a.CreatedAt = fromMillis(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetUnassignedUsers returns distinct humans who responded to the prompt or
// assigned a bot to it and are not yet members of any of its triads, ordered by
// their first action.
func GetUnassignedUsers(promptID string) ([]string, error) {
	db := GetDB()
	if db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := db.Query(`
		SELECT user_id, MIN(created_at) AS first_at FROM (
			SELECT user_id, created_at FROM prompt_responses WHERE prompt_id = ? AND is_persona = 0
			UNION ALL
			SELECT user_id, created_at FROM bot_assignments WHERE prompt_id = ?
		)
		WHERE user_id NOT IN (SELECT user_id FROM triad_members WHERE prompt_id = ?)
		GROUP BY user_id
		ORDER BY first_at ASC, user_id ASC
	`, promptID, promptID, promptID)
	if err != nil {
		logger.Error("Failed to get unassigned users", zap.Error(err), zap.String("prompt_id", promptID))
		return nil, fmt.Errorf("failed to get unassigned users: %w", err)
	}
	defer rows.Close()

	users := []string{}
	for rows.Next() {
		var (
			userID  string
			firstAt int64
		)
		if err := rows.Scan(&userID, &firstAt); err != nil {
			continue
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}
