package settings

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"go.uber.org/zap"
)

type SettingType string

const (
	SettingTypeNormal SettingType = "normal"
	SettingTypeSecret SettingType = "secret"
)

type Setting struct {
	Key         string      `json:"key"`
	Value       string      `json:"value"`
	Type        SettingType `json:"type"`
	Required    bool        `json:"required"`
	Description string      `json:"description"`
	UpdatedAt   time.Time   `json:"updated_at"`
	HasValue    bool        `json:"has_value"`
}

type SettingsManager struct {
	db *sql.DB
}

func NewSettingsManager(db *sql.DB) *SettingsManager {
	return &SettingsManager{db: db}
}

// DefaultSettings lists every runtime-tunable key. Keys outside this map are rejected.
var DefaultSettings = map[string]Setting{
	// Generation
	"OPENAI_API_KEY": {
		Key: "OPENAI_API_KEY", Value: "", Type: SettingTypeSecret, Required: false,
		Description: "OpenAI API key for prompt, persona and grading generation",
	},
	"GENERATION_BACKEND": {
		Key: "GENERATION_BACKEND", Value: "openai", Type: SettingTypeNormal, Required: false,
		Description: "Generation backend (openai or ollama)",
	},

	// Settlement
	"WIN_CREDIT": {
		Key: "WIN_CREDIT", Value: "10", Type: SettingTypeNormal, Required: false,
		Description: "Tokens credited to each member of a prompt's winning triad",
	},
	"PARTICIPATION_CREDIT": {
		Key: "PARTICIPATION_CREDIT", Value: "2", Type: SettingTypeNormal, Required: false,
		Description: "Tokens credited to members of non-winning triads",
	},

	// Pool
	"POOL_TARGET": {
		Key: "POOL_TARGET", Value: "5", Type: SettingTypeNormal, Required: false,
		Description: "Number of future active prompts the pool keeps",
	},

	// Usage counters
	"OPENAI_USAGE_INPUT_TOKENS": {
		Key: "OPENAI_USAGE_INPUT_TOKENS", Value: "0", Type: SettingTypeNormal, Required: false,
		Description: "Accumulated OpenAI input tokens",
	},
	"OPENAI_USAGE_OUTPUT_TOKENS": {
		Key: "OPENAI_USAGE_OUTPUT_TOKENS", Value: "0", Type: SettingTypeNormal, Required: false,
		Description: "Accumulated OpenAI output tokens",
	},
	"OPENAI_USAGE_COST_USD": {
		Key: "OPENAI_USAGE_COST_USD", Value: "0", Type: SettingTypeNormal, Required: false,
		Description: "Estimated accumulated OpenAI cost in USD",
	},
}

// FeatureStatus reports which collaborators are usable with the current settings.
type FeatureStatus struct {
	GenerationConfigured bool     `json:"generation_configured"`
	GenerationBackend    string   `json:"generation_backend"`
	MissingSettings      []string `json:"missing_settings"`
	Warnings             []string `json:"warnings"`
}

func (sm *SettingsManager) CheckFeatureStatus() (*FeatureStatus, error) {
	status := &FeatureStatus{
		MissingSettings: []string{},
		Warnings:        []string{},
	}

	backend, _ := sm.GetSetting("GENERATION_BACKEND")
	status.GenerationBackend = backend
	if backend == "ollama" {
		status.GenerationConfigured = true
	} else if key, err := sm.GetRealValue("OPENAI_API_KEY"); err == nil && key != "" {
		status.GenerationConfigured = true
	} else {
		status.MissingSettings = append(status.MissingSettings, "OPENAI_API_KEY")
		status.Warnings = append(status.Warnings, "generation is not configured; personas and grading use fallbacks")
	}

	return status, nil
}

func (sm *SettingsManager) GetSetting(key string) (string, error) {
	var value string
	err := sm.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		if defaultSetting, exists := DefaultSettings[key]; exists {
			return defaultSetting.Value, nil
		}
		return "", fmt.Errorf("setting not found: %s", key)
	}
	return value, err
}

// GetInt reads a stored integer setting, returning fallback when it is not
// stored or malformed. Defaults are not consulted.
func (sm *SettingsManager) GetInt(key string, fallback int) int {
	var value string
	if err := sm.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value); err != nil {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func (sm *SettingsManager) SetSetting(key, value string) error {
	defaultSetting, exists := DefaultSettings[key]
	if !exists {
		return fmt.Errorf("unknown setting key: %s", key)
	}

	_, err := sm.db.Exec(`
		INSERT INTO settings (key, value, setting_type, is_required, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		key, value,
		string(defaultSetting.Type),
		defaultSetting.Required,
		defaultSetting.Description,
	)
	return err
}

// GetAllSettings returns stored settings merged over the defaults. Secret
// values are blanked; HasValue tells whether one is stored.
func (sm *SettingsManager) GetAllSettings() (map[string]Setting, error) {
	rows, err := sm.db.Query(`
		SELECT key, value, setting_type, is_required, description, updated_at
		FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]Setting)
	for rows.Next() {
		var s Setting
		var settingType string
		var description sql.NullString
		if err := rows.Scan(&s.Key, &s.Value, &settingType, &s.Required, &description, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if _, known := DefaultSettings[s.Key]; !known {
			continue
		}
		s.Type = SettingType(settingType)
		s.Description = description.String
		s.HasValue = s.Value != ""
		if s.Type == SettingTypeSecret {
			s.Value = ""
		}
		settings[s.Key] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for key, defaultSetting := range DefaultSettings {
		if _, exists := settings[key]; !exists {
			settings[key] = defaultSetting
		}
	}

	return settings, nil
}

// GetRealValue returns the stored value including secrets, for internal use only.
func (sm *SettingsManager) GetRealValue(key string) (string, error) {
	return sm.GetSetting(key)
}

// MigrateFromEnv copies keys present in the process environment into the
// table, leaving values that are already stored untouched.
func (sm *SettingsManager) MigrateFromEnv() error {
	migrated := 0

	for key := range DefaultSettings {
		if strings.HasPrefix(key, "OPENAI_USAGE_") {
			continue
		}

		var existingKey string
		if err := sm.db.QueryRow("SELECT key FROM settings WHERE key = ?", key).Scan(&existingKey); err == nil {
			continue
		}

		if envValue := os.Getenv(key); envValue != "" {
			if err := ValidateSetting(key, envValue); err != nil {
				logger.Warn("Skipping invalid setting from environment", zap.String("key", key), zap.Error(err))
				continue
			}
			if err := sm.SetSetting(key, envValue); err != nil {
				logger.Error("Failed to migrate setting", zap.String("key", key), zap.Error(err))
				return fmt.Errorf("failed to migrate %s: %w", key, err)
			}
			migrated++
		}
	}

	if migrated > 0 {
		logger.Info("Migrated settings from environment", zap.Int("migrated_count", migrated))
	}
	return nil
}

func ValidateSetting(key, value string) error {
	switch key {
	case "WIN_CREDIT", "PARTICIPATION_CREDIT":
		if val, err := strconv.Atoi(value); err != nil || val < 0 || val > 10000 {
			return fmt.Errorf("must be integer between 0 and 10000")
		}
	case "POOL_TARGET":
		if val, err := strconv.Atoi(value); err != nil || val < 1 || val > 100 {
			return fmt.Errorf("must be integer between 1 and 100")
		}
	case "GENERATION_BACKEND":
		if value != "openai" && value != "ollama" {
			return fmt.Errorf("must be 'openai' or 'ollama'")
		}
	}
	return nil
}

func (sm *SettingsManager) InitializeDefaultSettings() error {
	for key, setting := range DefaultSettings {
		var existingKey string
		if err := sm.db.QueryRow("SELECT key FROM settings WHERE key = ?", key).Scan(&existingKey); err == nil {
			continue
		}

		if err := sm.SetSetting(key, setting.Value); err != nil {
			return fmt.Errorf("failed to initialize setting %s: %w", key, err)
		}
	}
	return nil
}
