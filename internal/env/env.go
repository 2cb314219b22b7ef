package env

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"go.uber.org/zap"
)

// Env holds process configuration read from the environment (and an optional
// .env file).
type Env struct {
	ServerPort int
	DBPath     string
	DebugMode  bool

	GenerationBackend string
	OpenAIAPIKey      string
	OpenAIModel       string
	OllamaBaseURL     string
	OllamaModel       string

	PoolTargetCount     int
	PoolSpacing         time.Duration
	PoolJitter          time.Duration
	PromptCategories    []string
	TriadDuration       time.Duration
	WinCredit           int
	ParticipationCredit int

	ReplyCooldown        time.Duration
	KickoffReplyCooldown time.Duration
	ModerationFailMode   string

	SweepInterval time.Duration
}

const (
	ModerationFailBlock = "block"
	ModerationFailAllow = "allow"
)

var Value = Defaults()

// Defaults returns the configuration used when nothing is set.
func Defaults() Env {
	return Env{
		ServerPort:           8080,
		DBPath:               "triad-arena.db",
		GenerationBackend:    "openai",
		OpenAIModel:          "gpt-4o-mini",
		OllamaBaseURL:        "http://127.0.0.1:11434",
		PoolTargetCount:      5,
		PoolSpacing:          10 * time.Minute,
		PromptCategories:     []string{"society", "technology", "ethics", "culture"},
		TriadDuration:        600 * time.Second,
		WinCredit:            10,
		ParticipationCredit:  2,
		ReplyCooldown:        20 * time.Second,
		KickoffReplyCooldown: 1500 * time.Millisecond,
		ModerationFailMode:   ModerationFailBlock,
	}
}

// LoadEnv reads .env (if present) and the process environment into Value.
func LoadEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to load .env file", zap.Error(err))
	}
	Value = fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) Env {
	v := Defaults()

	get := func(key string) (string, bool) {
		raw, ok := lookup(key)
		if !ok {
			return "", false
		}
		raw = strings.TrimSpace(raw)
		return raw, raw != ""
	}
	intVal := func(key string, dst *int) {
		if raw, ok := get(key); ok {
			if n, err := strconv.Atoi(raw); err == nil {
				*dst = n
			} else {
				logger.Warn("Ignoring invalid integer setting", zap.String("key", key), zap.String("value", raw))
			}
		}
	}
	secondsVal := func(key string, dst *time.Duration) {
		if raw, ok := get(key); ok {
			if f, err := strconv.ParseFloat(raw, 64); err == nil && f >= 0 {
				*dst = time.Duration(f * float64(time.Second))
			} else {
				logger.Warn("Ignoring invalid duration setting", zap.String("key", key), zap.String("value", raw))
			}
		}
	}
	strVal := func(key string, dst *string) {
		if raw, ok := get(key); ok {
			*dst = raw
		}
	}

	intVal("SERVER_PORT", &v.ServerPort)
	strVal("DB_PATH", &v.DBPath)
	if raw, ok := get("DEBUG_MODE"); ok {
		v.DebugMode = strings.EqualFold(raw, "true") || raw == "1"
	}

	strVal("GENERATION_BACKEND", &v.GenerationBackend)
	strVal("OPENAI_API_KEY", &v.OpenAIAPIKey)
	strVal("OPENAI_MODEL", &v.OpenAIModel)
	strVal("OLLAMA_BASE_URL", &v.OllamaBaseURL)
	strVal("OLLAMA_MODEL", &v.OllamaModel)

	intVal("POOL_TARGET_COUNT", &v.PoolTargetCount)
	secondsVal("POOL_SPACING_SEC", &v.PoolSpacing)
	secondsVal("POOL_JITTER_SEC", &v.PoolJitter)
	if raw, ok := get("PROMPT_CATEGORIES"); ok {
		var cats []string
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cats = append(cats, c)
			}
		}
		if len(cats) > 0 {
			v.PromptCategories = cats
		}
	}
	secondsVal("TRIAD_DURATION_SEC", &v.TriadDuration)
	intVal("WIN_CREDIT", &v.WinCredit)
	intVal("PARTICIPATION_CREDIT", &v.ParticipationCredit)

	secondsVal("REPLY_COOLDOWN_SEC", &v.ReplyCooldown)
	secondsVal("KICKOFF_REPLY_COOLDOWN_SEC", &v.KickoffReplyCooldown)
	if raw, ok := get("MODERATION_FAIL_MODE"); ok {
		switch strings.ToLower(raw) {
		case ModerationFailAllow:
			v.ModerationFailMode = ModerationFailAllow
		default:
			v.ModerationFailMode = ModerationFailBlock
		}
	}

	secondsVal("SWEEP_INTERVAL_SEC", &v.SweepInterval)

	if v.PoolTargetCount <= 0 {
		v.PoolTargetCount = 5
	}
	if v.TriadDuration <= 0 {
		v.TriadDuration = 600 * time.Second
	}
	return v
}
