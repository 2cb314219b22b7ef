package webserver

import (
	"net/http"

	"github.com/nantokaworks/triad-arena/internal/generation"
	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/settings"
)

type openAIUsageResponse struct {
	generation.Usage
	TotalTokens int `json:"total_tokens"`
}

func handleOpenAIUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errMethodNotAllowed)
		return
	}

	usage := generation.GetUsage()
	writeJSON(w, http.StatusOK, openAIUsageResponse{
		Usage:       usage,
		TotalTokens: usage.InputTokens + usage.OutputTokens,
	})
}

func handleOpenAIUsageReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errMethodNotAllowed)
		return
	}
	db := localdb.GetDB()
	if db == nil {
		writeError(w, localdb.ErrNotInitialized)
		return
	}

	manager := settings.NewSettingsManager(db)
	for _, key := range []string{"OPENAI_USAGE_INPUT_TOKENS", "OPENAI_USAGE_OUTPUT_TOKENS", "OPENAI_USAGE_COST_USD"} {
		if err := manager.SetSetting(key, "0"); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
