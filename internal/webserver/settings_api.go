package webserver

import (
	"net/http"

	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/settings"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"go.uber.org/zap"
)

func settingsManager() (*settings.SettingsManager, error) {
	db := localdb.GetDB()
	if db == nil {
		return nil, localdb.ErrNotInitialized
	}
	return settings.NewSettingsManager(db), nil
}

// handleSettings lists settings (secrets blanked) and applies partial updates
// given as {"KEY": "value"}. An update is all or nothing at validation time.
func handleSettings(w http.ResponseWriter, r *http.Request) {
	manager, err := settingsManager()
	if err != nil {
		writeError(w, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		all, err := manager.GetAllSettings()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": all})

	case http.MethodPut, http.MethodPatch:
		var updates map[string]string
		if err := decodeBody(r, &updates); err != nil {
			writeError(w, err)
			return
		}
		for key, value := range updates {
			if _, known := settings.DefaultSettings[key]; !known {
				writeError(w, &apiError{message: "unknown setting: " + key, status: http.StatusBadRequest})
				return
			}
			if err := settings.ValidateSetting(key, value); err != nil {
				writeError(w, &apiError{message: key + ": " + err.Error(), status: http.StatusBadRequest})
				return
			}
		}
		for key, value := range updates {
			if err := manager.SetSetting(key, value); err != nil {
				writeError(w, err)
				return
			}
			logger.Info("Setting updated", zap.String("key", key))
		}
		writeJSON(w, http.StatusOK, map[string]any{"updated": len(updates)})

	default:
		writeError(w, errMethodNotAllowed)
	}
}

func handleSettingsStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errMethodNotAllowed)
		return
	}
	manager, err := settingsManager()
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := manager.CheckFeatureStatus()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
