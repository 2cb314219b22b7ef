package webserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"go.uber.org/zap"
)

// handleWordFilter handles GET (list words) and POST (add word) for /api/word-filter
func (a *api) handleWordFilter(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		handleGetWordFilterWords(w, r)
	case http.MethodPost:
		a.handleAddWordFilterWord(w, r)
	default:
		writeError(w, errMethodNotAllowed)
	}
}

// handleWordFilterByPath handles /api/word-filter/languages and /api/word-filter/{id}
func (a *api) handleWordFilterByPath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/word-filter/")

	if path == "languages" {
		handleGetWordFilterLanguages(w, r)
		return
	}

	if r.Method == http.MethodDelete {
		id, err := strconv.Atoi(path)
		if err != nil {
			writeError(w, &apiError{message: "invalid word id", status: http.StatusBadRequest})
			return
		}
		a.handleDeleteWordFilterWord(w, id)
		return
	}

	writeError(w, errMethodNotAllowed)
}

// handleGetWordFilterWords returns words for ?lang=, or every language when
// it is omitted.
func handleGetWordFilterWords(w http.ResponseWriter, r *http.Request) {
	var langs []string
	if lang := r.URL.Query().Get("lang"); lang != "" {
		langs = append(langs, lang)
	}

	words, err := localdb.GetWordFilterWords(langs...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": words})
}

func (a *api) handleAddWordFilterWord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
		Word     string `json:"word"`
		Type     string `json:"type"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	req.Word = strings.TrimSpace(req.Word)
	if req.Language == "" || req.Word == "" || (req.Type != "bad" && req.Type != "good") {
		writeError(w, &apiError{message: "language, word and type (bad or good) are required", status: http.StatusBadRequest})
		return
	}

	word, err := localdb.AddWordFilterWord(req.Language, req.Word, req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	a.reloadModeration()

	logger.Info("Word filter word added", zap.String("language", word.Language), zap.String("type", word.Type))
	writeJSON(w, http.StatusCreated, word)
}

func (a *api) handleDeleteWordFilterWord(w http.ResponseWriter, id int) {
	if err := localdb.DeleteWordFilterWord(id); err != nil {
		writeError(w, err)
		return
	}
	a.reloadModeration()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func handleGetWordFilterLanguages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errMethodNotAllowed)
		return
	}
	languages, err := localdb.GetWordFilterLanguages()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": languages})
}

func (a *api) reloadModeration() {
	if a.svc.Moderation != nil {
		a.svc.Moderation.Reload()
	}
}
