package webserver

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nantokaworks/triad-arena/internal/chat"
	"github.com/nantokaworks/triad-arena/internal/ledger"
	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/types"
	"github.com/nantokaworks/triad-arena/internal/version"
)

var now = time.Now

var errServiceUnavailable = &apiError{message: "service not configured", status: http.StatusServiceUnavailable}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    version.Get(),
		"ws_clients": wsHub.ClientCount(),
	})
}

// handleSweep runs one sweep. The sweep outlives a disconnecting caller.
func (a *api) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, errMethodNotAllowed)
		return
	}
	if a.svc.Sweep == nil {
		writeError(w, errServiceUnavailable)
		return
	}

	result, err := a.svc.Sweep.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleActivePrompts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errMethodNotAllowed)
		return
	}
	prompts, err := localdb.GetFutureActivePrompts(now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": prompts})
}

func (a *api) handlePrompts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		handleActivePrompts(w, r)
	case http.MethodPost:
		if a.svc.Pool == nil {
			writeError(w, errServiceUnavailable)
			return
		}
		var req struct {
			Text      string `json:"text"`
			CreatorID string `json:"creator_id"`
			Category  string `json:"category"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		category := types.PromptCategory(req.Category)
		if category == "" {
			category = types.CategoryUser
		}
		prompt, err := a.svc.Pool.SubmitPrompt(req.Text, req.CreatorID, category)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, prompt)
	default:
		writeError(w, errMethodNotAllowed)
	}
}

func (a *api) handlePromptResponses(w http.ResponseWriter, r *http.Request) {
	promptID := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		responses, err := localdb.GetPromptResponses(promptID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": responses})
	case http.MethodPost:
		if a.svc.Collector == nil {
			writeError(w, errServiceUnavailable)
			return
		}
		var req struct {
			UserID  string `json:"user_id"`
			Content string `json:"content"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		resp, err := a.svc.Collector.SubmitResponse(promptID, req.UserID, req.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	default:
		writeError(w, errMethodNotAllowed)
	}
}

func (a *api) handleBotAssignments(w http.ResponseWriter, r *http.Request) {
	promptID := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		assignments, err := localdb.GetBotAssignments(promptID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": assignments})
	case http.MethodPost:
		if a.svc.Collector == nil {
			writeError(w, errServiceUnavailable)
			return
		}
		var req struct {
			UserID     string `json:"user_id"`
			PersonaKey string `json:"persona_key"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		assignment, err := a.svc.Collector.RecordBotAssignment(promptID, req.UserID, req.PersonaKey)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, assignment)
	default:
		writeError(w, errMethodNotAllowed)
	}
}

func handleRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errMethodNotAllowed)
		return
	}
	room, err := localdb.GetRoom(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// handleRoomMessages pages history with ?after=<seq>&limit=<n> and posts
// live messages.
func (a *api) handleRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
		messages, err := chat.History(roomID, after, queryInt(r, "limit", 0))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": messages})
	case http.MethodPost:
		if a.svc.Chat == nil {
			writeError(w, errServiceUnavailable)
			return
		}
		var req struct {
			SenderID string `json:"sender_id"`
			Content  string `json:"content"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		msg, err := a.svc.Chat.PostMessage(r.Context(), roomID, req.SenderID, req.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		writeError(w, errMethodNotAllowed)
	}
}

func handleTriad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errMethodNotAllowed)
		return
	}
	triad, err := localdb.GetTriad(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, triad)
}

func (a *api) handlePersonas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errMethodNotAllowed)
		return
	}
	if a.svc.Personas == nil {
		writeError(w, errServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": a.svc.Personas.All()})
}

func handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errMethodNotAllowed)
		return
	}
	userID := r.PathValue("id")
	balance, err := ledger.Balance(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

func handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, errMethodNotAllowed)
		return
	}
	history, err := ledger.Transactions(r.PathValue("id"), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": history})
}

func handleSpend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errMethodNotAllowed)
		return
	}
	var req struct {
		Amount int    `json:"amount"`
		Note   string `json:"note"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tx, err := ledger.Spend(r.PathValue("id"), req.Amount, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func handleAdminAdjust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, errMethodNotAllowed)
		return
	}
	var req struct {
		UserID string `json:"user_id"`
		Delta  int    `json:"delta"`
		Note   string `json:"note"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tx, err := ledger.AdminAdjust(req.UserID, req.Delta, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}
