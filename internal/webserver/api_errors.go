package webserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nantokaworks/triad-arena/internal/chat"
	"github.com/nantokaworks/triad-arena/internal/collector"
	"github.com/nantokaworks/triad-arena/internal/generation"
	"github.com/nantokaworks/triad-arena/internal/ledger"
	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/pool"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"go.uber.org/zap"
)

// apiError carries a client-facing message with its status.
type apiError struct {
	message string
	status  int
}

func (e *apiError) Error() string {
	return e.message
}

var (
	errMethodNotAllowed = &apiError{message: "method not allowed", status: http.StatusMethodNotAllowed}
	errInvalidBody      = &apiError{message: "invalid request body", status: http.StatusBadRequest}
)

// statusFor maps domain errors to HTTP statuses. Anything unknown is a 500.
func statusFor(err error) int {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		return ae.status
	case errors.Is(err, localdb.ErrNotFound),
		errors.Is(err, collector.ErrPromptNotFound),
		errors.Is(err, chat.ErrRoomNotFound),
		errors.Is(err, chat.ErrNoActiveTriad):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrTimeOver):
		return http.StatusGone
	case errors.Is(err, collector.ErrPromptClosed),
		errors.Is(err, collector.ErrAlreadyResponded),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, localdb.ErrWordExists):
		return http.StatusConflict
	case errors.Is(err, chat.ErrNotParticipant),
		errors.Is(err, collector.ErrReservedUser):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrMessageRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrMessageTooLong),
		errors.Is(err, collector.ErrEmptyContent),
		errors.Is(err, collector.ErrContentTooLong),
		errors.Is(err, collector.ErrMissingUser),
		errors.Is(err, collector.ErrUnknownPersona),
		errors.Is(err, pool.ErrEmptyPrompt),
		errors.Is(err, pool.ErrPromptTooLong),
		errors.Is(err, pool.ErrInvalidCategory),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMissingUser),
		errors.Is(err, ledger.ErrMissingNote):
		return http.StatusBadRequest
	case errors.Is(err, localdb.ErrNotInitialized),
		errors.Is(err, generation.ErrNotConfigured):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// writeError renders err as {"error": ...}. Internal errors are logged and
// not echoed.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errInvalidBody
	}
	return nil
}
