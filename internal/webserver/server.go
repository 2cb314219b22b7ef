package webserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nantokaworks/triad-arena/internal/broadcast"
	"github.com/nantokaworks/triad-arena/internal/chat"
	"github.com/nantokaworks/triad-arena/internal/collector"
	"github.com/nantokaworks/triad-arena/internal/moderation"
	"github.com/nantokaworks/triad-arena/internal/persona"
	"github.com/nantokaworks/triad-arena/internal/pool"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"github.com/nantokaworks/triad-arena/internal/sweep"
	"go.uber.org/zap"
)

var httpServer *http.Server

// Services is everything the HTTP surface calls into.
type Services struct {
	Pool       *pool.Manager
	Collector  *collector.Collector
	Chat       *chat.Service
	Sweep      *sweep.Runner
	Moderation *moderation.WordFilter
	Personas   *persona.Registry
}

type api struct {
	svc Services
}

// corsMiddleware adds CORS headers to HTTP handlers
func corsMiddleware(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler(w, r)
	}
}

// NewMux registers every route. The websocket hub is started and installed as
// the broadcast transport.
func NewMux(svc Services) *http.ServeMux {
	a := &api{svc: svc}
	mux := http.NewServeMux()

	mux.HandleFunc("/status", corsMiddleware(handleStatus))
	mux.HandleFunc("/api/sweep", corsMiddleware(a.handleSweep))

	mux.HandleFunc("/api/prompts", corsMiddleware(a.handlePrompts))
	mux.HandleFunc("/api/prompts/active", corsMiddleware(handleActivePrompts))
	mux.HandleFunc("/api/prompts/{id}/responses", corsMiddleware(a.handlePromptResponses))
	mux.HandleFunc("/api/prompts/{id}/bot-assignments", corsMiddleware(a.handleBotAssignments))

	mux.HandleFunc("/api/rooms/{id}", corsMiddleware(handleRoom))
	mux.HandleFunc("/api/rooms/{id}/messages", corsMiddleware(a.handleRoomMessages))
	mux.HandleFunc("/api/triads/{id}", corsMiddleware(handleTriad))
	mux.HandleFunc("/api/personas", corsMiddleware(a.handlePersonas))

	mux.HandleFunc("/api/users/{id}/balance", corsMiddleware(handleBalance))
	mux.HandleFunc("/api/users/{id}/transactions", corsMiddleware(handleTransactions))
	mux.HandleFunc("/api/users/{id}/spend", corsMiddleware(handleSpend))
	mux.HandleFunc("/api/admin/adjust", corsMiddleware(handleAdminAdjust))

	mux.HandleFunc("/api/settings", corsMiddleware(handleSettings))
	mux.HandleFunc("/api/settings/status", corsMiddleware(handleSettingsStatus))
	mux.HandleFunc("/api/openai/usage", corsMiddleware(handleOpenAIUsage))
	mux.HandleFunc("/api/openai/usage/reset", corsMiddleware(handleOpenAIUsageReset))

	mux.HandleFunc("/api/word-filter", corsMiddleware(a.handleWordFilter))
	mux.HandleFunc("/api/word-filter/", corsMiddleware(a.handleWordFilterByPath))

	RegisterWebSocketRoute(mux)
	return mux
}

// StartWebServer serves svc on port and returns once the listener is up.
func StartWebServer(port int, svc Services) error {
	mux := NewMux(svc)
	addr := fmt.Sprintf(":%d", port)

	fmt.Println("")
	fmt.Println("====================================================")
	fmt.Printf("Triad arena server started\n")
	fmt.Printf("   API:       http://localhost:%d/api/\n", port)
	fmt.Printf("   WebSocket: ws://localhost:%d/ws?room=<room id>\n", port)
	fmt.Printf("\n")
	fmt.Printf("Change the port with SERVER_PORT\n")
	fmt.Println("====================================================")
	fmt.Println("")

	logger.Info("Starting web server", zap.String("address", addr))

	httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
		// Sweeps triggered over HTTP can wait on generation.
		WriteTimeout: 90 * time.Second,
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Wait briefly to catch immediate binding errors
	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("Failed to start web server", zap.Error(err))
			return fmt.Errorf("failed to start web server on port %d: %w", port, err)
		}
	case <-time.After(100 * time.Millisecond):
	}

	return nil
}

// Shutdown gracefully shuts down the web server
func Shutdown() {
	broadcast.SetSender(nil)
	wsHub.closeAll()

	if httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown web server gracefully", zap.Error(err))
	} else {
		logger.Info("Web server shutdown complete")
	}
}
