// Package generation talks to the language model used for prompt drafts,
// persona turns and transcript grading.
package generation

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"

	DefaultBackend       = BackendOpenAI
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultOllamaBaseURL = "http://127.0.0.1:11434"
)

var (
	ErrNotConfigured = errors.New("generation backend is not configured")
	ErrEmptyResponse = errors.New("generation returned no text")
)

// Request is one completion call. Schema, when set, asks the backend for a
// JSON object matching it.
type Request struct {
	System      string
	Input       string
	SchemaName  string
	Schema      map[string]any
	Temperature float64
	MaxTokens   int
}

// Completer is a single model backend.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend       string
	OpenAIAPIKey  string
	OpenAIModel   string
	OllamaBaseURL string
	OllamaModel   string
}

func ResolveBackend(value string) string {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case BackendOpenAI:
		return BackendOpenAI
	case BackendOllama:
		return BackendOllama
	default:
		return DefaultBackend
	}
}

// NewCompleter builds the backend named by cfg.Backend.
func NewCompleter(cfg Config) Completer {
	if ResolveBackend(cfg.Backend) == BackendOllama {
		return NewOllama(cfg.OllamaBaseURL, cfg.OllamaModel)
	}
	return NewOpenAI(cfg.OpenAIAPIKey, WithOpenAIModel(cfg.OpenAIModel))
}

// ResolveOllamaBaseURL strips API paths users tend to paste with the host.
func ResolveOllamaBaseURL(value string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(value), "/")
	if trimmed == "" {
		return DefaultOllamaBaseURL
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		for _, suffix := range []string{"/api/chat", "/api/generate", "/api/tags", "/api"} {
			if strings.HasSuffix(trimmed, suffix) {
				return strings.TrimRight(strings.TrimSuffix(trimmed, suffix), "/")
			}
		}
		return trimmed
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for len(segments) > 0 {
		switch segments[len(segments)-1] {
		case "api", "chat", "generate", "tags", "version":
			segments = segments[:len(segments)-1]
			continue
		}
		break
	}
	parsed.Path = "/" + strings.Join(segments, "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/")
}
