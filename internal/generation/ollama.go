package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   any                 `json:"format,omitempty"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Ollama calls a local Ollama server's /api/chat.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllama(baseURL, model string) *Ollama {
	return &Ollama{
		baseURL: ResolveOllamaBaseURL(baseURL),
		model:   strings.TrimSpace(model),
		client:  &http.Client{Timeout: 3 * time.Minute},
	}
}

func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	if o.model == "" {
		return "", ErrNotConfigured
	}

	messages := make([]ollamaChatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: req.Input})

	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	payload := ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	}
	if req.Schema != nil {
		payload.Format = req.Schema
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama chat error: status %d", resp.StatusCode)
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", err
	}
	if strings.TrimSpace(parsed.Error) != "" {
		return "", fmt.Errorf("ollama chat error: %s", parsed.Error)
	}

	content := strings.TrimSpace(parsed.Message.Content)
	if content == "" {
		content = strings.TrimSpace(parsed.Message.Thinking)
	}
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
