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

	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"go.uber.org/zap"
)

const openAIResponsesEndpoint = "https://api.openai.com/v1/responses"

type OpenAIOption func(*OpenAI)

// OpenAI calls the Responses API.
type OpenAI struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	o := &OpenAI{
		apiKey:   strings.TrimSpace(apiKey),
		model:    DefaultOpenAIModel,
		endpoint: openAIResponsesEndpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

func WithOpenAIModel(model string) OpenAIOption {
	return func(o *OpenAI) {
		if trimmed := strings.TrimSpace(model); trimmed != "" {
			o.model = trimmed
		}
	}
}

func WithOpenAIEndpoint(endpoint string) OpenAIOption {
	return func(o *OpenAI) {
		if trimmed := strings.TrimSpace(endpoint); trimmed != "" {
			o.endpoint = trimmed
		}
	}
}

func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(o *OpenAI) {
		if client != nil {
			o.client = client
		}
	}
}

type responsesAPIResponse struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage *responseUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type responseUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	if o.apiKey == "" {
		return "", ErrNotConfigured
	}

	payload := map[string]any{
		"model":       o.model,
		"temperature": req.Temperature,
		"input":       req.Input,
	}
	if req.System != "" {
		payload["instructions"] = req.System
	}
	if req.MaxTokens > 0 {
		payload["max_output_tokens"] = req.MaxTokens
	}
	if req.Schema != nil {
		payload["text"] = map[string]any{
			"format": map[string]any{
				"type":   "json_schema",
				"name":   req.SchemaName,
				"schema": req.Schema,
				"strict": true,
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed responsesAPIResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if json.Unmarshal(responseBody, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("openai api error: status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("openai api error: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode openai response: %w", err)
	}

	if parsed.Usage != nil && (parsed.Usage.InputTokens > 0 || parsed.Usage.OutputTokens > 0) {
		if _, _, err := AddOpenAIUsage(o.model, parsed.Usage.InputTokens, parsed.Usage.OutputTokens); err != nil {
			logger.Warn("Failed to record OpenAI usage", zap.Error(err))
		}
	}

	text := extractResponseText(parsed)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func extractResponseText(parsed responsesAPIResponse) string {
	if strings.TrimSpace(parsed.OutputText) != "" {
		return strings.TrimSpace(parsed.OutputText)
	}
	for _, output := range parsed.Output {
		for _, content := range output.Content {
			if strings.TrimSpace(content.Text) != "" {
				return strings.TrimSpace(content.Text)
			}
		}
	}
	return ""
}
