package generation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/persona"
)

type stubCompleter struct {
	text string
	err  error
	last Request
}

func (s *stubCompleter) Complete(_ context.Context, req Request) (string, error) {
	s.last = req
	return s.text, s.err
}

func TestOpenAICompleteSendsSchemaAndRecordsUsage(t *testing.T) {
	if localdb.DBClient != nil {
		_ = localdb.DBClient.Close()
		localdb.DBClient = nil
	}
	db, err := localdb.SetupDB(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("SetupDB failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
		localdb.DBClient = nil
	})

	var seen map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header: %s", got)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &seen)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":[{"content":[{"type":"output_text","text":"{\"prompts\":[{\"text\":\"Should cities ban cars?\",\"category\":\"Society\"},{\"text\":\"  \",\"category\":\"x\"}]}"}]}],"usage":{"input_tokens":1000,"output_tokens":500}}`))
	}))
	defer server.Close()

	client := NewClient(NewOpenAI("test-key", WithOpenAIEndpoint(server.URL), WithOpenAIHTTPClient(server.Client())))
	drafts, err := client.GeneratePrompts(context.Background(), []string{"society"}, 2)
	if err != nil {
		t.Fatalf("GeneratePrompts failed: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("empty drafts should be dropped: got=%d want=1", len(drafts))
	}
	if drafts[0].Topic != "society" {
		t.Fatalf("unexpected topic: %q", drafts[0].Topic)
	}

	if seen["model"] != DefaultOpenAIModel {
		t.Fatalf("unexpected model: %v", seen["model"])
	}
	text, _ := seen["text"].(map[string]any)
	format, _ := text["format"].(map[string]any)
	if format["type"] != "json_schema" || format["name"] != "prompt_drafts" {
		t.Fatalf("schema format not sent: %v", seen["text"])
	}

	usage := GetUsage()
	if usage.InputTokens != 1000 || usage.OutputTokens != 500 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
	if usage.CostUSD <= 0 {
		t.Fatalf("known model should accumulate cost: %+v", usage)
	}
}

func TestOpenAICompleteWithoutKey(t *testing.T) {
	_, err := NewOpenAI("").Complete(context.Background(), Request{Input: "hi"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpenAICompleteErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	_, err := NewOpenAI("k", WithOpenAIEndpoint(server.URL)).Complete(context.Background(), Request{Input: "hi"})
	if err == nil {
		t.Fatalf("expected error for 429")
	}
}

func TestOllamaComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"message":{"content":"  hello there  "},"done":true}`))
	}))
	defer server.Close()

	got, err := NewOllama(server.URL+"/api/chat", "llama3").Complete(context.Background(), Request{System: "s", Input: "hi"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "hello there" {
		t.Fatalf("unexpected content: %q", got)
	}

	if _, err := NewOllama(server.URL, "").Complete(context.Background(), Request{Input: "hi"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("missing model should be ErrNotConfigured: %v", err)
	}
}

func TestGradeTranscriptDropsUnknownParticipants(t *testing.T) {
	stub := &stubCompleter{text: "```json\n" + `{"per_user":[
		{"user_index":1,"defense":80,"evidence":70,"logic":60,"responsiveness":50,"clarity":40,"overall":70,"feedback":"ok"},
		{"user_index":7,"defense":1,"evidence":1,"logic":1,"responsiveness":1,"clarity":1,"overall":1,"feedback":"ghost"}
	],"group_feedback":"lively"}` + "\n```"}

	grade, err := NewClient(stub).GradeTranscript(context.Background(), "p", 2, "[1] A: hi")
	if err != nil {
		t.Fatalf("GradeTranscript failed: %v", err)
	}
	if len(grade.PerUser) != 1 || grade.PerUser[0].UserIndex != 1 {
		t.Fatalf("unexpected per-user grades: %+v", grade.PerUser)
	}
	if grade.GroupFeedback != "lively" {
		t.Fatalf("unexpected group feedback: %q", grade.GroupFeedback)
	}
	if stub.last.Schema == nil {
		t.Fatalf("grade request must carry a schema")
	}
}

func TestGradeTranscriptEmptyTranscript(t *testing.T) {
	stub := &stubCompleter{text: "{}"}
	if _, err := NewClient(stub).GradeTranscript(context.Background(), "p", 2, "  "); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPersonaCallsUseStyle(t *testing.T) {
	stub := &stubCompleter{text: `"I disagree."`}
	p := persona.Persona{Key: "x", DisplayName: "Rex", Style: "be blunt"}

	got, err := NewClient(stub).GeneratePersonaReply(context.Background(), p, "prompt", "[1] A: hi")
	if err != nil {
		t.Fatalf("GeneratePersonaReply failed: %v", err)
	}
	if got != "I disagree." {
		t.Fatalf("unexpected reply: %q", got)
	}
	if stub.last.System == "" || stub.last.System[:8] != "be blunt" {
		t.Fatalf("persona style must lead the system prompt: %q", stub.last.System)
	}

	var nilClient *Client
	if _, err := nilClient.GeneratePersonaStance(context.Background(), p, "prompt"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("nil client should be ErrNotConfigured: %v", err)
	}
}

func TestIsSkip(t *testing.T) {
	for _, s := range []string{"[SKIP]", " [skip] \n", "[Skip]"} {
		if !IsSkip(s) {
			t.Fatalf("IsSkip(%q) = false", s)
		}
	}
	if IsSkip("[SKIP] but also this") {
		t.Fatalf("text after the sentinel is a real reply")
	}
}

func TestResolveOllamaBaseURL(t *testing.T) {
	cases := map[string]string{
		"":                                DefaultOllamaBaseURL,
		"http://localhost:11434/":         "http://localhost:11434",
		"http://localhost:11434/api/chat": "http://localhost:11434",
		"http://gpu:11434/proxy/api":      "http://gpu:11434/proxy",
	}
	for in, want := range cases {
		if got := ResolveOllamaBaseURL(in); got != want {
			t.Fatalf("ResolveOllamaBaseURL(%q): got=%q want=%q", in, got, want)
		}
	}
}

func TestNormalizeModelName(t *testing.T) {
	if got := normalizeModelName("gpt-4o-mini-2024-07-18"); got != "gpt-4o-mini" {
		t.Fatalf("unexpected model: %q", got)
	}
	if got := normalizeModelName("GPT-4o"); got != "gpt-4o" {
		t.Fatalf("unexpected model: %q", got)
	}
	if _, ok := estimateCostUSD("llama3", 10, 10); ok {
		t.Fatalf("unknown model should have no pricing")
	}
}
