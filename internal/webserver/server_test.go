package webserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nantokaworks/triad-arena/internal/broadcast"
	"github.com/nantokaworks/triad-arena/internal/chat"
	"github.com/nantokaworks/triad-arena/internal/collector"
	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/moderation"
	"github.com/nantokaworks/triad-arena/internal/persona"
	"github.com/nantokaworks/triad-arena/internal/pool"
	"github.com/nantokaworks/triad-arena/internal/reply"
	"github.com/nantokaworks/triad-arena/internal/types"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(reply.Request) {}

func setupServerTest(t *testing.T) *http.ServeMux {
	t.Helper()

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
	if err := moderation.SeedDefaultWords(); err != nil {
		t.Fatalf("SeedDefaultWords failed: %v", err)
	}

	reg, err := persona.Default()
	if err != nil {
		t.Fatalf("persona.Default failed: %v", err)
	}
	filter := moderation.NewWordFilter()
	mux := NewMux(Services{
		Pool:       pool.NewManager(nil, pool.Config{}),
		Collector:  collector.New(reg),
		Chat:       chat.New(filter, nopDispatcher{}, chat.Config{}),
		Moderation: filter,
		Personas:   reg,
	})
	t.Cleanup(func() { broadcast.SetSender(nil) })
	return mux
}

func do(t *testing.T, mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
	return v
}

func createActiveRoom(t *testing.T, roomID string, members ...string) {
	t.Helper()
	triad := types.Triad{
		ID: "triad-" + roomID, PromptID: "p-" + roomID, RoomID: roomID, Participants: members,
		PersonaKey: "skeptic", StartedAt: time.Now(), DurationSec: 600, Status: types.TriadActive,
	}
	room := types.ChatRoom{ID: roomID, Name: "debate", Participants: members}
	if err := localdb.CreateTriadWithRoom(room, triad, nil); err != nil {
		t.Fatalf("CreateTriadWithRoom failed: %v", err)
	}
}

func TestCORSPreflight(t *testing.T) {
	mux := setupServerTest(t)

	rec := do(t, mux, http.MethodOptions, "/api/prompts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got=%d want=%d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow origin: got=%q", got)
	}
}

func TestPromptAndResponseFlow(t *testing.T) {
	mux := setupServerTest(t)

	rec := do(t, mux, http.MethodPost, "/api/prompts", map[string]string{
		"text": "Should cities ban cars downtown?", "creator_id": "alice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit prompt: got=%d body=%s", rec.Code, rec.Body.String())
	}
	prompt := decode[types.Prompt](t, rec)
	if prompt.Category != types.CategoryUser {
		t.Fatalf("category: got=%q want=user", prompt.Category)
	}

	rec = do(t, mux, http.MethodPost, "/api/prompts", map[string]string{"text": "x", "category": "ai"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ai category from api: got=%d want=400", rec.Code)
	}

	path := "/api/prompts/" + prompt.ID + "/responses"
	rec = do(t, mux, http.MethodPost, path, map[string]string{"user_id": "bob", "content": "Yes, for air quality."})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit response: got=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(t, mux, http.MethodPost, path, map[string]string{"user_id": "bob", "content": "again"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate response: got=%d want=409", rec.Code)
	}
	rec = do(t, mux, http.MethodPost, "/api/prompts/missing/responses", map[string]string{"user_id": "bob", "content": "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown prompt: got=%d want=404", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, path, nil)
	listed := decode[struct {
		Data []types.PromptResponse `json:"data"`
	}](t, rec)
	if len(listed.Data) != 1 || listed.Data[0].UserID != "bob" {
		t.Fatalf("responses: %+v", listed.Data)
	}

	rec = do(t, mux, http.MethodGet, "/api/prompts/active", nil)
	active := decode[struct {
		Data []types.Prompt `json:"data"`
	}](t, rec)
	if len(active.Data) != 1 || active.Data[0].ID != prompt.ID {
		t.Fatalf("active prompts: %+v", active.Data)
	}
}

func TestRoomMessages(t *testing.T) {
	mux := setupServerTest(t)
	createActiveRoom(t, "r1", "alice", "bob")

	rec := do(t, mux, http.MethodPost, "/api/rooms/r1/messages", map[string]string{"sender_id": "alice", "content": "Opening point"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("post: got=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(t, mux, http.MethodPost, "/api/rooms/r1/messages", map[string]string{"sender_id": "mallory", "content": "hi"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non participant: got=%d want=403", rec.Code)
	}
	rec = do(t, mux, http.MethodPost, "/api/rooms/r1/messages", map[string]string{"sender_id": "alice", "content": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty message: got=%d want=400", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, "/api/rooms/r1/messages?after=0&limit=10", nil)
	history := decode[struct {
		Data []types.Message `json:"data"`
	}](t, rec)
	if len(history.Data) != 1 || history.Data[0].Content != "Opening point" {
		t.Fatalf("history: %+v", history.Data)
	}

	rec = do(t, mux, http.MethodGet, "/api/rooms/nope/messages", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown room: got=%d want=404", rec.Code)
	}
}

func TestLedgerEndpoints(t *testing.T) {
	mux := setupServerTest(t)

	rec := do(t, mux, http.MethodPost, "/api/admin/adjust", map[string]any{"user_id": "alice", "delta": 8, "note": "welcome bonus"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("adjust: got=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(t, mux, http.MethodPost, "/api/admin/adjust", map[string]any{"user_id": "alice", "delta": 8})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("adjust without note: got=%d want=400", rec.Code)
	}
	rec = do(t, mux, http.MethodPost, "/api/users/alice/spend", map[string]any{"amount": 20, "note": "too much"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("overspend: got=%d want=409", rec.Code)
	}
	rec = do(t, mux, http.MethodPost, "/api/users/alice/spend", map[string]any{"amount": 3})
	if rec.Code != http.StatusCreated {
		t.Fatalf("spend: got=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(t, mux, http.MethodGet, "/api/users/alice/balance", nil)
	balance := decode[struct {
		Balance int `json:"balance"`
	}](t, rec)
	if balance.Balance != 5 {
		t.Fatalf("balance: got=%d want=5", balance.Balance)
	}

	rec = do(t, mux, http.MethodGet, "/api/users/alice/transactions", nil)
	history := decode[struct {
		Data []types.TokenTransaction `json:"data"`
	}](t, rec)
	if len(history.Data) != 2 || history.Data[0].Reason != types.ReasonSpend {
		t.Fatalf("transactions: %+v", history.Data)
	}
}

func TestSettingsUpdate(t *testing.T) {
	mux := setupServerTest(t)

	rec := do(t, mux, http.MethodPut, "/api/settings", map[string]string{"WIN_CREDIT": "lots"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid value: got=%d want=400", rec.Code)
	}
	rec = do(t, mux, http.MethodPut, "/api/settings", map[string]string{"NOT_A_KEY": "1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown key: got=%d want=400", rec.Code)
	}
	rec = do(t, mux, http.MethodPut, "/api/settings", map[string]string{"WIN_CREDIT": "25", "OPENAI_API_KEY": "sk-test"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: got=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(t, mux, http.MethodGet, "/api/settings", nil)
	body := rec.Body.String()
	if !strings.Contains(body, `"WIN_CREDIT"`) || strings.Contains(body, "sk-test") {
		t.Fatalf("settings listing must include values and hide secrets: %s", body)
	}
}

func TestWordFilterAPI(t *testing.T) {
	mux := setupServerTest(t)
	createActiveRoom(t, "r1", "alice", "bob")

	rec := do(t, mux, http.MethodPost, "/api/word-filter", map[string]string{"language": "en", "word": "pineapple", "type": "bad"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add word: got=%d body=%s", rec.Code, rec.Body.String())
	}
	word := decode[localdb.WordFilterWord](t, rec)

	rec = do(t, mux, http.MethodPost, "/api/rooms/r1/messages", map[string]string{"sender_id": "alice", "content": "pineapple belongs on pizza"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("new word must apply immediately: got=%d", rec.Code)
	}

	rec = do(t, mux, http.MethodDelete, "/api/word-filter/"+strconv.Itoa(word.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete word: got=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = do(t, mux, http.MethodPost, "/api/rooms/r1/messages", map[string]string{"sender_id": "alice", "content": "pineapple belongs on pizza"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deleted word must stop blocking: got=%d", rec.Code)
	}

	rec = do(t, mux, http.MethodGet, "/api/word-filter/languages", nil)
	langs := decode[struct {
		Data []string `json:"data"`
	}](t, rec)
	if len(langs.Data) == 0 || langs.Data[0] != "en" {
		t.Fatalf("languages: %v", langs.Data)
	}
}

func TestWebSocketDeliversToRoomOnly(t *testing.T) {
	mux := setupServerTest(t)
	createActiveRoom(t, "room-a", "alice", "bob")
	createActiveRoom(t, "room-b", "carol", "dave")

	srv := httptest.NewServer(mux)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?room="

	if _, resp, err := websocket.DefaultDialer.Dial(base, nil); err == nil || resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing room must be rejected: err=%v", err)
	}

	dial := func(room string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(base+room, nil)
		if err != nil {
			t.Fatalf("dial %s: %v", room, err)
		}
		var hello WSMessage
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&hello); err != nil || hello.Type != "connected" {
			t.Fatalf("hello on %s: msg=%+v err=%v", room, hello, err)
		}
		return conn
	}
	a := dial("room-a")
	defer a.Close()
	b := dial("room-b")
	defer b.Close()

	if err := broadcast.ToRoom("room-a", broadcast.TypeTriadLocked, chat.LockedEvent{TriadID: "triad-room-a", RoomID: "room-a"}); err != nil {
		t.Fatalf("ToRoom failed: %v", err)
	}

	var got WSMessage
	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := a.ReadJSON(&got); err != nil {
		t.Fatalf("room-a read: %v", err)
	}
	if got.Type != broadcast.TypeTriadLocked || got.RoomID != "room-a" {
		t.Fatalf("room-a event: %+v", got)
	}

	b.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if err := b.ReadJSON(&got); err == nil {
		t.Fatalf("room-b must not receive room-a events: %+v", got)
	}
}
