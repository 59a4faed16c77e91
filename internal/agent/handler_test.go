package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/chatd/internal/config"
	"github.com/ashureev/chatd/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

func newTestServer(t *testing.T, f *fixture, cfg *config.Config) (*httptest.Server, *http.Client) {
	t.Helper()

	h := NewHandler(f.svc, cfg)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Use(identity.Middleware(f.repo, true))
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return srv, &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func postChat(t *testing.T, client *http.Client, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := client.Post(url+"/api/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/chat: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHandleChatRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	srv, client := newTestServer(t, f, nil)

	resp, body := postChat(t, client, srv.URL, `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["reply"] != "echo: Generate initial greeting." {
		t.Fatalf("unexpected reply: %v", body)
	}
	id, _ := body["conversation_id"].(string)
	if id == "" {
		t.Fatalf("missing conversation_id: %v", body)
	}

	resp, body = postChat(t, client, srv.URL, `{"conversation_id":"`+id+`","user_input":"hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["reply"] != "echo: hi" || body["conversation_id"] != id {
		t.Fatalf("unexpected reply: %v", body)
	}
}

func TestHandleChatEmptyBodyStartsConversation(t *testing.T) {
	f := newFixture(t, nil)
	srv, client := newTestServer(t, f, nil)

	resp, body := postChat(t, client, srv.URL, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["reply"] != "echo: Generate initial greeting." {
		t.Fatalf("unexpected reply: %v", body)
	}
	if id, _ := body["conversation_id"].(string); id == "" {
		t.Fatalf("missing conversation_id: %v", body)
	}
}

func TestHandleChatErrors(t *testing.T) {
	f := newFixture(t, nil)
	cfg := &config.Config{
		RateLimit:          config.RateLimitConfig{RequestsPerWindow: 100, WindowDuration: time.Minute},
		MaxRequestBodySize: 64,
	}
	srv, client := newTestServer(t, f, cfg)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"user_input":`, http.StatusBadRequest},
		{"unknown conversation", `{"conversation_id":"nope","user_input":"hi"}`, http.StatusNotFound},
		{"body too large", `{"user_input":"` + strings.Repeat("x", 128) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postChat(t, client, srv.URL, tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d: %v", tt.want, resp.StatusCode, body)
			}
			if _, ok := body["error"]; !ok {
				t.Fatalf("expected error body, got %v", body)
			}
		})
	}
}

func TestHandleChatRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	cfg := &config.Config{
		RateLimit:          config.RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute},
		MaxRequestBodySize: 1 << 20,
	}
	srv, client := newTestServer(t, f, cfg)

	for i := 0; i < 2; i++ {
		if resp, body := postChat(t, client, srv.URL, `{}`); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d: %v", i, resp.StatusCode, body)
		}
	}
	if resp, _ := postChat(t, client, srv.URL, `{}`); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
}

func TestSessionEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	srv, client := newTestServer(t, f, nil)

	_, body := postChat(t, client, srv.URL, `{"user_input":"hello"}`)
	id := body["conversation_id"].(string)
	if err := f.recorder.Close(); err != nil {
		t.Fatalf("close recorder: %v", err)
	}

	resp, err := client.Get(srv.URL + "/api/sessions?page=1&page_size=5")
	if err != nil {
		t.Fatalf("GET /api/sessions: %v", err)
	}
	var list SessionList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	_ = resp.Body.Close()
	if len(list.Sessions) != 1 || list.Sessions[0].ConversationID != id || list.PageSize != 5 {
		t.Fatalf("unexpected session list: %+v", list)
	}

	resp, err = client.Get(srv.URL + "/api/sessions/" + id + "/transcript")
	if err != nil {
		t.Fatalf("GET transcript: %v", err)
	}
	var page TranscriptPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	_ = resp.Body.Close()
	if len(page.Entries) != 2 || page.Entries[0].Content != "hello" {
		t.Fatalf("unexpected transcript: %+v", page)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/"+id, nil)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("DELETE session: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("DELETE session again: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.StatusCode)
	}
}

func TestSessionsAreScopedToCookie(t *testing.T) {
	f := newFixture(t, nil)
	srv, owner := newTestServer(t, f, nil)

	_, body := postChat(t, owner, srv.URL, `{}`)
	id := body["conversation_id"].(string)

	stranger := &http.Client{Timeout: 5 * time.Second}
	resp, body := postChat(t, stranger, srv.URL, `{"conversation_id":"`+id+`"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for another device, got %d: %v", resp.StatusCode, body)
	}
}

func TestHandleChatSocket(t *testing.T) {
	f := newFixture(t, nil)
	srv, client := newTestServer(t, f, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: &http.Client{Jar: client.Jar}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	send := func(msg string) map[string]any {
		t.Helper()
		if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var out map[string]any
		if err := json.NewDecoder(bytes.NewReader(data)).Decode(&out); err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
		return out
	}

	first := send(`{}`)
	id, _ := first["conversation_id"].(string)
	if id == "" || first["reply"] != "echo: Generate initial greeting." {
		t.Fatalf("unexpected first frame: %v", first)
	}

	second := send(`{"user_input":"ping"}`)
	if second["conversation_id"] != id || second["reply"] != "echo: ping" {
		t.Fatalf("socket should reuse the conversation: %v", second)
	}

	bad := send(`not json`)
	if bad["error"] != "invalid message" {
		t.Fatalf("expected invalid message error, got %v", bad)
	}

	missing := send(`{"conversation_id":"nope"}`)
	if missing["error"] != "conversation not found" {
		t.Fatalf("expected not found error, got %v", missing)
	}
}

func TestCheckOrigin(t *testing.T) {
	h := &Handler{allowedOrigin: "https://chat.example.com"}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://chat.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
