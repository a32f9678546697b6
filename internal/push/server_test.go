package push

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"

	"github.com/expertinthecity/internal/model"
)

type memSubs struct {
	mu   sync.Mutex
	subs map[string][]Subscription
}

func newMemSubs() *memSubs { return &memSubs{subs: make(map[string][]Subscription)} }

func (m *memSubs) Add(_ context.Context, userID string, sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[userID] = append(m.subs[userID], sub)
	return nil
}

func (m *memSubs) Remove(_ context.Context, userID, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []Subscription
	for _, s := range m.subs[userID] {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	m.subs[userID] = kept
	return nil
}

func (m *memSubs) List(_ context.Context, userID string) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Subscription(nil), m.subs[userID]...), nil
}

func sub(endpoint string) Subscription {
	var s Subscription
	s.Endpoint = endpoint
	s.Keys.P256dh = "p256"
	s.Keys.Auth = "auth"
	return s
}

func newTestServer(subs Subscriptions, send SendFunc) http.Handler {
	s := NewServer(subs, &VAPIDKeys{PublicKey: "pub", PrivateKey: "priv"}, send)
	r := chi.NewRouter()
	s.Routes(r)
	return r
}

func TestSubscribeValidation(t *testing.T) {
	h := newTestServer(newMemSubs(), nil)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"user_id":"u1","subscription":{"endpoint":"https://e/1","keys":{"p256dh":"a","auth":"b"}}}`, http.StatusNoContent},
		{"missing keys", `{"user_id":"u1","subscription":{"endpoint":"https://e/1"}}`, http.StatusBadRequest},
		{"missing user", `{"subscription":{"endpoint":"https://e/1","keys":{"p256dh":"a","auth":"b"}}}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/subscribe", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestNotifySendsAndDropsGone(t *testing.T) {
	subs := newMemSubs()
	subs.Add(context.Background(), "u1", sub("https://push/alive"))
	subs.Add(context.Background(), "u1", sub("https://push/gone"))

	var mu sync.Mutex
	var payloads []map[string]any
	send := func(_ context.Context, payload []byte, s *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
		var p map[string]any
		json.Unmarshal(payload, &p)
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
		code := http.StatusCreated
		if s.Endpoint == "https://push/gone" {
			code = http.StatusGone
		}
		return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	h := newTestServer(subs, send)

	body, _ := json.Marshal(AlertRequest("u1", model.Alert{ID: "m1", ChatID: "c1", Text: "New message from Bob", ActionLabel: "Open", ActionPath: "/chats/c1"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/notify", strings.NewReader(string(body))))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(payloads) != 2 {
		t.Fatalf("sent = %d, want 2", len(payloads))
	}
	if payloads[0]["body"] != "New message from Bob" {
		t.Fatalf("payload = %v", payloads[0])
	}
	data := payloads[0]["data"].(map[string]any)
	if data["url"] != "/chats/c1" {
		t.Fatalf("data = %v", data)
	}
	left, _ := subs.List(context.Background(), "u1")
	if len(left) != 1 || left[0].Endpoint != "https://push/alive" {
		t.Fatalf("remaining = %+v", left)
	}
}

func TestVAPIDPublicNotConfigured(t *testing.T) {
	s := NewServer(newMemSubs(), nil, nil)
	r := chi.NewRouter()
	s.Routes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/vapid-public", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestClientDisabledIsNoop(t *testing.T) {
	c := NewClient("")
	if c.Enabled() {
		t.Fatal("empty url must disable the client")
	}
	if err := c.Subscribe(context.Background(), "u1", sub("https://e")); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	c.NotifyAlert(context.Background(), "u1", model.Alert{ID: "m1"})
}

func TestClientNotifyAlert(t *testing.T) {
	got := make(chan NotifyRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req NotifyRequest
		json.NewDecoder(r.Body).Decode(&req)
		got <- req
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	NewClient(srv.URL+"/").NotifyAlert(context.Background(), "u2", model.Alert{ID: "m9", ChatID: "c3", Text: "New message from Someone", ActionPath: "/chats/c3"})
	req := <-got
	if req.UserID != "u2" || req.Body != "New message from Someone" || req.Data["chat_id"] != "c3" {
		t.Fatalf("request = %+v", req)
	}
}
