package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/expertinthecity/internal/auth"
	"github.com/expertinthecity/internal/chatstore"
	"github.com/expertinthecity/internal/config"
	"github.com/expertinthecity/internal/model"
	"github.com/expertinthecity/internal/presence"
	"github.com/expertinthecity/internal/push"
	"github.com/expertinthecity/internal/storage/memory"
)

type receiptLog struct {
	mu    sync.Mutex
	reads []string
}

func (l *receiptLog) PublishRead(_ context.Context, chatID, userID, messageID string) error {
	l.mu.Lock()
	l.reads = append(l.reads, chatID+"/"+userID+"/"+messageID)
	l.mu.Unlock()
	return nil
}

type env struct {
	h        http.Handler
	svc      *presence.Service
	store    *chatstore.Store
	receipts *receiptLog
	token    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	v := auth.NewVerifier("k")
	tok, err := v.Generate(model.Profile{ID: "u1", Name: "Ann"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{CORSAllowedOrigins: "*", AlertSoundURL: "/sounds/n.mp3", PushServiceURL: "http://push", PushVAPIDPublicKey: "BPub"}
	e := &env{
		svc:      presence.NewService(memory.New()),
		store:    chatstore.New(),
		receipts: &receiptLog{},
		token:    tok,
	}
	e.h = Router{
		Config:   cfg,
		Verifier: v,
		Presence: NewPresenceHandler(e.svc),
		Chats:    NewChatHandler(e.store, e.receipts),
		Push:     NewPushHandler(push.NewClient("")),
	}.Handler()
	return e
}

func (e *env) do(method, url string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndClientConfig(t *testing.T) {
	e := newEnv(t)
	if rec := e.do(http.MethodGet, "/health", false); rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	rec := e.do(http.MethodGet, "/api/config/client", false)
	var cc ClientConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &cc); err != nil {
		t.Fatal(err)
	}
	if cc.AlertSoundURL != "/sounds/n.mp3" || !cc.Push.Enabled || cc.Push.VAPIDPublicKey != "BPub" {
		t.Fatalf("client config = %+v", cc)
	}
}

func TestPresenceEndpoints(t *testing.T) {
	e := newEnv(t)
	conn := e.svc.Connect("c1")
	presence.NewPublisher(conn).Start("u2", model.Profile{ID: "u2", Name: "Bob"})

	if rec := e.do(http.MethodGet, "/api/presence/u2", false); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d", rec.Code)
	}
	rec := e.do(http.MethodGet, "/api/presence/u2", true)
	var pr model.PresenceRecord
	json.Unmarshal(rec.Body.Bytes(), &pr)
	if rec.Code != http.StatusOK || !pr.Online || pr.DisplayName != "Bob" {
		t.Fatalf("presence = %d %+v", rec.Code, pr)
	}
	if rec := e.do(http.MethodGet, "/api/presence/ghost", true); rec.Code != http.StatusNotFound {
		t.Fatalf("missing = %d", rec.Code)
	}

	rec = e.do(http.MethodGet, "/api/presence?limit=10", true)
	var list []model.PresenceRecord
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 || list[0].UserID != "u2" {
		t.Fatalf("online = %+v", list)
	}
}

func TestChatsListAndMarkRead(t *testing.T) {
	e := newEnv(t)
	now := time.Now()
	e.store.Apply(model.Message{ID: "m1", ChatID: "c1", SenderID: "u2", CreatedAt: now}, []string{"u1", "u2"})
	e.store.Apply(model.Message{ID: "m2", ChatID: "c1", SenderID: "u2", CreatedAt: now.Add(time.Second)}, nil)
	e.store.Apply(model.Message{ID: "m3", ChatID: "c2", SenderID: "u3", CreatedAt: now}, []string{"u2", "u3"})

	rec := e.do(http.MethodGet, "/api/chats", true)
	var list []ChatSummary
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list) != 1 || list[0].ChatID != "c1" || list[0].Unread != 2 || list[0].Latest.ID != "m2" {
		t.Fatalf("chats = %+v", list)
	}

	if rec := e.do(http.MethodPost, "/api/chats/c2/read", true); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign chat = %d", rec.Code)
	}
	if rec := e.do(http.MethodPost, "/api/chats/c1/read?message_id=m1", true); rec.Code != http.StatusNoContent {
		t.Fatalf("mark read = %d", rec.Code)
	}
	chat, _ := e.store.Chat("c1")
	if !chat.Messages[0].IsReadBy("u1") || chat.Messages[1].IsReadBy("u1") {
		t.Fatalf("messages = %+v", chat.Messages)
	}
	if len(e.receipts.reads) != 1 || e.receipts.reads[0] != "c1/u1/m1" {
		t.Fatalf("receipts = %v", e.receipts.reads)
	}
}

func TestPushSubscribeDisabled(t *testing.T) {
	e := newEnv(t)
	body := `{"subscription":{"endpoint":"https://e","keys":{"p256dh":"a","auth":"b"}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/push/subscribe", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+e.token)
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWSOriginCheck(t *testing.T) {
	tests := []struct {
		allowed string
		origin  string
		want    bool
	}{
		{"*", "https://evil.example", true},
		{"", "https://evil.example", true},
		{"https://a.test, https://b.test", "https://b.test", true},
		{"https://a.test", "https://evil.example", false},
		{"https://a.test", "", true},
	}
	for _, tt := range tests {
		h := NewWSHandler(nil, tt.allowed)
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := h.allowOrigin(req); got != tt.want {
			t.Errorf("allowed=%q origin=%q: got %v", tt.allowed, tt.origin, got)
		}
	}
}
