package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/expertinthecity/internal/auth"
	"github.com/expertinthecity/internal/model"
)

func TestJWTAuth(t *testing.T) {
	v := auth.NewVerifier("k")
	tok, err := v.Generate(model.Profile{ID: "u1", Name: "Ann"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	var seen model.Profile
	h := JWTAuth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetProfile(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		build  func(r *http.Request)
		url    string
		status int
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }, "/api/chats", http.StatusNoContent},
		{"query token", func(r *http.Request) {}, "/ws?token=" + tok, http.StatusNoContent},
		{"missing", func(r *http.Request) {}, "/api/chats", http.StatusUnauthorized},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, "/api/chats", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = model.Profile{}
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			tt.build(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusNoContent && seen.ID != "u1" {
				t.Fatalf("profile = %+v", seen)
			}
		})
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }
	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("first two requests must pass")
	}
	if rl.allow("a") {
		t.Fatal("third request inside the window must be limited")
	}
	if !rl.allow("b") {
		t.Fatal("other keys are independent")
	}
	now = now.Add(61 * time.Second)
	if !rl.allow("a") {
		t.Fatal("window expired, request must pass")
	}
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken("abc"); got != "****" {
		t.Fatalf("short = %q", got)
	}
	if got := MaskToken("eyJhbGciOiJIUzI1NiJ9.payload"); got != "eyJhbGci***" {
		t.Fatalf("long = %q", got)
	}
}

func TestRecoverJSONAfterWrite(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRateLimitIPIgnoresPort(t *testing.T) {
	h := RateLimitIP(2)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	codes := make([]int, 0, 3)
	for _, addr := range []string{"10.0.0.1:5001", "10.0.0.1:5002", "10.0.0.1:5003"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want third request from the same host limited", codes)
	}
}

func TestRateLimitUserAfterAuth(t *testing.T) {
	v := auth.NewVerifier("k")
	tok, err := v.Generate(model.Profile{ID: "u1", Name: "Ann"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	h := JWTAuth(v)(RateLimitUser(1)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})))
	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := do("10.0.0.1:1"); code != http.StatusOK {
		t.Fatalf("first = %d", code)
	}
	if code := do("10.0.0.2:1"); code != http.StatusTooManyRequests {
		t.Fatalf("second from another host = %d, want per-user limit", code)
	}
}
