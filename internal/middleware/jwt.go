package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/expertinthecity/internal/auth"
	"github.com/expertinthecity/internal/logger"
)

// TokenFromRequest берёт токен из Authorization: Bearer или из ?token= (для WebSocket).
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// JWTAuth проверяет токен и кладёт профиль в контекст. 401 JSON при ошибке.
func JWTAuth(v *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := TokenFromRequest(r)
			if tok == "" {
				unauthorized(w)
				return
			}
			claims, err := v.Validate(tok)
			if err != nil {
				logger.Debugf("auth: token=%s rejected: %v", MaskToken(tok), err)
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), claims.Profile())))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
