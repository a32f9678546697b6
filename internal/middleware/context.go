package middleware

import (
	"context"

	"github.com/expertinthecity/internal/model"
)

type contextKey string

const profileKey contextKey = "profile"

// WithProfile кладёт профиль аутентифицированного пользователя в контекст.
func WithProfile(ctx context.Context, p model.Profile) context.Context {
	return context.WithValue(ctx, profileKey, p)
}

// GetProfile возвращает профиль из контекста (устанавливается JWTAuth).
func GetProfile(ctx context.Context) (model.Profile, bool) {
	p, ok := ctx.Value(profileKey).(model.Profile)
	return p, ok && p.ID != ""
}

// GetUserID возвращает id пользователя из контекста или пустую строку.
func GetUserID(ctx context.Context) string {
	p, _ := GetProfile(ctx)
	return p.ID
}
