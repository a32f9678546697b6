// Package auth verifies the tokens issued by the main site and turns their claims
// into a Profile.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/expertinthecity/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID    string     `json:"user_id"`
	Name      string     `json:"name,omitempty"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	Role      model.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Profile returns the session profile carried by the claims.
func (c *Claims) Profile() model.Profile {
	role := c.Role
	if role == "" {
		role = model.RoleClient
	}
	return model.Profile{ID: c.UserID, Name: c.Name, AvatarURL: c.AvatarURL, Role: role}
}

// Verifier signs and validates HS256 tokens with one shared secret.
type Verifier struct {
	key []byte
	now func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{key: []byte(secret), now: time.Now}
}

// Generate issues a token for p valid for ttl. Used by tests and the dev login.
func (v *Verifier) Generate(p model.Profile, ttl time.Duration) (string, error) {
	now := v.now()
	claims := &Claims{
		UserID:    p.ID,
		Name:      p.Name,
		AvatarURL: p.AvatarURL,
		Role:      p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
}

// Validate parses tok and returns its claims. Tokens without a user id are rejected.
func (v *Verifier) Validate(tok string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	return claims, nil
}
