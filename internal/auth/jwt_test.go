package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/expertinthecity/internal/model"
)

func TestGenerateValidate(t *testing.T) {
	v := NewVerifier("secret")
	tok, err := v.Generate(model.Profile{ID: "u1", Name: "Ann", AvatarURL: "/a.png", Role: model.RoleExpert}, time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	claims, err := v.Validate(tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	p := claims.Profile()
	if p.ID != "u1" || p.Name != "Ann" || p.Role != model.RoleExpert {
		t.Fatalf("profile = %+v", p)
	}
}

func TestValidateRejects(t *testing.T) {
	v := NewVerifier("secret")
	good, _ := v.Generate(model.Profile{ID: "u1"}, time.Hour)
	expired, _ := v.Generate(model.Profile{ID: "u1"}, -time.Minute)
	other, _ := NewVerifier("other").Generate(model.Profile{ID: "u1"}, time.Hour)
	noUser, _ := v.Generate(model.Profile{}, time.Hour)

	tests := []struct {
		name string
		tok  string
	}{
		{"garbage", "not.a.token"},
		{"expired", expired},
		{"wrong secret", other},
		{"no user id", noUser},
		{"truncated", good[:len(good)-4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Validate(tt.tok); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestProfileDefaultsRole(t *testing.T) {
	c := &Claims{UserID: "u1"}
	if c.Profile().Role != model.RoleClient {
		t.Fatalf("role = %q", c.Profile().Role)
	}
}
