package chatstore

import (
	"errors"
	"testing"
)

func TestFeedHandle(t *testing.T) {
	s := New()
	f := &Feed{store: s}

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"message", `{"type":"message","member_ids":["u1","u2"],"message":{"id":"m1","chat_id":"c1","sender_id":"u2","sender_name":"Bob","content":"hi"},"at":"2024-01-02T03:04:05Z"}`, false},
		{"read", `{"type":"read","chat_id":"c1","user_id":"u1"}`, false},
		{"members", `{"type":"members","chat_id":"c1","member_ids":["u1","u2","u3"]}`, false},
		{"message without id", `{"type":"message","message":{"chat_id":"c1"}}`, true},
		{"read without user", `{"type":"read","chat_id":"c1"}`, true},
		{"unknown type", `{"type":"typing"}`, true},
		{"not json", `nope`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.Handle([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	chat, ok := s.Chat("c1")
	if !ok || len(chat.Messages) != 1 {
		t.Fatalf("chat = %+v", chat)
	}
	msg := chat.Messages[0]
	if !msg.IsReadBy("u1") || msg.CreatedAt.IsZero() {
		t.Fatalf("message = %+v", msg)
	}
	if len(chat.MemberIDs) != 3 {
		t.Fatalf("members = %v", chat.MemberIDs)
	}
}

func TestApplyEventErrors(t *testing.T) {
	s := New()
	if err := s.ApplyEvent(Event{Type: EventMembers}); !errors.Is(err, errBadEvent) {
		t.Fatalf("err = %v", err)
	}
}
