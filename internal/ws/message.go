package ws

import (
	"time"

	"github.com/expertinthecity/internal/model"
)

type EventType string

const (
	// client -> server
	EventNavigate EventType = "navigate"
	EventRead     EventType = "read"
	EventLogout   EventType = "logout"
	EventLogin    EventType = "login"
	EventPing     EventType = "ping"

	// server -> client
	EventAlert      EventType = "alert"
	EventSound      EventType = "sound"
	EventPresence   EventType = "presence"
	EventChatUpdate EventType = "chat_update"
	EventSession    EventType = "session"
	EventPong       EventType = "pong"
	EventError      EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type EventType `json:"type"`

	// navigate
	Path string `json:"path,omitempty"`

	// read
	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`

	// login
	Token string `json:"token,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// AlertPayload is an actionable notification for an unread incoming message.
type AlertPayload struct {
	model.Alert
}

// SoundPayload asks the client to play its preloaded notification sound.
type SoundPayload struct {
	URL string `json:"url"`
}

// PresencePayload is broadcast to peers after every presence write.
type PresencePayload struct {
	UserID      string    `json:"user_id"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	Role        string    `json:"role"`
}

func presencePayload(rec model.PresenceRecord) PresencePayload {
	return PresencePayload{
		UserID:      rec.UserID,
		Online:      rec.Online,
		LastSeen:    rec.LastSeen,
		DisplayName: rec.DisplayName,
		AvatarURL:   rec.AvatarURL,
		Role:        string(rec.Role),
	}
}

// ChatUpdatePayload tells the client which of its chats changed.
type ChatUpdatePayload struct {
	Version uint64   `json:"version"`
	ChatIDs []string `json:"chat_ids"`
}

// SessionPayload confirms the user bound to the connection after login or logout.
type SessionPayload struct {
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
}
