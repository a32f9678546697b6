package model

import "time"

// PresenceRecord: последнее известное состояние пользователя. Одна запись на user_id,
// записи перезаписываются целиком и никогда не удаляются.
type PresenceRecord struct {
	UserID      string    `json:"user_id"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	Role        Role      `json:"role"`
}

// NewPresenceRecord собирает запись из профиля. LastSeen не заполняется: его назначает хранилище.
func NewPresenceRecord(p Profile, online bool) PresenceRecord {
	return PresenceRecord{
		UserID:      p.ID,
		Online:      online,
		DisplayName: p.Name,
		AvatarURL:   p.AvatarURL,
		Role:        p.Role,
	}
}

// PresenceChange публикуется после каждой успешной записи.
type PresenceChange struct {
	Record PresenceRecord `json:"record"`
	// Source: "client" для прямой записи, "disconnect" для отложенной записи сервиса.
	Source string `json:"source"`
}
