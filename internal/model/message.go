package model

import (
	"slices"
	"time"
)

// Message приходит из чат-бэкенда; здесь только читается и дополняется read_by.
type Message struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	ReadBy     []string  `json:"read_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsReadBy сообщает, подтвердил ли userID прочтение.
func (m *Message) IsReadBy(userID string) bool {
	return slices.Contains(m.ReadBy, userID)
}

// Chat: участники и упорядоченная по времени лента сообщений (старые первыми).
type Chat struct {
	ID        string    `json:"id"`
	MemberIDs []string  `json:"member_ids"`
	Messages  []Message `json:"messages"`
}

// Latest возвращает последнее сообщение или nil для пустого чата.
func (c *Chat) Latest() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}
