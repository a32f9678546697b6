package chatstore

import (
	"context"
	"fmt"
	"time"

	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/model"
	"github.com/gocql/gocql"
)

// Schema of the chat backend's history keyspace, read-only here.
const (
	cqlUserChats   = `SELECT chat_id FROM user_chats WHERE user_id = ?`
	cqlChatMembers = `SELECT user_id FROM chat_members WHERE chat_id = ?`
	cqlRecent      = `SELECT id, chat_id, sender_id, sender_name, content, read_by, created_at FROM messages WHERE chat_id = ? LIMIT ?`
)

// History hydrates a Store from the chat backend's Cassandra/Scylla tables.
type History struct {
	session *gocql.Session
	perChat int
}

// NewSession opens a cluster session the way the chat backend's services do.
func NewSession(hosts []string, keyspace string) (*gocql.Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        time.Second,
	}
	s, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla session: %w", err)
	}
	return s, nil
}

func NewHistory(session *gocql.Session, perChat int) *History {
	if perChat <= 0 {
		perChat = 50
	}
	return &History{session: session, perChat: perChat}
}

// LoadUser reads every chat of userID with its members and most recent messages.
func (h *History) LoadUser(ctx context.Context, userID string) ([]model.Chat, error) {
	defer logger.DeferLogDuration("history.LoadUser", time.Now())()
	var chatIDs []string
	iter := h.session.Query(cqlUserChats, userID).WithContext(ctx).Iter()
	var id string
	for iter.Scan(&id) {
		chatIDs = append(chatIDs, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("history.LoadUser chats: %w", err)
	}

	chats := make([]model.Chat, 0, len(chatIDs))
	for _, chatID := range chatIDs {
		chat, err := h.loadChat(ctx, chatID)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *chat)
	}
	return chats, nil
}

func (h *History) loadChat(ctx context.Context, chatID string) (*model.Chat, error) {
	chat := &model.Chat{ID: chatID}

	iter := h.session.Query(cqlChatMembers, chatID).WithContext(ctx).Iter()
	var uid string
	for iter.Scan(&uid) {
		chat.MemberIDs = append(chat.MemberIDs, uid)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("history.loadChat members chat=%s: %w", chatID, err)
	}

	// Rows come newest first (clustering order); the store wants oldest first.
	iter = h.session.Query(cqlRecent, chatID, h.perChat).WithContext(ctx).Iter()
	var (
		m      model.Message
		readBy []string
	)
	for iter.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.SenderName, &m.Content, &readBy, &m.CreatedAt) {
		m.ReadBy = readBy
		chat.Messages = append(chat.Messages, m)
		m = model.Message{}
		readBy = nil
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("history.loadChat messages chat=%s: %w", chatID, err)
	}
	for i, j := 0, len(chat.Messages)-1; i < j; i, j = i+1, j-1 {
		chat.Messages[i], chat.Messages[j] = chat.Messages[j], chat.Messages[i]
	}
	return chat, nil
}

// Hydrate loads userID's chats into store. Errors are logged: a session without
// history still gets live events.
func (h *History) Hydrate(ctx context.Context, store *Store, userID string) {
	chats, err := h.LoadUser(ctx, userID)
	if err != nil {
		logger.Errorf("history hydrate user=%s: %v", userID, err)
		return
	}
	store.Load(chats)
}
