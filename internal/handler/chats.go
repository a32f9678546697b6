package handler

import (
	"context"
	"net/http"
	"slices"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/expertinthecity/internal/chatstore"
	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/middleware"
	"github.com/expertinthecity/internal/model"
	"github.com/expertinthecity/internal/ws"
)

type ChatHandler struct {
	store    *chatstore.Store
	receipts ws.ReceiptPublisher
}

// NewChatHandler создаёт обработчик. receipts может быть nil.
func NewChatHandler(store *chatstore.Store, receipts ws.ReceiptPublisher) *ChatHandler {
	return &ChatHandler{store: store, receipts: receipts}
}

// ChatSummary: чат в списке: последнее сообщение и число непрочитанных.
type ChatSummary struct {
	ChatID  string         `json:"chat_id"`
	Latest  *model.Message `json:"latest,omitempty"`
	Unread  int            `json:"unread"`
	Updated time.Time      `json:"updated_at"`
}

// List возвращает чаты текущего пользователя, свежие первыми.
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	snap := h.store.Snapshot(userID)
	out := make([]ChatSummary, 0, len(snap))
	for chatID, msgs := range snap {
		s := ChatSummary{ChatID: chatID}
		if len(msgs) > 0 {
			latest := msgs[len(msgs)-1]
			s.Latest = &latest
			s.Updated = latest.CreatedAt
		}
		for i := range msgs {
			if msgs[i].SenderID != userID && !msgs[i].IsReadBy(userID) {
				s.Unread++
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.After(out[j].Updated) })
	writeJSON(w, http.StatusOK, out)
}

// MarkRead отмечает сообщения чата прочитанными текущим пользователем.
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chatID := chi.URLParam(r, "chatId")
	if !slices.Contains(h.store.Members(chatID), userID) {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}
	messageID := r.URL.Query().Get("message_id")
	if h.store.MarkRead(chatID, userID, messageID) && h.receipts != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.receipts.PublishRead(ctx, chatID, userID, messageID); err != nil {
			logger.Errorf("chat mark read publish chat=%s user=%s: %v", chatID, userID, err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
