// Package chatstore keeps chatId -> ordered messages in memory, fed by the chat
// backend's event stream and hydrated from its history tables. Subscribers are told
// about every change that actually altered a message list.
package chatstore

import (
	"slices"
	"sort"
	"sync"

	"github.com/expertinthecity/internal/model"
)

// maxMessagesPerChat bounds memory; only the tail matters for notifications and previews.
const maxMessagesPerChat = 200

type Store struct {
	mu      sync.RWMutex
	chats   map[string]*model.Chat
	byUser  map[string]map[string]struct{}
	version uint64

	subMu  sync.Mutex
	subs   map[int]func(Change)
	nextID int
}

// Change describes one store update. ChatIDs lists the chats whose lists changed.
type Change struct {
	Version uint64
	ChatIDs []string
}

func New() *Store {
	return &Store{
		chats:  make(map[string]*model.Chat),
		byUser: make(map[string]map[string]struct{}),
		subs:   make(map[int]func(Change)),
	}
}

// Subscribe registers fn for every change. fn runs on the updating goroutine.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Apply adds msg to its chat. Members, when given, replace the chat's member list.
// A message id already present is updated in place (read_by merged), not duplicated.
func (s *Store) Apply(msg model.Message, memberIDs []string) bool {
	if msg.ID == "" || msg.ChatID == "" {
		return false
	}
	s.mu.Lock()
	chat := s.chatLocked(msg.ChatID)
	changed := false
	if len(memberIDs) > 0 {
		changed = s.setMembersLocked(chat, memberIDs)
	}
	if i := indexOf(chat.Messages, msg.ID); i >= 0 {
		if mergeReadBy(&chat.Messages[i], msg.ReadBy) {
			changed = true
		}
	} else {
		msg.ReadBy = slices.Clone(msg.ReadBy)
		chat.Messages = append(chat.Messages, msg)
		if n := len(chat.Messages); n > 1 && chat.Messages[n-1].CreatedAt.Before(chat.Messages[n-2].CreatedAt) {
			sort.SliceStable(chat.Messages, func(i, j int) bool {
				return chat.Messages[i].CreatedAt.Before(chat.Messages[j].CreatedAt)
			})
		}
		if len(chat.Messages) > maxMessagesPerChat {
			chat.Messages = slices.Clone(chat.Messages[len(chat.Messages)-maxMessagesPerChat:])
		}
		changed = true
	}
	ch := s.bumpLocked(changed, msg.ChatID)
	s.mu.Unlock()
	s.notify(ch)
	return changed
}

// MarkRead adds userID to read_by of every message in the chat not authored by userID.
// Optional messageID limits it to messages up to and including that one.
func (s *Store) MarkRead(chatID, userID, messageID string) bool {
	s.mu.Lock()
	chat, ok := s.chats[chatID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	changed := false
	for i := range chat.Messages {
		m := &chat.Messages[i]
		if m.SenderID != userID && !m.IsReadBy(userID) {
			m.ReadBy = append(m.ReadBy, userID)
			changed = true
		}
		if messageID != "" && m.ID == messageID {
			break
		}
	}
	ch := s.bumpLocked(changed, chatID)
	s.mu.Unlock()
	s.notify(ch)
	return changed
}

// SetMembers replaces the member list of a chat.
func (s *Store) SetMembers(chatID string, memberIDs []string) {
	s.mu.Lock()
	changed := s.setMembersLocked(s.chatLocked(chatID), memberIDs)
	ch := s.bumpLocked(changed, chatID)
	s.mu.Unlock()
	s.notify(ch)
}

// Load replaces or creates the given chats in one change (history hydration).
func (s *Store) Load(chats []model.Chat) {
	if len(chats) == 0 {
		return
	}
	s.mu.Lock()
	ids := make([]string, 0, len(chats))
	for _, in := range chats {
		chat := s.chatLocked(in.ID)
		s.setMembersLocked(chat, in.MemberIDs)
		for _, m := range in.Messages {
			if i := indexOf(chat.Messages, m.ID); i >= 0 {
				mergeReadBy(&chat.Messages[i], m.ReadBy)
				continue
			}
			m.ReadBy = slices.Clone(m.ReadBy)
			chat.Messages = append(chat.Messages, m)
		}
		sort.SliceStable(chat.Messages, func(i, j int) bool {
			return chat.Messages[i].CreatedAt.Before(chat.Messages[j].CreatedAt)
		})
		if len(chat.Messages) > maxMessagesPerChat {
			chat.Messages = slices.Clone(chat.Messages[len(chat.Messages)-maxMessagesPerChat:])
		}
		ids = append(ids, in.ID)
	}
	s.version++
	ch := &Change{Version: s.version, ChatIDs: ids}
	s.mu.Unlock()
	s.notify(ch)
}

// Snapshot returns deep copies of the message lists of every chat userID belongs to.
func (s *Store) Snapshot(userID string) map[string][]model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[userID]
	out := make(map[string][]model.Message, len(ids))
	for id := range ids {
		chat := s.chats[id]
		msgs := make([]model.Message, len(chat.Messages))
		for i, m := range chat.Messages {
			m.ReadBy = slices.Clone(m.ReadBy)
			msgs[i] = m
		}
		out[id] = msgs
	}
	return out
}

// Chat returns a copy of one chat.
func (s *Store) Chat(chatID string) (*model.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, false
	}
	cp := model.Chat{ID: chat.ID, MemberIDs: slices.Clone(chat.MemberIDs), Messages: make([]model.Message, len(chat.Messages))}
	for i, m := range chat.Messages {
		m.ReadBy = slices.Clone(m.ReadBy)
		cp.Messages[i] = m
	}
	return &cp, true
}

// Members returns the member ids of a chat.
func (s *Store) Members(chatID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if chat, ok := s.chats[chatID]; ok {
		return slices.Clone(chat.MemberIDs)
	}
	return nil
}

// Peers returns every user sharing at least one chat with userID, excluding userID.
func (s *Store) Peers(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for chatID := range s.byUser[userID] {
		for _, uid := range s.chats[chatID].MemberIDs {
			if uid == userID {
				continue
			}
			if _, ok := seen[uid]; ok {
				continue
			}
			seen[uid] = struct{}{}
			out = append(out, uid)
		}
	}
	return out
}

func (s *Store) chatLocked(chatID string) *model.Chat {
	chat, ok := s.chats[chatID]
	if !ok {
		chat = &model.Chat{ID: chatID}
		s.chats[chatID] = chat
	}
	return chat
}

func (s *Store) setMembersLocked(chat *model.Chat, memberIDs []string) bool {
	if len(memberIDs) == 0 {
		return false
	}
	next := slices.Clone(memberIDs)
	slices.Sort(next)
	next = slices.Compact(next)
	if slices.Equal(chat.MemberIDs, next) {
		return false
	}
	for _, uid := range chat.MemberIDs {
		if set, ok := s.byUser[uid]; ok {
			delete(set, chat.ID)
			if len(set) == 0 {
				delete(s.byUser, uid)
			}
		}
	}
	for _, uid := range next {
		set, ok := s.byUser[uid]
		if !ok {
			set = make(map[string]struct{})
			s.byUser[uid] = set
		}
		set[chat.ID] = struct{}{}
	}
	chat.MemberIDs = next
	return true
}

func (s *Store) bumpLocked(changed bool, chatID string) *Change {
	if !changed {
		return nil
	}
	s.version++
	return &Change{Version: s.version, ChatIDs: []string{chatID}}
}

func (s *Store) notify(ch *Change) {
	if ch == nil {
		return
	}
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(*ch)
	}
}

func indexOf(msgs []model.Message, id string) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// mergeReadBy only ever adds readers: read_by grows monotonically.
func mergeReadBy(m *model.Message, readers []string) bool {
	changed := false
	for _, uid := range readers {
		if !m.IsReadBy(uid) {
			m.ReadBy = append(m.ReadBy, uid)
			changed = true
		}
	}
	return changed
}
