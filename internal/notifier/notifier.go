// Package notifier raises one actionable alert per unread incoming message, at most
// once per message, and never for the chat the user is currently looking at.
package notifier

import (
	"strings"
	"sync"

	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/model"
)

const (
	GenericSenderName = "Someone"
	ActionLabel       = "Open"
	chatPathPrefix    = "/chats/"
)

// Action is the navigation attached to an alert.
type Action struct {
	Label string
	Path  string
}

// Presenter is the alert/toast layer.
type Presenter interface {
	Present(alert model.Alert, action Action)
}

// SoundPlayer plays the preloaded notification sound.
type SoundPlayer interface {
	Play() error
}

// NameResolver looks up a display name when a message carries none.
type NameResolver interface {
	DisplayName(userID string) string
}

// NameResolverFunc adapts a function to NameResolver.
type NameResolverFunc func(userID string) string

func (f NameResolverFunc) DisplayName(userID string) string { return f(userID) }

// ChatPath is the route of a chat view.
func ChatPath(chatID string) string {
	return chatPathPrefix + chatID
}

// Viewing reports whether path addresses chatID.
func Viewing(path, chatID string) bool {
	if chatID == "" {
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == chatID {
			return true
		}
	}
	return false
}

// Qualifies reports whether msg should alert userID while the user is on path.
func Qualifies(msg *model.Message, userID, path string) bool {
	if msg == nil || userID == "" {
		return false
	}
	if msg.SenderID == userID {
		return false
	}
	if msg.IsReadBy(userID) {
		return false
	}
	return !Viewing(path, msg.ChatID)
}

// Notifier evaluates chat snapshots for one session.
type Notifier struct {
	presenter Presenter
	sound     SoundPlayer
	names     NameResolver

	mu      sync.Mutex
	alerted map[string]struct{}
}

// New creates a Notifier. sound and names may be nil.
func New(presenter Presenter, sound SoundPlayer, names NameResolver) *Notifier {
	return &Notifier{
		presenter: presenter,
		sound:     sound,
		names:     names,
		alerted:   make(map[string]struct{}),
	}
}

// Evaluate looks at the latest message of every chat and raises an alert for each
// qualifying one not alerted before. It returns the alerts raised by this pass.
func (n *Notifier) Evaluate(chats map[string][]model.Message, user *model.Profile, path string) []model.Alert {
	raised := n.collect(chats, user, path)
	for _, a := range raised {
		n.playSound()
		n.present(a)
	}
	return raised
}

// Prime marks every currently qualifying message as alerted without presenting it.
// Used when a session hands its user over to another delivery channel that must not
// repeat what the session already showed.
func (n *Notifier) Prime(chats map[string][]model.Message, user *model.Profile, path string) {
	n.collect(chats, user, path)
}

func (n *Notifier) collect(chats map[string][]model.Message, user *model.Profile, path string) []model.Alert {
	if user == nil || user.ID == "" {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	latest := make(map[string]struct{}, len(chats))
	var raised []model.Alert
	for chatID, msgs := range chats {
		if len(msgs) == 0 {
			continue
		}
		last := msgs[len(msgs)-1]
		msg := &last
		latest[msg.ID] = struct{}{}
		if msg.ChatID == "" {
			msg.ChatID = chatID
		}
		if !Qualifies(msg, user.ID, path) {
			continue
		}
		if _, done := n.alerted[msg.ID]; done {
			continue
		}
		n.alerted[msg.ID] = struct{}{}
		raised = append(raised, n.buildAlert(msg))
	}
	// Ids no longer the latest of any chat cannot qualify again.
	for id := range n.alerted {
		if _, ok := latest[id]; !ok {
			delete(n.alerted, id)
		}
	}
	return raised
}

// Alerted reports whether messageID has been alerted and is still tracked.
func (n *Notifier) Alerted(messageID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.alerted[messageID]
	return ok
}

// Reset forgets every alerted id (new user on the same session).
func (n *Notifier) Reset() {
	n.mu.Lock()
	n.alerted = make(map[string]struct{})
	n.mu.Unlock()
}

func (n *Notifier) buildAlert(msg *model.Message) model.Alert {
	name := strings.TrimSpace(msg.SenderName)
	if name == "" && n.names != nil {
		name = strings.TrimSpace(n.names.DisplayName(msg.SenderID))
	}
	if name == "" {
		name = GenericSenderName
	}
	return model.Alert{
		ID:          msg.ID,
		ChatID:      msg.ChatID,
		SenderName:  name,
		Text:        "New message from " + name,
		ActionLabel: ActionLabel,
		ActionPath:  ChatPath(msg.ChatID),
	}
}

func (n *Notifier) playSound() {
	if n.sound == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Debugf("notifier sound panic: %v", r)
		}
	}()
	if err := n.sound.Play(); err != nil {
		logger.Debugf("notifier sound: %v", err)
	}
}

func (n *Notifier) present(a model.Alert) {
	if n.presenter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("notifier present alert=%s panic: %v", a.ID, r)
		}
	}()
	n.presenter.Present(a, Action{Label: a.ActionLabel, Path: a.ActionPath})
}
