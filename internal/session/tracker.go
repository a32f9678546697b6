// Package session ties the authenticated user of one client session to its presence
// publisher: start on login, stop on logout, stop-then-start when the account changes.
package session

import (
	"sync"

	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/model"
)

// Publisher is the subset of presence.Publisher the tracker drives.
type Publisher interface {
	Start(userID string, profile model.Profile)
	Stop(userID string, profile model.Profile)
}

type Tracker struct {
	pub Publisher

	mu      sync.Mutex
	current *model.Profile
	closed  bool
}

func NewTracker(pub Publisher) *Tracker {
	return &Tracker{pub: pub}
}

// User returns a copy of the current profile, or nil.
func (t *Tracker) User() *model.Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	p := *t.current
	return &p
}

// SetUser applies an auth transition. The previous user's record is set offline
// before the new user's publisher starts.
func (t *Tracker) SetUser(p *model.Profile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	prev := t.current
	if prev != nil && p != nil && prev.ID == p.ID {
		// Same account: refresh the snapshot used for the next stop write.
		cp := *p
		t.current = &cp
		return
	}
	if prev != nil {
		logger.Debugf("session stop presence user=%s", prev.ID)
		t.pub.Stop(prev.ID, *prev)
		t.current = nil
	}
	if p != nil && p.ID != "" {
		cp := *p
		t.current = &cp
		logger.Debugf("session start presence user=%s", cp.ID)
		t.pub.Start(cp.ID, cp)
	}
}

// Close stops the active user, if any. Later SetUser calls are ignored.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if t.current != nil {
		t.pub.Stop(t.current.ID, *t.current)
		t.current = nil
	}
}

// Detach forgets the active user without writing anything: used when the connection
// dropped abruptly and the service-side armed write is responsible for the offline state.
func (t *Tracker) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.current = nil
}
