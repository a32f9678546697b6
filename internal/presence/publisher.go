package presence

import (
	"context"
	"sync"

	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/model"
)

// Remote is what the Publisher needs from the presence service. *Conn implements it.
type Remote interface {
	Watch(fn func(connected bool)) (unsubscribe func())
	OnDisconnect(ctx context.Context, rec model.PresenceRecord) error
	CancelOnDisconnect(ctx context.Context, userID string) error
	Set(ctx context.Context, rec model.PresenceRecord) error
}

// Publisher keeps one user's presence record accurate while a session is active.
// Presence is best-effort: write failures are logged and never returned.
type Publisher struct {
	remote Remote

	mu     sync.Mutex
	active map[string]*watch
}

type watch struct {
	mu          sync.Mutex
	stopped     bool
	connected   bool
	unsubscribe func()
}

func NewPublisher(remote Remote) *Publisher {
	return &Publisher{remote: remote, active: make(map[string]*watch)}
}

// Start watches liveness for userID. On every false->true transition (including the
// initial state when already connected) it arms an offline write with the service and
// then publishes the online record. Calling Start again for an active user re-arms and
// re-publishes.
func (p *Publisher) Start(userID string, profile model.Profile) {
	profile.ID = userID
	w := &watch{}

	p.mu.Lock()
	prev := p.active[userID]
	p.active[userID] = w
	p.mu.Unlock()
	if prev != nil {
		prev.release()
	}

	unsubscribe := p.remote.Watch(func(connected bool) {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.stopped {
			return
		}
		rising := connected && !w.connected
		w.connected = connected
		if rising {
			p.publishOnline(profile)
		}
	})

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		unsubscribe()
		return
	}
	w.unsubscribe = unsubscribe
	w.mu.Unlock()
}

// Stop releases the liveness watch, disarms the service-side write for userID and
// writes the offline record directly. A connection that goes on serving another user
// must not later write userID offline on its behalf.
func (p *Publisher) Stop(userID string, profile model.Profile) {
	profile.ID = userID

	p.mu.Lock()
	w := p.active[userID]
	delete(p.active, userID)
	p.mu.Unlock()
	if w != nil {
		w.release()
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.remote.CancelOnDisconnect(ctx, userID); err != nil {
		logger.Errorf("presence disarm disconnect user=%s: %v", userID, err)
	}
	if err := p.remote.Set(ctx, model.NewPresenceRecord(profile, false)); err != nil {
		logger.Errorf("presence set offline user=%s: %v", userID, err)
	}
}

// Active reports whether userID has a live watch.
func (p *Publisher) Active(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[userID]
	return ok
}

func (p *Publisher) publishOnline(profile model.Profile) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.remote.OnDisconnect(ctx, model.NewPresenceRecord(profile, false)); err != nil {
		logger.Errorf("presence arm disconnect user=%s: %v", profile.ID, err)
	}
	if err := p.remote.Set(ctx, model.NewPresenceRecord(profile, true)); err != nil {
		logger.Errorf("presence set online user=%s: %v", profile.ID, err)
	}
}

func (w *watch) release() {
	w.mu.Lock()
	w.stopped = true
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}
