// Package presence hosts the presence service: a keyed record store with
// server-assigned timestamps, per-connection liveness signals and writes armed
// to run when a connection drops, plus the per-session Publisher that keeps a
// user's record accurate through both graceful and abrupt termination.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/model"
	"github.com/expertinthecity/internal/storage"
)

const (
	SourceClient     = "client"
	SourceDisconnect = "disconnect"

	writeTimeout = 5 * time.Second
)

// Service owns the store and every live connection handle.
type Service struct {
	store storage.PresenceStore

	mu        sync.Mutex
	conns     map[string]*Conn
	listeners map[int]func(model.PresenceChange)
	nextID    int
}

func NewService(store storage.PresenceStore) *Service {
	return &Service{
		store:     store,
		conns:     make(map[string]*Conn),
		listeners: make(map[int]func(model.PresenceChange)),
	}
}

// Connect registers a liveness handle for one client connection. The handle starts up.
// Connecting an id that is already registered returns the existing handle, resumed.
func (s *Service) Connect(connID string) *Conn {
	s.mu.Lock()
	if c, ok := s.conns[connID]; ok {
		s.mu.Unlock()
		c.Resume()
		return c
	}
	c := &Conn{
		svc:      s,
		id:       connID,
		up:       true,
		watchers: make(map[int]func(bool)),
		pending:  make(map[string]model.PresenceRecord),
	}
	s.conns[connID] = c
	s.mu.Unlock()
	return c
}

// Release forgets a dropped connection. Armed writes have already run in Drop.
func (s *Service) Release(c *Conn) {
	s.mu.Lock()
	if cur, ok := s.conns[c.id]; ok && cur == c {
		delete(s.conns, c.id)
	}
	s.mu.Unlock()
}

// Connections returns the number of registered handles.
func (s *Service) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Service) Get(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	return s.store.Get(ctx, userID)
}

func (s *Service) ListOnline(ctx context.Context, limit int) ([]model.PresenceRecord, error) {
	return s.store.ListOnline(ctx, limit)
}

// Subscribe registers fn for every successful write. fn runs on the writer's goroutine
// and must not block.
func (s *Service) Subscribe(fn func(model.PresenceChange)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Service) write(ctx context.Context, rec model.PresenceRecord, source string) error {
	stored, err := s.store.Put(ctx, rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	fns := make([]func(model.PresenceChange), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	change := model.PresenceChange{Record: stored, Source: source}
	for _, fn := range fns {
		fn(change)
	}
	return nil
}

// Conn is the liveness handle of one client connection.
type Conn struct {
	svc *Service
	id  string

	mu       sync.Mutex
	up       bool
	watchers map[int]func(bool)
	nextID   int
	// pending holds writes armed per user; they run when the connection drops.
	pending map[string]model.PresenceRecord
}

func (c *Conn) ID() string { return c.id }

// Connected reports the current liveness.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

// Watch delivers the current liveness immediately and then every transition.
func (c *Conn) Watch(fn func(connected bool)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	up := c.up
	c.mu.Unlock()

	fn(up)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

// OnDisconnect arms rec to be written by the service when this connection drops.
// A later call for the same user supersedes the earlier one.
func (c *Conn) OnDisconnect(ctx context.Context, rec model.PresenceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.pending[rec.UserID] = rec
	c.mu.Unlock()
	return nil
}

// CancelOnDisconnect disarms the write armed for userID, if any.
func (c *Conn) CancelOnDisconnect(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.pending, userID)
	c.mu.Unlock()
	return nil
}

// Set writes rec directly through the store.
func (c *Conn) Set(ctx context.Context, rec model.PresenceRecord) error {
	return c.svc.write(ctx, rec, SourceClient)
}

// Drop marks the connection down, runs every armed write on the service side and
// then notifies watchers. Dropping an already-down connection does nothing.
func (c *Conn) Drop(ctx context.Context) {
	c.mu.Lock()
	if !c.up {
		c.mu.Unlock()
		return
	}
	c.up = false
	armed := make([]model.PresenceRecord, 0, len(c.pending))
	for _, rec := range c.pending {
		armed = append(armed, rec)
	}
	c.pending = make(map[string]model.PresenceRecord)
	fns := c.snapshotWatchersLocked()
	c.mu.Unlock()

	for _, rec := range armed {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		if err := c.svc.write(wctx, rec, SourceDisconnect); err != nil {
			logger.Errorf("presence disconnect write conn=%s user=%s: %v", c.id, rec.UserID, err)
		}
		cancel()
	}
	for _, fn := range fns {
		fn(false)
	}
}

// Resume marks the connection up again and notifies watchers.
func (c *Conn) Resume() {
	c.mu.Lock()
	if c.up {
		c.mu.Unlock()
		return
	}
	c.up = true
	fns := c.snapshotWatchersLocked()
	c.mu.Unlock()
	for _, fn := range fns {
		fn(true)
	}
}

func (c *Conn) snapshotWatchersLocked() []func(bool) {
	fns := make([]func(bool), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	return fns
}
