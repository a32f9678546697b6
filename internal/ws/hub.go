package ws

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/expertinthecity/internal/auth"
	"github.com/expertinthecity/internal/chatstore"
	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/model"
	"github.com/expertinthecity/internal/notifier"
	"github.com/expertinthecity/internal/presence"
	"github.com/expertinthecity/internal/session"
)

const (
	opTimeout = 5 * time.Second
)

// PushNotifier delivers alerts to users without a live connection. nil disables push.
type PushNotifier interface {
	NotifyAlert(ctx context.Context, userID string, a model.Alert)
}

// ReceiptPublisher forwards read receipts to the chat backend. nil keeps them local.
type ReceiptPublisher interface {
	PublishRead(ctx context.Context, chatID, userID, messageID string) error
}

// ProfileSaver records profiles seen in tokens so other users can resolve names.
type ProfileSaver interface {
	Upsert(ctx context.Context, p model.Profile) error
}

type Options struct {
	MaxConns       int
	SendBufferSize int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	AlertSoundURL  string
	// MaxOfflineUsers bounds the push-side notifiers; the least recently used one is evicted.
	MaxOfflineUsers int
}

func (o *Options) withDefaults() {
	if o.MaxConns <= 0 {
		o.MaxConns = 10000
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.MaxOfflineUsers <= 0 {
		o.MaxOfflineUsers = 10000
	}
}

// HistoryLoader fills the store with a user's recent chats when the user binds.
type HistoryLoader interface {
	Hydrate(ctx context.Context, store *chatstore.Store, userID string)
}

// Deps are the collaborators of the hub. Presence, Store and Verifier are required.
type Deps struct {
	Presence *presence.Service
	Store    *chatstore.Store
	Verifier *auth.Verifier
	Names    notifier.NameResolver
	Profiles ProfileSaver
	Push     PushNotifier
	Receipts ReceiptPublisher
	History  HistoryLoader
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	total   int

	opts     Options
	presence *presence.Service
	store    *chatstore.Store
	verifier *auth.Verifier
	names    notifier.NameResolver
	profiles ProfileSaver
	push     PushNotifier
	receipts ReceiptPublisher
	history  HistoryLoader

	offlineMu sync.Mutex
	offline   *lru.Cache[string, *notifier.Notifier]

	register   chan *Client
	unregister chan *Client
	changes    chan chatstore.Change
	presenceCh chan model.PresenceChange
	offlineCh  chan string
	stopping   chan struct{}
	done       chan struct{}
}

func NewHub(deps Deps, opts Options) *Hub {
	opts.withDefaults()
	offline, _ := lru.New[string, *notifier.Notifier](opts.MaxOfflineUsers)
	return &Hub{
		offline:    offline,
		clients:    make(map[string]map[*Client]struct{}),
		opts:       opts,
		presence:   deps.Presence,
		store:      deps.Store,
		verifier:   deps.Verifier,
		names:      deps.Names,
		profiles:   deps.Profiles,
		push:       deps.Push,
		receipts:   deps.Receipts,
		history:    deps.History,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		changes:    make(chan chatstore.Change, 1024),
		presenceCh: make(chan model.PresenceChange, 1024),
		offlineCh:  make(chan string, 1024),
		stopping:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// NewClient binds a fresh presence connection, publisher, session tracker and
// notifier to conn. The session starts when the hub registers the client.
func (h *Hub) NewClient(conn *websocket.Conn, profile model.Profile) *Client {
	c := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan OutgoingMessage, h.opts.SendBufferSize),
		userID:   profile.ID,
		initial:  profile,
		presence: h.presence.Connect(uuid.NewString()),
		eval:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	c.tracker = session.NewTracker(presence.NewPublisher(c.presence))
	c.notifier = notifier.New(clientPresenter{c: c}, clientSound{c: c, url: h.opts.AlertSoundURL}, h.names)
	return c
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	unsubStore := h.store.Subscribe(func(ch chatstore.Change) {
		select {
		case h.changes <- ch:
		case <-h.stopping:
		}
	})
	defer unsubStore()
	unsubPresence := h.presence.Subscribe(func(ch model.PresenceChange) {
		select {
		case h.presenceCh <- ch:
		default:
			logger.Errorf("ws presence broadcast queue full, dropping user=%s", ch.Record.UserID)
		}
	})
	defer unsubPresence()

	var wg sync.WaitGroup
	if h.push != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.offlineLoop(ctx)
		}()
	}
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case ch := <-h.changes:
			h.handleChange(ch)
		case ch := <-h.presenceCh:
			h.broadcastPresence(ch)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.stopping)
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.graceful.Store(true)
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
		h.endSession(c)
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.opts.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.opts.MaxConns, c.initial.ID)
		c.Close()
		h.presence.Release(c.presence)
		return
	}
	h.indexLocked(c, c.initial.ID)
	h.total++
	h.mu.Unlock()

	h.bindUser(c, &c.initial)

	ctx, cancel := context.WithCancel(context.Background())
	c.start(ctx, cancel)
	c.requestEval()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	userID := c.userID
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
	h.endSession(c)
	if lastClient && userID != "" {
		h.handOffline(userID, c)
	}
}

// endSession releases presence for a closed client. A graceful close stops the
// publisher explicitly; an abrupt one leaves it to the write armed on the connection.
func (h *Hub) endSession(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if c.graceful.Load() {
		c.tracker.Close()
		c.presence.Drop(ctx)
	} else {
		c.presence.Drop(ctx)
		c.tracker.Detach()
	}
	h.presence.Release(c.presence)
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventNavigate:
		c.setPath(msg.Path)
		c.requestEval()
	case EventRead:
		h.handleRead(ctx, c, msg)
	case EventLogout:
		h.handleLogout(c)
	case EventLogin:
		h.handleLogin(c, msg)
	case EventPing:
		h.sendToClient(c, OutgoingMessage{Type: EventPong, Payload: time.Now().UTC()})
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleRead(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleRead", time.Now())()
	user := c.User()
	if user == nil {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "not logged in"})
		return
	}
	if msg.ChatID == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "chat_id required"})
		return
	}
	if !slices.Contains(h.store.Members(msg.ChatID), user.ID) {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "not a member"})
		return
	}
	if !h.store.MarkRead(msg.ChatID, user.ID, msg.MessageID) || h.receipts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := h.receipts.PublishRead(ctx, msg.ChatID, user.ID, msg.MessageID); err != nil {
		logger.Errorf("ws publish read chat=%s user=%s: %v", msg.ChatID, user.ID, err)
	}
}

func (h *Hub) handleLogout(c *Client) {
	prev := h.rebind(c, "")
	c.tracker.SetUser(nil)
	c.notifier.Reset()
	if prev != "" {
		h.handOffline(prev, c)
	}
	h.sendToClient(c, OutgoingMessage{Type: EventSession, Payload: SessionPayload{}})
}

func (h *Hub) handleLogin(c *Client, msg IncomingMessage) {
	claims, err := h.verifier.Validate(msg.Token)
	if err != nil {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "invalid token"})
		return
	}
	p := claims.Profile()
	prev := h.rebind(c, p.ID)
	if prev != p.ID {
		c.notifier.Reset()
	}
	h.bindUser(c, &p)
	if prev != "" && prev != p.ID {
		h.handOffline(prev, c)
	}
	c.requestEval()
}

// bindUser starts presence for p on c and confirms the session to the client.
func (h *Hub) bindUser(c *Client, p *model.Profile) {
	c.tracker.SetUser(p)
	h.dropOffline(p.ID)
	if h.profiles != nil {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		if err := h.profiles.Upsert(ctx, *p); err != nil {
			logger.Errorf("ws save profile user=%s: %v", p.ID, err)
		}
		cancel()
	}
	if h.history != nil {
		go h.hydrate(p.ID)
	}
	h.sendToClient(c, OutgoingMessage{Type: EventSession, Payload: SessionPayload{UserID: p.ID, Name: p.Name}})
}

func (h *Hub) hydrate(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.history.Hydrate(ctx, h.store, userID)
}

// rebind moves c to the index of userID and returns the previous user id.
func (h *Hub) rebind(c *Client, userID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := c.userID
	if prev == userID {
		return prev
	}
	if clients, ok := h.clients[prev]; ok {
		if _, exists := clients[c]; exists {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.clients, prev)
			}
			h.indexLocked(c, userID)
		}
	}
	c.userID = userID
	return prev
}

func (h *Hub) indexLocked(c *Client, userID string) {
	if _, ok := h.clients[userID]; !ok {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	c.userID = userID
}

// Online reports whether userID has a live connection on this hub.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Connections returns the number of registered clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

func (h *Hub) handleChange(ch chatstore.Change) {
	notified := make(map[string]struct{}, 16)
	for _, chatID := range ch.ChatIDs {
		for _, uid := range h.store.Members(chatID) {
			if _, ok := notified[uid]; ok {
				continue
			}
			notified[uid] = struct{}{}
			targets := h.clientsOf(uid)
			if len(targets) == 0 {
				h.queueOffline(uid)
				continue
			}
			for _, c := range targets {
				h.sendToClient(c, OutgoingMessage{Type: EventChatUpdate, Payload: ChatUpdatePayload{Version: ch.Version, ChatIDs: ch.ChatIDs}})
				c.requestEval()
			}
		}
	}
}

func (h *Hub) broadcastPresence(ch model.PresenceChange) {
	out := OutgoingMessage{Type: EventPresence, Payload: presencePayload(ch.Record)}
	for _, uid := range h.store.Peers(ch.Record.UserID) {
		h.sendToUser(uid, out)
	}
}

func (h *Hub) queueOffline(userID string) {
	if h.push == nil {
		return
	}
	select {
	case h.offlineCh <- userID:
	default:
		logger.Errorf("ws offline queue full, dropping push user=%s", userID)
	}
}

func (h *Hub) offlineLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case uid := <-h.offlineCh:
			if h.Online(uid) {
				continue
			}
			h.offlineNotifier(uid).Evaluate(h.store.Snapshot(uid), &model.Profile{ID: uid}, "")
		}
	}
}

func (h *Hub) offlineNotifier(userID string) *notifier.Notifier {
	h.offlineMu.Lock()
	defer h.offlineMu.Unlock()
	n, ok := h.offline.Get(userID)
	if !ok {
		n = notifier.New(pushPresenter{userID: userID, push: h.push}, nil, h.names)
		h.offline.Add(userID, n)
	}
	return n
}

// handOffline switches userID to push delivery, seeded with what c already showed.
func (h *Hub) handOffline(userID string, c *Client) {
	if h.push == nil || h.Online(userID) {
		return
	}
	h.offlineNotifier(userID).Prime(h.store.Snapshot(userID), &model.Profile{ID: userID}, c.Path())
}

func (h *Hub) dropOffline(userID string) {
	h.offlineMu.Lock()
	h.offline.Remove(userID)
	h.offlineMu.Unlock()
}

type pushPresenter struct {
	userID string
	push   PushNotifier
}

func (p pushPresenter) Present(a model.Alert, _ notifier.Action) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.push.NotifyAlert(ctx, p.userID, a)
}

func (h *Hub) clientsOf(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := h.clients[userID]
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	return targets
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	for _, c := range h.clientsOf(userID) {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client conn=%s", c.presence.ID())
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.stopping:
		c.Close()
		h.presence.Release(c.presence)
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopping:
	}
}
