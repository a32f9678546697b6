package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/model"
	"github.com/expertinthecity/internal/notifier"
	"github.com/expertinthecity/internal/presence"
	"github.com/expertinthecity/internal/session"
)

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

var errSendBufferFull = errors.New("send buffer full")

// Client represents a single WebSocket connection and the session bound to it.
// Lifecycle: Hub.NewClient -> Hub.Register -> [readPump, writePump, evalLoop] -> Close -> Wait.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan OutgoingMessage
	// userID is the hub index key; guarded by hub.mu. Empty after logout.
	userID  string
	initial model.Profile

	presence *presence.Conn
	tracker  *session.Tracker
	notifier *notifier.Notifier

	pathMu sync.Mutex
	path   string
	eval   chan struct{}

	// graceful is set when the peer closed the socket properly; the session then
	// stops explicitly instead of relying on the armed disconnect write.
	graceful atomic.Bool

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// start launches the pumps with controlled lifecycle.
func (c *Client) start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(3)
	go c.writePump(ctx)
	go c.readPump(ctx)
	go c.evalLoop(ctx)
}

// Wait blocks until every pump goroutine has exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// User returns the profile currently bound to the connection, or nil after logout.
func (c *Client) User() *model.Profile {
	return c.tracker.User()
}

// Path returns the route the client last reported.
func (c *Client) Path() string {
	c.pathMu.Lock()
	defer c.pathMu.Unlock()
	return c.path
}

func (c *Client) setPath(p string) {
	c.pathMu.Lock()
	c.path = p
	c.pathMu.Unlock()
}

// requestEval schedules a notifier pass; pending requests coalesce.
func (c *Client) requestEval() {
	select {
	case c.eval <- struct{}{}:
	default:
	}
}

func (c *Client) evaluate() {
	user := c.tracker.User()
	if user == nil {
		return
	}
	c.notifier.Evaluate(c.hub.store.Snapshot(user.ID), user, c.Path())
}

func (c *Client) evalLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.eval:
			c.evaluate()
		}
	}
}

// readPump reads messages from the WebSocket connection.
// Exits on read error (triggered by conn.Close from Close() or a dead peer).
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait)); err != nil {
		logger.Errorf("ws set read deadline conn=%s: %v", c.presence.ID(), err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			c.graceful.Store(true)
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
				c.graceful.Store(true)
			} else {
				logger.Debugf("ws connection lost conn=%s: %v", c.presence.ID(), err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Errorf("ws unmarshal error conn=%s: %v", c.presence.ID(), err)
			c.hub.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "malformed message"})
			continue
		}

		c.hub.HandleMessage(ctx, c, msg)
	}
}

// writePump writes messages to the WebSocket connection.
// Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	pingPeriod := (c.hub.opts.PongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error conn=%s: %v", c.presence.ID(), err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues msg without blocking.
func (c *Client) trySend(msg OutgoingMessage) error {
	select {
	case <-c.done:
		return errors.New("client closed")
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

// clientPresenter shows alerts on this connection.
type clientPresenter struct{ c *Client }

func (p clientPresenter) Present(a model.Alert, _ notifier.Action) {
	p.c.hub.sendToClient(p.c, OutgoingMessage{Type: EventAlert, Payload: AlertPayload{Alert: a}})
}

// clientSound asks the browser to play the preloaded sound. A full buffer is a failed play.
type clientSound struct {
	c   *Client
	url string
}

func (s clientSound) Play() error {
	return s.c.trySend(OutgoingMessage{Type: EventSound, Payload: SoundPayload{URL: s.url}})
}
