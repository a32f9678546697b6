package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/expertinthecity/internal/model"
	"github.com/expertinthecity/internal/storage"
)

// Client: PresenceStore в памяти процесса. Время берётся из now (по умолчанию time.Now),
// тесты подставляют свои часы через WithClock.
type Client struct {
	mu      sync.RWMutex
	records map[string]model.PresenceRecord
	now     func() time.Time
}

func New() *Client {
	return &Client{
		records: make(map[string]model.PresenceRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock заменяет источник серверного времени.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

func (c *Client) Close() error { return nil }

func (c *Client) Put(ctx context.Context, rec model.PresenceRecord) (model.PresenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.PresenceRecord{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now()
	if prev, ok := c.records[rec.UserID]; ok && prev.LastSeen.After(ts) {
		ts = prev.LastSeen
	}
	rec.LastSeen = ts
	c.records[rec.UserID] = rec
	return rec, nil
}

func (c *Client) Get(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &rec, nil
}

func (c *Client) ListOnline(ctx context.Context, limit int) ([]model.PresenceRecord, error) {
	c.mu.RLock()
	out := make([]model.PresenceRecord, 0, len(c.records))
	for _, rec := range c.records {
		if rec.Online {
			out = append(out, rec)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
