package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/expertinthecity/internal/model"
	"github.com/expertinthecity/internal/storage"
)

func TestPutLastSeenNeverGoesBack(t *testing.T) {
	now := time.Unix(2000, 0)
	c := New().WithClock(func() time.Time { return now })
	ctx := context.Background()

	first, err := c.Put(ctx, model.PresenceRecord{UserID: "u1", Online: true})
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(-time.Hour)
	second, _ := c.Put(ctx, model.PresenceRecord{UserID: "u1", Online: false})
	if second.LastSeen.Before(first.LastSeen) {
		t.Fatalf("last_seen went back: %v < %v", second.LastSeen, first.LastSeen)
	}
	got, _ := c.Get(ctx, "u1")
	if got.Online {
		t.Fatal("record must be fully overwritten")
	}
}

func TestGetMissing(t *testing.T) {
	if _, err := New().Get(context.Background(), "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestListOnline(t *testing.T) {
	now := time.Unix(3000, 0)
	c := New().WithClock(func() time.Time { return now })
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		now = now.Add(time.Duration(i) * time.Second)
		c.Put(ctx, model.PresenceRecord{UserID: id, Online: id != "b"})
	}
	list, _ := c.ListOnline(ctx, 0)
	if len(list) != 2 || list[0].UserID != "c" || list[1].UserID != "a" {
		t.Fatalf("online = %+v", list)
	}
	if list, _ := c.ListOnline(ctx, 1); len(list) != 1 {
		t.Fatalf("limit ignored: %d", len(list))
	}
}

func TestPutCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Put(ctx, model.PresenceRecord{UserID: "u1"}); err == nil {
		t.Fatal("expected context error")
	}
}
