package chatstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/expertinthecity/internal/model"
)

var t0 = time.Unix(1700000000, 0)

func m(id, chatID, sender string, at int) model.Message {
	return model.Message{ID: id, ChatID: chatID, SenderID: sender, CreatedAt: t0.Add(time.Duration(at) * time.Second)}
}

func TestApplyOrdersAndDeduplicates(t *testing.T) {
	s := New()
	var changes []Change
	s.Subscribe(func(ch Change) { changes = append(changes, ch) })

	s.Apply(m("m2", "c1", "u2", 2), []string{"u1", "u2"})
	s.Apply(m("m1", "c1", "u2", 1), nil)
	if s.Apply(m("m1", "c1", "u2", 1), nil) {
		t.Fatal("re-applying the same message must not change the store")
	}

	chat, ok := s.Chat("c1")
	if !ok || len(chat.Messages) != 2 || chat.Messages[0].ID != "m1" || chat.Latest().ID != "m2" {
		t.Fatalf("chat = %+v", chat)
	}
	if len(changes) != 2 || changes[1].Version != 2 {
		t.Fatalf("changes = %+v", changes)
	}
}

func TestApplyMergesReadBy(t *testing.T) {
	s := New()
	s.Apply(m("m1", "c1", "u2", 1), []string{"u1", "u2"})
	upd := m("m1", "c1", "u2", 1)
	upd.ReadBy = []string{"u1"}
	if !s.Apply(upd, nil) {
		t.Fatal("new reader must count as a change")
	}
	upd.ReadBy = nil
	s.Apply(upd, nil)
	chat, _ := s.Chat("c1")
	if !chat.Messages[0].IsReadBy("u1") {
		t.Fatal("read_by must never shrink")
	}
}

func TestMarkRead(t *testing.T) {
	s := New()
	s.Apply(m("m1", "c1", "u2", 1), []string{"u1", "u2"})
	s.Apply(m("m2", "c1", "u1", 2), nil)
	s.Apply(m("m3", "c1", "u2", 3), nil)

	if !s.MarkRead("c1", "u1", "m1") {
		t.Fatal("expected a change")
	}
	chat, _ := s.Chat("c1")
	if !chat.Messages[0].IsReadBy("u1") || chat.Messages[2].IsReadBy("u1") {
		t.Fatalf("read up to m1 only: %+v", chat.Messages)
	}
	if chat.Messages[1].IsReadBy("u1") {
		t.Fatal("own messages are not marked")
	}
	s.MarkRead("c1", "u1", "")
	if s.MarkRead("c1", "u1", "") {
		t.Fatal("second full mark must be a no-op")
	}
	if s.MarkRead("missing", "u1", "") {
		t.Fatal("unknown chat")
	}
}

func TestSnapshotIsolatedAndScoped(t *testing.T) {
	s := New()
	s.Apply(m("m1", "c1", "u2", 1), []string{"u1", "u2"})
	s.Apply(m("m2", "c2", "u3", 1), []string{"u2", "u3"})

	snap := s.Snapshot("u1")
	if len(snap) != 1 || len(snap["c1"]) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	snap["c1"][0].ReadBy = append(snap["c1"][0].ReadBy, "u1")
	chat, _ := s.Chat("c1")
	if chat.Messages[0].IsReadBy("u1") {
		t.Fatal("snapshot must be a deep copy")
	}

	peers := s.Peers("u2")
	if len(peers) != 2 {
		t.Fatalf("peers = %v", peers)
	}
}

func TestSetMembersReindexes(t *testing.T) {
	s := New()
	s.SetMembers("c1", []string{"u1", "u2"})
	s.SetMembers("c1", []string{"u2", "u3"})
	if len(s.Snapshot("u1")) != 0 || len(s.Snapshot("u3")) != 1 {
		t.Fatal("membership index not updated")
	}
	v := s.Version()
	s.SetMembers("c1", []string{"u3", "u2", "u2"})
	if s.Version() != v {
		t.Fatal("same member set must not bump the version")
	}
}

func TestLoadCapsAndSorts(t *testing.T) {
	msgs := make([]model.Message, 0, maxMessagesPerChat+10)
	for i := maxMessagesPerChat + 9; i >= 0; i-- {
		msgs = append(msgs, m(fmt.Sprintf("m%d", i), "c1", "u2", i))
	}
	s := New()
	var got []Change
	s.Subscribe(func(ch Change) { got = append(got, ch) })
	s.Load([]model.Chat{{ID: "c1", MemberIDs: []string{"u1", "u2"}, Messages: msgs}})
	chat, _ := s.Chat("c1")
	if len(chat.Messages) != maxMessagesPerChat {
		t.Fatalf("len = %d", len(chat.Messages))
	}
	for i := 1; i < len(chat.Messages); i++ {
		if chat.Messages[i].CreatedAt.Before(chat.Messages[i-1].CreatedAt) {
			t.Fatal("messages out of order")
		}
	}
	if len(got) != 1 || len(got[0].ChatIDs) != 1 {
		t.Fatalf("changes = %+v", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	s := New()
	n := 0
	unsub := s.Subscribe(func(Change) { n++ })
	s.Apply(m("m1", "c1", "u2", 1), []string{"u1"})
	unsub()
	unsub()
	s.Apply(m("m2", "c1", "u2", 2), nil)
	if n != 1 {
		t.Fatalf("calls = %d", n)
	}
}
