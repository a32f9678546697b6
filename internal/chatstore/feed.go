package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/model"
	"github.com/segmentio/kafka-go"
)

type EventType string

const (
	EventMessage EventType = "message"
	EventRead    EventType = "read"
	EventMembers EventType = "members"
)

// Event is one record on the chat backend's topic.
type Event struct {
	Type      EventType      `json:"type"`
	Message   *model.Message `json:"message,omitempty"`
	MemberIDs []string       `json:"member_ids,omitempty"`
	ChatID    string         `json:"chat_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	At        time.Time      `json:"at,omitempty"`
}

var errBadEvent = errors.New("malformed chat event")

// ApplyEvent routes one event into the store.
func (s *Store) ApplyEvent(ev Event) error {
	switch ev.Type {
	case EventMessage:
		if ev.Message == nil || ev.Message.ID == "" || ev.Message.ChatID == "" {
			return errBadEvent
		}
		if ev.Message.CreatedAt.IsZero() {
			ev.Message.CreatedAt = ev.At
		}
		s.Apply(*ev.Message, ev.MemberIDs)
	case EventRead:
		if ev.ChatID == "" || ev.UserID == "" {
			return errBadEvent
		}
		s.MarkRead(ev.ChatID, ev.UserID, ev.MessageID)
	case EventMembers:
		if ev.ChatID == "" {
			return errBadEvent
		}
		s.SetMembers(ev.ChatID, ev.MemberIDs)
	default:
		return fmt.Errorf("%w: unknown type %q", errBadEvent, ev.Type)
	}
	return nil
}

// Feed consumes the chat backend's topic into a Store.
type Feed struct {
	reader *kafka.Reader
	store  *Store
}

// NewFeed creates a reader in its own consumer group: every gateway instance needs
// every event, so instances must not share a group.
func NewFeed(brokers []string, topic, groupID string, store *Store) *Feed {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	return &Feed{reader: r, store: store}
}

// Handle decodes and applies one raw record.
func (f *Feed) Handle(raw []byte) error {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("chat feed unmarshal: %w", err)
	}
	return f.store.ApplyEvent(ev)
}

// Run reads until ctx is cancelled. Read errors are retried after a pause.
func (f *Feed) Run(ctx context.Context) {
	for {
		m, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("chat feed read: %v, retry in 1s", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if err := f.Handle(m.Value); err != nil {
			logger.Errorf("chat feed offset=%d: %v", m.Offset, err)
		}
	}
}

func (f *Feed) Close() error {
	return f.reader.Close()
}

// ReceiptWriter publishes read events produced by this gateway back to the chat backend.
type ReceiptWriter struct {
	writer *kafka.Writer
}

func NewReceiptWriter(brokers []string, topic string) *ReceiptWriter {
	return &ReceiptWriter{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

// PublishRead writes a read receipt keyed by chat id, so one chat's receipts stay ordered.
func (w *ReceiptWriter) PublishRead(ctx context.Context, chatID, userID, messageID string) error {
	raw, err := json.Marshal(Event{Type: EventRead, ChatID: chatID, UserID: userID, MessageID: messageID, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, kafka.Message{Key: []byte(chatID), Value: raw}); err != nil {
		return fmt.Errorf("receipt write chat=%s: %w", chatID, err)
	}
	return nil
}

func (w *ReceiptWriter) Close() error {
	return w.writer.Close()
}
