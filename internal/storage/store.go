package storage

import (
	"context"
	"errors"

	"github.com/expertinthecity/internal/model"
)

var ErrNotFound = errors.New("not found")

// PresenceStore: хранилище записей присутствия (по одной на пользователя).
// Реализации: redis.Client (prod), repository.PresenceRepository (Postgres), memory.Client (-dev и тесты).
//
// Put перезаписывает запись целиком и сам назначает LastSeen: max(время хранилища, прежний LastSeen),
// поэтому LastSeen не убывает для одного пользователя независимо от порядка записей.
type PresenceStore interface {
	Put(ctx context.Context, rec model.PresenceRecord) (model.PresenceRecord, error)
	Get(ctx context.Context, userID string) (*model.PresenceRecord, error)
	ListOnline(ctx context.Context, limit int) ([]model.PresenceRecord, error)
	Close() error
}
