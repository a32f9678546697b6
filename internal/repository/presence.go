package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const presenceCols = `user_id, online, last_seen, display_name, avatar_url, role`

// PresenceRepository: storage.PresenceStore поверх Postgres: последнее известное состояние
// переживает перезапуски и очистку Redis. last_seen назначает сервер БД.
type PresenceRepository struct {
	pool *pgxpool.Pool
}

func NewPresenceRepository(pool *pgxpool.Pool) *PresenceRepository {
	return &PresenceRepository{pool: pool}
}

func scanPresence(s interface{ Scan(dest ...any) error }, p *model.PresenceRecord) error {
	return s.Scan(&p.UserID, &p.Online, &p.LastSeen, &p.DisplayName, &p.AvatarURL, &p.Role)
}

func (r *PresenceRepository) Put(ctx context.Context, rec model.PresenceRecord) (model.PresenceRecord, error) {
	defer logger.DeferLogDuration("presence.Put", time.Now())()
	out := model.PresenceRecord{}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO presence (user_id, online, last_seen, display_name, avatar_url, role)
		 VALUES ($1, $2, clock_timestamp(), $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		     online = EXCLUDED.online,
		     last_seen = GREATEST(EXCLUDED.last_seen, presence.last_seen),
		     display_name = EXCLUDED.display_name,
		     avatar_url = EXCLUDED.avatar_url,
		     role = EXCLUDED.role
		 RETURNING `+presenceCols,
		rec.UserID, rec.Online, rec.DisplayName, rec.AvatarURL, rec.Role,
	)
	if err := scanPresence(row, &out); err != nil {
		return model.PresenceRecord{}, fmt.Errorf("presenceRepo.Put: %w", err)
	}
	out.LastSeen = out.LastSeen.UTC()
	return out, nil
}

func (r *PresenceRepository) Get(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	defer logger.DeferLogDuration("presence.Get", time.Now())()
	p := &model.PresenceRecord{}
	row := r.pool.QueryRow(ctx, `SELECT `+presenceCols+` FROM presence WHERE user_id = $1`, userID)
	if err := scanPresence(row, p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("presenceRepo.Get: %w", err)
	}
	p.LastSeen = p.LastSeen.UTC()
	return p, nil
}

func (r *PresenceRepository) ListOnline(ctx context.Context, limit int) ([]model.PresenceRecord, error) {
	defer logger.DeferLogDuration("presence.ListOnline", time.Now())()
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+presenceCols+` FROM presence WHERE online ORDER BY last_seen DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("presenceRepo.ListOnline: %w", err)
	}
	defer rows.Close()
	out := make([]model.PresenceRecord, 0, limit)
	for rows.Next() {
		var p model.PresenceRecord
		if err := scanPresence(rows, &p); err != nil {
			return nil, fmt.Errorf("presenceRepo.ListOnline scan: %w", err)
		}
		p.LastSeen = p.LastSeen.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("presenceRepo.ListOnline rows: %w", err)
	}
	return out, nil
}

// ResetOnline помечает всех офлайн при старте: отложенные записи прошлого процесса потеряны вместе с ним.
func (r *PresenceRepository) ResetOnline(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `UPDATE presence SET online = false, last_seen = GREATEST(clock_timestamp(), last_seen) WHERE online`)
	if err != nil {
		return fmt.Errorf("presenceRepo.ResetOnline: %w", err)
	}
	return nil
}

// Close: пул закрывается владельцем (main), не хранилищем.
func (r *PresenceRepository) Close() error { return nil }
