package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/model"
	"github.com/expertinthecity/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = storage.ErrNotFound

// userCols: список колонок для SELECT (порядок соответствует scanUser).
const userCols = `id, name, avatar_url, role`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(s interface{ Scan(dest ...any) error }, u *model.Profile) error {
	return s.Scan(&u.ID, &u.Name, &u.AvatarURL, &u.Role)
}

// Upsert сохраняет профиль из токена: вход пользователя: единственный источник профилей в этом сервисе.
func (r *UserRepository) Upsert(ctx context.Context, p model.Profile) error {
	defer logger.DeferLogDuration("user.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, name, avatar_url, role, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, avatar_url = EXCLUDED.avatar_url,
		     role = EXCLUDED.role, updated_at = NOW()`,
		p.ID, p.Name, p.AvatarURL, p.Role,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Upsert: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.Profile{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// DisplayName возвращает имя пользователя для подписи уведомления; пустая строка, если имени нет.
func (r *UserRepository) DisplayName(ctx context.Context, id string) string {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Errorf("user display name id=%s: %v", id, err)
		}
		return ""
	}
	return u.Name
}
