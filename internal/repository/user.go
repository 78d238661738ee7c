package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

// UserRepository читает пользователей и их права. Профили живут в сервисе аутентификации,
// здесь только соответствие public_id -> id.
type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) ResolvePublicID(ctx context.Context, publicID string) (string, error) {
	defer logger.DeferLogDuration("user.ResolvePublicID", time.Now())()
	var id string
	err := r.db.QueryRow(ctx, `SELECT id::text FROM users WHERE public_id = $1`, publicID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("userRepo.ResolvePublicID: %w", err)
	}
	return id, nil
}

// GetPermissions возвращает права пользователя. Если записи нет: нулевые права без ошибки.
func (r *UserRepository) GetPermissions(ctx context.Context, userID string) (*model.UserPermissions, error) {
	defer logger.DeferLogDuration("user.GetPermissions", time.Now())()
	p := &model.UserPermissions{UserID: userID}
	err := r.db.QueryRow(ctx,
		`SELECT administrator, delete_others_messages FROM user_permissions WHERE user_id = $1`,
		userID,
	).Scan(&p.Administrator, &p.DeleteOthersMessages)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetPermissions: %w", err)
	}
	return p, nil
}

type FriendshipRepository struct {
	db DBTX
}

func NewFriendshipRepository(db DBTX) *FriendshipRepository {
	return &FriendshipRepository{db: db}
}

func (r *FriendshipRepository) GetByID(ctx context.Context, id string) (*model.Friendship, error) {
	defer logger.DeferLogDuration("friendship.GetByID", time.Now())()
	f := &model.Friendship{}
	err := r.db.QueryRow(ctx,
		`SELECT id::text, requester_id::text, addressee_id::text, status, updated_at FROM friendships WHERE id = $1`,
		id,
	).Scan(&f.ID, &f.RequesterID, &f.AddresseeID, &f.Status, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("friendshipRepo.GetByID: %w", err)
	}
	return f, nil
}
