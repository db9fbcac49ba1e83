package postgres

import (
	"context"
	"fmt"

	"deposit-gateway/internal/core/domain"
)

// UserRepo implements ports.UserRepository.
type UserRepo struct {
	pool Pool
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(pool Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// Upsert records a caller identity on first observation. The role written at
// creation time sticks; later requests only bump updated_at.
func (r *UserRepo) Upsert(ctx context.Context, user *domain.User) error {
	query := `INSERT INTO users (id, role, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET updated_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, user.ID, string(user.Role)); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}
