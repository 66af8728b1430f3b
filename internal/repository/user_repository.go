package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// UserRepository covers the user mutations that live outside the ledger's
// transactional paths.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) SetPlan(ctx context.Context, userID int64, sku string) error {
	const query = `UPDATE users SET plan_sku = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, sku, userID); err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	return nil
}
