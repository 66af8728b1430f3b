package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGMediaGen/internal/models"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	const query = `
INSERT INTO orders (user_id, kind, sku, amount_eur, currency, status, provider, provider_ref)
VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''))`
	res, err := r.db.ExecContext(ctx, query,
		order.UserID, order.Kind, order.SKU, order.AmountEUR.StringFixed(2),
		order.Currency, order.Status, order.Provider, order.ProviderRef)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	order.ID = id
	return nil
}

func (r *OrderRepository) SetProviderRef(ctx context.Context, orderID int64, ref string) error {
	const query = `UPDATE orders SET provider_ref = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, ref, orderID); err != nil {
		return fmt.Errorf("set provider ref: %w", err)
	}
	return nil
}

func (r *OrderRepository) SetStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	const query = `UPDATE orders SET status = ? WHERE id = ? AND status = 'pending'`
	if _, err := r.db.ExecContext(ctx, query, status, orderID); err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	return nil
}

// MarkPaidOnce drives the pending→paid transition under a row lock. It
// returns the order and whether this call performed the transition; replayed
// webhooks observe transitioned=false and must not credit again.
func (r *OrderRepository) MarkPaidOnce(ctx context.Context, orderID int64) (*models.Order, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const query = `
SELECT id, user_id, kind, sku, amount_eur, currency, status, provider, COALESCE(provider_ref, ''), created_at
FROM orders WHERE id = ? FOR UPDATE`
	row := tx.QueryRowContext(ctx, query, orderID)

	var o models.Order
	var amount string
	if err := row.Scan(&o.ID, &o.UserID, &o.Kind, &o.SKU, &amount, &o.Currency, &o.Status, &o.Provider, &o.ProviderRef, &o.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("scan order: %w", err)
	}
	if o.AmountEUR, err = decimal.NewFromString(amount); err != nil {
		return nil, false, fmt.Errorf("parse amount: %w", err)
	}

	if o.Status != models.OrderPending {
		return &o, false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = 'paid' WHERE id = ?`, o.ID); err != nil {
		return nil, false, fmt.Errorf("mark paid: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	o.Status = models.OrderPaid
	return &o, true, nil
}
