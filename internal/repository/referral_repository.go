package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGMediaGen/internal/models"
)

type ReferralRepository struct {
	db *sql.DB
}

func NewReferralRepository(db *sql.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

func (r *ReferralRepository) CreateLink(ctx context.Context, code string, inviterUserID int64) error {
	const query = `INSERT INTO referral_links (code, inviter_user_id) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, code, inviterUserID); err != nil {
		return fmt.Errorf("insert referral link: %w", err)
	}
	return nil
}

func (r *ReferralRepository) FindLinkByInviter(ctx context.Context, inviterUserID int64) (*models.ReferralLink, error) {
	const query = `SELECT code, inviter_user_id, created_at FROM referral_links WHERE inviter_user_id = ? LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, inviterUserID)
	var link models.ReferralLink
	if err := row.Scan(&link.Code, &link.InviterUserID, &link.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan referral link: %w", err)
	}
	return &link, nil
}

func (r *ReferralRepository) FindLink(ctx context.Context, code string) (*models.ReferralLink, error) {
	const query = `SELECT code, inviter_user_id, created_at FROM referral_links WHERE code = ?`
	row := r.db.QueryRowContext(ctx, query, code)
	var link models.ReferralLink
	if err := row.Scan(&link.Code, &link.InviterUserID, &link.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan referral link: %w", err)
	}
	return &link, nil
}

// EnsureReferral records the inviter/invitee attribution on first sight.
// Self-referrals and repeated attributions are ignored.
func (r *ReferralRepository) EnsureReferral(ctx context.Context, inviterUserID, inviteeUserID int64) error {
	if inviterUserID == inviteeUserID {
		return nil
	}
	const query = `INSERT IGNORE INTO referrals (inviter_user_id, invitee_user_id) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, inviterUserID, inviteeUserID); err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

// AddPurchase accumulates an invitee's paid amount and returns the inviter id,
// or 0 when the invitee was not referred.
func (r *ReferralRepository) AddPurchase(ctx context.Context, inviteeUserID int64, amountEUR decimal.Decimal) (int64, error) {
	const query = `
UPDATE referrals SET purchases_amount_eur = purchases_amount_eur + ?
WHERE invitee_user_id = ?`
	if _, err := r.db.ExecContext(ctx, query, amountEUR.StringFixed(2), inviteeUserID); err != nil {
		return 0, fmt.Errorf("add referral purchase: %w", err)
	}

	const lookup = `SELECT inviter_user_id FROM referrals WHERE invitee_user_id = ?`
	var inviterID int64
	if err := r.db.QueryRowContext(ctx, lookup, inviteeUserID).Scan(&inviterID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("find inviter: %w", err)
	}
	return inviterID, nil
}

// ReferralItem is one invitee row for the referral stats listing.
type ReferralItem struct {
	InviteeUserID      int64           `json:"invitee_user_id"`
	InviteeUsername    string          `json:"invitee_username"`
	FirstSeenAt        time.Time       `json:"first_seen_at"`
	PurchasesAmountEUR decimal.Decimal `json:"purchases_amount_eur"`
}

func (r *ReferralRepository) ListByInviter(ctx context.Context, inviterUserID int64) ([]ReferralItem, error) {
	const query = `
SELECT ref.invitee_user_id, COALESCE(u.username, ''), ref.first_seen_at, ref.purchases_amount_eur
FROM referrals ref
JOIN users u ON u.id = ref.invitee_user_id
WHERE ref.inviter_user_id = ?
ORDER BY ref.first_seen_at DESC`
	rows, err := r.db.QueryContext(ctx, query, inviterUserID)
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	defer rows.Close()

	var items []ReferralItem
	for rows.Next() {
		var item ReferralItem
		var amount string
		if err := rows.Scan(&item.InviteeUserID, &item.InviteeUsername, &item.FirstSeenAt, &amount); err != nil {
			return nil, fmt.Errorf("scan referral row: %w", err)
		}
		if item.PurchasesAmountEUR, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse purchase amount: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
