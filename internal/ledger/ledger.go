// Package ledger owns every balance-mutating path. All operations run inside
// a transaction that locks the affected user row, and every balance change is
// mirrored by an append-only ledger entry so that the sum of deltas always
// equals the stored balance.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGMediaGen/internal/models"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrHoldNotFound      = errors.New("hold not found")
	ErrAlreadyCaptured   = errors.New("hold already captured")
	ErrAlreadyReleased   = errors.New("hold already released")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

// WelcomeCredits is granted once when a user is first seen.
var WelcomeCredits = decimal.RequireFromString("5.00")

type Service struct {
	db  *sql.DB
	log *slog.Logger
}

func NewService(db *sql.DB, log *slog.Logger) *Service {
	return &Service{db: db, log: log}
}

// EnsureUser upserts the caller after a verified init payload. First sight
// creates the row with the welcome grant and its ledger entry in one
// transaction; later sights refresh the profile fields.
func (s *Service) EnsureUser(ctx context.Context, telegramID int64, username, firstName string) (*models.User, bool, error) {
	const find = `
SELECT id, telegram_id, COALESCE(username, ''), COALESCE(first_name, ''), credits, extra_credits, plan_sku, created_at, updated_at
FROM users WHERE telegram_id = ?`

	user, err := s.scanUserRow(s.db.QueryRowContext(ctx, find, telegramID))
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		if user.Username != username || user.FirstName != firstName {
			const update = `UPDATE users SET username = NULLIF(?, ''), first_name = NULLIF(?, ''), updated_at = NOW() WHERE id = ?`
			if _, err := s.db.ExecContext(ctx, update, username, firstName, user.ID); err != nil {
				s.log.Error("refresh profile", "user_id", user.ID, "err", err)
			}
		}
		return user, false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const insert = `
INSERT INTO users (telegram_id, username, first_name, credits)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), ?)`
	res, err := tx.ExecContext(ctx, insert, telegramID, username, firstName, WelcomeCredits.StringFixed(2))
	if err != nil {
		// A concurrent first request may have won the insert race.
		if existing, ferr := s.scanUserRow(s.db.QueryRowContext(ctx, find, telegramID)); ferr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	userID, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}

	if err := appendEntry(ctx, tx, userID, WelcomeCredits, "Welcome bonus", "", ""); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}

	user, err = s.scanUserRow(s.db.QueryRowContext(ctx, find, telegramID))
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// Grant appends +amount and updates the balance.
func (s *Service) Grant(ctx context.Context, userID int64, amount decimal.Decimal, reason, provider, providerRef string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	var balance decimal.Decimal
	err := s.withUserLock(ctx, userID, func(tx *sql.Tx, credits decimal.Decimal) error {
		balance = credits.Add(amount)
		if err := setBalance(ctx, tx, userID, balance); err != nil {
			return err
		}
		return appendEntry(ctx, tx, userID, amount, reason, provider, providerRef)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// Debit subtracts amount, failing with ErrInsufficientFunds if the balance
// would go negative.
func (s *Service) Debit(ctx context.Context, userID int64, amount decimal.Decimal, reason, provider, providerRef string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	var balance decimal.Decimal
	err := s.withUserLock(ctx, userID, func(tx *sql.Tx, credits decimal.Decimal) error {
		if credits.LessThan(amount) {
			return ErrInsufficientFunds
		}
		balance = credits.Sub(amount)
		if err := setBalance(ctx, tx, userID, balance); err != nil {
			return err
		}
		return appendEntry(ctx, tx, userID, amount.Neg(), reason, provider, providerRef)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// Hold atomically debits the amount and records a HELD reservation. With a
// non-empty idempotencyKey a repeated call returns the existing hold id and
// created=false without a second debit.
func (s *Service) Hold(ctx context.Context, userID int64, amount decimal.Decimal, reason, provider, idempotencyKey string) (int64, bool, error) {
	if !amount.IsPositive() {
		return 0, false, ErrInvalidAmount
	}
	var holdID int64
	created := false
	err := s.withUserLock(ctx, userID, func(tx *sql.Tx, credits decimal.Decimal) error {
		if idempotencyKey != "" {
			const lookup = `SELECT id FROM credit_holds WHERE idempotency_key = ?`
			var existing int64
			switch err := tx.QueryRowContext(ctx, lookup, idempotencyKey).Scan(&existing); {
			case err == nil:
				holdID = existing
				return nil
			case errors.Is(err, sql.ErrNoRows):
			default:
				return fmt.Errorf("lookup hold: %w", err)
			}
		}

		if credits.LessThan(amount) {
			return ErrInsufficientFunds
		}
		if err := setBalance(ctx, tx, userID, credits.Sub(amount)); err != nil {
			return err
		}
		if err := appendEntry(ctx, tx, userID, amount.Neg(), reason, provider, ""); err != nil {
			return err
		}

		const insert = `
INSERT INTO credit_holds (user_id, amount, state, reason, provider, idempotency_key)
VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`
		res, err := tx.ExecContext(ctx, insert, userID, amount.StringFixed(2), models.HoldHeld, reason, provider, idempotencyKey)
		if err != nil {
			return fmt.Errorf("insert hold: %w", err)
		}
		if holdID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return holdID, created, nil
}

// Capture finalizes a HELD reservation. Capturing twice is a no-op; capturing
// a released hold is ErrAlreadyReleased.
func (s *Service) Capture(ctx context.Context, holdID int64, providerRef string) error {
	return s.withHoldLock(ctx, holdID, func(tx *sql.Tx, hold *models.CreditHold) error {
		next, err := holdTransition(hold.State, actionCapture)
		if err != nil || next == hold.State {
			return err
		}
		const update = `UPDATE credit_holds SET state = ?, provider_ref = COALESCE(NULLIF(?, ''), provider_ref) WHERE id = ?`
		if _, err := tx.ExecContext(ctx, update, next, providerRef, holdID); err != nil {
			return fmt.Errorf("capture hold: %w", err)
		}
		return nil
	})
}

// Release refunds a HELD reservation, crediting the held amount back with a
// ledger entry that references the hold. Releasing twice is a no-op;
// releasing a captured hold is ErrAlreadyCaptured. The returned flag reports
// whether this call produced a refund.
func (s *Service) Release(ctx context.Context, holdID int64, reason string) (bool, error) {
	refunded := false
	err := s.withHoldLock(ctx, holdID, func(tx *sql.Tx, hold *models.CreditHold) error {
		next, err := holdTransition(hold.State, actionRelease)
		if err != nil || next == hold.State {
			return err
		}

		// Lock the user row for the refund inside the same transaction.
		var creditsRaw string
		const lockUser = `SELECT credits FROM users WHERE id = ? FOR UPDATE`
		if err := tx.QueryRowContext(ctx, lockUser, hold.UserID).Scan(&creditsRaw); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		credits, err := decimal.NewFromString(creditsRaw)
		if err != nil {
			return fmt.Errorf("parse credits: %w", err)
		}

		if err := setBalance(ctx, tx, hold.UserID, credits.Add(hold.Amount)); err != nil {
			return err
		}
		ref := fmt.Sprintf("hold:%d", holdID)
		if err := appendEntry(ctx, tx, hold.UserID, hold.Amount, reason, hold.Provider, ref); err != nil {
			return err
		}

		const update = `UPDATE credit_holds SET state = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, update, next, holdID); err != nil {
			return fmt.Errorf("release hold: %w", err)
		}
		refunded = true
		return nil
	})
	return refunded, err
}

func (s *Service) withUserLock(ctx context.Context, userID int64, fn func(tx *sql.Tx, credits decimal.Decimal) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var creditsRaw string
	const lock = `SELECT credits FROM users WHERE id = ? FOR UPDATE`
	if err := tx.QueryRowContext(ctx, lock, userID).Scan(&creditsRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %d not found", userID)
		}
		return fmt.Errorf("lock user: %w", err)
	}
	credits, err := decimal.NewFromString(creditsRaw)
	if err != nil {
		return fmt.Errorf("parse credits: %w", err)
	}

	if err := fn(tx, credits); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Service) withHoldLock(ctx context.Context, holdID int64, fn func(tx *sql.Tx, hold *models.CreditHold) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const lock = `
SELECT id, user_id, amount, state, reason, COALESCE(provider, ''), COALESCE(provider_ref, ''), COALESCE(idempotency_key, ''), created_at
FROM credit_holds WHERE id = ? FOR UPDATE`
	hold, err := scanHold(tx.QueryRowContext(ctx, lock, holdID))
	if err != nil {
		return err
	}
	if hold == nil {
		return ErrHoldNotFound
	}

	if err := fn(tx, hold); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Service) scanUserRow(row *sql.Row) (*models.User, error) {
	var u models.User
	var credits, extra string
	if err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &credits, &extra, &u.PlanSKU, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	var err error
	if u.Credits, err = decimal.NewFromString(credits); err != nil {
		return nil, fmt.Errorf("parse credits: %w", err)
	}
	if u.ExtraCredits, err = decimal.NewFromString(extra); err != nil {
		return nil, fmt.Errorf("parse extra credits: %w", err)
	}
	return &u, nil
}

func scanHold(row *sql.Row) (*models.CreditHold, error) {
	var h models.CreditHold
	var amount string
	if err := row.Scan(&h.ID, &h.UserID, &amount, &h.State, &h.Reason, &h.Provider, &h.ProviderRef, &h.IdempotencyKey, &h.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan hold: %w", err)
	}
	var err error
	if h.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse hold amount: %w", err)
	}
	return &h, nil
}

func setBalance(ctx context.Context, tx *sql.Tx, userID int64, balance decimal.Decimal) error {
	const query = `UPDATE users SET credits = ?, updated_at = NOW() WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, balance.StringFixed(2), userID); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func appendEntry(ctx context.Context, tx *sql.Tx, userID int64, delta decimal.Decimal, reason, provider, providerRef string) error {
	const query = `
INSERT INTO credit_ledger (user_id, delta, reason, provider, provider_ref)
VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`
	if _, err := tx.ExecContext(ctx, query, userID, delta.StringFixed(2), reason, provider, providerRef); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}
