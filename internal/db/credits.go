package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/applymate/internal/store"
	"github.com/jonathan/applymate/internal/types"
)

const accountColumns = `user_id, balance, lifetime_purchased, lifetime_used, lifetime_refunded,
	subscription_tier, created_at, updated_at`

const transactionColumns = `id, user_id, amount, type, description, application_id, payment_ref,
	idempotency_key, created_at`

func scanAccount(row scanner) (*types.CreditAccount, error) {
	var a types.CreditAccount
	if err := row.Scan(&a.UserID, &a.Balance, &a.LifetimePurchased, &a.LifetimeUsed, &a.LifetimeRefunded,
		&a.SubscriptionTier, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanTransaction(row scanner) (*types.CreditTransaction, error) {
	var t types.CreditTransaction
	var txType string
	if err := row.Scan(&t.ID, &t.UserID, &t.Amount, &txType, &t.Description, &t.ApplicationID, &t.PaymentRef,
		&t.IdempotencyKey, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Type = types.TransactionType(txType)
	return &t, nil
}

// EnsureAccount implements store.Repository.
func (db *DB) EnsureAccount(ctx context.Context, userID string, grant int) (*types.CreditAccount, bool, error) {
	var acct *types.CreditAccount
	created := false
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		acct, err = scanAccount(tx.QueryRow(ctx,
			`INSERT INTO credit_accounts (user_id) VALUES ($1)
			 ON CONFLICT (user_id) DO NOTHING
			 RETURNING `+accountColumns,
			userID,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			acct, err = scanAccount(tx.QueryRow(ctx,
				`SELECT `+accountColumns+` FROM credit_accounts WHERE user_id = $1`, userID))
			return err
		}
		if err != nil {
			return err
		}
		created = true
		if grant <= 0 {
			return nil
		}
		acct, _, err = applyTransaction(ctx, tx, &types.CreditTransaction{
			UserID:      userID,
			Amount:      grant,
			Type:        types.TxPurchase,
			Description: "Signup grant",
		})
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure account: %w", err)
	}
	return acct, created, nil
}

// GetAccount implements store.Repository.
func (db *DB) GetAccount(ctx context.Context, userID string) (*types.CreditAccount, error) {
	acct, err := scanAccount(db.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE user_id = $1`, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return acct, nil
}

// ApplyTransaction implements store.Repository.
func (db *DB) ApplyTransaction(ctx context.Context, t *types.CreditTransaction) (*types.CreditAccount, bool, error) {
	var acct *types.CreditAccount
	var applied bool
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		acct, applied, err = applyTransaction(ctx, tx, t)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return acct, applied, nil
}

// applyTransaction locks the account row, records t and updates the
// balance. A duplicate idempotency key leaves everything unchanged.
func applyTransaction(ctx context.Context, tx pgx.Tx, t *types.CreditTransaction) (*types.CreditAccount, bool, error) {
	acct, err := scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE user_id = $1 FOR UPDATE`, t.UserID))
	if err != nil {
		return nil, false, notFound(err)
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO credit_transactions
		 (id, user_id, amount, type, description, application_id, payment_ref, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING created_at`,
		t.ID, t.UserID, t.Amount, string(t.Type), t.Description, t.ApplicationID, t.PaymentRef, t.IdempotencyKey,
	).Scan(&t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return acct, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert transaction: %w", err)
	}

	next := acct.Apply(t)
	if next.Balance < 0 {
		return nil, false, store.ErrInsufficientCredit
	}

	updated, err := scanAccount(tx.QueryRow(ctx,
		`UPDATE credit_accounts
		 SET balance = $2, lifetime_purchased = $3, lifetime_used = $4, lifetime_refunded = $5, updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING `+accountColumns,
		next.UserID, next.Balance, next.LifetimePurchased, next.LifetimeUsed, next.LifetimeRefunded,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to update balance: %w", err)
	}
	return updated, true, nil
}

// ListTransactions implements store.Repository.
func (db *DB) ListTransactions(ctx context.Context, userID string, limit int) ([]types.CreditTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM credit_transactions
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []types.CreditTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
