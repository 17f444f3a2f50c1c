// Package ledger owns per-user credit balances: lazy signup grants,
// purchases, debits at application creation and compensating refunds.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/jonathan/applymate/internal/store"
	"github.com/jonathan/applymate/internal/types"
)

// DefaultSignupGrant is the number of free credits a new account receives.
const DefaultSignupGrant = 5

// ApplicationCost is the number of credits one application consumes.
const ApplicationCost = 1

// ErrInsufficientCredit is returned when the balance cannot cover a debit.
var ErrInsufficientCredit = store.ErrInsufficientCredit

// ErrInvalidAmount is returned for non-positive purchase or grant amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

// Ledger applies credit transactions through the repository.
type Ledger struct {
	repo  store.Repository
	grant int
}

// New creates a Ledger. A negative grant uses DefaultSignupGrant.
func New(repo store.Repository, signupGrant int) *Ledger {
	if signupGrant < 0 {
		signupGrant = DefaultSignupGrant
	}
	return &Ledger{repo: repo, grant: signupGrant}
}

// Balance returns the user's account, creating it with the signup grant on
// first access.
func (l *Ledger) Balance(ctx context.Context, userID string) (*types.CreditAccount, error) {
	acct, created, err := l.repo.EnsureAccount(ctx, userID, l.grant)
	if err != nil {
		return nil, fmt.Errorf("failed to load credit account: %w", err)
	}
	if created {
		log.Printf("[LEDGER] Created account for %s with %d signup credits", userID, l.grant)
	}
	return acct, nil
}

// Require returns ErrInsufficientCredit unless the balance covers n credits.
// It is a precondition check only; the debit itself is atomic with creation.
func (l *Ledger) Require(ctx context.Context, userID string, n int) error {
	acct, err := l.Balance(ctx, userID)
	if err != nil {
		return err
	}
	if acct.Balance < n {
		return ErrInsufficientCredit
	}
	return nil
}

// Purchase adds credits bought with paymentRef. Replaying the same
// paymentRef does not add credits twice.
func (l *Ledger) Purchase(ctx context.Context, userID string, amount int, paymentRef string) (*types.CreditAccount, bool, error) {
	if amount <= 0 {
		return nil, false, ErrInvalidAmount
	}
	if _, err := l.Balance(ctx, userID); err != nil {
		return nil, false, err
	}

	key := "purchase:" + paymentRef
	tx := &types.CreditTransaction{
		UserID:         userID,
		Amount:         amount,
		Type:           types.TxPurchase,
		Description:    fmt.Sprintf("Purchased %d credits", amount),
		PaymentRef:     &paymentRef,
		IdempotencyKey: &key,
	}
	acct, applied, err := l.repo.ApplyTransaction(ctx, tx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record purchase: %w", err)
	}
	if applied {
		log.Printf("[LEDGER] %s purchased %d credits (balance %d)", userID, amount, acct.Balance)
	}
	return acct, applied, nil
}

// Grant adds free credits, e.g. promotional top-ups.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int, reason string) (*types.CreditAccount, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := l.Balance(ctx, userID); err != nil {
		return nil, err
	}
	acct, _, err := l.repo.ApplyTransaction(ctx, &types.CreditTransaction{
		UserID:      userID,
		Amount:      amount,
		Type:        types.TxPurchase,
		Description: reason,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record grant: %w", err)
	}
	return acct, nil
}

// Refund returns the credit consumed by an application. It is idempotent per
// application, so concurrent failure paths refund at most once.
func (l *Ledger) Refund(ctx context.Context, userID string, appID uuid.UUID, reason string) (bool, error) {
	_, applied, err := l.repo.ApplyTransaction(ctx, RefundFor(userID, appID, reason))
	if err != nil {
		return false, fmt.Errorf("failed to refund application %s: %w", appID, err)
	}
	return applied, nil
}

// Transactions returns the user's most recent transactions, newest first.
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]types.CreditTransaction, error) {
	return l.repo.ListTransactions(ctx, userID, limit)
}

// DebitFor builds the transaction charged when an application is created.
func DebitFor(userID, jobURL string) *types.CreditTransaction {
	return &types.CreditTransaction{
		UserID:      userID,
		Amount:      -ApplicationCost,
		Type:        types.TxApplied,
		Description: "Application for " + jobURL,
	}
}

// RefundKey is the idempotency key of an application's refund.
func RefundKey(appID uuid.UUID) string {
	return "refund:" + appID.String()
}

// RefundFor builds the compensating transaction for an application.
func RefundFor(userID string, appID uuid.UUID, reason string) *types.CreditTransaction {
	key := RefundKey(appID)
	id := appID
	if reason == "" {
		reason = "Refund for failed application"
	}
	return &types.CreditTransaction{
		UserID:         userID,
		Amount:         ApplicationCost,
		Type:           types.TxRefunded,
		Description:    reason,
		ApplicationID:  &id,
		IdempotencyKey: &key,
	}
}
