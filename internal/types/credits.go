package types

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType is the business reason for a credit transaction.
type TransactionType string

// Transaction types
const (
	TxPurchase TransactionType = "purchase"
	TxApplied  TransactionType = "applied"
	TxRefunded TransactionType = "refunded"
)

// CreditAccount is the per-user credit balance.
// Balance always equals LifetimePurchased - LifetimeUsed + LifetimeRefunded.
type CreditAccount struct {
	UserID            string    `json:"user_id"`
	Balance           int       `json:"balance"`
	LifetimePurchased int       `json:"lifetime_purchased"`
	LifetimeUsed      int       `json:"lifetime_used"`
	LifetimeRefunded  int       `json:"lifetime_refunded"`
	SubscriptionTier  string    `json:"subscription_tier"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Consistent reports whether the balance identity holds.
func (a *CreditAccount) Consistent() bool {
	return a.Balance == a.LifetimePurchased-a.LifetimeUsed+a.LifetimeRefunded && a.Balance >= 0
}

// Apply returns a copy of the account with the transaction's effect applied.
// It does not check for a negative balance.
func (a CreditAccount) Apply(tx *CreditTransaction) CreditAccount {
	a.Balance += tx.Amount
	switch tx.Type {
	case TxPurchase:
		a.LifetimePurchased += tx.Amount
	case TxApplied:
		a.LifetimeUsed -= tx.Amount
	case TxRefunded:
		a.LifetimeRefunded += tx.Amount
	}
	return a
}

// CreditTransaction is an immutable audit entry. Negative amounts are debits.
type CreditTransaction struct {
	ID             uuid.UUID       `json:"id"`
	UserID         string          `json:"user_id"`
	Amount         int             `json:"amount"`
	Type           TransactionType `json:"type"`
	Description    string          `json:"description"`
	ApplicationID  *uuid.UUID      `json:"application_id,omitempty"`
	PaymentRef     *string         `json:"payment_ref,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
