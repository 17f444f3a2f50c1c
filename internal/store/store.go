// Package store defines the persistence contract for applications, credits,
// events, profiles and tailored documents, plus an in-memory implementation.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jonathan/applymate/internal/types"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleState is returned by compare-and-set updates when the row is no
	// longer in an expected status.
	ErrStaleState = errors.New("application status changed concurrently")
	// ErrInsufficientCredit is returned when a debit would make a balance negative.
	ErrInsufficientCredit = errors.New("insufficient credit")
)

// Repository is the storage collaborator used by the ledger and pipeline.
// Composite operations are atomic: either every effect is visible or none is.
type Repository interface {
	// EnsureAccount returns the user's account, creating it with grant as
	// its first purchase transaction when missing. created reports creation.
	EnsureAccount(ctx context.Context, userID string, grant int) (acct *types.CreditAccount, created bool, err error)
	GetAccount(ctx context.Context, userID string) (*types.CreditAccount, error)
	// ApplyTransaction records tx and updates the balance. A transaction whose
	// IdempotencyKey was already recorded is not applied again; applied is false.
	ApplyTransaction(ctx context.Context, tx *types.CreditTransaction) (acct *types.CreditAccount, applied bool, err error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]types.CreditTransaction, error)

	// CreateApplicationWithDebit inserts app and applies debit in one unit.
	CreateApplicationWithDebit(ctx context.Context, app *types.Application, debit *types.CreditTransaction) error
	GetApplication(ctx context.Context, id uuid.UUID) (*types.Application, error)
	// ListApplications returns the user's applications, newest first.
	// A nil status returns every status.
	ListApplications(ctx context.Context, userID string, status *types.ApplicationStatus) ([]types.Application, error)
	// ListActiveApplications returns all non-terminal applications, oldest first.
	ListActiveApplications(ctx context.Context) ([]types.Application, error)
	// UpdateApplication writes app if the stored status is one of expected.
	// RetryCount is never lowered.
	UpdateApplication(ctx context.Context, app *types.Application, expected ...types.ApplicationStatus) error
	// FailApplicationWithRefund marks the application failed with errMsg and
	// applies refund (idempotently) in one unit, if the stored status is one
	// of expected.
	FailApplicationWithRefund(ctx context.Context, id uuid.UUID, expected []types.ApplicationStatus, errMsg string, refund *types.CreditTransaction) (*types.Application, error)

	AppendEvent(ctx context.Context, ev *types.PipelineEvent) error
	// ListEvents returns a subject's events in creation order.
	ListEvents(ctx context.Context, subjectID uuid.UUID) ([]types.PipelineEvent, error)

	UpsertProfile(ctx context.Context, p *types.Profile) error
	GetProfile(ctx context.Context, userID string) (*types.Profile, error)

	CreateDocument(ctx context.Context, d *types.DocumentRecord) error
	UpdateDocument(ctx context.Context, d *types.DocumentRecord) error
	GetDocument(ctx context.Context, id uuid.UUID) (*types.DocumentRecord, error)
}

// StatusIn reports whether s is one of expected. An empty expected list matches anything.
func StatusIn(s types.ApplicationStatus, expected []types.ApplicationStatus) bool {
	if len(expected) == 0 {
		return true
	}
	for _, e := range expected {
		if s == e {
			return true
		}
	}
	return false
}
