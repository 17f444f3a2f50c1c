package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/applymate/internal/types"
)

// Memory is a Repository held in process memory. A single mutex serialises
// every operation, which makes each composite operation atomic.
type Memory struct {
	mu           sync.Mutex
	now          func() time.Time
	accounts     map[string]*types.CreditAccount
	transactions []types.CreditTransaction
	idempotency  map[string]struct{}
	applications map[uuid.UUID]*types.Application
	events       map[uuid.UUID][]types.PipelineEvent
	profiles     map[string]*types.Profile
	documents    map[uuid.UUID]*types.DocumentRecord
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		now:          time.Now,
		accounts:     make(map[string]*types.CreditAccount),
		idempotency:  make(map[string]struct{}),
		applications: make(map[uuid.UUID]*types.Application),
		events:       make(map[uuid.UUID][]types.PipelineEvent),
		profiles:     make(map[string]*types.Profile),
		documents:    make(map[uuid.UUID]*types.DocumentRecord),
	}
}

var _ Repository = (*Memory)(nil)

// EnsureAccount implements Repository.
func (m *Memory) EnsureAccount(_ context.Context, userID string, grant int) (*types.CreditAccount, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acct, ok := m.accounts[userID]; ok {
		cp := *acct
		return &cp, false, nil
	}

	now := m.now()
	acct := &types.CreditAccount{
		UserID:           userID,
		SubscriptionTier: "free",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.accounts[userID] = acct
	if grant > 0 {
		tx := &types.CreditTransaction{
			UserID:      userID,
			Amount:      grant,
			Type:        types.TxPurchase,
			Description: "Signup grant",
		}
		if _, _, err := m.applyLocked(tx); err != nil {
			delete(m.accounts, userID)
			return nil, false, err
		}
	}
	cp := *acct
	return &cp, true, nil
}

// GetAccount implements Repository.
func (m *Memory) GetAccount(_ context.Context, userID string) (*types.CreditAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

// ApplyTransaction implements Repository.
func (m *Memory) ApplyTransaction(_ context.Context, tx *types.CreditTransaction) (*types.CreditAccount, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(tx)
}

func (m *Memory) applyLocked(tx *types.CreditTransaction) (*types.CreditAccount, bool, error) {
	acct, ok := m.accounts[tx.UserID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if tx.IdempotencyKey != nil {
		if _, dup := m.idempotency[*tx.IdempotencyKey]; dup {
			cp := *acct
			return &cp, false, nil
		}
	}

	next := acct.Apply(tx)
	if next.Balance < 0 {
		return nil, false, ErrInsufficientCredit
	}

	now := m.now()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	tx.CreatedAt = now
	next.UpdatedAt = now
	*acct = next
	m.transactions = append(m.transactions, *tx)
	if tx.IdempotencyKey != nil {
		m.idempotency[*tx.IdempotencyKey] = struct{}{}
	}

	cp := *acct
	return &cp, true, nil
}

// ListTransactions implements Repository.
func (m *Memory) ListTransactions(_ context.Context, userID string, limit int) ([]types.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.CreditTransaction
	for i := len(m.transactions) - 1; i >= 0; i-- {
		if m.transactions[i].UserID != userID {
			continue
		}
		out = append(out, m.transactions[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// CreateApplicationWithDebit implements Repository.
func (m *Memory) CreateApplicationWithDebit(_ context.Context, app *types.Application, debit *types.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	if debit != nil {
		appID := app.ID
		debit.ApplicationID = &appID
		if _, _, err := m.applyLocked(debit); err != nil {
			return err
		}
	}

	now := m.now()
	app.CreatedAt = now
	app.UpdatedAt = now
	m.applications[app.ID] = app.Clone()
	return nil
}

// GetApplication implements Repository.
func (m *Memory) GetApplication(_ context.Context, id uuid.UUID) (*types.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.applications[id]
	if !ok {
		return nil, ErrNotFound
	}
	return app.Clone(), nil
}

// ListApplications implements Repository.
func (m *Memory) ListApplications(_ context.Context, userID string, status *types.ApplicationStatus) ([]types.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Application
	for _, app := range m.applications {
		if app.UserID != userID {
			continue
		}
		if status != nil && app.Status != *status {
			continue
		}
		out = append(out, *app.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListActiveApplications implements Repository.
func (m *Memory) ListActiveApplications(_ context.Context) ([]types.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Application
	for _, app := range m.applications {
		if !app.Status.IsTerminal() {
			out = append(out, *app.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateApplication implements Repository.
func (m *Memory) UpdateApplication(_ context.Context, app *types.Application, expected ...types.ApplicationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.applications[app.ID]
	if !ok {
		return ErrNotFound
	}
	if !StatusIn(cur.Status, expected) {
		return ErrStaleState
	}

	next := app.Clone()
	if next.RetryCount < cur.RetryCount {
		next.RetryCount = cur.RetryCount
	}
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = m.now()
	m.applications[app.ID] = next

	app.RetryCount = next.RetryCount
	app.UpdatedAt = next.UpdatedAt
	return nil
}

// FailApplicationWithRefund implements Repository.
func (m *Memory) FailApplicationWithRefund(_ context.Context, id uuid.UUID, expected []types.ApplicationStatus, errMsg string, refund *types.CreditTransaction) (*types.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.applications[id]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Status.IsTerminal() || !StatusIn(cur.Status, expected) {
		return nil, ErrStaleState
	}

	if refund != nil {
		refund.ApplicationID = &id
		if _, _, err := m.applyLocked(refund); err != nil {
			return nil, err
		}
	}

	next := cur.Clone()
	next.Status = types.StatusFailed
	next.ErrorMessage = &errMsg
	next.UpdatedAt = m.now()
	m.applications[id] = next
	return next.Clone(), nil
}

// AppendEvent implements Repository.
func (m *Memory) AppendEvent(_ context.Context, ev *types.PipelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.now()
	}
	m.events[ev.SubjectID] = append(m.events[ev.SubjectID], *ev)
	return nil
}

// ListEvents implements Repository.
func (m *Memory) ListEvents(_ context.Context, subjectID uuid.UUID) ([]types.PipelineEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	evs := m.events[subjectID]
	out := make([]types.PipelineEvent, len(evs))
	copy(out, evs)
	return out, nil
}

// UpsertProfile implements Repository.
func (m *Memory) UpsertProfile(_ context.Context, p *types.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, ok := m.profiles[p.UserID]; ok {
		p.CreatedAt = cur.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := *p
	m.profiles[p.UserID] = &cp
	return nil
}

// GetProfile implements Repository.
func (m *Memory) GetProfile(_ context.Context, userID string) (*types.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// CreateDocument implements Repository.
func (m *Memory) CreateDocument(_ context.Context, d *types.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := m.now()
	d.CreatedAt = now
	d.UpdatedAt = now
	m.documents[d.ID] = cloneDocument(d)
	return nil
}

// UpdateDocument implements Repository.
func (m *Memory) UpdateDocument(_ context.Context, d *types.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.documents[d.ID]
	if !ok {
		return ErrNotFound
	}
	d.CreatedAt = cur.CreatedAt
	d.UpdatedAt = m.now()
	m.documents[d.ID] = cloneDocument(d)
	return nil
}

// GetDocument implements Repository.
func (m *Memory) GetDocument(_ context.Context, id uuid.UUID) (*types.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(d), nil
}

func cloneDocument(d *types.DocumentRecord) *types.DocumentRecord {
	cp := *d
	cp.Document = d.Document.Clone()
	if d.BlobRef != nil {
		v := *d.BlobRef
		cp.BlobRef = &v
	}
	if d.ErrorMessage != nil {
		v := *d.ErrorMessage
		cp.ErrorMessage = &v
	}
	return &cp
}
