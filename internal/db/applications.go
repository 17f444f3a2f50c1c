package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/applymate/internal/store"
	"github.com/jonathan/applymate/internal/types"
)

const applicationColumns = `id, user_id, mode, job_url, job_title, company_name, status, match_score,
	tailored_document, document_ref, cover_letter, apply_affordance, job_description, applied_at,
	error_message, retry_count, created_at, updated_at`

var terminalStatuses = []string{
	string(types.StatusConfirmed),
	string(types.StatusAnalyzed),
	string(types.StatusFailed),
}

func scanApplication(row scanner) (*types.Application, error) {
	var a types.Application
	var mode, status string
	var doc []byte
	if err := row.Scan(&a.ID, &a.UserID, &mode, &a.JobURL, &a.JobTitle, &a.CompanyName, &status, &a.MatchScore,
		&doc, &a.DocumentRef, &a.CoverLetter, &a.ApplyAffordance, &a.JobDescription, &a.AppliedAt,
		&a.ErrorMessage, &a.RetryCount, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Mode = types.ApplicationMode(mode)
	a.Status = types.ApplicationStatus(status)
	if len(doc) > 0 {
		a.TailoredDocument = &types.TailoredDocument{}
		if err := json.Unmarshal(doc, a.TailoredDocument); err != nil {
			return nil, fmt.Errorf("failed to decode tailored document: %w", err)
		}
	}
	return &a, nil
}

// marshalNullable encodes v as JSON, or nil for a nil pointer.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func statusStrings(statuses []types.ApplicationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// CreateApplicationWithDebit implements store.Repository.
func (db *DB) CreateApplicationWithDebit(ctx context.Context, app *types.Application, debit *types.CreditTransaction) error {
	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	doc, err := marshalNullable(app.TailoredDocument)
	if err != nil {
		return fmt.Errorf("failed to encode tailored document: %w", err)
	}

	return db.inTx(ctx, func(tx pgx.Tx) error {
		if debit != nil {
			appID := app.ID
			debit.ApplicationID = &appID
			if _, _, err := applyTransaction(ctx, tx, debit); err != nil {
				return err
			}
		}
		return tx.QueryRow(ctx,
			`INSERT INTO applications
			 (id, user_id, mode, job_url, job_title, company_name, status, match_score, tailored_document,
			  document_ref, cover_letter, apply_affordance, job_description, applied_at, error_message, retry_count)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			 RETURNING created_at, updated_at`,
			app.ID, app.UserID, string(app.Mode), app.JobURL, app.JobTitle, app.CompanyName, string(app.Status),
			app.MatchScore, doc, app.DocumentRef, app.CoverLetter, app.ApplyAffordance, app.JobDescription,
			app.AppliedAt, app.ErrorMessage, app.RetryCount,
		).Scan(&app.CreatedAt, &app.UpdatedAt)
	})
}

// GetApplication implements store.Repository.
func (db *DB) GetApplication(ctx context.Context, id uuid.UUID) (*types.Application, error) {
	app, err := scanApplication(db.pool.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return app, nil
}

// ListApplications implements store.Repository.
func (db *DB) ListApplications(ctx context.Context, userID string, status *types.ApplicationStatus) ([]types.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE user_id = $1`
	args := []any{userID}
	if status != nil {
		query += " AND status = $2"
		args = append(args, string(*status))
	}
	query += " ORDER BY created_at DESC"
	return db.queryApplications(ctx, query, args...)
}

// ListActiveApplications implements store.Repository.
func (db *DB) ListActiveApplications(ctx context.Context) ([]types.Application, error) {
	return db.queryApplications(ctx,
		`SELECT `+applicationColumns+` FROM applications
		 WHERE status <> ALL($1) ORDER BY created_at ASC`,
		terminalStatuses,
	)
}

func (db *DB) queryApplications(ctx context.Context, query string, args ...any) ([]types.Application, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var out []types.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		out = append(out, *app)
	}
	return out, rows.Err()
}

// lockStatus reads the current status and retry count with a row lock.
func lockStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID) (types.ApplicationStatus, int, error) {
	var status string
	var retries int
	err := tx.QueryRow(ctx,
		`SELECT status, retry_count FROM applications WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status, &retries)
	if err != nil {
		return "", 0, notFound(err)
	}
	return types.ApplicationStatus(status), retries, nil
}

// UpdateApplication implements store.Repository. The stored status is
// compared under a row lock, and retry_count only ever grows.
func (db *DB) UpdateApplication(ctx context.Context, app *types.Application, expected ...types.ApplicationStatus) error {
	doc, err := marshalNullable(app.TailoredDocument)
	if err != nil {
		return fmt.Errorf("failed to encode tailored document: %w", err)
	}

	return db.inTx(ctx, func(tx pgx.Tx) error {
		cur, _, err := lockStatus(ctx, tx, app.ID)
		if err != nil {
			return err
		}
		if !store.StatusIn(cur, expected) {
			return store.ErrStaleState
		}
		return tx.QueryRow(ctx,
			`UPDATE applications SET
			   job_title = $2, company_name = $3, status = $4, match_score = $5, tailored_document = $6,
			   document_ref = $7, cover_letter = $8, apply_affordance = $9, job_description = $10,
			   applied_at = $11, error_message = $12, retry_count = GREATEST(retry_count, $13),
			   updated_at = NOW()
			 WHERE id = $1
			 RETURNING retry_count, updated_at`,
			app.ID, app.JobTitle, app.CompanyName, string(app.Status), app.MatchScore, doc,
			app.DocumentRef, app.CoverLetter, app.ApplyAffordance, app.JobDescription,
			app.AppliedAt, app.ErrorMessage, app.RetryCount,
		).Scan(&app.RetryCount, &app.UpdatedAt)
	})
}

// FailApplicationWithRefund implements store.Repository.
func (db *DB) FailApplicationWithRefund(ctx context.Context, id uuid.UUID, expected []types.ApplicationStatus, errMsg string, refund *types.CreditTransaction) (*types.Application, error) {
	var out *types.Application
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		cur, _, err := lockStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.IsTerminal() || !store.StatusIn(cur, expected) {
			return store.ErrStaleState
		}
		if refund != nil {
			appID := id
			refund.ApplicationID = &appID
			if _, _, err := applyTransaction(ctx, tx, refund); err != nil {
				return err
			}
		}
		out, err = scanApplication(tx.QueryRow(ctx,
			`UPDATE applications SET status = $2, error_message = $3, updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+applicationColumns,
			id, string(types.StatusFailed), errMsg,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
