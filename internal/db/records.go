package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/applymate/internal/types"
)

// AppendEvent implements store.Repository.
func (db *DB) AppendEvent(ctx context.Context, ev *types.PipelineEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	var payload []byte
	if len(ev.Payload) > 0 {
		var err error
		if payload, err = json.Marshal(ev.Payload); err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}
	}

	err := db.pool.QueryRow(ctx,
		`INSERT INTO pipeline_events (id, subject_id, event_type, message, payload)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		ev.ID, ev.SubjectID, ev.EventType, ev.Message, payload,
	).Scan(&ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", ev.EventType, err)
	}
	return nil
}

// ListEvents implements store.Repository.
func (db *DB) ListEvents(ctx context.Context, subjectID uuid.UUID) ([]types.PipelineEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, subject_id, event_type, message, payload, created_at
		 FROM pipeline_events WHERE subject_id = $1 ORDER BY seq ASC`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []types.PipelineEvent
	for rows.Next() {
		var ev types.PipelineEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.SubjectID, &ev.EventType, &ev.Message, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode event payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// UpsertProfile implements store.Repository.
func (db *DB) UpsertProfile(ctx context.Context, p *types.Profile) error {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO profiles (user_id, full_name, email, base_resume, base_cover_letter, resume_ref)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET
		   full_name = EXCLUDED.full_name, email = EXCLUDED.email, base_resume = EXCLUDED.base_resume,
		   base_cover_letter = EXCLUDED.base_cover_letter, resume_ref = EXCLUDED.resume_ref, updated_at = NOW()
		 RETURNING created_at, updated_at`,
		p.UserID, p.FullName, p.Email, p.BaseResume, p.BaseCoverLetter, p.ResumeRef,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// GetProfile implements store.Repository.
func (db *DB) GetProfile(ctx context.Context, userID string) (*types.Profile, error) {
	var p types.Profile
	err := db.pool.QueryRow(ctx,
		`SELECT user_id, full_name, email, base_resume, base_cover_letter, resume_ref, created_at, updated_at
		 FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.FullName, &p.Email, &p.BaseResume, &p.BaseCoverLetter, &p.ResumeRef, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// CreateDocument implements store.Repository.
func (db *DB) CreateDocument(ctx context.Context, d *types.DocumentRecord) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	doc, err := marshalNullable(d.Document)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	err = db.pool.QueryRow(ctx,
		`INSERT INTO tailored_documents
		 (id, user_id, job_description, template, status, document, model_name, raw_response, blob_ref, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		d.ID, d.UserID, d.JobDescription, d.Template, string(d.Status), doc, d.ModelName, d.RawResponse,
		d.BlobRef, d.ErrorMessage,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// UpdateDocument implements store.Repository.
func (db *DB) UpdateDocument(ctx context.Context, d *types.DocumentRecord) error {
	doc, err := marshalNullable(d.Document)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	err = db.pool.QueryRow(ctx,
		`UPDATE tailored_documents SET
		   status = $2, document = $3, model_name = $4, raw_response = $5, blob_ref = $6,
		   error_message = $7, updated_at = NOW()
		 WHERE id = $1
		 RETURNING created_at, updated_at`,
		d.ID, string(d.Status), doc, d.ModelName, d.RawResponse, d.BlobRef, d.ErrorMessage,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return notFound(err)
	}
	return nil
}

// GetDocument implements store.Repository.
func (db *DB) GetDocument(ctx context.Context, id uuid.UUID) (*types.DocumentRecord, error) {
	var d types.DocumentRecord
	var status string
	var doc []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, user_id, job_description, template, status, document, model_name, raw_response,
		        blob_ref, error_message, created_at, updated_at
		 FROM tailored_documents WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.UserID, &d.JobDescription, &d.Template, &status, &doc, &d.ModelName, &d.RawResponse,
		&d.BlobRef, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	d.Status = types.DocumentStatus(status)
	if len(doc) > 0 {
		d.Document = &types.TailoredDocument{}
		if err := json.Unmarshal(doc, d.Document); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
	}
	return &d, nil
}
