package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/applymate/internal/document"
	"github.com/jonathan/applymate/internal/llm"
	"github.com/jonathan/applymate/internal/store"
	"github.com/jonathan/applymate/internal/types"
)

// Tailor produces a standalone tailored resume from the user's profile and
// a pasted job description. Generation failures are recorded on the returned
// record rather than returned; the error result is reserved for unmet
// preconditions and storage failures.
func (s *Service) Tailor(ctx context.Context, userID string, req types.TailorRequest) (*types.DocumentRecord, error) {
	if strings.TrimSpace(req.JobDescription) == "" {
		return nil, fmt.Errorf("%w: job_description is required", ErrInvalidRequest)
	}
	if s.generator == nil || !s.generator.Configured() {
		return nil, llm.ErrBackendUnavailable
	}
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	rec := &types.DocumentRecord{
		UserID:         userID,
		JobDescription: req.JobDescription,
		Template:       document.ResolveTemplate(req.Template),
		Status:         types.DocumentProcessing,
	}
	if err := s.repo.CreateDocument(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	out, genErr := s.generator.Tailor(ctx, document.Input{
		SubjectID:      rec.ID,
		JobDescription: req.JobDescription,
		BaseResume:     profile.BaseResume,
		Template:       rec.Template,
		Meta:           document.Meta{Name: profile.FullName, Email: profile.Email},
	})
	if genErr != nil {
		msg := genErr.Error()
		rec.Status = types.DocumentFailed
		rec.ErrorMessage = &msg
		rec.RawResponse = document.RawResponse(out, genErr)
		if out != nil && out.Document != nil {
			// Generated but not rendered; keep the document for inspection.
			rec.Document = out.Document
			rec.ModelName = out.Document.ModelName
		}
		log.Printf("[TAILOR] Document %s failed: %v", rec.ID, genErr)
	} else {
		rec.Status = types.DocumentCompleted
		rec.Document = out.Document
		rec.ModelName = out.Document.ModelName
		rec.RawResponse = out.Document.RawText
		rec.BlobRef = &out.Ref
	}

	// The record must reach a final status even if the request was cancelled.
	if err := s.repo.UpdateDocument(context.WithoutCancel(ctx), rec); err != nil {
		return nil, fmt.Errorf("failed to update document record: %w", err)
	}
	return rec, nil
}

// Document returns one of the user's tailored documents.
func (s *Service) Document(ctx context.Context, userID string, id uuid.UUID) (*types.DocumentRecord, error) {
	rec, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

// DocumentEvents returns the event trail of one of the user's documents.
func (s *Service) DocumentEvents(ctx context.Context, userID string, id uuid.UUID) ([]types.PipelineEvent, error) {
	if _, err := s.Document(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.history.List(ctx, id)
}
