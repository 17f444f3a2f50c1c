// Package events records the append-only audit trail of pipeline and
// document activity.
package events

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/jonathan/applymate/internal/store"
	"github.com/jonathan/applymate/internal/types"
)

// Event types
const (
	ApplicationQueued    = "application_queued"
	StatusChanged        = "status_changed"
	ExtractionStarted    = "extraction_started"
	ExtractionCompleted  = "extraction_completed"
	ExtractionDegraded   = "extraction_degraded"
	ScoreComputed        = "score_computed"
	StageRetry           = "stage_retry"
	StaleTaskDiscarded   = "stale_task_discarded"
	SubmissionStarted    = "submission_started"
	SubmissionConfirmed  = "submission_confirmed"
	ApplicationFailed    = "application_failed"
	ApplicationCancelled = "application_cancelled"
	CreditRefunded       = "credit_refunded"

	TailoringStarted    = "tailoring_started"
	LLMResponseReceived = "llm_response_received"
	LLMParseFailed      = "llm_parse_failed"
	LLMValidated        = "llm_validated"
	DocumentRendered    = "document_rendered"
	TailoringCompleted  = "tailoring_completed"
	TailoringFailed     = "tailoring_failed"
	CoverLetterWritten  = "cover_letter_written"
	CoverLetterFailed   = "cover_letter_failed"
)

// Sink is where generation code reports events. Recorder implements it.
type Sink interface {
	Record(ctx context.Context, subjectID uuid.UUID, eventType, message string, payload map[string]any)
}

// Recorder appends events to the repository and mirrors them to the log.
type Recorder struct {
	repo    store.Repository
	verbose bool
}

// NewRecorder creates a Recorder.
func NewRecorder(repo store.Repository, verbose bool) *Recorder {
	return &Recorder{repo: repo, verbose: verbose}
}

// Record appends one event. Storage failures are logged, never returned:
// an unrecordable event must not change pipeline outcomes.
func (r *Recorder) Record(ctx context.Context, subjectID uuid.UUID, eventType, message string, payload map[string]any) {
	ev := &types.PipelineEvent{
		SubjectID: subjectID,
		EventType: eventType,
		Message:   message,
		Payload:   payload,
	}
	if err := r.repo.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		log.Printf("[EVENTS] Failed to record %s for %s: %v", eventType, subjectID, err)
		return
	}
	if r.verbose {
		log.Printf("[EVENTS] %s %s: %s", subjectID, eventType, message)
	}
}

// List returns a subject's events in creation order.
func (r *Recorder) List(ctx context.Context, subjectID uuid.UUID) ([]types.PipelineEvent, error) {
	return r.repo.ListEvents(ctx, subjectID)
}

// Since returns events after the first skip entries, for incremental readers.
func (r *Recorder) Since(ctx context.Context, subjectID uuid.UUID, skip int) ([]types.PipelineEvent, error) {
	evs, err := r.repo.ListEvents(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if skip >= len(evs) {
		return nil, nil
	}
	return evs[skip:], nil
}

// Discard is a Sink that drops everything. Used by CLI commands without storage.
type Discard struct{}

// Record implements Sink.
func (Discard) Record(context.Context, uuid.UUID, string, string, map[string]any) {}
