package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jonathan/applymate/internal/document"
	"github.com/jonathan/applymate/internal/events"
	"github.com/jonathan/applymate/internal/fetch"
	"github.com/jonathan/applymate/internal/ledger"
	"github.com/jonathan/applymate/internal/pipeline/steps"
	"github.com/jonathan/applymate/internal/store"
	"github.com/jonathan/applymate/internal/types"
)

// handle runs one stage attempt and commits its outcome. Every status write
// is a compare-and-set against the stage's status, so a task that lost a race
// with a cancellation or a duplicate task discards itself.
func (s *Service) handle(ctx context.Context, t Task) {
	def, ok := steps.StageRegistry[t.Stage]
	if !ok {
		log.Printf("[PIPELINE] Unknown stage %q for %s", t.Stage, t.ApplicationID)
		return
	}

	app, err := s.repo.GetApplication(ctx, t.ApplicationID)
	if err != nil {
		log.Printf("[PIPELINE] Failed to load application %s: %v", t.ApplicationID, err)
		return
	}
	if !store.StatusIn(app.Status, def.Entry) {
		s.discard(ctx, app, t)
		return
	}

	if app.Status != def.Status {
		if err := s.transition(ctx, app, def.Status); err != nil {
			s.discardOn(ctx, app, t, err)
			return
		}
	}

	stageCtx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
	done, err := s.runStage(stageCtx, app, t)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down; Recover picks the application up again.
			return
		}
		s.retryOrFail(ctx, app, t, def, err)
		return
	}

	next, err := steps.Next(t.Stage, app.Mode)
	if err != nil {
		s.retryOrFail(ctx, app, t, def, Permanent(err))
		return
	}
	if next == types.StatusConfirmed {
		now := time.Now().UTC()
		app.AppliedAt = &now
	}
	if err := s.transition(ctx, app, next); err != nil {
		s.discardOn(ctx, app, t, err)
		return
	}
	if done != nil {
		s.events.Record(ctx, app.ID, done.eventType, done.message, done.payload)
	}

	switch next {
	case types.StatusConfirmed:
		s.events.Record(ctx, app.ID, events.SubmissionConfirmed, "Application submitted", map[string]any{
			"applied_at": app.AppliedAt,
		})
		log.Printf("[PIPELINE] Application %s confirmed", app.ID)
	case types.StatusAnalyzed:
		log.Printf("[PIPELINE] Application %s analyzed", app.ID)
	default:
		nextDef, _ := steps.ForStatus(next)
		s.dispatcher.Dispatch(Task{ApplicationID: app.ID, Stage: nextDef.Name, Attempt: 1})
	}
}

// stageOutcome is an event describing a stage result. It is recorded only
// once the result has been committed with the next status.
type stageOutcome struct {
	eventType string
	message   string
	payload   map[string]any
}

func (s *Service) runStage(ctx context.Context, app *types.Application, t Task) (*stageOutcome, error) {
	switch t.Stage {
	case steps.StageScrape:
		return s.scrape(ctx, app, t)
	case steps.StageAnalyze:
		return nil, s.analyze(ctx, app)
	case steps.StageCraft:
		return nil, s.craft(ctx, app)
	case steps.StageSubmit:
		return nil, s.submit(ctx, app)
	default:
		return nil, Permanent(fmt.Errorf("unknown stage: %s", t.Stage))
	}
}

// scrape extracts the posting. Retryable fetch errors are retried while
// attempts remain; after that, or for permanent fetch errors, the degraded
// extraction is used so scoring still has text to work with.
func (s *Service) scrape(ctx context.Context, app *types.Application, t Task) (*stageOutcome, error) {
	s.events.Record(ctx, app.ID, events.ExtractionStarted, "Extracting job posting", map[string]any{
		"url":     app.JobURL,
		"attempt": t.Attempt,
	})

	ext, err := s.extractor.Extract(ctx, app.JobURL)
	if err != nil {
		if fetch.IsRetryable(err) && t.Attempt < s.opts.Ceilings.For(steps.StageScrape) {
			return nil, err
		}
		if ext == nil {
			return nil, Permanent(err)
		}
		s.events.Record(ctx, app.ID, events.ExtractionDegraded, "Extraction degraded", map[string]any{
			"error": err.Error(),
		})
	}

	if app.JobTitle == nil && ext.Title != "" {
		app.JobTitle = types.StringPtr(ext.Title)
	}
	if app.CompanyName == nil && ext.Company != nil {
		app.CompanyName = types.StringPtr(*ext.Company)
	}
	app.JobDescription = types.StringPtr(ext.Description)
	if ext.ApplyAffordanceFound {
		app.ApplyAffordance = types.StringPtr(ext.ApplySelector)
	}

	return &stageOutcome{
		eventType: events.ExtractionCompleted,
		message:   "Job posting extracted",
		payload: map[string]any{
			"title":              ext.Title,
			"company_found":      ext.Company != nil,
			"apply_found":        ext.ApplyAffordanceFound,
			"platform":           ext.Platform,
			"description_length": len(ext.Description),
		},
	}, nil
}

func (s *Service) analyze(ctx context.Context, app *types.Application) error {
	profile, err := s.profile(ctx, app.UserID)
	if err != nil {
		return Permanent(err)
	}

	res := s.scorer.Score(ctx, deref(app.JobDescription), profile.BaseResume)
	app.MatchScore = types.IntPtr(res.Score)

	payload := map[string]any{
		"score":  res.Score,
		"status": string(res.Status),
	}
	if res.Err != nil {
		payload["error"] = res.Err.Error()
	}
	s.events.Record(ctx, app.ID, events.ScoreComputed, fmt.Sprintf("Match score %d", res.Score), payload)
	return nil
}

// craft generates and stores the tailored document. The cover letter is best
// effort and never fails the stage.
func (s *Service) craft(ctx context.Context, app *types.Application) error {
	profile, err := s.profile(ctx, app.UserID)
	if err != nil {
		return Permanent(err)
	}

	in := document.Input{
		SubjectID:       app.ID,
		JobTitle:        deref(app.JobTitle),
		Company:         deref(app.CompanyName),
		JobDescription:  deref(app.JobDescription),
		BaseResume:      profile.BaseResume,
		BaseCoverLetter: profile.BaseCoverLetter,
		Template:        document.DefaultTemplate,
		Meta:            document.Meta{Name: profile.FullName, Email: profile.Email},
	}

	out, err := s.generator.Tailor(ctx, in)
	if err != nil {
		if errors.Is(err, document.ErrGenerationUnavailable) {
			return Permanent(err)
		}
		return err
	}
	app.TailoredDocument = out.Document
	app.DocumentRef = types.StringPtr(out.Ref)

	letter, err := s.generator.WriteCoverLetter(ctx, in)
	if err != nil {
		s.events.Record(ctx, app.ID, events.CoverLetterFailed, "Cover letter generation failed", map[string]any{
			"error": err.Error(),
		})
		return nil
	}
	app.CoverLetter = &letter
	s.events.Record(ctx, app.ID, events.CoverLetterWritten, "Cover letter written", map[string]any{
		"length": len(letter),
	})
	return nil
}

func (s *Service) submit(ctx context.Context, app *types.Application) error {
	if s.submitter == nil {
		return Permanent(ErrSubmissionUnavailable)
	}
	profile, err := s.profile(ctx, app.UserID)
	if err != nil {
		return Permanent(err)
	}

	s.events.Record(ctx, app.ID, events.SubmissionStarted, "Submitting application", map[string]any{
		"url":            app.JobURL,
		"apply_selector": deref(app.ApplyAffordance),
	})
	return s.submitter.Submit(ctx, SubmitRequest{
		ApplicationID: app.ID,
		JobURL:        app.JobURL,
		ApplySelector: deref(app.ApplyAffordance),
		Profile:       *profile,
		Document:      app.TailoredDocument,
		DocumentRef:   deref(app.DocumentRef),
		CoverLetter:   deref(app.CoverLetter),
	})
}

// retryOrFail counts the failed attempt, then either schedules another
// attempt after a backoff or fails the application with a refund.
func (s *Service) retryOrFail(ctx context.Context, app *types.Application, t Task, def steps.StageDefinition, cause error) {
	stageErr := &StageError{Stage: t.Stage, Attempt: t.Attempt, Cause: cause}
	log.Printf("[PIPELINE] %v", stageErr)

	app.RetryCount++
	if err := s.repo.UpdateApplication(ctx, app, def.Status); err != nil {
		s.discardOn(ctx, app, t, err)
		return
	}

	ceiling := s.opts.Ceilings.For(t.Stage)
	if IsPermanent(cause) || t.Attempt >= ceiling {
		s.fail(ctx, app, def.Status, t, cause)
		return
	}

	delay := s.opts.Backoff.Delay(t.Attempt)
	s.events.Record(ctx, app.ID, events.StageRetry, fmt.Sprintf("Retrying %s after failure", t.Stage), map[string]any{
		"stage":       t.Stage,
		"attempt":     t.Attempt,
		"retry_count": app.RetryCount,
		"error":       cause.Error(),
		"delay_ms":    delay.Milliseconds(),
	})
	s.dispatcher.DispatchAfter(Task{ApplicationID: app.ID, Stage: t.Stage, Attempt: t.Attempt + 1}, delay)
}

func (s *Service) fail(ctx context.Context, app *types.Application, expected types.ApplicationStatus, t Task, cause error) {
	msg := fmt.Sprintf("%s failed: %v", t.Stage, cause)
	failed, err := s.repo.FailApplicationWithRefund(ctx, app.ID, []types.ApplicationStatus{expected}, msg,
		ledger.RefundFor(app.UserID, app.ID, "Refund for failed application"))
	if err != nil {
		s.discardOn(ctx, app, t, err)
		return
	}

	s.events.Record(ctx, app.ID, events.ApplicationFailed, msg, map[string]any{
		"stage":       t.Stage,
		"attempt":     t.Attempt,
		"retry_count": failed.RetryCount,
		"permanent":   IsPermanent(cause),
	})
	s.events.Record(ctx, app.ID, events.CreditRefunded, "Credit refunded", map[string]any{
		"amount": ledger.ApplicationCost,
		"key":    ledger.RefundKey(app.ID),
	})
	log.Printf("[PIPELINE] Application %s failed: %s", app.ID, msg)
}

// transition validates and commits a status change for app.
func (s *Service) transition(ctx context.Context, app *types.Application, to types.ApplicationStatus) error {
	from := app.Status
	if err := steps.ValidateTransition(from, to, app.Mode); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	app.Status = to
	if err := s.repo.UpdateApplication(ctx, app, from); err != nil {
		app.Status = from
		return err
	}
	s.events.Record(ctx, app.ID, events.StatusChanged, fmt.Sprintf("%s -> %s", from, to), map[string]any{
		"from": string(from),
		"to":   string(to),
	})
	return nil
}

// discardOn drops the task if err shows it lost a race, and logs anything else.
func (s *Service) discardOn(ctx context.Context, app *types.Application, t Task, err error) {
	if errors.Is(err, store.ErrStaleState) || errors.Is(err, ErrInvalidTransition) {
		s.discard(ctx, app, t)
		return
	}
	log.Printf("[PIPELINE] Failed to commit %s for %s: %v", t.Stage, app.ID, err)
}

func (s *Service) discard(ctx context.Context, app *types.Application, t Task) {
	status := app.Status
	if cur, err := s.repo.GetApplication(ctx, app.ID); err == nil {
		status = cur.Status
	}
	s.events.Record(ctx, app.ID, events.StaleTaskDiscarded, fmt.Sprintf("Discarded %s task", t.Stage), map[string]any{
		"stage":   t.Stage,
		"attempt": t.Attempt,
		"status":  string(status),
	})
	if s.opts.Verbose {
		log.Printf("[PIPELINE] Discarded stale %s task for %s (status %s)", t.Stage, app.ID, status)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
