// Package pipeline drives job applications through extraction, scoring,
// document crafting and submission, billing each one against the user's
// credit balance.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/applymate/internal/blob"
	"github.com/jonathan/applymate/internal/document"
	"github.com/jonathan/applymate/internal/events"
	"github.com/jonathan/applymate/internal/ledger"
	"github.com/jonathan/applymate/internal/llm"
	"github.com/jonathan/applymate/internal/pipeline/steps"
	"github.com/jonathan/applymate/internal/scoring"
	"github.com/jonathan/applymate/internal/store"
	"github.com/jonathan/applymate/internal/types"
)

// DefaultStageTimeout bounds one stage attempt.
const DefaultStageTimeout = 3 * time.Minute

// Extractor locates job posting fields on a page.
type Extractor interface {
	Extract(ctx context.Context, url string) (*types.JobExtraction, error)
}

// Scorer rates candidate fit.
type Scorer interface {
	Score(ctx context.Context, description, profile string) scoring.Result
}

// Generator crafts tailored documents and cover letters.
type Generator interface {
	Configured() bool
	Tailor(ctx context.Context, in document.Input) (*document.Output, error)
	WriteCoverLetter(ctx context.Context, in document.Input) (string, error)
}

// SubmitRequest carries everything a Submitter needs for one application.
type SubmitRequest struct {
	ApplicationID uuid.UUID
	JobURL        string
	// ApplySelector is the selector that located the apply control during
	// extraction, if any.
	ApplySelector string
	Profile       types.Profile
	Document      *types.TailoredDocument
	DocumentRef   string
	CoverLetter   string
}

// Submitter performs the in-page application.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Repo      store.Repository
	Ledger    *ledger.Ledger
	Events    events.Sink
	Extractor Extractor
	Scorer    Scorer
	Generator Generator
	// Submitter is optional; without one, apply requests are rejected.
	Submitter Submitter
	// Blobs keeps uploaded source resumes. Optional.
	Blobs blob.Store
}

// Options tunes a Service.
type Options struct {
	Workers      int
	Ceilings     steps.Ceilings
	Backoff      Backoff
	StageTimeout time.Duration
	Verbose      bool
}

// DefaultOptions returns production settings.
func DefaultOptions() Options {
	return Options{
		Workers:      DefaultWorkers,
		Ceilings:     steps.DefaultCeilings(),
		Backoff:      DefaultBackoff(),
		StageTimeout: DefaultStageTimeout,
	}
}

// Service is the application state machine.
type Service struct {
	repo       store.Repository
	ledger     *ledger.Ledger
	events     events.Sink
	extractor  Extractor
	scorer     Scorer
	generator  Generator
	submitter  Submitter
	blobs      blob.Store
	history    *events.Recorder
	dispatcher *Dispatcher
	opts       Options
}

// NewService wires a Service. Call Run to start processing.
func NewService(deps Deps, opts Options) *Service {
	if opts.Ceilings == nil {
		opts.Ceilings = steps.DefaultCeilings()
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = DefaultStageTimeout
	}
	s := &Service{
		repo:      deps.Repo,
		ledger:    deps.Ledger,
		events:    deps.Events,
		extractor: deps.Extractor,
		scorer:    deps.Scorer,
		generator: deps.Generator,
		submitter: deps.Submitter,
		blobs:     deps.Blobs,
		history:   events.NewRecorder(deps.Repo, false),
		opts:      opts,
	}
	if s.events == nil {
		s.events = events.Discard{}
	}
	s.dispatcher = NewDispatcher(opts.Workers, s.handle, opts.Verbose)
	return s
}

// Run re-dispatches unfinished applications, then processes tasks until ctx
// is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Recover(ctx); err != nil {
		return err
	}
	return s.dispatcher.Run(ctx)
}

// Recover dispatches a task for every non-terminal application.
func (s *Service) Recover(ctx context.Context) error {
	apps, err := s.repo.ListActiveApplications(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active applications: %w", err)
	}
	for _, app := range apps {
		def, ok := steps.ForStatus(app.Status)
		if !ok {
			continue
		}
		s.dispatcher.Dispatch(Task{ApplicationID: app.ID, Stage: def.Name, Attempt: s.resumeAttempt(ctx, &app, def.Name)})
	}
	if len(apps) > 0 {
		log.Printf("[PIPELINE] Recovered %d unfinished applications", len(apps))
	}
	return nil
}

// resumeAttempt picks up a recovered stage where the previous process left
// it. Every retried attempt of a stage left a stage_retry event; the count is
// bounded by RetryCount, which covers failures across all stages.
func (s *Service) resumeAttempt(ctx context.Context, app *types.Application, stage string) int {
	if app.RetryCount == 0 {
		return 1
	}
	evs, err := s.history.List(ctx, app.ID)
	if err != nil {
		log.Printf("[PIPELINE] Failed to load history of %s, assuming %d prior attempts: %v", app.ID, app.RetryCount, err)
		return min(app.RetryCount, s.opts.Ceilings.For(stage)-1) + 1
	}
	retried := 0
	for _, ev := range evs {
		if ev.EventType == events.StageRetry && ev.Payload["stage"] == stage {
			retried++
		}
	}
	return min(retried, app.RetryCount, s.opts.Ceilings.For(stage)-1) + 1
}

// Analyze queues an application that stops after the tailored document is
// crafted.
func (s *Service) Analyze(ctx context.Context, userID string, req types.AnalyzeRequest) (*types.Application, error) {
	return s.create(ctx, userID, types.ModeAnalyze, req.JobURL, "", "")
}

// Apply queues an application that continues through submission.
func (s *Service) Apply(ctx context.Context, userID string, req types.ApplyRequest) (*types.Application, error) {
	if s.submitter == nil {
		return nil, ErrSubmissionUnavailable
	}
	return s.create(ctx, userID, types.ModeApply, req.JobURL, req.JobTitle, req.CompanyName)
}

// create checks preconditions, then inserts the application and debits one
// credit in a single repository operation.
func (s *Service) create(ctx context.Context, userID string, mode types.ApplicationMode, jobURL, title, company string) (*types.Application, error) {
	jobURL = strings.TrimSpace(jobURL)
	if !isHTTPURL(jobURL) {
		return nil, fmt.Errorf("%w: job_url must be an absolute http(s) URL", ErrInvalidRequest)
	}
	if s.generator == nil || !s.generator.Configured() {
		return nil, llm.ErrBackendUnavailable
	}
	if _, err := s.profile(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.ledger.Require(ctx, userID, ledger.ApplicationCost); err != nil {
		return nil, err
	}

	app := &types.Application{
		UserID: userID,
		Mode:   mode,
		JobURL: jobURL,
		Status: types.StatusQueued,
	}
	if title != "" {
		app.JobTitle = &title
	}
	if company != "" {
		app.CompanyName = &company
	}

	if err := s.repo.CreateApplicationWithDebit(ctx, app, ledger.DebitFor(userID, jobURL)); err != nil {
		if errors.Is(err, store.ErrInsufficientCredit) {
			return nil, ledger.ErrInsufficientCredit
		}
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	s.events.Record(ctx, app.ID, events.ApplicationQueued, fmt.Sprintf("Application queued for %s", jobURL), map[string]any{
		"mode":    string(mode),
		"job_url": jobURL,
	})
	log.Printf("[PIPELINE] Queued %s application %s for %s", mode, app.ID, userID)

	s.dispatcher.Dispatch(Task{ApplicationID: app.ID, Stage: steps.StageScrape, Attempt: 1})
	return app, nil
}

// Cancel fails a queued or scraping application with the cancellation
// reason and refunds its credit in one repository operation.
func (s *Service) Cancel(ctx context.Context, userID string, id uuid.UUID) (*types.Application, error) {
	app, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !app.Status.IsCancellable() {
		return nil, fmt.Errorf("%w: cannot cancel an application in status %s", ErrInvalidTransition, app.Status)
	}

	failed, err := s.repo.FailApplicationWithRefund(ctx, id, cancellableStatuses, types.CancelledReason,
		ledger.RefundFor(userID, id, "Refund: "+types.CancelledReason))
	if err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return nil, fmt.Errorf("%w: application status changed", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("failed to cancel application: %w", err)
	}

	s.events.Record(ctx, id, events.ApplicationCancelled, types.CancelledReason, map[string]any{
		"from_status": string(app.Status),
	})
	s.events.Record(ctx, id, events.CreditRefunded, "Credit refunded", map[string]any{
		"amount": ledger.ApplicationCost,
		"key":    ledger.RefundKey(id),
	})
	log.Printf("[PIPELINE] Cancelled application %s", id)
	return failed, nil
}

var cancellableStatuses = []types.ApplicationStatus{types.StatusQueued, types.StatusScraping}

// Get returns one of the user's applications. Other users' applications are
// reported as not found.
func (s *Service) Get(ctx context.Context, userID string, id uuid.UUID) (*types.Application, error) {
	app, err := s.repo.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.UserID != userID {
		return nil, store.ErrNotFound
	}
	return app, nil
}

// List returns the user's applications, newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, userID string, status *types.ApplicationStatus) ([]types.Application, error) {
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, *status)
	}
	return s.repo.ListApplications(ctx, userID, status)
}

// Events returns the event trail of one of the user's applications.
func (s *Service) Events(ctx context.Context, userID string, id uuid.UUID) ([]types.PipelineEvent, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.history.List(ctx, id)
}

// EventsSince returns the application's events after the first skip, for
// incremental readers such as the progress stream.
func (s *Service) EventsSince(ctx context.Context, userID string, id uuid.UUID, skip int) ([]types.PipelineEvent, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.history.Since(ctx, id, skip)
}

// Pending returns the number of tasks waiting to run.
func (s *Service) Pending() int {
	return s.dispatcher.Pending()
}

func (s *Service) profile(ctx context.Context, userID string) (*types.Profile, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrProfileRequired
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if strings.TrimSpace(p.BaseResume) == "" {
		return nil, ErrProfileRequired
	}
	return p, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
