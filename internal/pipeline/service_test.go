package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/applymate/internal/blob"
	"github.com/jonathan/applymate/internal/document"
	"github.com/jonathan/applymate/internal/events"
	"github.com/jonathan/applymate/internal/fetch"
	"github.com/jonathan/applymate/internal/ledger"
	"github.com/jonathan/applymate/internal/llm"
	"github.com/jonathan/applymate/internal/pipeline/steps"
	"github.com/jonathan/applymate/internal/resumetext"
	"github.com/jonathan/applymate/internal/scoring"
	"github.com/jonathan/applymate/internal/store"
	"github.com/jonathan/applymate/internal/types"
)

const testUser = "user-1"

// MockExtractor implements Extractor for testing
type MockExtractor struct {
	mu          sync.Mutex
	ExtractFunc func(ctx context.Context, url string) (*types.JobExtraction, error)
	Calls       int
}

func (m *MockExtractor) Extract(ctx context.Context, url string) (*types.JobExtraction, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, url)
	}
	company := "Globex"
	return &types.JobExtraction{
		URL:                  url,
		Title:                "Senior Go Engineer",
		Company:              &company,
		Description:          "Build distributed systems in Go with a small, senior team.",
		ApplyAffordanceFound: true,
		ApplySelector:        "#apply",
	}, nil
}

// MockGenerator implements Generator for testing
type MockGenerator struct {
	mu           sync.Mutex
	Unconfigured bool
	TailorFunc   func(ctx context.Context, in document.Input) (*document.Output, error)
	LetterFunc   func(ctx context.Context, in document.Input) (string, error)
	TailorCalls  int
}

func (m *MockGenerator) Configured() bool { return !m.Unconfigured }

func (m *MockGenerator) Tailor(ctx context.Context, in document.Input) (*document.Output, error) {
	m.mu.Lock()
	m.TailorCalls++
	m.mu.Unlock()
	if m.TailorFunc != nil {
		return m.TailorFunc(ctx, in)
	}
	return &document.Output{
		Document:    &types.TailoredDocument{Summary: "Tailored for " + in.JobTitle, ATSScoreEstimate: 80, ModelName: "mock-model"},
		Ref:         "doc-" + in.SubjectID.String() + ".pdf",
		ContentType: document.ContentTypePDF,
	}, nil
}

func (m *MockGenerator) WriteCoverLetter(ctx context.Context, in document.Input) (string, error) {
	if m.LetterFunc != nil {
		return m.LetterFunc(ctx, in)
	}
	return "Dear hiring team", nil
}

// MockSubmitter implements Submitter for testing
type MockSubmitter struct {
	mu         sync.Mutex
	SubmitFunc func(ctx context.Context, req SubmitRequest) error
	Requests   []SubmitRequest
}

func (m *MockSubmitter) Submit(ctx context.Context, req SubmitRequest) error {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}
	return nil
}

func (m *MockSubmitter) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

type harness struct {
	repo      *store.Memory
	ledger    *ledger.Ledger
	extractor *MockExtractor
	generator *MockGenerator
	submitter *MockSubmitter
	blobs     *blob.MemoryStore
	svc       *Service
}

func newHarness(t *testing.T, signupGrant int) *harness {
	t.Helper()
	repo := store.NewMemory()
	h := &harness{
		repo:      repo,
		ledger:    ledger.New(repo, signupGrant),
		extractor: &MockExtractor{},
		generator: &MockGenerator{},
		submitter: &MockSubmitter{},
		blobs:     blob.NewMemoryStore(),
	}
	h.svc = NewService(Deps{
		Repo:      repo,
		Ledger:    h.ledger,
		Events:    events.NewRecorder(repo, false),
		Extractor: h.extractor,
		Scorer:    scoring.New(nil, false),
		Generator: h.generator,
		Submitter: h.submitter,
		Blobs:     h.blobs,
	}, Options{
		Workers:  2,
		Ceilings: steps.DefaultCeilings(),
		Backoff:  Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond},
	})
	require.NoError(t, repo.UpsertProfile(context.Background(), &types.Profile{
		UserID:     testUser,
		FullName:   "Jane Doe",
		Email:      "jane@example.com",
		BaseResume: "Ten years of backend engineering in Go and PostgreSQL.",
	}))
	return h
}

// start runs the service until the test ends.
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) waitTerminal(t *testing.T, id uuid.UUID) *types.Application {
	t.Helper()
	var app *types.Application
	require.Eventually(t, func() bool {
		var err error
		app, err = h.repo.GetApplication(context.Background(), id)
		return err == nil && app.Status.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return app
}

func (h *harness) eventTypes(t *testing.T, id uuid.UUID) []string {
	t.Helper()
	evs, err := h.repo.ListEvents(context.Background(), id)
	require.NoError(t, err)
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.EventType
	}
	return out
}

func (h *harness) transactions(t *testing.T) []types.CreditTransaction {
	t.Helper()
	txs, err := h.ledger.Transactions(context.Background(), testUser, 0)
	require.NoError(t, err)
	return txs
}

func countType(txs []types.CreditTransaction, tt types.TransactionType) int {
	n := 0
	for _, tx := range txs {
		if tx.Type == tt {
			n++
		}
	}
	return n
}

func TestApply_SubmissionFailureExhaustsRetriesAndRefunds(t *testing.T) {
	h := newHarness(t, 1)
	h.submitter.SubmitFunc = func(context.Context, SubmitRequest) error {
		return errors.New("apply button not clickable")
	}
	ctx := context.Background()

	app, err := h.svc.Apply(ctx, testUser, types.ApplyRequest{JobURL: "https://example.com/job/42"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, app.Status)

	acct, err := h.ledger.Balance(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 0, acct.Balance)
	txs := h.transactions(t)
	require.Len(t, txs, 2)
	assert.Equal(t, -1, txs[0].Amount)
	assert.Equal(t, types.TxApplied, txs[0].Type)

	h.start(t)
	final := h.waitTerminal(t, app.ID)

	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Equal(t, 2, final.RetryCount)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "apply button not clickable")
	assert.Nil(t, final.AppliedAt)
	assert.Equal(t, 2, h.submitter.calls())

	acct, err = h.ledger.Balance(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, acct.Balance)
	assert.True(t, acct.Consistent())

	txs = h.transactions(t)
	assert.Equal(t, 1, countType(txs, types.TxRefunded))
	assert.Equal(t, 1, txs[0].Amount)
	assert.Equal(t, types.TxRefunded, txs[0].Type)

	evs := h.eventTypes(t, app.ID)
	assert.Contains(t, evs, events.StageRetry)
	assert.Contains(t, evs, events.ApplicationFailed)
	assert.Contains(t, evs, events.CreditRefunded)
}

func TestApply_Confirmed(t *testing.T) {
	h := newHarness(t, 5)
	h.start(t)

	app, err := h.svc.Apply(context.Background(), testUser, types.ApplyRequest{JobURL: "https://boards.greenhouse.io/acme/jobs/1"})
	require.NoError(t, err)
	final := h.waitTerminal(t, app.ID)

	assert.Equal(t, types.StatusConfirmed, final.Status)
	require.NotNil(t, final.AppliedAt)
	require.NotNil(t, final.MatchScore)
	assert.Equal(t, scoring.UnconfiguredScore, *final.MatchScore)
	assert.Equal(t, "Senior Go Engineer", *final.JobTitle)
	assert.Equal(t, "Globex", *final.CompanyName)
	assert.Equal(t, 0, final.RetryCount)

	require.Equal(t, 1, h.submitter.calls())
	req := h.submitter.Requests[0]
	assert.Equal(t, "#apply", req.ApplySelector)
	assert.Equal(t, "Dear hiring team", req.CoverLetter)
	assert.Equal(t, "Jane Doe", req.Profile.FullName)
	require.NotNil(t, req.Document)

	acct, _ := h.ledger.Balance(context.Background(), testUser)
	assert.Equal(t, 4, acct.Balance)
	assert.Equal(t, 0, countType(h.transactions(t), types.TxRefunded))

	assert.Equal(t, []string{
		events.ApplicationQueued,
		events.StatusChanged,
		events.ExtractionStarted,
		events.StatusChanged,
		events.ExtractionCompleted,
		events.ScoreComputed,
		events.StatusChanged,
		events.CoverLetterWritten,
		events.StatusChanged,
		events.SubmissionStarted,
		events.StatusChanged,
		events.SubmissionConfirmed,
	}, h.eventTypes(t, app.ID))
}

func TestAnalyze_StopsAfterCrafting(t *testing.T) {
	h := newHarness(t, 5)
	h.start(t)

	app, err := h.svc.Analyze(context.Background(), testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/7"})
	require.NoError(t, err)
	final := h.waitTerminal(t, app.ID)

	assert.Equal(t, types.StatusAnalyzed, final.Status)
	require.NotNil(t, final.MatchScore)
	require.NotNil(t, final.TailoredDocument)
	assert.Equal(t, "Tailored for Senior Go Engineer", final.TailoredDocument.Summary)
	require.NotNil(t, final.DocumentRef)
	require.NotNil(t, final.CoverLetter)
	assert.Nil(t, final.AppliedAt)
	assert.Equal(t, 0, h.submitter.calls())
}

func TestCraft_CoverLetterFailureIsBestEffort(t *testing.T) {
	h := newHarness(t, 5)
	h.generator.LetterFunc = func(context.Context, document.Input) (string, error) {
		return "", &document.GenerationFailedError{Message: "timeout"}
	}
	h.start(t)

	app, err := h.svc.Analyze(context.Background(), testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/8"})
	require.NoError(t, err)
	final := h.waitTerminal(t, app.ID)

	assert.Equal(t, types.StatusAnalyzed, final.Status)
	assert.Nil(t, final.CoverLetter)
	assert.Contains(t, h.eventTypes(t, app.ID), events.CoverLetterFailed)
}

func TestCraft_RetriesThenSucceeds_RetryCountMonotonic(t *testing.T) {
	h := newHarness(t, 5)
	failures := 2
	var mu sync.Mutex
	h.generator.TailorFunc = func(_ context.Context, in document.Input) (*document.Output, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return nil, &document.ParseFailedError{Message: "no JSON object in response"}
		}
		return &document.Output{Document: &types.TailoredDocument{Summary: "ok"}, Ref: "r.pdf"}, nil
	}
	h.start(t)

	app, err := h.svc.Analyze(context.Background(), testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/9"})
	require.NoError(t, err)
	final := h.waitTerminal(t, app.ID)

	assert.Equal(t, types.StatusAnalyzed, final.Status)
	assert.Equal(t, 2, final.RetryCount)
	assert.Equal(t, 3, h.generator.TailorCalls)

	evs, err := h.repo.ListEvents(context.Background(), app.ID)
	require.NoError(t, err)
	last := 0
	for _, e := range evs {
		if e.EventType != events.StageRetry {
			continue
		}
		rc := e.Payload["retry_count"].(int)
		assert.GreaterOrEqual(t, rc, last)
		last = rc
	}
	assert.Equal(t, 2, last)
}

func TestCraft_UnavailableFailsImmediately(t *testing.T) {
	h := newHarness(t, 5)
	h.generator.TailorFunc = func(context.Context, document.Input) (*document.Output, error) {
		return nil, document.ErrGenerationUnavailable
	}
	h.start(t)

	app, err := h.svc.Analyze(context.Background(), testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/10"})
	require.NoError(t, err)
	final := h.waitTerminal(t, app.ID)

	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Equal(t, 1, final.RetryCount)
	assert.Equal(t, 1, h.generator.TailorCalls)

	acct, _ := h.ledger.Balance(context.Background(), testUser)
	assert.Equal(t, 5, acct.Balance)
	assert.True(t, acct.Consistent())
}

func TestScrape_RetryableFetchErrorDegradesAfterCeiling(t *testing.T) {
	h := newHarness(t, 5)
	fetchErr := &fetch.Error{URL: "https://example.com/job/11", Message: "status 503", StatusCode: 503, Retryable: true}
	h.extractor.ExtractFunc = func(_ context.Context, url string) (*types.JobExtraction, error) {
		return &types.JobExtraction{URL: url, Title: "Unknown Position", Description: "Job posting could not be retrieved", FetchError: fetchErr.Error()}, fetchErr
	}
	h.start(t)

	app, err := h.svc.Analyze(context.Background(), testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/11"})
	require.NoError(t, err)
	final := h.waitTerminal(t, app.ID)

	assert.Equal(t, types.StatusAnalyzed, final.Status)
	assert.Equal(t, 2, final.RetryCount)
	assert.Equal(t, 3, h.extractor.Calls)
	require.NotNil(t, final.JobDescription)
	assert.Contains(t, *final.JobDescription, "could not be retrieved")
	assert.Contains(t, h.eventTypes(t, app.ID), events.ExtractionDegraded)
}

func TestScrape_PermanentFetchErrorDegradesImmediately(t *testing.T) {
	h := newHarness(t, 5)
	fetchErr := &fetch.Error{URL: "https://example.com/gone", Message: "status 404", StatusCode: 404}
	h.extractor.ExtractFunc = func(_ context.Context, url string) (*types.JobExtraction, error) {
		return &types.JobExtraction{URL: url, Title: "Unknown Position", Description: "not found"}, fetchErr
	}
	h.start(t)

	app, err := h.svc.Analyze(context.Background(), testUser, types.AnalyzeRequest{JobURL: "https://example.com/gone"})
	require.NoError(t, err)
	final := h.waitTerminal(t, app.ID)

	assert.Equal(t, types.StatusAnalyzed, final.Status)
	assert.Equal(t, 0, final.RetryCount)
	assert.Equal(t, 1, h.extractor.Calls)
}

func TestCancel_QueuedRefundsOnce(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	app, err := h.svc.Analyze(ctx, testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/12"})
	require.NoError(t, err)

	cancelled, err := h.svc.Cancel(ctx, testUser, app.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, cancelled.Status)
	require.NotNil(t, cancelled.ErrorMessage)
	assert.Equal(t, types.CancelledReason, *cancelled.ErrorMessage)

	_, err = h.svc.Cancel(ctx, testUser, app.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	txs := h.transactions(t)
	assert.Equal(t, 1, countType(txs, types.TxRefunded))
	acct, _ := h.ledger.Balance(ctx, testUser)
	assert.Equal(t, 1, acct.Balance)
	assert.True(t, acct.Consistent())

	// The queued scrape task finds the application terminal and discards itself.
	h.start(t)
	require.Eventually(t, func() bool {
		for _, et := range h.eventTypes(t, app.ID) {
			if et == events.StaleTaskDiscarded {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.extractor.Calls)
}

func TestCancel_DuringScrapeDiscardsStaleResult(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.extractor.ExtractFunc = func(_ context.Context, url string) (*types.JobExtraction, error) {
		once.Do(func() { close(started) })
		<-release
		return &types.JobExtraction{URL: url, Title: "Late Title", Description: "Arrived after the user gave up on this posting."}, nil
	}
	h.start(t)
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	app, err := h.svc.Analyze(ctx, testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/slow"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("extraction never started")
	}
	current, err := h.svc.Get(ctx, testUser, app.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusScraping, current.Status)

	cancelled, err := h.svc.Cancel(ctx, testUser, app.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, cancelled.Status)
	unblock()

	require.Eventually(t, func() bool {
		for _, et := range h.eventTypes(t, app.ID) {
			if et == events.StaleTaskDiscarded {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)

	final, err := h.repo.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Equal(t, types.CancelledReason, *final.ErrorMessage)
	assert.Nil(t, final.JobDescription)
	assert.Nil(t, final.JobTitle)

	evs := h.eventTypes(t, app.ID)
	assert.NotContains(t, evs, events.ExtractionCompleted)
	assert.NotContains(t, evs, events.ScoreComputed)

	assert.Equal(t, 1, countType(h.transactions(t), types.TxRefunded))
	acct, err := h.ledger.Balance(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, acct.Balance)
	assert.True(t, acct.Consistent())
}

func TestCancel_ConcurrentRequestsRefundOnce(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	app, err := h.svc.Analyze(ctx, testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/13"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Cancel(ctx, testUser, app.ID)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, countType(h.transactions(t), types.TxRefunded))
}

func TestCancel_TerminalIsInvalidTransition(t *testing.T) {
	h := newHarness(t, 5)
	h.start(t)
	ctx := context.Background()

	app, err := h.svc.Apply(ctx, testUser, types.ApplyRequest{JobURL: "https://example.com/job/14"})
	require.NoError(t, err)
	h.waitTerminal(t, app.ID)
	before := len(h.transactions(t))

	_, err = h.svc.Cancel(ctx, testUser, app.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, h.transactions(t), before)
}

func TestCancel_FailedIsInvalidTransition(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	app, err := h.svc.Analyze(ctx, testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/15"})
	require.NoError(t, err)
	_, err = h.repo.FailApplicationWithRefund(ctx, app.ID, nil, "boom", ledger.RefundFor(testUser, app.ID, ""))
	require.NoError(t, err)
	before := len(h.transactions(t))

	_, err = h.svc.Cancel(ctx, testUser, app.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, h.transactions(t), before)
}

func TestCancel_OtherUsersApplication(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	app, err := h.svc.Analyze(ctx, testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/16"})
	require.NoError(t, err)

	_, err = h.svc.Cancel(ctx, "someone-else", app.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.svc.Get(ctx, "someone-else", app.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPreconditions_NoDebit(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient credit", func(t *testing.T) {
		h := newHarness(t, 0)
		_, err := h.svc.Analyze(ctx, testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/1"})
		assert.ErrorIs(t, err, ledger.ErrInsufficientCredit)
		assert.Empty(t, h.transactions(t))
	})

	t.Run("backend unavailable", func(t *testing.T) {
		h := newHarness(t, 5)
		h.generator.Unconfigured = true
		_, err := h.svc.Analyze(ctx, testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/1"})
		assert.ErrorIs(t, err, llm.ErrBackendUnavailable)
		assert.Equal(t, 0, countType(h.transactions(t), types.TxApplied))
	})

	t.Run("missing profile", func(t *testing.T) {
		h := newHarness(t, 5)
		_, err := h.svc.Analyze(ctx, "no-profile", types.AnalyzeRequest{JobURL: "https://example.com/job/1"})
		assert.ErrorIs(t, err, ErrProfileRequired)
	})

	t.Run("invalid url", func(t *testing.T) {
		h := newHarness(t, 5)
		_, err := h.svc.Analyze(ctx, testUser, types.AnalyzeRequest{JobURL: "ftp://example.com/job"})
		assert.ErrorIs(t, err, ErrInvalidRequest)
		assert.Empty(t, h.transactions(t))
	})

	t.Run("apply without submitter", func(t *testing.T) {
		repo := store.NewMemory()
		svc := NewService(Deps{Repo: repo, Ledger: ledger.New(repo, 5), Generator: &MockGenerator{}}, Options{})
		_, err := svc.Apply(ctx, testUser, types.ApplyRequest{JobURL: "https://example.com/job/1"})
		assert.ErrorIs(t, err, ErrSubmissionUnavailable)
	})
}

func TestRecover_ResumesUnfinishedApplications(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	_, err := h.ledger.Balance(ctx, testUser)
	require.NoError(t, err)

	app := &types.Application{
		UserID:         testUser,
		Mode:           types.ModeAnalyze,
		JobURL:         "https://example.com/job/17",
		Status:         types.StatusCrafting,
		JobDescription: types.StringPtr("A posting"),
		MatchScore:     types.IntPtr(60),
	}
	require.NoError(t, h.repo.CreateApplicationWithDebit(ctx, app, ledger.DebitFor(testUser, app.JobURL)))

	h.start(t)
	final := h.waitTerminal(t, app.ID)
	assert.Equal(t, types.StatusAnalyzed, final.Status)
	assert.Equal(t, 0, h.extractor.Calls)
	assert.Equal(t, 60, *final.MatchScore)
}

func TestRecover_ContinuesAttemptCount(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	_, err := h.ledger.Balance(ctx, testUser)
	require.NoError(t, err)
	h.generator.TailorFunc = func(context.Context, document.Input) (*document.Output, error) {
		return nil, &document.GenerationFailedError{Message: "backend timeout"}
	}

	// Two crafting attempts failed before the previous process stopped.
	app := &types.Application{
		UserID:         testUser,
		Mode:           types.ModeAnalyze,
		JobURL:         "https://example.com/job/18",
		Status:         types.StatusCrafting,
		JobDescription: types.StringPtr("A posting"),
		MatchScore:     types.IntPtr(60),
		RetryCount:     2,
	}
	require.NoError(t, h.repo.CreateApplicationWithDebit(ctx, app, ledger.DebitFor(testUser, app.JobURL)))
	rec := events.NewRecorder(h.repo, false)
	for attempt := 1; attempt <= 2; attempt++ {
		rec.Record(ctx, app.ID, events.StageRetry, "Retrying craft after failure", map[string]any{
			"stage":   steps.StageCraft,
			"attempt": attempt,
		})
	}

	h.start(t)
	final := h.waitTerminal(t, app.ID)

	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Equal(t, 3, final.RetryCount)
	assert.Equal(t, 1, h.generator.TailorCalls)
	assert.Equal(t, 1, countType(h.transactions(t), types.TxRefunded))
}

func TestResumeAttempt(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	rec := events.NewRecorder(h.repo, false)

	fresh := &types.Application{ID: uuid.New()}
	assert.Equal(t, 1, h.svc.resumeAttempt(ctx, fresh, steps.StageCraft))

	// Retries of an earlier stage do not count against this one.
	moved := &types.Application{ID: uuid.New(), RetryCount: 2}
	for i := 0; i < 2; i++ {
		rec.Record(ctx, moved.ID, events.StageRetry, "retry", map[string]any{"stage": steps.StageScrape})
	}
	assert.Equal(t, 1, h.svc.resumeAttempt(ctx, moved, steps.StageCraft))

	// Never past the last allowed attempt.
	worn := &types.Application{ID: uuid.New(), RetryCount: 9}
	for i := 0; i < 9; i++ {
		rec.Record(ctx, worn.ID, events.StageRetry, "retry", map[string]any{"stage": steps.StageSubmit})
	}
	assert.Equal(t, steps.DefaultCeilings().For(steps.StageSubmit), h.svc.resumeAttempt(ctx, worn, steps.StageSubmit))
}

func TestList(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	first, err := h.svc.Analyze(ctx, testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/a"})
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, testUser, first.ID)
	require.NoError(t, err)
	_, err = h.svc.Analyze(ctx, testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/b"})
	require.NoError(t, err)

	all, err := h.svc.List(ctx, testUser, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	failed := types.StatusFailed
	onlyFailed, err := h.svc.List(ctx, testUser, &failed)
	require.NoError(t, err)
	require.Len(t, onlyFailed, 1)
	assert.Equal(t, first.ID, onlyFailed[0].ID)

	bogus := types.ApplicationStatus("cancelled")
	_, err = h.svc.List(ctx, testUser, &bogus)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	evs, err := h.svc.Events(ctx, testUser, first.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, evs)

	tail, err := h.svc.EventsSince(ctx, testUser, first.ID, len(evs)-1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, evs[len(evs)-1].ID, tail[0].ID)

	none, err := h.svc.EventsSince(ctx, testUser, first.ID, len(evs))
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = h.svc.EventsSince(ctx, "someone-else", first.ID, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTailor_Standalone(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	rec, err := h.svc.Tailor(ctx, testUser, types.TailorRequest{JobDescription: "Platform engineer working on Kubernetes operators."})
	require.NoError(t, err)
	assert.Equal(t, types.DocumentCompleted, rec.Status)
	require.NotNil(t, rec.BlobRef)
	assert.Equal(t, "mock-model", rec.ModelName)
	assert.Equal(t, document.DefaultTemplate, rec.Template)

	got, err := h.svc.Document(ctx, testUser, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = h.svc.Document(ctx, "someone-else", rec.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Standalone tailoring is not billed.
	assert.Equal(t, 0, countType(h.transactions(t), types.TxApplied))
}

func TestTailor_ParseFailureKeepsRawResponse(t *testing.T) {
	h := newHarness(t, 5)
	h.generator.TailorFunc = func(context.Context, document.Input) (*document.Output, error) {
		return nil, &document.ParseFailedError{Message: "no JSON object in response", Raw: "I can't do that", RawExcerpt: "I can't do that"}
	}

	rec, err := h.svc.Tailor(context.Background(), testUser, types.TailorRequest{JobDescription: "Data engineer building pipelines."})
	require.NoError(t, err)
	assert.Equal(t, types.DocumentFailed, rec.Status)
	assert.Equal(t, "I can't do that", rec.RawResponse)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "parse failed")
}

func TestTailor_RenderFailureKeepsGeneratedDocument(t *testing.T) {
	h := newHarness(t, 5)
	h.generator.TailorFunc = func(context.Context, document.Input) (*document.Output, error) {
		doc := &types.TailoredDocument{Summary: "Generated", ModelName: "mock-model", RawText: `{"summary":"Generated"}`}
		return &document.Output{Document: doc}, &document.RenderError{Message: "chrome missing"}
	}

	rec, err := h.svc.Tailor(context.Background(), testUser, types.TailorRequest{JobDescription: "SRE for a payments platform."})
	require.NoError(t, err)
	assert.Equal(t, types.DocumentFailed, rec.Status)
	assert.Equal(t, `{"summary":"Generated"}`, rec.RawResponse)
	assert.Equal(t, "mock-model", rec.ModelName)
	require.NotNil(t, rec.Document)
	assert.Nil(t, rec.BlobRef)
}

// staticBackend always answers with the same text.
type staticBackend struct{ text string }

func (b staticBackend) Complete(context.Context, string, string, int) (string, error) {
	return b.text, nil
}

func (staticBackend) Model() string { return "static-model" }

func TestCraft_ParseFailureKeepsFullResponse(t *testing.T) {
	h := newHarness(t, 1)
	raw := strings.Repeat("The model wrote prose instead of the requested object. ", 25) + "END-MARKER"
	rec := events.NewRecorder(h.repo, false)
	h.svc = NewService(Deps{
		Repo:      h.repo,
		Ledger:    h.ledger,
		Events:    rec,
		Extractor: h.extractor,
		Scorer:    scoring.New(nil, false),
		Generator: document.NewGenerator(staticBackend{text: raw}, document.Options{Events: rec}),
	}, Options{Workers: 1, Backoff: Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond}})
	h.start(t)
	ctx := context.Background()

	app, err := h.svc.Analyze(ctx, testUser, types.AnalyzeRequest{JobURL: "https://example.com/job/19"})
	require.NoError(t, err)
	final := h.waitTerminal(t, app.ID)
	assert.Equal(t, types.StatusFailed, final.Status)

	evs, err := h.svc.Events(ctx, testUser, app.ID)
	require.NoError(t, err)
	var kept []string
	for _, e := range evs {
		if e.EventType == events.LLMResponseReceived {
			kept = append(kept, e.Payload["raw_response"].(string))
		}
	}
	require.Len(t, kept, steps.DefaultCeilings().For(steps.StageCraft))
	for _, k := range kept {
		assert.Equal(t, raw, k)
	}

	acct, err := h.ledger.Balance(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 1, acct.Balance)
}

func TestSaveProfile(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	p, err := h.svc.SaveProfile(ctx, "new-user", types.ProfileRequest{
		FullName:   "Sam Lee",
		BaseResume: "Product designer with eight years of experience shipping mobile apps.",
	}, []byte("%PDF-1.4 ..."), "application/pdf")
	require.NoError(t, err)
	require.NotNil(t, p.ResumeRef)

	got, err := h.svc.Profile(ctx, "new-user")
	require.NoError(t, err)
	assert.Equal(t, "Sam Lee", got.FullName)

	_, err = h.svc.SaveProfile(ctx, "new-user", types.ProfileRequest{FullName: "Sam"}, nil, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestUploadResume(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	resume := "Sam Lee\n\nProduct designer with eight years of experience shipping mobile apps."

	p, err := h.svc.UploadResume(ctx, "new-user", ResumeUpload{Filename: "resume.txt", Data: []byte(resume), FullName: "Sam Lee"})
	require.NoError(t, err)
	assert.Equal(t, "Sam Lee", p.FullName)
	assert.Equal(t, resume, p.BaseResume)
	require.NotNil(t, p.ResumeRef)
	stored, err := h.blobs.Get(ctx, *p.ResumeRef)
	require.NoError(t, err)
	assert.Equal(t, resume, string(stored))
	assert.Equal(t, "text/plain; charset=utf-8", blob.ContentTypeOf(*p.ResumeRef))

	// Name and email carry over from the stored profile.
	p, err = h.svc.UploadResume(ctx, testUser, ResumeUpload{Filename: "cv.md", Data: []byte("Staff engineer. Led the migration of billing to event sourcing in Go.")})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", p.FullName)
	assert.Equal(t, "jane@example.com", p.Email)
	assert.Contains(t, p.BaseResume, "event sourcing")
}

func TestUploadResume_Rejected(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	resume := []byte("Product designer with eight years of experience shipping mobile apps.")

	_, err := h.svc.UploadResume(ctx, testUser, ResumeUpload{Filename: "resume.odt", Data: resume})
	assert.ErrorIs(t, err, resumetext.ErrUnsupported)

	_, err = h.svc.UploadResume(ctx, testUser, ResumeUpload{Filename: "resume.pdf", Data: []byte("not really a pdf")})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.svc.UploadResume(ctx, "new-user", ResumeUpload{Filename: "resume.txt", Data: resume})
	assert.ErrorIs(t, err, ErrInvalidRequest, "a first upload needs a name")

	got, err := h.svc.Profile(ctx, testUser)
	require.NoError(t, err)
	assert.Nil(t, got.ResumeRef)
	assert.Equal(t, "Ten years of backend engineering in Go and PostgreSQL.", got.BaseResume)
}

func TestSaveCoverLetter(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	letter := types.CoverLetterRequest{CoverLetter: "I build reliable backend systems and enjoy mentoring the people around me."}

	_, err := h.svc.SaveCoverLetter(ctx, "new-user", letter)
	assert.ErrorIs(t, err, ErrProfileRequired)
	_, err = h.svc.SaveCoverLetter(ctx, testUser, types.CoverLetterRequest{CoverLetter: "too short"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	p, err := h.svc.SaveCoverLetter(ctx, testUser, letter)
	require.NoError(t, err)
	assert.Equal(t, letter.CoverLetter, p.BaseCoverLetter)
	assert.Equal(t, "Ten years of backend engineering in Go and PostgreSQL.", p.BaseResume)

	// Replacing the resume keeps the letter.
	_, err = h.svc.SaveProfile(ctx, testUser, types.ProfileRequest{
		FullName:   "Jane Doe",
		BaseResume: "Twelve years of backend engineering in Go, PostgreSQL and Kafka.",
	}, nil, "")
	require.NoError(t, err)
	got, err := h.svc.Profile(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, letter.CoverLetter, got.BaseCoverLetter)
}

func TestCraft_PassesBaseCoverLetter(t *testing.T) {
	h := newHarness(t, 5)
	letter := "I build reliable backend systems and enjoy mentoring the people around me."
	_, err := h.svc.SaveCoverLetter(context.Background(), testUser, types.CoverLetterRequest{CoverLetter: letter})
	require.NoError(t, err)

	got := make(chan string, 1)
	h.generator.LetterFunc = func(_ context.Context, in document.Input) (string, error) {
		select {
		case got <- in.BaseCoverLetter:
		default:
		}
		return "Dear hiring team", nil
	}
	h.start(t)

	app, err := h.svc.Apply(context.Background(), testUser, types.ApplyRequest{JobURL: "https://boards.greenhouse.io/acme/jobs/1"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirmed, h.waitTerminal(t, app.ID).Status)
	assert.Equal(t, letter, <-got)
}
