package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jonathan/applymate/internal/blob"
	"github.com/jonathan/applymate/internal/config"
	"github.com/jonathan/applymate/internal/db"
	"github.com/jonathan/applymate/internal/document"
	"github.com/jonathan/applymate/internal/events"
	"github.com/jonathan/applymate/internal/extraction"
	"github.com/jonathan/applymate/internal/fetch"
	"github.com/jonathan/applymate/internal/ledger"
	"github.com/jonathan/applymate/internal/llm"
	"github.com/jonathan/applymate/internal/pipeline"
	"github.com/jonathan/applymate/internal/scoring"
	"github.com/jonathan/applymate/internal/store"
	"github.com/jonathan/applymate/internal/submit"
)

// pageCacheTTL bounds how long fetched job pages are reused.
const pageCacheTTL = 10 * time.Minute

// app holds the collaborators built from a Config.
type app struct {
	cfg       *config.Config
	db        *db.DB
	repo      store.Repository
	blobs     blob.Store
	ledger    *ledger.Ledger
	extractor *extraction.Extractor
	scorer    *scoring.Scorer
	generator *document.Generator
	service   *pipeline.Service
	backends  []llm.Backend
}

// newBackend builds the backend for tier. A missing API key is not an error:
// the caller gets a nil backend and the dependent component degrades.
func newBackend(ctx context.Context, cfg *config.Config, tier llm.ModelTier) (llm.Backend, error) {
	b, err := llm.NewBackend(ctx, cfg.ModelConfig(), tier, cfg.APIKey)
	if errors.Is(err, llm.ErrBackendUnavailable) {
		log.Printf("[LLM] No API key for %s; %s tier disabled", cfg.Provider, tier)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", tier, err)
	}
	return b, nil
}

// newFetcher returns the page fetcher used by extraction.
func newFetcher(cfg *config.Config) fetch.Fetcher {
	var f fetch.Fetcher = fetch.NewHTTPFetcher(nil, nil)
	if cfg.UseBrowser {
		f = &fetch.FallbackFetcher{
			Primary: f,
			Browser: &fetch.BrowserFetcher{Verbose: cfg.Verbose},
			Verbose: cfg.Verbose,
		}
	}
	return fetch.NewCachedFetcher(f, pageCacheTTL)
}

// newBlobStore picks the blob backend named by the config.
func newBlobStore(cfg *config.Config, database *db.DB) (blob.Store, error) {
	switch cfg.BlobStore {
	case config.BlobMemory:
		return blob.NewMemoryStore(), nil
	case config.BlobPostgres:
		if database == nil {
			return nil, fmt.Errorf("blob_store %q requires a database", cfg.BlobStore)
		}
		return database.Blobs(), nil
	default:
		fs, err := blob.NewFSStore(cfg.BlobDir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
}

// newApp wires storage, backends and the pipeline. With no DATABASE_URL the
// in-memory repository is used and nothing survives a restart.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.db = database
		a.repo = database
	} else {
		log.Printf("[APP] DATABASE_URL not set; using in-memory storage")
		a.repo = store.NewMemory()
	}

	blobs, err := newBlobStore(cfg, a.db)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.blobs = blobs

	scoreBackend, err := newBackend(ctx, cfg, llm.TierLite)
	if err != nil {
		a.Close()
		return nil, err
	}
	genBackend, err := newBackend(ctx, cfg, llm.TierStandard)
	if err != nil {
		a.Close()
		return nil, err
	}
	for _, b := range []llm.Backend{scoreBackend, genBackend} {
		if b != nil {
			a.backends = append(a.backends, b)
		}
	}

	recorder := events.NewRecorder(a.repo, cfg.Verbose)

	var renderer document.Renderer
	if cfg.RenderPDF {
		renderer = &document.ChromePDFRenderer{ExecPath: cfg.ChromePath}
	}

	a.ledger = ledger.New(a.repo, cfg.Grant())
	a.extractor = extraction.New(newFetcher(cfg), extraction.Options{Verbose: cfg.Verbose})
	a.scorer = scoring.New(scoreBackend, cfg.Verbose)
	a.generator = document.NewGenerator(genBackend, document.Options{
		Events:   recorder,
		Renderer: renderer,
		Blobs:    a.blobs,
		ShowATS:  cfg.ShowATSScore,
		Verbose:  cfg.Verbose,
	})

	var submitter pipeline.Submitter
	if cfg.EnableSubmission {
		submitter = &submit.ChromeSubmitter{
			Blobs:    a.blobs,
			ExecPath: cfg.ChromePath,
			Verbose:  cfg.Verbose,
		}
	}

	opts := pipeline.DefaultOptions()
	if cfg.Workers > 0 {
		opts.Workers = cfg.Workers
	}
	if cfg.StageTimeoutSeconds > 0 {
		opts.StageTimeout = cfg.StageTimeout()
	}
	opts.Verbose = cfg.Verbose

	a.service = pipeline.NewService(pipeline.Deps{
		Repo:      a.repo,
		Ledger:    a.ledger,
		Events:    recorder,
		Extractor: a.extractor,
		Scorer:    a.scorer,
		Generator: a.generator,
		Submitter: submitter,
		Blobs:     a.blobs,
	}, opts)

	return a, nil
}

// ping reports storage health for /health.
func (a *app) ping(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Ping(ctx)
}

// Close releases backends and the database pool.
func (a *app) Close() {
	for _, b := range a.backends {
		if err := llm.Close(b); err != nil {
			log.Printf("[LLM] Failed to close backend: %v", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
