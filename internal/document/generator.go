// Package document generates tailored resumes and cover letters with an LLM
// backend, validates the structured output and renders it for storage.
package document

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/applymate/internal/blob"
	"github.com/jonathan/applymate/internal/events"
	"github.com/jonathan/applymate/internal/extraction"
	"github.com/jonathan/applymate/internal/llm"
	"github.com/jonathan/applymate/internal/prompts"
	"github.com/jonathan/applymate/internal/types"
)

const (
	// MaxOutputTokens is the output budget of one tailoring call.
	MaxOutputTokens = 2000
	// CoverLetterMaxOutputTokens is the output budget of one cover letter call.
	CoverLetterMaxOutputTokens = 1200
	// DefaultTimeout bounds one backend call.
	DefaultTimeout = 90 * time.Second
	// CoverLetterDescriptionLimit truncates the job description given to the
	// cover letter prompt.
	CoverLetterDescriptionLimit = 1000
)

// Input describes one tailoring request.
type Input struct {
	// SubjectID is the application or document record the events belong to.
	SubjectID       uuid.UUID
	JobTitle        string
	Company         string
	JobDescription  string
	BaseResume      string
	// BaseCoverLetter is the user's own letter, reused for tone and substance.
	BaseCoverLetter string
	Template        string
	Meta            Meta
}

// Output is the result of Tailor.
type Output struct {
	Document    *types.TailoredDocument
	Ref         string
	ContentType string
}

// Generator produces tailored documents.
type Generator struct {
	backend  llm.Backend
	events   events.Sink
	renderer Renderer
	blobs    blob.Store
	timeout  time.Duration
	showATS  bool
	verbose  bool
}

// Options configures a Generator. Nil fields take defaults.
type Options struct {
	Events   events.Sink
	Renderer Renderer
	Blobs    blob.Store
	Timeout  time.Duration
	// ShowATS prints the estimated ATS score on every rendered document.
	ShowATS  bool
	Verbose  bool
}

// NewGenerator creates a Generator. A nil backend means generation is unavailable.
func NewGenerator(backend llm.Backend, opts Options) *Generator {
	g := &Generator{
		backend:  backend,
		events:   opts.Events,
		renderer: opts.Renderer,
		blobs:    opts.Blobs,
		timeout:  opts.Timeout,
		showATS:  opts.ShowATS,
		verbose:  opts.Verbose,
	}
	if g.events == nil {
		g.events = events.Discard{}
	}
	if g.renderer == nil {
		g.renderer = HTMLRenderer{}
	}
	if g.blobs == nil {
		g.blobs = blob.NewMemoryStore()
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	return g
}

// Configured reports whether a backend is available.
func (g *Generator) Configured() bool {
	return g.backend != nil
}

// Generate calls the backend once and turns its answer into a validated
// TailoredDocument. Events are recorded against in.SubjectID on success and
// failure.
func (g *Generator) Generate(ctx context.Context, in Input) (*types.TailoredDocument, error) {
	doc, err := g.generate(ctx, in)
	if err != nil {
		g.events.Record(ctx, in.SubjectID, events.TailoringFailed, err.Error(), map[string]any{
			"error_type": errorType(err),
		})
		return nil, err
	}
	return doc, nil
}

func (g *Generator) generate(ctx context.Context, in Input) (*types.TailoredDocument, error) {
	if g.backend == nil {
		return nil, ErrGenerationUnavailable
	}

	g.events.Record(ctx, in.SubjectID, events.TailoringStarted, "Tailoring resume", map[string]any{
		"model":    g.backend.Model(),
		"template": ResolveTemplate(in.Template),
	})

	data := promptData(in, in.JobDescription)
	systemPrompt, err := prompts.Render("tailoring.json", "tailor-resume-system", data)
	if err != nil {
		return nil, fmt.Errorf("failed to load tailoring prompt: %w", err)
	}
	userPrompt, err := prompts.Render("tailoring.json", "tailor-resume-user", data)
	if err != nil {
		return nil, fmt.Errorf("failed to load tailoring prompt: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.verbose {
		log.Printf("[TAILOR] Calling %s for %s", g.backend.Model(), in.SubjectID)
	}
	raw, err := g.backend.Complete(callCtx, systemPrompt, userPrompt, MaxOutputTokens)
	if err != nil {
		if errors.Is(err, llm.ErrBackendUnavailable) {
			return nil, ErrGenerationUnavailable
		}
		return nil, &GenerationFailedError{Message: "backend call failed", Cause: err}
	}
	// The full response is kept whatever happens next.
	g.events.Record(ctx, in.SubjectID, events.LLMResponseReceived, "Model response received", map[string]any{
		"model":        g.backend.Model(),
		"length":       len(raw),
		"raw_response": raw,
	})

	attempt, err := parse(raw)
	if attempt.Repaired {
		g.events.Record(ctx, in.SubjectID, events.LLMParseFailed, "Response was not clean JSON, attempting repair", map[string]any{
			"error":        fmt.Sprint(attempt.FirstErr),
			"raw_response": Excerpt(raw),
		})
	}
	if err != nil {
		return nil, err
	}

	doc := attempt.Document
	doc.ModelName = g.backend.Model()
	doc.RawText = raw
	g.events.Record(ctx, in.SubjectID, events.LLMValidated, "Document validated", map[string]any{
		"repaired":           attempt.Repaired,
		"ats_score_estimate": doc.ATSScoreEstimate,
		"skills":             len(doc.KeySkills),
		"experience_entries": len(doc.WorkExperience),
	})
	return doc, nil
}

// Tailor generates a document, renders it and stores the rendering in the
// blob store. When only rendering or storage fails, the returned Output still
// carries the generated Document (with its raw response) alongside the error.
func (g *Generator) Tailor(ctx context.Context, in Input) (*Output, error) {
	doc, err := g.Generate(ctx, in)
	if err != nil {
		return nil, err
	}

	out, err := g.Store(ctx, in, doc)
	if err != nil {
		g.events.Record(ctx, in.SubjectID, events.TailoringFailed, err.Error(), map[string]any{
			"error_type": errorType(err),
		})
		return &Output{Document: doc}, err
	}
	return out, nil
}

// RawResponse returns the model output behind a failed Tailor or Generate
// call, if any reached the generator.
func RawResponse(out *Output, err error) string {
	var pfe *ParseFailedError
	if errors.As(err, &pfe) {
		return pfe.Raw
	}
	if out != nil && out.Document != nil {
		return out.Document.RawText
	}
	return ""
}

// Store renders an already generated document and puts it in the blob store.
func (g *Generator) Store(ctx context.Context, in Input, doc *types.TailoredDocument) (*Output, error) {
	meta := in.Meta
	if meta.JobTitle == "" {
		meta.JobTitle = in.JobTitle
	}
	if meta.Company == "" {
		meta.Company = in.Company
	}
	meta.ShowATS = meta.ShowATS || g.showATS

	html, err := RenderHTML(doc, in.Template, meta)
	if err != nil {
		return nil, err
	}
	data, contentType, err := g.renderer.Render(ctx, html)
	if err != nil {
		return nil, err
	}
	ref, err := g.blobs.Put(ctx, data, contentType)
	if err != nil {
		return nil, &RenderError{Message: "failed to store rendered document", Cause: err}
	}

	g.events.Record(ctx, in.SubjectID, events.DocumentRendered, "Document rendered", map[string]any{
		"template":     ResolveTemplate(in.Template),
		"content_type": contentType,
		"bytes":        len(data),
		"ref":          ref,
	})
	g.events.Record(ctx, in.SubjectID, events.TailoringCompleted, "Tailoring completed", map[string]any{
		"ref":                ref,
		"ats_score_estimate": doc.ATSScoreEstimate,
	})
	return &Output{Document: doc, Ref: ref, ContentType: contentType}, nil
}

// WriteCoverLetter asks the backend for a plain-text cover letter.
func (g *Generator) WriteCoverLetter(ctx context.Context, in Input) (string, error) {
	if g.backend == nil {
		return "", ErrGenerationUnavailable
	}

	data := promptData(in, extraction.Truncate(in.JobDescription, CoverLetterDescriptionLimit))
	systemPrompt, err := prompts.Render("tailoring.json", "cover-letter-system", data)
	if err != nil {
		return "", fmt.Errorf("failed to load cover letter prompt: %w", err)
	}
	userPrompt, err := prompts.Render("tailoring.json", "cover-letter-user", data)
	if err != nil {
		return "", fmt.Errorf("failed to load cover letter prompt: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.backend.Complete(callCtx, systemPrompt, userPrompt, CoverLetterMaxOutputTokens)
	if err != nil {
		if errors.Is(err, llm.ErrBackendUnavailable) {
			return "", ErrGenerationUnavailable
		}
		return "", &GenerationFailedError{Message: "cover letter call failed", Cause: err}
	}
	letter := strings.TrimSpace(llm.CleanJSONBlock(raw))
	if letter == "" {
		return "", &GenerationFailedError{Message: "empty cover letter"}
	}
	return letter, nil
}

func promptData(in Input, description string) map[string]string {
	title := in.JobTitle
	if title == "" {
		title = extraction.UnknownTitle
	}
	company := in.Company
	if company == "" {
		company = "the company"
	}
	var letter string
	if in.BaseCoverLetter != "" {
		letter = "\n\nMy existing cover letter (reuse its voice and strongest points):\n" + in.BaseCoverLetter
	}
	return map[string]string{
		"JobTitle":        title,
		"Company":         company,
		"JobDescription":  description,
		"BaseResume":      in.BaseResume,
		"BaseCoverLetter": letter,
	}
}

// errorType names an error for event payloads.
func errorType(err error) string {
	var gfe *GenerationFailedError
	var pfe *ParseFailedError
	var te *TemplateError
	var re *RenderError
	switch {
	case errors.Is(err, ErrGenerationUnavailable):
		return "unavailable"
	case errors.As(err, &gfe):
		return "generation_failed"
	case errors.As(err, &pfe):
		return "parse_failed"
	case errors.As(err, &te):
		return "template"
	case errors.As(err, &re):
		return "render"
	default:
		return "internal"
	}
}
