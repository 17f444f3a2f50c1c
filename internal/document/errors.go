package document

import (
	"fmt"

	"github.com/jonathan/applymate/internal/llm"
)

// ErrGenerationUnavailable means no backend is configured. It is the same
// sentinel as llm.ErrBackendUnavailable so either can be matched.
var ErrGenerationUnavailable = llm.ErrBackendUnavailable

// GenerationFailedError is a failed backend call. Retryable.
type GenerationFailedError struct {
	Message string
	Cause   error
}

func (e *GenerationFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("generation failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("generation failed: %s", e.Message)
}

func (e *GenerationFailedError) Unwrap() error {
	return e.Cause
}

// ParseFailedError means the backend answered but no valid document could be
// recovered from the answer, even after the repair pass.
type ParseFailedError struct {
	Message string
	// Raw is the complete response, kept for provenance.
	Raw        string
	RawExcerpt string
	Cause      error
}

func (e *ParseFailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("parse failed: %s", e.Message)
}

func (e *ParseFailedError) Unwrap() error {
	return e.Cause
}

// TemplateError represents an error executing a document template
type TemplateError struct {
	Message string
	Cause   error
}

func (e *TemplateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("template error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("template error: %s", e.Message)
}

func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// RenderError represents a general rendering failure
type RenderError struct {
	Message string
	Cause   error
}

func (e *RenderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("render error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("render error: %s", e.Message)
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}
