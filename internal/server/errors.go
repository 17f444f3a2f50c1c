package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/applymate/internal/blob"
	"github.com/jonathan/applymate/internal/ledger"
	"github.com/jonathan/applymate/internal/llm"
	"github.com/jonathan/applymate/internal/pipeline"
	"github.com/jonathan/applymate/internal/resumetext"
	"github.com/jonathan/applymate/internal/store"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// validationError converts validator output into an ErrValidation naming the
// first failing field.
func validationError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		msg := "failed on " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return &ErrValidation{Field: fe.Field(), Message: msg}
	}
	return &ErrValidation{Message: err.Error()}
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var ve *ErrValidation
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &ve),
		errors.Is(err, pipeline.ErrInvalidRequest),
		errors.Is(err, pipeline.ErrProfileRequired),
		errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, resumetext.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ledger.ErrInsufficientCredit):
		return http.StatusPaymentRequired
	case errors.Is(err, store.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, llm.ErrBackendUnavailable), errors.Is(err, pipeline.ErrSubmissionUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the machine-readable companion of HTTPStatus.
func errorCode(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrProfileRequired):
		return "profile_required"
	case errors.Is(err, ledger.ErrInsufficientCredit):
		return "insufficient_credit"
	case errors.Is(err, llm.ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, pipeline.ErrSubmissionUnavailable):
		return "submission_unavailable"
	case errors.Is(err, resumetext.ErrUnsupported):
		return "unsupported_format"
	}
	switch HTTPStatus(err) {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "invalid_transition"
	default:
		return "internal_error"
	}
}
