// Package types provides type definitions for structured data used throughout the applymate system.
package types

import (
	"time"

	"github.com/google/uuid"
)

// ApplicationStatus is the lifecycle state of an Application.
type ApplicationStatus string

// Application status values
const (
	StatusQueued    ApplicationStatus = "queued"
	StatusScraping  ApplicationStatus = "scraping"
	StatusAnalyzing ApplicationStatus = "analyzing"
	StatusCrafting  ApplicationStatus = "crafting"
	StatusApplying  ApplicationStatus = "applying"
	StatusConfirmed ApplicationStatus = "confirmed"
	// StatusAnalyzed is the terminal state of an analyze-only application.
	StatusAnalyzed ApplicationStatus = "analyzed"
	StatusFailed   ApplicationStatus = "failed"
)

// CancelledReason is the error message recorded when a user cancels an application.
const CancelledReason = "cancelled by user"

// IsTerminal reports whether no further transition is possible from s.
func (s ApplicationStatus) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusAnalyzed, StatusFailed:
		return true
	default:
		return false
	}
}

// IsCancellable reports whether a user may cancel an application in state s.
func (s ApplicationStatus) IsCancellable() bool {
	return s == StatusQueued || s == StatusScraping
}

// Valid reports whether s is one of the defined status values.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusScraping, StatusAnalyzing, StatusCrafting,
		StatusApplying, StatusConfirmed, StatusAnalyzed, StatusFailed:
		return true
	default:
		return false
	}
}

// ApplicationMode selects how far the pipeline drives an application.
type ApplicationMode string

// Application modes
const (
	// ModeAnalyze stops after the tailored document is crafted.
	ModeAnalyze ApplicationMode = "analyze"
	// ModeApply continues through submission.
	ModeApply ApplicationMode = "apply"
)

// Application is one job-application attempt.
type Application struct {
	ID               uuid.UUID         `json:"id"`
	UserID           string            `json:"user_id"`
	Mode             ApplicationMode   `json:"mode"`
	JobURL           string            `json:"job_url"`
	JobTitle         *string           `json:"job_title,omitempty"`
	CompanyName      *string           `json:"company_name,omitempty"`
	Status           ApplicationStatus `json:"status"`
	MatchScore       *int              `json:"match_score,omitempty"`
	TailoredDocument *TailoredDocument `json:"tailored_document,omitempty"`
	DocumentRef      *string           `json:"document_ref,omitempty"`
	CoverLetter      *string           `json:"cover_letter,omitempty"`
	ApplyAffordance  *string           `json:"apply_affordance,omitempty"`
	JobDescription   *string           `json:"job_description,omitempty"`
	AppliedAt        *time.Time        `json:"applied_at,omitempty"`
	ErrorMessage     *string           `json:"error_message,omitempty"`
	RetryCount       int               `json:"retry_count"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the application so callers can mutate it
// without affecting shared state.
func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	c := *a
	c.JobTitle = cloneString(a.JobTitle)
	c.CompanyName = cloneString(a.CompanyName)
	c.DocumentRef = cloneString(a.DocumentRef)
	c.CoverLetter = cloneString(a.CoverLetter)
	c.ApplyAffordance = cloneString(a.ApplyAffordance)
	c.JobDescription = cloneString(a.JobDescription)
	c.ErrorMessage = cloneString(a.ErrorMessage)
	if a.MatchScore != nil {
		v := *a.MatchScore
		c.MatchScore = &v
	}
	if a.AppliedAt != nil {
		v := *a.AppliedAt
		c.AppliedAt = &v
	}
	if a.TailoredDocument != nil {
		c.TailoredDocument = a.TailoredDocument.Clone()
	}
	return &c
}

// Profile holds a user's base resume used as input to scoring and tailoring.
// ResumeRef points at the uploaded source file when there was one.
type Profile struct {
	UserID          string    `json:"user_id"`
	FullName        string    `json:"full_name"`
	Email           string    `json:"email"`
	BaseResume      string    `json:"base_resume"`
	BaseCoverLetter string    `json:"base_cover_letter,omitempty"`
	ResumeRef       *string   `json:"resume_ref,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to i.
func IntPtr(i int) *int {
	return &i
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
