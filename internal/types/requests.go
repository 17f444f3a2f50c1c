package types

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// AnalyzeRequest asks for a job to be scored and a tailored document crafted.
type AnalyzeRequest struct {
	JobURL string `json:"job_url" validate:"required,url"`
}

// ApplyRequest queues a full application including submission.
type ApplyRequest struct {
	JobURL      string `json:"job_url" validate:"required,url"`
	JobTitle    string `json:"job_title,omitempty" validate:"omitempty,max=255"`
	CompanyName string `json:"company_name,omitempty" validate:"omitempty,max=255"`
}

// PurchaseRequest records credits bought through the payment provider.
type PurchaseRequest struct {
	Amount          int    `json:"amount" validate:"required,min=1,max=1000"`
	PaymentIntentID string `json:"stripe_payment_intent_id" validate:"required"`
}

// TailorRequest asks for a standalone tailored resume.
type TailorRequest struct {
	JobDescription string `json:"job_description" validate:"required,min=20"`
	Template       string `json:"template,omitempty" validate:"omitempty,oneof=default compact"`
}

// ProfileRequest creates or replaces the caller's profile and base resume.
// An empty BaseCoverLetter keeps the stored one.
type ProfileRequest struct {
	FullName        string `json:"full_name" validate:"required,max=255"`
	Email           string `json:"email,omitempty" validate:"omitempty,email"`
	BaseResume      string `json:"base_resume" validate:"required,min=50"`
	BaseCoverLetter string `json:"base_cover_letter,omitempty" validate:"omitempty,max=20000"`
}

// CoverLetterRequest replaces the caller's base cover letter.
type CoverLetterRequest struct {
	CoverLetter string `json:"cover_letter" validate:"required,min=50,max=20000"`
}

// Validate validates the AnalyzeRequest using the validator.
func (r *AnalyzeRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the ApplyRequest using the validator.
func (r *ApplyRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the PurchaseRequest using the validator.
func (r *PurchaseRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the TailorRequest using the validator.
func (r *TailorRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the ProfileRequest using the validator.
func (r *ProfileRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the CoverLetterRequest using the validator.
func (r *CoverLetterRequest) Validate() error {
	return validate.Struct(r)
}
