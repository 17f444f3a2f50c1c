package types

import (
	"time"

	"github.com/google/uuid"
)

// WorkExperience is one tailored experience entry.
type WorkExperience struct {
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Duration     string   `json:"duration"`
	Achievements []string `json:"achievements"`
}

// Education is one tailored education entry.
type Education struct {
	Degree      string `json:"degree"`
	Institution string `json:"institution"`
	Year        string `json:"year"`
}

// TailoredDocument is the structured resume produced for one job.
type TailoredDocument struct {
	Summary          string           `json:"summary"`
	KeySkills        []string         `json:"key_skills"`
	WorkExperience   []WorkExperience `json:"work_experience"`
	Education        []Education      `json:"education"`
	ATSScoreEstimate int              `json:"ats_score_estimate"`

	// Provenance of the generation that produced this document.
	ModelName string `json:"model_name,omitempty"`
	RawText   string `json:"raw_text,omitempty"`
}

// Clone returns a deep copy of the document.
func (d *TailoredDocument) Clone() *TailoredDocument {
	if d == nil {
		return nil
	}
	c := *d
	c.KeySkills = append([]string(nil), d.KeySkills...)
	c.Education = append([]Education(nil), d.Education...)
	c.WorkExperience = make([]WorkExperience, len(d.WorkExperience))
	for i, w := range d.WorkExperience {
		w.Achievements = append([]string(nil), w.Achievements...)
		c.WorkExperience[i] = w
	}
	return &c
}

// DocumentStatus is the state of a standalone tailoring request.
type DocumentStatus string

// Document status values
const (
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// DocumentRecord tracks a standalone resume tailoring request.
type DocumentRecord struct {
	ID             uuid.UUID         `json:"id"`
	UserID         string            `json:"user_id"`
	JobDescription string            `json:"job_description"`
	Template       string            `json:"template"`
	Status         DocumentStatus    `json:"status"`
	Document       *TailoredDocument `json:"document,omitempty"`
	ModelName      string            `json:"model_name,omitempty"`
	RawResponse    string            `json:"raw_response,omitempty"`
	BlobRef        *string           `json:"blob_ref,omitempty"`
	ErrorMessage   *string           `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// JobExtraction is the transient result of extracting a job posting page.
type JobExtraction struct {
	URL                  string  `json:"url"`
	Title                string  `json:"title"`
	Company              *string `json:"company,omitempty"`
	Description          string  `json:"description"`
	ApplyAffordanceFound bool    `json:"apply_affordance_found"`
	ApplySelector        string  `json:"apply_selector,omitempty"`
	Platform             string  `json:"platform,omitempty"`
	SourceDomain         string  `json:"source_domain,omitempty"`
	FetchError           string  `json:"fetch_error,omitempty"`
}
