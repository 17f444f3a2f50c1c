package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/applymate/internal/scoring"
	"github.com/jonathan/applymate/internal/types"
)

func TestPrintJobExtraction(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	company := "Acme Corp"
	p.PrintJobExtraction(&types.JobExtraction{
		URL:                  "https://boards.greenhouse.io/acme/jobs/1",
		Title:                "Senior Engineer",
		Company:              &company,
		Description:          strings.Repeat("Build things. ", 30),
		ApplyAffordanceFound: true,
		ApplySelector:        "#apply_button",
		Platform:             "greenhouse",
	})
	output := buf.String()

	assert.Contains(t, output, "EXTRACTED JOB POSTING")
	assert.Contains(t, output, "Senior Engineer")
	assert.Contains(t, output, "Acme Corp")
	assert.Contains(t, output, "greenhouse")
	assert.Contains(t, output, "#apply_button")
	assert.Contains(t, output, "420 chars")
}

func TestPrintJobExtraction_NoApply(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintJobExtraction(&types.JobExtraction{Title: "Engineer", FetchError: "status 403"})

	assert.Contains(t, buf.String(), "not found")
	assert.Contains(t, buf.String(), "status 403")
}

func TestPrintJobExtraction_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintJobExtraction(nil)

	assert.Empty(t, buf.String())
}

func TestPrintScore(t *testing.T) {
	tests := []struct {
		name     string
		res      scoring.Result
		contains []string
		excludes []string
	}{
		{
			name:     "scored",
			res:      scoring.Result{Score: 82, Status: scoring.StatusScored, Raw: "82"},
			contains: []string{"MATCH SCORE", "82/100", "scored"},
			excludes: []string{"fallback"},
		},
		{
			name:     "backend error",
			res:      scoring.Result{Score: scoring.FallbackScore, Status: scoring.StatusBackendError, Err: errors.New("timeout")},
			contains: []string{"50/100", "fallback", "timeout"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewPrinter(&buf).PrintScore(tt.res)
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestPrintTailoredDocument(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintTailoredDocument(&types.TailoredDocument{
		Summary:          "Backend engineer.",
		KeySkills:        []string{"Go", "PostgreSQL", "Kubernetes", "gRPC", "Kafka", "Terraform", "AWS"},
		WorkExperience:   []types.WorkExperience{{Title: "Staff Engineer", Company: "Acme", Achievements: []string{"a", "b"}}},
		ATSScoreEstimate: 77,
		ModelName:        "gemini-2.0-flash",
	})
	output := buf.String()

	assert.Contains(t, output, "TAILORED RESUME")
	assert.Contains(t, output, "gemini-2.0-flash")
	assert.Contains(t, output, "77")
	assert.Contains(t, output, "Kafka")
	assert.NotContains(t, output, "Terraform")
	assert.Contains(t, output, "... and 2 more")
	assert.Contains(t, output, "Staff Engineer, Acme (2 achievements)")
}

func TestPrintTailoredDocument_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintTailoredDocument(nil)

	assert.Empty(t, buf.String())
}

func TestPrintApplication(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	id := uuid.New()
	p.PrintApplication(&types.Application{
		ID:           id,
		Mode:         types.ModeApply,
		Status:       types.StatusFailed,
		JobURL:       "https://example.com/jobs/1",
		MatchScore:   types.IntPtr(64),
		RetryCount:   2,
		ErrorMessage: types.StringPtr(types.CancelledReason),
	})
	output := buf.String()

	assert.Contains(t, output, id.String())
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "64")
	assert.Contains(t, output, "Retries: 2")
	assert.Contains(t, output, types.CancelledReason)
}

func TestPrintEvents(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	at := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	p.PrintEvents([]types.PipelineEvent{
		{EventType: "application_queued", Message: "Application queued", CreatedAt: at},
		{EventType: "scraping_started", CreatedAt: at},
	})
	output := buf.String()

	assert.Contains(t, output, "EVENTS (2)")
	assert.Contains(t, output, "15:04:05  application_queued")
	assert.Contains(t, output, "Application queued")
}

func TestPrintEvents_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintEvents(nil)

	assert.Contains(t, buf.String(), "NO EVENTS RECORDED")
}

func TestPrintBox_ClipsLongLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.printBox("TITLE", strings.Repeat("é", 100))

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.LessOrEqual(t, len([]rune(line)), boxWidth, line)
	}
	assert.Contains(t, buf.String(), "...")
}
