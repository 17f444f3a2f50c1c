// Package scoring rates how well a candidate fits a job posting.
package scoring

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strconv"
	"time"

	"github.com/jonathan/applymate/internal/llm"
	"github.com/jonathan/applymate/internal/prompts"
)

const (
	// FallbackScore is returned when the backend errors or its answer has no number.
	FallbackScore = 50
	// UnconfiguredScore is returned without a call when no backend is configured.
	UnconfiguredScore = 75
	// MaxOutputTokens bounds the backend answer; only a number is expected.
	MaxOutputTokens = 10
	// DefaultTimeout bounds a single scoring call.
	DefaultTimeout = 30 * time.Second
)

// Status tells callers how a score was obtained.
type Status string

// Score statuses
const (
	StatusScored       Status = "scored"
	StatusBackendError Status = "backend_error"
	StatusUnparseable  Status = "unparseable"
	StatusUnconfigured Status = "unconfigured"
)

// Result is a fit score in [0,100] and how it was obtained.
type Result struct {
	Score  int    `json:"score"`
	Status Status `json:"status"`
	Raw    string `json:"raw,omitempty"`
	Err    error  `json:"-"`
}

// Degraded reports whether the score is a fallback constant.
func (r Result) Degraded() bool {
	return r.Status != StatusScored
}

var digits = regexp.MustCompile(`\d+`)

// Scorer produces fit scores through a content-generation backend.
type Scorer struct {
	backend llm.Backend
	timeout time.Duration
	verbose bool
}

// New creates a Scorer. A nil backend is the unconfigured case.
func New(backend llm.Backend, verbose bool) *Scorer {
	return &Scorer{backend: backend, timeout: DefaultTimeout, verbose: verbose}
}

// Configured reports whether a backend is present.
func (s *Scorer) Configured() bool {
	return s.backend != nil
}

// Score rates description against profile. It never fails; degraded results
// carry a Status other than StatusScored.
func (s *Scorer) Score(ctx context.Context, description, profile string) Result {
	if s.backend == nil {
		return Result{Score: UnconfiguredScore, Status: StatusUnconfigured, Err: llm.ErrBackendUnavailable}
	}

	system, err := prompts.Get("scoring.json", "match-score-system")
	if err != nil {
		return Result{Score: FallbackScore, Status: StatusBackendError, Err: err}
	}
	user, err := prompts.Render("scoring.json", "match-score-user", map[string]string{
		"JobDescription": description,
		"Profile":        profile,
	})
	if err != nil {
		return Result{Score: FallbackScore, Status: StatusBackendError, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.backend.Complete(ctx, system, user, MaxOutputTokens)
	if err != nil {
		log.Printf("[SCORE] Backend call failed, using fallback %d: %v", FallbackScore, err)
		return Result{Score: FallbackScore, Status: StatusBackendError, Err: err}
	}

	score, ok := ParseScore(raw)
	if !ok {
		log.Printf("[SCORE] No number in response %q, using fallback %d", raw, FallbackScore)
		return Result{Score: FallbackScore, Status: StatusUnparseable, Raw: raw, Err: errors.New("no score in response")}
	}

	if s.verbose {
		log.Printf("[SCORE] %s scored %d", s.backend.Model(), score)
	}
	return Result{Score: score, Status: StatusScored, Raw: raw}
}

// ParseScore takes the first run of digits in raw and clamps it to [0,100].
func ParseScore(raw string) (int, bool) {
	m := digits.FindString(raw)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		// Longer than an int; certainly above the ceiling.
		return 100, true
	}
	return Clamp(n), true
}

// Clamp bounds a score to [0,100].
func Clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
