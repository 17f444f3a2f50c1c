package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/applymate/internal/llm"
	"github.com/jonathan/applymate/internal/schemas"
	"github.com/jonathan/applymate/internal/scoring"
	"github.com/jonathan/applymate/internal/types"
)

// MaxExcerpt bounds raw model output copied into events and errors.
const MaxExcerpt = 500

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number or a numeric string such as "85" or "85%".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexInt(int(n))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, ok := scoring.ParseScore(s)
	if !ok {
		*f = 0
		return nil
	}
	*f = flexInt(v)
	return nil
}

type rawExperience struct {
	Title        flexString   `json:"title"`
	Company      flexString   `json:"company"`
	Duration     flexString   `json:"duration"`
	Achievements []flexString `json:"achievements"`
}

type rawEducation struct {
	Degree      flexString `json:"degree"`
	Institution flexString `json:"institution"`
	Year        flexString `json:"year"`
}

type rawDocument struct {
	Summary          string          `json:"summary"`
	KeySkills        []flexString    `json:"key_skills"`
	WorkExperience   []rawExperience `json:"work_experience"`
	Education        []rawEducation  `json:"education"`
	ATSScoreEstimate flexInt         `json:"ats_score_estimate"`
}

// keyAliases maps field names some models use to the canonical ones.
var keyAliases = map[string]string{
	"tailored_summary": "summary",
	"skills":           "key_skills",
	"experience":       "work_experience",
}

// decodeObject parses text as a single JSON object.
func decodeObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("not a JSON object")
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected content after JSON object")
	}
	return obj, nil
}

// parseAttempt is the outcome of turning raw model text into a document.
type parseAttempt struct {
	Document *types.TailoredDocument
	Repaired bool
	// FirstErr is the error of the direct parse when the repair pass was needed.
	FirstErr error
}

// ParseDocument turns raw model output into a validated TailoredDocument.
// It strips code fences, and when the result is not a JSON object it makes
// one repair attempt using the first balanced {...} span in the raw text.
func ParseDocument(raw string) (*types.TailoredDocument, error) {
	res, err := parse(raw)
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

func parse(raw string) (*parseAttempt, error) {
	attempt := &parseAttempt{}

	obj, err := decodeObject(llm.CleanJSONBlock(raw))
	if err != nil {
		attempt.FirstErr = err
		attempt.Repaired = true
		span := llm.ExtractJSONObject(raw)
		if span == "" {
			return attempt, &ParseFailedError{Message: "no JSON object in response", Raw: raw, RawExcerpt: Excerpt(raw), Cause: err}
		}
		obj, err = decodeObject(span)
		if err != nil {
			return attempt, &ParseFailedError{Message: "repair pass failed", Raw: raw, RawExcerpt: Excerpt(raw), Cause: err}
		}
	}

	for alias, canonical := range keyAliases {
		if v, ok := obj[alias]; ok {
			if _, exists := obj[canonical]; !exists {
				obj[canonical] = v
			}
			delete(obj, alias)
		}
	}

	normalized, err := json.Marshal(obj)
	if err != nil {
		return attempt, &ParseFailedError{Message: "re-encoding failed", Raw: raw, RawExcerpt: Excerpt(raw), Cause: err}
	}
	if err := schemas.ValidateTailoredDocument(string(normalized)); err != nil {
		return attempt, &ParseFailedError{Message: "document does not match schema", Raw: raw, RawExcerpt: Excerpt(raw), Cause: err}
	}

	var rd rawDocument
	if err := json.Unmarshal(normalized, &rd); err != nil {
		return attempt, &ParseFailedError{Message: "document fields have unexpected types", Raw: raw, RawExcerpt: Excerpt(raw), Cause: err}
	}

	attempt.Document = rd.toDocument()
	return attempt, nil
}

func (rd *rawDocument) toDocument() *types.TailoredDocument {
	doc := &types.TailoredDocument{
		Summary:          strings.TrimSpace(rd.Summary),
		KeySkills:        make([]string, 0, len(rd.KeySkills)),
		WorkExperience:   make([]types.WorkExperience, 0, len(rd.WorkExperience)),
		Education:        make([]types.Education, 0, len(rd.Education)),
		ATSScoreEstimate: scoring.Clamp(int(rd.ATSScoreEstimate)),
	}
	for _, s := range rd.KeySkills {
		if v := strings.TrimSpace(string(s)); v != "" {
			doc.KeySkills = append(doc.KeySkills, v)
		}
	}
	for _, w := range rd.WorkExperience {
		we := types.WorkExperience{
			Title:        strings.TrimSpace(string(w.Title)),
			Company:      strings.TrimSpace(string(w.Company)),
			Duration:     strings.TrimSpace(string(w.Duration)),
			Achievements: make([]string, 0, len(w.Achievements)),
		}
		for _, a := range w.Achievements {
			if v := strings.TrimSpace(string(a)); v != "" {
				we.Achievements = append(we.Achievements, v)
			}
		}
		doc.WorkExperience = append(doc.WorkExperience, we)
	}
	for _, e := range rd.Education {
		doc.Education = append(doc.Education, types.Education{
			Degree:      strings.TrimSpace(string(e.Degree)),
			Institution: strings.TrimSpace(string(e.Institution)),
			Year:        strings.TrimSpace(string(e.Year)),
		})
	}
	return doc
}

// Excerpt returns at most MaxExcerpt runes of s.
func Excerpt(s string) string {
	r := []rune(s)
	if len(r) <= MaxExcerpt {
		return s
	}
	return string(r[:MaxExcerpt])
}
