// Package extraction locates the title, company, description and apply
// control of a job posting using ordered selector fallback chains.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/applymate/internal/fetch"
	"github.com/jonathan/applymate/internal/types"
)

const (
	// MinDescriptionLength is the length a targeted description must exceed.
	MinDescriptionLength = 100
	// MaxDescriptionLength bounds the full-page fallback description.
	MaxDescriptionLength = 5000
	// UnknownTitle is used when a page yields no title at all.
	UnknownTitle = "Unknown Position"
)

// Generic chains, tried after any platform-specific selectors.
var (
	titleSelectors = []string{
		"[data-testid='job-title']",
		".job-title",
		"h1.job-header",
		"h1[class*='title']",
		"h1",
	}
	companySelectors = []string{
		"[data-testid='company-name']",
		".company-name",
		"[class*='company']",
		"a[class*='company']",
	}
	descriptionSelectors = []string{
		"[data-testid='job-description']",
		".job-description",
		"#job-description",
		"[class*='description']",
		"[class*='details']",
	}
	applySelectors = []string{
		"button[data-testid='apply-button']",
		"button[class*='apply']",
		"a[class*='apply']",
		"[aria-label*='Apply']",
	}
)

// Options configures an Extractor.
type Options struct {
	Timeout time.Duration
	Verbose bool
}

// Extractor pulls a JobExtraction out of a posting URL.
type Extractor struct {
	fetcher fetch.Fetcher
	opts    Options
}

// New creates an Extractor. A zero timeout uses fetch.DefaultTimeout.
func New(fetcher fetch.Fetcher, opts Options) *Extractor {
	if opts.Timeout <= 0 {
		opts.Timeout = fetch.DefaultTimeout
	}
	return &Extractor{fetcher: fetcher, opts: opts}
}

// Extract fetches url and extracts its fields. When the page cannot be
// fetched it returns a *fetch.Error together with a degraded extraction whose
// description explains the failure, so callers always have some text.
func (e *Extractor) Extract(ctx context.Context, url string) (*types.JobExtraction, error) {
	platform := fetch.DetectPlatform(url)
	if e.opts.Verbose {
		log.Printf("[EXTRACT] Fetching %s (platform=%s)", url, platform)
	}

	res, err := e.fetcher.Get(ctx, url, e.opts.Timeout)
	if err != nil {
		var fe *fetch.Error
		if !errors.As(err, &fe) {
			fe = &fetch.Error{URL: url, Message: "fetch failed", Retryable: true, Cause: err}
		}
		log.Printf("[EXTRACT] Fetch failed for %s: %v", url, fe)
		return Degraded(url, fe), fe
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
	if err != nil {
		fe := &fetch.Error{URL: url, Message: "unparsable HTML", Cause: err}
		return Degraded(url, fe), fe
	}

	ext := FromDocument(doc, url)
	if e.opts.Verbose {
		log.Printf("[EXTRACT] title=%q company=%v description=%d chars apply=%v",
			ext.Title, ext.Company != nil, len(ext.Description), ext.ApplyAffordanceFound)
	}
	return ext, nil
}

// FromDocument runs the strategy chains over an already parsed page.
func FromDocument(doc *goquery.Document, url string) *types.JobExtraction {
	platform := fetch.DetectPlatform(url)
	ps := fetch.PlatformSelectors(platform)

	ext := &types.JobExtraction{
		URL:          url,
		Platform:     string(platform),
		SourceDomain: fetch.SourceDomain(url),
	}

	titleChain := append(textChain(ps.Title, 0), textChain(titleSelectors, 0)...)
	titleChain = append(titleChain, PageTitle())
	if title, ok := First(doc, titleChain); ok {
		ext.Title = firstLine(title)
	} else {
		ext.Title = UnknownTitle
	}

	companyChain := append(textChain(ps.Company, 0), Attr(".main-header-logo img", "alt"))
	companyChain = append(companyChain, textChain(companySelectors, 0)...)
	if company, ok := First(doc, companyChain); ok {
		company = firstLine(company)
		ext.Company = &company
	}

	descChain := append(textChain(ps.Description, MinDescriptionLength), textChain(descriptionSelectors, MinDescriptionLength)...)
	if desc, ok := First(doc, descChain); ok {
		ext.Description = desc
	} else {
		ext.Description = fullText(doc, platform, url)
	}

	applyChain := append(presenceChain(ps.Apply), presenceChain(applySelectors)...)
	applyChain = append(applyChain, ContainsText("button", "Apply"), ContainsText("a", "Apply"))
	if sel, ok := First(doc, applyChain); ok {
		ext.ApplyAffordanceFound = true
		ext.ApplySelector = sel
	}

	return ext
}

// fullText is the description of last resort: the whole readable page.
func fullText(doc *goquery.Document, platform fetch.Platform, url string) string {
	text := fetch.MainText(doc, nil, fetch.PlatformNoiseSelectors(platform)...)
	if text == "" {
		text = Clean(doc.Text())
	}
	if text == "" {
		text = fmt.Sprintf("No readable description was found at %s.", url)
	}
	return Truncate(Clean(text), MaxDescriptionLength)
}

// Degraded builds the extraction recorded when a page could not be fetched.
func Degraded(url string, cause error) *types.JobExtraction {
	msg := fmt.Sprintf("The job posting at %s could not be retrieved (%v). Score against the URL and any details supplied with the request.", url, cause)
	return &types.JobExtraction{
		URL:          url,
		Title:        UnknownTitle,
		Description:  Truncate(msg, MaxDescriptionLength),
		Platform:     string(fetch.DetectPlatform(url)),
		SourceDomain: fetch.SourceDomain(url),
		FetchError:   Truncate(cause.Error(), 500),
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
