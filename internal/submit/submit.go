// Package submit fills in and submits job application forms in headless Chrome.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/jonathan/applymate/internal/blob"
	"github.com/jonathan/applymate/internal/fetch"
	"github.com/jonathan/applymate/internal/pipeline"
)

// DefaultTimeout bounds one whole submission.
const DefaultTimeout = 2 * time.Minute

var (
	// ErrNoSubmitControl means the form had no recognisable submit button.
	ErrNoSubmitControl = errors.New("no submit control found")
	// ErrNotConfirmed means the page showed no confirmation after submitting.
	ErrNotConfirmed = errors.New("submission not confirmed by page")
)

// Field selectors tried for each profile value.
var (
	nameSelectors = []string{
		`input[name*="name" i]:not([name*="company" i]):not([name*="last" i])`,
		`input[autocomplete="name"]`,
		`input[id*="name" i]:not([id*="company" i]):not([id*="last" i])`,
	}
	emailSelectors = []string{
		`input[type="email"]`,
		`input[name*="email" i]`,
		`input[autocomplete="email"]`,
	}
	coverLetterSelectors = []string{
		`textarea[name*="cover" i]`,
		`textarea[id*="cover" i]`,
		`textarea`,
	}
	resumeUploadSelectors = []string{
		`input[type="file"][name*="resume" i]`,
		`input[type="file"][id*="resume" i]`,
		`input[type="file"]`,
	}
	submitSelectors = []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
		`button[id*="submit" i]`,
		`button[class*="submit" i]`,
	}
)

// confirmationPhrases mark a page shown after a successful submission.
var confirmationPhrases = []string{
	"thank you for applying",
	"thanks for applying",
	"application received",
	"application has been received",
	"application submitted",
	"application was submitted",
	"we have received your application",
	"we've received your application",
}

// ChromeSubmitter implements pipeline.Submitter with chromedp.
type ChromeSubmitter struct {
	Blobs    blob.Store
	ExecPath string
	Timeout  time.Duration
	Settle   time.Duration
	Verbose  bool
}

var _ pipeline.Submitter = (*ChromeSubmitter)(nil)

// Submit opens the posting, follows the apply control, fills the form from the
// profile, attaches the tailored document and submits.
func (s *ChromeSubmitter) Submit(ctx context.Context, req pipeline.SubmitRequest) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	settle := s.Settle
	if settle <= 0 {
		settle = 2 * time.Second
	}

	resumePath, cleanup, err := s.resumeFile(ctx, req.DocumentRef)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := fetch.ExecAllocatorOptions()
	if s.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.ExecPath))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
	defer cancel()

	if s.Verbose {
		log.Printf("[SUBMIT] Opening %s for %s", req.JobURL, req.ApplicationID)
	}

	actions := []chromedp.Action{
		chromedp.Navigate(req.JobURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(settle),
	}
	if req.ApplySelector != "" {
		sel, queryOpt := Query(req.ApplySelector)
		actions = append(actions,
			clickIfPresent(sel, queryOpt),
			chromedp.Sleep(settle),
		)
	}
	actions = append(actions,
		fillFirst(nameSelectors, req.Profile.FullName),
		fillFirst(emailSelectors, req.Profile.Email),
		fillFirst(coverLetterSelectors, req.CoverLetter),
	)
	if resumePath != "" {
		actions = append(actions, uploadFirst(resumeUploadSelectors, resumePath))
	}

	var bodyText string
	actions = append(actions,
		clickFirst(submitSelectors),
		chromedp.Sleep(settle),
		chromedp.Text("body", &bodyText, chromedp.ByQuery),
	)

	if err := chromedp.Run(browserCtx, actions...); err != nil {
		return fmt.Errorf("submission to %s failed: %w", req.JobURL, err)
	}
	if !Confirmed(bodyText) {
		return ErrNotConfirmed
	}
	if s.Verbose {
		log.Printf("[SUBMIT] Confirmed submission for %s", req.ApplicationID)
	}
	return nil
}

// resumeFile copies the stored document to a temp file for upload.
func (s *ChromeSubmitter) resumeFile(ctx context.Context, ref string) (string, func(), error) {
	noop := func() {}
	if ref == "" || s.Blobs == nil {
		return "", noop, nil
	}
	data, err := s.Blobs.Get(ctx, ref)
	if err != nil {
		return "", noop, fmt.Errorf("failed to load document %s: %w", ref, err)
	}
	dir, err := os.MkdirTemp("", "applymate-submit-")
	if err != nil {
		return "", noop, err
	}
	name := "resume" + filepath.Ext(ref)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		os.RemoveAll(dir)
		return "", noop, err
	}
	return path, func() { os.RemoveAll(dir) }, nil
}

var containsPattern = regexp.MustCompile(`^([a-zA-Z0-9]+):contains\("(.*)"\)$`)

// Query converts a selector recorded during extraction into a chromedp query.
// Text selectors of the form tag:contains("Apply") are not CSS and become
// XPath expressions; everything else is used as a CSS query.
func Query(sel string) (string, chromedp.QueryOption) {
	if m := containsPattern.FindStringSubmatch(sel); m != nil {
		return fmt.Sprintf(`//%s[contains(translate(normalize-space(.), "ABCDEFGHIJKLMNOPQRSTUVWXYZ", "abcdefghijklmnopqrstuvwxyz"), %s)]`,
			m[1], xpathLiteral(strings.ToLower(m[2]))), chromedp.BySearch
	}
	return sel, chromedp.ByQuery
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	return `concat("` + strings.Join(parts, `", '"', "`) + `")`
}

// Confirmed reports whether page text looks like a submission confirmation.
func Confirmed(text string) bool {
	lower := strings.ToLower(strings.Join(strings.Fields(text), " "))
	for _, phrase := range confirmationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// present lists the nodes matching sel without waiting for them.
func present(ctx context.Context, sel string, opt chromedp.QueryOption) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	err := chromedp.Nodes(sel, &nodes, opt, chromedp.AtLeast(0)).Do(ctx)
	return nodes, err
}

func clickIfPresent(sel string, opt chromedp.QueryOption) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		nodes, err := present(ctx, sel, opt)
		if err != nil || len(nodes) == 0 {
			return err
		}
		return chromedp.MouseClickNode(nodes[0]).Do(ctx)
	})
}

func clickFirst(selectors []string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, sel := range selectors {
			nodes, err := present(ctx, sel, chromedp.ByQuery)
			if err != nil {
				return err
			}
			if len(nodes) > 0 {
				return chromedp.MouseClickNode(nodes[0]).Do(ctx)
			}
		}
		return ErrNoSubmitControl
	})
}

// fillFirst types value into the first matching field. Missing fields are
// skipped; not every form asks for every value.
func fillFirst(selectors []string, value string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if value == "" {
			return nil
		}
		for _, sel := range selectors {
			nodes, err := present(ctx, sel, chromedp.ByQuery)
			if err != nil {
				return err
			}
			if len(nodes) > 0 {
				return chromedp.SendKeys([]cdp.NodeID{nodes[0].NodeID}, value, chromedp.ByNodeID).Do(ctx)
			}
		}
		return nil
	})
}

func uploadFirst(selectors []string, path string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, sel := range selectors {
			nodes, err := present(ctx, sel, chromedp.ByQuery)
			if err != nil {
				return err
			}
			if len(nodes) > 0 {
				return chromedp.SetUploadFiles([]cdp.NodeID{nodes[0].NodeID}, []string{path}, chromedp.ByNodeID).Do(ctx)
			}
		}
		return nil
	})
}
