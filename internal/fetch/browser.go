// Package fetch - browser.go provides headless browser rendering for SPA sites.
package fetch

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// MinContentLength is the minimum extracted text length to consider HTTP fetch successful.
// If content is shorter, we should fall back to browser rendering.
const MinContentLength = 500

// ShouldUseBrowser returns true if the extracted text is too short,
// indicating the page is likely a JavaScript-rendered SPA.
func ShouldUseBrowser(extractedText string) bool {
	return len(strings.TrimSpace(extractedText)) < MinContentLength
}

// ExecAllocatorOptions are the Chrome flags shared by every headless session.
func ExecAllocatorOptions() []chromedp.ExecAllocatorOption {
	return append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(DefaultUserAgent),
	)
}

// BrowserFetcher renders pages in headless Chrome.
// Requires Chrome/Chromium to be installed on the system.
type BrowserFetcher struct {
	Settle  time.Duration // wait after body is ready for client-side rendering
	Verbose bool
}

// Get implements Fetcher.
func (b *BrowserFetcher) Get(ctx context.Context, url string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	settle := b.Settle
	if settle <= 0 {
		settle = 2 * time.Second
	}
	if b.Verbose {
		log.Printf("[BROWSER] Starting headless browser for: %s", url)
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, ExecAllocatorOptions()...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(settle),
		chromedp.ActionFunc(func(ctx context.Context) error {
			// Cookie banners hide content on some boards; a missing button is fine.
			_ = chromedp.Click(`button[id*="accept"], button[class*="accept"]`, chromedp.NodeVisible, chromedp.AtLeast(0)).Do(ctx)
			return nil
		}),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, &Error{
			URL:       url,
			Message:   "browser rendering failed",
			Retryable: ctx.Err() == nil,
			Cause:     err,
		}
	}

	if b.Verbose {
		log.Printf("[BROWSER] Rendered HTML: %d bytes", len(html))
	}

	return &Result{
		URL:        url,
		HTML:       html,
		StatusCode: 200,
		Rendered:   true,
	}, nil
}

// FallbackFetcher tries Primary first and re-renders through Browser when the
// page looks like an SPA shell.
type FallbackFetcher struct {
	Primary Fetcher
	Browser Fetcher
	Verbose bool
}

// Get implements Fetcher.
func (f *FallbackFetcher) Get(ctx context.Context, url string, timeout time.Duration) (*Result, error) {
	res, err := f.Primary.Get(ctx, url, timeout)
	if err != nil || f.Browser == nil {
		return res, err
	}

	text, parseErr := ExtractMainText(res.HTML, JobPostingSelectors())
	if parseErr != nil || !ShouldUseBrowser(text) {
		res.Text = text
		return res, nil
	}

	if f.Verbose {
		log.Printf("[FETCH] Only %d chars of text from %s, retrying with browser", len(text), url)
	}
	rendered, berr := f.Browser.Get(ctx, url, timeout)
	if berr != nil {
		log.Printf("[FETCH] Browser fallback failed for %s: %v", url, berr)
		res.Text = text
		return res, nil
	}
	return rendered, nil
}
