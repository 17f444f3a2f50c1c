package document

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/jonathan/applymate/internal/fetch"
)

// Content types produced by renderers.
const (
	ContentTypePDF  = "application/pdf"
	ContentTypeHTML = "text/html; charset=utf-8"
)

// DefaultPrintTimeout bounds one headless Chrome print.
const DefaultPrintTimeout = 60 * time.Second

// Renderer turns a rendered HTML document into its stored form.
type Renderer interface {
	Render(ctx context.Context, html []byte) (data []byte, contentType string, err error)
}

// HTMLRenderer stores the HTML as is. Used when Chrome is unavailable.
type HTMLRenderer struct{}

// Render implements Renderer.
func (HTMLRenderer) Render(_ context.Context, html []byte) ([]byte, string, error) {
	if len(html) == 0 {
		return nil, "", &RenderError{Message: "empty HTML"}
	}
	return html, ContentTypeHTML, nil
}

// ChromePDFRenderer prints HTML to an A4 PDF with headless Chrome.
type ChromePDFRenderer struct {
	// ExecPath overrides the Chrome binary; empty uses chromedp's lookup.
	ExecPath string
	Timeout  time.Duration
}

// Render implements Renderer.
func (r *ChromePDFRenderer) Render(ctx context.Context, html []byte) ([]byte, string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultPrintTimeout
	}

	tmpDir, err := os.MkdirTemp("", "applymate-render-")
	if err != nil {
		return nil, "", &RenderError{Message: "failed to create temp dir", Cause: err}
	}
	defer os.RemoveAll(tmpDir)

	htmlPath := filepath.Join(tmpDir, "index.html")
	if err := os.WriteFile(htmlPath, html, 0o600); err != nil {
		return nil, "", &RenderError{Message: "failed to write HTML", Cause: err}
	}

	opts := fetch.ExecAllocatorOptions()
	if r.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()

	var pdf []byte
	err = chromedp.Run(runCtx,
		chromedp.Navigate("file://"+htmlPath),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			// A4 in inches
			pdf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, "", &RenderError{Message: "chrome print failed", Cause: err}
	}
	return pdf, ContentTypePDF, nil
}
