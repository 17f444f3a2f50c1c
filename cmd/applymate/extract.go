package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/applymate/internal/config"
	"github.com/jonathan/applymate/internal/extraction"
	"github.com/jonathan/applymate/internal/observability"
	"github.com/jonathan/applymate/internal/resumetext"
)

func newExtractCmd(opts *rootOptions) *cobra.Command {
	var (
		urlStr  string
		asJSON  bool
		browser bool
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract the title, company, description and apply control from a job posting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if browser {
				cfg.UseBrowser = true
			}

			job, err := extraction.New(newFetcher(cfg), extraction.Options{Verbose: cfg.Verbose}).
				Extract(cmd.Context(), urlStr)
			if err != nil {
				return fmt.Errorf("failed to extract job posting: %w", err)
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), job)
			}
			observability.NewPrinter(cmd.OutOrStdout()).PrintJobExtraction(job)
			return nil
		},
	}
	cmd.Flags().StringVarP(&urlStr, "url", "u", "", "URL of the job posting (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the extraction as JSON")
	cmd.Flags().BoolVar(&browser, "browser", false, "Re-render SPA pages in headless Chrome")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

// writeJSON pretty-prints v to w.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// jobInput resolves a job description and title from either a posting URL or a text file.
func jobInput(ctx context.Context, cfg *config.Config, urlStr, file string) (description, title, company string, err error) {
	switch {
	case urlStr != "" && file != "":
		return "", "", "", fmt.Errorf("--url and --description-file are mutually exclusive; provide only one")
	case urlStr != "":
		job, err := extraction.New(newFetcher(cfg), extraction.Options{Verbose: cfg.Verbose}).Extract(ctx, urlStr)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to extract job posting: %w", err)
		}
		if job.Company != nil {
			company = *job.Company
		}
		return job.Description, job.Title, company, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to read description file: %w", err)
		}
		return strings.TrimSpace(string(data)), "", "", nil
	default:
		return "", "", "", fmt.Errorf("either --url or --description-file must be provided")
	}
}

// readResume loads the base resume text. PDF and DOCX files have their text
// extracted; anything else is read as plain text.
func readResume(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read resume file: %w", err)
	}
	switch ct, _ := resumetext.ContentType(path); ct {
	case resumetext.ContentTypePDF, resumetext.ContentTypeDOCX:
		text, err := resumetext.Extract(path, data)
		if err != nil {
			return "", fmt.Errorf("failed to read resume file: %w", err)
		}
		return text, nil
	}
	resume := strings.TrimSpace(string(data))
	if resume == "" {
		return "", fmt.Errorf("resume file %s is empty", path)
	}
	return resume, nil
}
