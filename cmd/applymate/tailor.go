package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/applymate/internal/blob"
	"github.com/jonathan/applymate/internal/document"
	"github.com/jonathan/applymate/internal/llm"
	"github.com/jonathan/applymate/internal/observability"
)

func newTailorCmd(opts *rootOptions) *cobra.Command {
	var (
		urlStr      string
		description string
		resumeFile  string
		template    string
		outDir      string
		name        string
		email       string
		coverLetter bool
		pdf         bool
	)
	cmd := &cobra.Command{
		Use:   "tailor",
		Short: "Generate a tailored resume (and optionally a cover letter) for a job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			resume, err := readResume(resumeFile)
			if err != nil {
				return err
			}
			desc, title, company, err := jobInput(cmd.Context(), cfg, urlStr, description)
			if err != nil {
				return err
			}

			backend, err := newBackend(cmd.Context(), cfg, llm.TierStandard)
			if err != nil {
				return err
			}
			if backend == nil {
				return fmt.Errorf("an API key is required for tailoring (GEMINI_API_KEY or OPENROUTER_API_KEY)")
			}
			defer func() { _ = llm.Close(backend) }()

			var renderer document.Renderer
			if pdf || cfg.RenderPDF {
				renderer = &document.ChromePDFRenderer{ExecPath: cfg.ChromePath}
			}
			blobs, err := blob.NewFSStore(outDir)
			if err != nil {
				return err
			}
			gen := document.NewGenerator(backend, document.Options{Renderer: renderer, Blobs: blobs, ShowATS: cfg.ShowATSScore, Verbose: cfg.Verbose})

			in := document.Input{
				SubjectID:      uuid.New(),
				JobTitle:       title,
				Company:        company,
				JobDescription: desc,
				BaseResume:     resume,
				Template:       template,
				Meta:           document.Meta{Name: name, Email: email},
			}
			out, err := gen.Tailor(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("failed to tailor resume: %w", err)
			}

			w := cmd.OutOrStdout()
			if cfg.Verbose {
				observability.NewPrinter(w).PrintTailoredDocument(out.Document)
			}
			fmt.Fprintf(w, "Tailored resume: %s\n", filepath.Join(outDir, out.Ref))

			if coverLetter {
				letter, err := gen.WriteCoverLetter(cmd.Context(), in)
				if err != nil {
					return fmt.Errorf("failed to write cover letter: %w", err)
				}
				path := filepath.Join(outDir, "cover_letter.txt")
				if err := os.WriteFile(path, []byte(letter+"\n"), 0o644); err != nil {
					return fmt.Errorf("failed to write cover letter: %w", err)
				}
				fmt.Fprintf(w, "Cover letter: %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&urlStr, "url", "u", "", "URL of the job posting")
	cmd.Flags().StringVarP(&description, "description-file", "d", "", "Path to a text file with the job description")
	cmd.Flags().StringVarP(&resumeFile, "resume-file", "r", "", "Path to the base resume text (required)")
	cmd.Flags().StringVarP(&template, "template", "t", document.DefaultTemplate, "Resume template (default or compact)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (required)")
	cmd.Flags().StringVar(&name, "name", "", "Candidate name for the document header")
	cmd.Flags().StringVar(&email, "email", "", "Candidate email for the document header")
	cmd.Flags().BoolVar(&coverLetter, "cover-letter", false, "Also write a cover letter")
	cmd.Flags().BoolVar(&pdf, "pdf", false, "Render a PDF with headless Chrome")
	_ = cmd.MarkFlagRequired("resume-file")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
