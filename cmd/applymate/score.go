package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/applymate/internal/llm"
	"github.com/jonathan/applymate/internal/observability"
	"github.com/jonathan/applymate/internal/scoring"
)

func newScoreCmd(opts *rootOptions) *cobra.Command {
	var (
		urlStr      string
		description string
		resumeFile  string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Rate how well a resume fits a job posting (0-100)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			resume, err := readResume(resumeFile)
			if err != nil {
				return err
			}
			desc, _, _, err := jobInput(cmd.Context(), cfg, urlStr, description)
			if err != nil {
				return err
			}

			backend, err := newBackend(cmd.Context(), cfg, llm.TierLite)
			if err != nil {
				return err
			}
			defer func() { _ = llm.Close(backend) }()

			res := scoring.New(backend, cfg.Verbose).Score(cmd.Context(), desc, resume)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			observability.NewPrinter(cmd.OutOrStdout()).PrintScore(res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&urlStr, "url", "u", "", "URL of the job posting")
	cmd.Flags().StringVarP(&description, "description-file", "d", "", "Path to a text file with the job description")
	cmd.Flags().StringVarP(&resumeFile, "resume-file", "r", "", "Path to the base resume text (required)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	_ = cmd.MarkFlagRequired("resume-file")
	return cmd
}
