package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/applymate/internal/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user (development)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.JWT.Validate(); err != nil {
				return err
			}
			token, err := auth.NewJWTService(&cfg.JWT).GenerateToken(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID to embed in the token (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
