package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/applymate/internal/auth"
	"github.com/jonathan/applymate/internal/config"
	"github.com/jonathan/applymate/internal/server"
	"github.com/jonathan/applymate/internal/server/ratelimit"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		port    int
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server and pipeline workers",
		Long:  `Start an HTTP server that exposes REST endpoints for applications, credits and resumes, and run the background pipeline workers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, migrate)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "Port to listen on")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply the database schema before serving")
	return cmd
}

// identityResolver returns the resolver for the configured auth mode.
func identityResolver(cfg *config.Config) auth.IdentityResolver {
	if cfg.AuthMode == config.AuthHeader {
		return auth.HeaderResolver{}
	}
	return auth.NewJWTService(&cfg.JWT)
}

func runServe(ctx context.Context, cfg *config.Config, migrate bool) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		if a.db == nil {
			return fmt.Errorf("--migrate requires DATABASE_URL")
		}
		if err := a.db.Migrate(ctx); err != nil {
			return err
		}
	}

	srv := server.New(server.Config{Port: cfg.Port, Verbose: cfg.Verbose}, server.Deps{
		Pipeline:  a.service,
		Ledger:    a.ledger,
		Blobs:     a.blobs,
		Identity:  identityResolver(cfg),
		RateLimit: ratelimit.LoadConfig(),
		Ping:      a.ping,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.service.Run(gctx)
	})
	g.Go(func() error {
		return srv.Start(gctx)
	})
	return g.Wait()
}
