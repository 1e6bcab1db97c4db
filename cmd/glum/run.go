package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bdobrica/glum/internal/glum/app"
)

type runOptions struct {
	backend     string
	storage     string
	personasDir string
	httpAddr    string
	workers     int
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the messaging backend and answer messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)

			logger := slog.Default()
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize glum: %w", err)
			}
			runErr := a.Run(cmd.Context())
			if err := a.Stop(); err != nil && runErr == nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&opts.backend, "backend", "", "messaging backend (matrix, discord); overrides GLUM_BACKEND")
	cmd.Flags().StringVar(&opts.storage, "storage", "", "history storage (file, sqlite); overrides GLUM_STORAGE")
	cmd.Flags().StringVar(&opts.personasDir, "personas", "", "persona directory; overrides GLUM_PERSONAS_DIR")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "health server address; overrides GLUM_HTTP_ADDR")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "event workers; overrides GLUM_WORKERS")
	return cmd
}

// apply copies the flags the user set over the environment configuration.
func (o *runOptions) apply(cmd *cobra.Command, cfg *app.Config) {
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = o.backend
	}
	if flags.Changed("storage") {
		cfg.Storage = o.storage
	}
	if flags.Changed("personas") {
		cfg.PersonasDir = o.personasDir
	}
	if flags.Changed("http-addr") {
		cfg.HTTPAddr = o.httpAddr
	}
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}
}
