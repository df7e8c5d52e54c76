package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/statesync/internal/server"
	"github.com/roach88/statesync/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr    string
	Backend string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		Long: `Serve the sync API (GET/PUT /api/sync/{clientId}) backed by the
configured storage backend. Stops gracefully on SIGINT or SIGTERM.

Example:
  statesync serve --config statesync.yaml
  statesync serve --addr :9000 --backend file`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "storage backend (overrides storage.backend)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg := *opts.Config
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Backend != "" {
		cfg.Storage.Backend = opts.Backend
		if err := cfg.Validate(); err != nil {
			return WrapExitError(ExitCommandError, "invalid backend override", err)
		}
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	st, err := store.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing storage", "error", closeErr)
		}
	}()

	srv := server.New(st,
		server.WithLogger(logger),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)

	fmt.Fprintf(cmd.OutOrStdout(), "Serving sync API on %s (storage: %s)\n", cfg.Server.Addr, cfg.Storage.Backend)
	if err := srv.ListenAndServe(ctx, cfg.Server); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
