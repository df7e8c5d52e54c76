package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/statesync/internal/client"
	"github.com/roach88/statesync/internal/client/kv"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Watch     bool
	ServerURL string
	ClientID  string
	DataPath  string

	// IDGenerator allows overriding client id generation (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator client.IDGenerator
}

// SyncReport is the JSON payload of a completed one-shot sync.
type SyncReport struct {
	ClientID      string `json:"clientId"`
	ServerVersion int    `json:"serverVersion"`
	Pushed        int    `json:"pushed"`
	Received      int    `json:"received"`
	Dropped       int    `json:"dropped"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize local state with the server",
		Long: `Run one sync cycle (fetch, reconcile, exchange, apply) against the
server, or keep syncing on an interval with --watch.

Local state lives in a bbolt file (client.dataPath). On first run a client
id is generated and stored there unless one is configured.

Exit codes:
  0 - Sync completed
  1 - Sync cycle failed (nothing local was changed)
  2 - Command error (unreadable local data, bad config)

Examples:
  statesync sync
  statesync sync --server http://sync.local:8787 --client-id laptop
  statesync sync --watch`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "keep syncing on client.interval until interrupted")
	cmd.Flags().StringVar(&opts.ServerURL, "server", "", "server base URL (overrides client.serverUrl)")
	cmd.Flags().StringVar(&opts.ClientID, "client-id", "", "client id (overrides client.clientId)")
	cmd.Flags().StringVar(&opts.DataPath, "data", "", "local data file (overrides client.dataPath)")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	cfg := opts.Config.Client
	if opts.ServerURL != "" {
		cfg.ServerURL = opts.ServerURL
	}
	if opts.ClientID != "" {
		cfg.ClientID = opts.ClientID
	}
	if opts.DataPath != "" {
		cfg.DataPath = opts.DataPath
	}

	out := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	store, err := kv.OpenBolt(cfg.DataPath)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInput, "failed to open local data", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("error closing local data", "error", closeErr)
		}
	}()

	gen := opts.IDGenerator
	if gen == nil {
		gen = client.UUIDv7Generator{}
	}
	clientID, err := client.ResolveClientID(store, cfg.ClientID, gen)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInput, "failed to resolve client id", err)
	}

	local, err := client.OpenLocal(store, clientID, client.WithLocalLogger(logger))
	if err != nil {
		return out.Fail(ExitCommandError, CodeInput, "failed to open local state", err)
	}

	orch := client.NewOrchestrator(local, client.NewHTTPTransport(cfg.ServerURL, nil),
		client.WithLogger(logger),
		client.WithTimeout(cfg.Timeout.D()),
		client.WithInterval(cfg.Interval.D()),
	)
	defer orch.Close()

	out.VerboseLog("client %s syncing with %s", clientID, cfg.ServerURL)

	if opts.Watch {
		logger.Info("watching", "client_id", clientID, "server", cfg.ServerURL, "interval", cfg.Interval.D())
		return orch.Run(ctx)
	}

	res, err := orch.Sync(ctx)
	if err != nil {
		return out.Fail(ExitFailure, CodeSync, "sync failed", err)
	}

	report := SyncReport{
		ClientID:      clientID,
		ServerVersion: res.ServerVersion,
		Pushed:        res.Pushed.Total(),
		Received:      res.Received.Total(),
		Dropped:       res.Applied.Dropped,
	}
	text := fmt.Sprintf("Synced %s: pushed %d, received %d", clientID, report.Pushed, report.Received)
	if report.Dropped > 0 {
		text += fmt.Sprintf(" (%d invalid dropped)", report.Dropped)
	}
	return out.Success(report, text)
}
