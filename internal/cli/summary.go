package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/statesync/internal/state"
	"github.com/roach88/statesync/internal/store"
)

// SummaryOptions holds flags for the summary command.
type SummaryOptions struct {
	*RootOptions
}

// ClientSummary is the JSON payload for one client document.
type ClientSummary struct {
	ClientID   string         `json:"clientId"`
	Origin     string         `json:"origin"`
	LastSyncAt int64          `json:"lastSyncAt,omitempty"`
	Counts     map[string]int `json:"counts"`
	Summary    state.Summary  `json:"summary"`
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SummaryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "summary [client-id]",
		Short: "Inspect server-side client documents",
		Long: `Print the fingerprint summary the server would return for a client,
or list every client id in storage when no id is given.

Reads the configured storage backend directly; the server does not need
to be running. An undecodable document is quarantined exactly as the
server would quarantine it.

Examples:
  statesync summary
  statesync summary alice --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSummary(opts, args, cmd)
		},
	}
	return cmd
}

func runSummary(opts *SummaryOptions, args []string, cmd *cobra.Command) error {
	out := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	ctx := cmd.Context()

	st, err := store.Open(ctx, opts.Config.Storage, logger)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open storage", err)
	}
	defer st.Close()

	if len(args) == 0 {
		clients, err := st.Clients(ctx)
		if err != nil {
			return out.Fail(ExitCommandError, CodeStore, "failed to list clients", err)
		}
		text := strings.Join(clients, "\n")
		if len(clients) == 0 {
			text = "No clients."
		}
		return out.Success(clients, text)
	}

	clientID := args[0]
	l, err := st.Load(ctx, clientID)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to load client", err)
	}

	cs := ClientSummary{
		ClientID:   clientID,
		Origin:     l.Origin.String(),
		LastSyncAt: l.State.ClientMeta.LastSyncAt,
		Counts:     make(map[string]int, len(state.Collections)),
		Summary:    state.BuildSummary(l.State, clientID),
	}
	for _, name := range state.Collections {
		cs.Counts[string(name)] = len(l.State.Collection(name).ByID)
	}

	body, err := json.MarshalIndent(cs.Summary, "", "  ")
	if err != nil {
		return out.Fail(ExitFailure, CodeStore, "failed to encode summary", err)
	}
	var text strings.Builder
	fmt.Fprintf(&text, "Client %s (%s)\n", clientID, cs.Origin)
	for _, name := range state.Collections {
		c := l.State.Collection(name)
		fmt.Fprintf(&text, "  %-10s %d live, %d deleted\n", name, len(c.ByID), len(c.Deleted))
	}
	text.Write(body)
	return out.Success(cs, text.String())
}
