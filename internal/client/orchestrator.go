// Package client drives synchronization from the client side.
//
// A cycle runs four phases:
//
//	fetch      GET the server summary
//	reconcile  pick local changes the server has not acknowledged
//	exchange   PUT them with the local summary, receive the server's delta
//	apply      merge the delta into local state and persist
//
// Nothing local changes before apply, and apply is all-or-nothing. A failed
// cycle is simply retried by the next one.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/statesync/internal/api"
	"github.com/roach88/statesync/internal/canon"
	"github.com/roach88/statesync/internal/state"
)

// Result describes a completed sync cycle.
type Result struct {
	ServerVersion int
	Pushed        state.Counts
	Received      state.Counts
	Applied       state.ApplyStats
}

// Orchestrator runs sync cycles for one Local against one server.
type Orchestrator struct {
	local     *Local
	transport Transport
	logger    *slog.Logger
	now       func() time.Time
	timeout   time.Duration
	interval  time.Duration

	cycle    sync.Mutex
	requests chan struct{}
	stop     func()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock sets the time source used to stamp lastSyncAt.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTimeout bounds each network phase. Expiry fails the cycle like any
// other transport error.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithInterval sets how often Run starts a cycle on its own.
func WithInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.interval = d }
}

// NewOrchestrator returns an Orchestrator that also schedules a cycle
// after every local change. Remote changes it applies itself schedule
// nothing. Call Close to stop listening.
func NewOrchestrator(local *Local, transport Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		local:     local,
		transport: transport,
		logger:    slog.Default(),
		now:       time.Now,
		timeout:   15 * time.Second,
		interval:  30 * time.Second,
		requests:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.stop = local.OnChange(o.onChange)
	return o
}

// Close stops scheduling cycles on local changes.
func (o *Orchestrator) Close() {
	o.stop()
}

func (o *Orchestrator) onChange(origin ChangeOrigin) {
	if origin == ChangeRemote {
		o.logger.Debug("remote changes applied, no sync requested")
		return
	}
	o.RequestSync()
}

// RequestSync asks Run to start a cycle soon. Requests made while one is
// already pending coalesce.
func (o *Orchestrator) RequestSync() {
	select {
	case o.requests <- struct{}{}:
	default:
	}
}

// Run performs a cycle immediately, then on every interval tick and every
// RequestSync, until ctx is done. Cycle failures are logged and
// retried on the next trigger.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		o.runOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-o.requests:
		}
	}
}

func (o *Orchestrator) runOnce(ctx context.Context) {
	res, err := o.Sync(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		var pe *PhaseError
		phase := Phase("")
		if errors.As(err, &pe) {
			phase = pe.Phase
		}
		o.logger.Warn("sync failed", "client_id", o.local.ClientID(), "phase", phase, "error", err)
		return
	}
	o.logger.Info("sync complete",
		"client_id", o.local.ClientID(),
		"pushed", res.Pushed.Total(),
		"received", res.Received.Total(),
		"dropped", res.Applied.Dropped,
	)
}

// Sync runs one full cycle. Concurrent calls run one after another.
func (o *Orchestrator) Sync(ctx context.Context) (Result, error) {
	o.cycle.Lock()
	defer o.cycle.Unlock()

	clientID := o.local.ClientID()

	fetched, err := o.fetch(ctx, clientID)
	if err != nil {
		return Result{}, &PhaseError{Phase: PhaseFetch, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, &PhaseError{Phase: PhaseReconcile, Err: err}
	}
	snapshot := o.local.Snapshot()
	push := Reconcile(snapshot, o.local.Ledger(), fetched.Summary, clientID)

	resp, err := o.exchange(ctx, clientID, api.PushRequest{
		ClientSummary: state.BuildSummary(snapshot, clientID),
		Upserts:       &push.Upserts,
		Deletes:       &push.Deletes,
	})
	if err != nil {
		return Result{}, &PhaseError{Phase: PhaseExchange, Err: err}
	}

	stats, err := o.apply(ctx, clientID, resp)
	if err != nil {
		return Result{}, &PhaseError{Phase: PhaseApply, Err: err}
	}

	return Result{
		ServerVersion: fetched.ServerVersion,
		Pushed:        push.Counts(),
		Received:      resp.Delta.Counts(),
		Applied:       stats,
	}, nil
}

func (o *Orchestrator) fetch(ctx context.Context, clientID string) (api.FetchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.transport.Fetch(ctx, clientID)
	if err != nil {
		return api.FetchResponse{}, err
	}
	if !resp.OK {
		return api.FetchResponse{}, errors.New("server answered ok=false")
	}
	if resp.ServerVersion > state.CurrentVersion {
		o.logger.Warn("server schema is newer than this client",
			"server_version", resp.ServerVersion,
			"client_version", state.CurrentVersion,
		)
	}
	return resp, nil
}

func (o *Orchestrator) exchange(ctx context.Context, clientID string, req api.PushRequest) (api.PushResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.transport.Push(ctx, clientID, req)
	if err != nil {
		return api.PushResponse{}, err
	}
	if !resp.OK {
		return api.PushResponse{}, errors.New("server answered ok=false")
	}
	return resp, nil
}

// apply merges the server delta into the current local state, which may
// include edits made while the cycle was in flight, and records the
// server's post-push summary as the new ledger.
func (o *Orchestrator) apply(ctx context.Context, clientID string, resp api.PushResponse) (state.ApplyStats, error) {
	if err := ctx.Err(); err != nil {
		return state.ApplyStats{}, err
	}

	var stats state.ApplyStats
	err := o.local.applyRemote(resp.Summary, func(st *state.Store) {
		stats = st.Apply(clientID, resp.Delta)
		st.Touch(o.now())
	})
	if err != nil {
		return state.ApplyStats{}, fmt.Errorf("commit: %w", err)
	}
	return stats, nil
}

// Reconcile returns the local changes to push.
//
// An entity is pushed when its fingerprint differs both from the ledger
// (the last summary the server acknowledged) and from the freshly fetched
// server summary. A tombstone is pushed when neither the ledger nor the
// server already lists it. Settings follow the entity rule.
func Reconcile(st *state.Store, ledger, server state.Summary, clientID string) state.Delta {
	out := state.NewDelta()
	for _, name := range state.Collections {
		c := st.Collection(name)
		acked := ledger.Collection(name)
		remote := server.Collection(name)

		upserts := out.Upserts.Of(name)
		for _, id := range c.IDs() {
			e := c.ByID[id]
			h := canon.Hash(e)
			if h == acked.Hashes[id] || h == remote.Hashes[id] {
				continue
			}
			upserts = append(upserts, e)
		}

		deletes := out.Deletes.Of(name)
		for _, id := range c.Deleted {
			if slices.Contains(acked.Deleted, id) || slices.Contains(remote.Deleted, id) {
				continue
			}
			deletes = append(deletes, id)
		}
		slices.Sort(deletes)

		setCollection(&out, name, upserts, deletes)
	}

	if v, ok := st.Settings(clientID); ok {
		h := canon.Hash(v)
		if h != ledger.Settings.Hash && h != server.Settings.Hash {
			out.Upserts.Settings = v
		}
	}
	return out
}

func setCollection(d *state.Delta, name state.CollectionName, upserts []state.Entity, deletes []string) {
	switch name {
	case state.Characters:
		d.Upserts.Characters, d.Deletes.Characters = upserts, deletes
	case state.Rooms:
		d.Upserts.Rooms, d.Deletes.Rooms = upserts, deletes
	case state.Messages:
		d.Upserts.Messages, d.Deletes.Messages = upserts, deletes
	}
}
