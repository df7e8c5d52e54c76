package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"time"

	"github.com/roach88/statesync/internal/client"
	"github.com/roach88/statesync/internal/client/kv"
	"github.com/roach88/statesync/internal/server"
	"github.com/roach88/statesync/internal/state"
	"github.com/roach88/statesync/internal/store"
	"github.com/roach88/statesync/internal/testutil"
)

// Epoch is where every scenario clock starts.
var Epoch = time.UnixMilli(1700000000000)

// Harness is the scenario execution environment.
type Harness struct {
	store   *store.Store
	devices map[string]*device
	logger  *slog.Logger
}

type device struct {
	client string
	local  *client.Local
	orch   *client.Orchestrator
}

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh in-memory server and fresh device stores.
// Execution flow:
// 1. Start the server on a loopback listener
// 2. Open one Local and Orchestrator per device
// 3. Execute steps, checking sync expectations
// 4. Snapshot final device and server state
// 5. Evaluate assertions
//
// A step that cannot run at all (a sync cycle failing, a rejected edit)
// aborts the scenario with an error; unmet expectations are reported in
// the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	clock := testutil.NewDeterministicClock(Epoch, time.Second)

	st := store.New(store.NewMemoryBackend(),
		store.WithLogger(logger),
		store.WithClock(clock.Now),
	)
	defer st.Close()

	srv := server.New(st, server.WithLogger(logger), server.WithClock(clock.Now))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	h := &Harness{
		store:   st,
		devices: make(map[string]*device, len(scenario.Devices)),
		logger:  logger,
	}
	defer h.close()

	for _, d := range scenario.Devices {
		local, err := client.OpenLocal(kv.NewMemory(), d.Client,
			client.WithLocalLogger(logger),
			client.WithLocalClock(clock.Now),
		)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", d.Name, err)
		}
		orch := client.NewOrchestrator(local, client.NewHTTPTransport(ts.URL, ts.Client()),
			client.WithLogger(logger),
			client.WithClock(clock.Now),
		)
		h.devices[d.Name] = &device{client: d.Client, local: local, orch: orch}
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	if err := h.snapshot(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to snapshot final state: %w", err)
	}

	for _, errMsg := range h.evaluateAssertions(ctx, scenario, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func (h *Harness) close() {
	for _, d := range h.devices {
		d.orch.Close()
	}
}

func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	d := h.devices[step.Device]
	ev := TraceEvent{Device: step.Device, Action: step.Action, Collection: step.Collection}

	switch step.Action {
	case ActionUpsert:
		id, _ := state.EntityID(step.Entity)
		ev.ID = id
		if err := d.local.Upsert(state.CollectionName(step.Collection), state.Entity(step.Entity)); err != nil {
			return fmt.Errorf("step %d: upsert: %w", i, err)
		}
	case ActionDelete:
		ev.ID = step.ID
		if err := d.local.Delete(state.CollectionName(step.Collection), step.ID); err != nil {
			return fmt.Errorf("step %d: delete: %w", i, err)
		}
	case ActionSettings:
		if err := d.local.SetSettings(step.Value); err != nil {
			return fmt.Errorf("step %d: settings: %w", i, err)
		}
	case ActionSync:
		res, err := d.orch.Sync(ctx)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		ev.Sync = &SyncOutcome{
			Pushed:   res.Pushed.Total(),
			Received: res.Received.Total(),
			Dropped:  res.Applied.Dropped,
		}
		checkExpect(i, step.Expect, ev.Sync, result)
	default:
		return fmt.Errorf("step %d: unknown action %q", i, step.Action)
	}

	result.AddTrace(ev)
	h.logger.Info("step completed", "step", i, "device", step.Device, "action", step.Action)
	return nil
}

func checkExpect(i int, want *SyncExpect, got *SyncOutcome, result *Result) {
	if want == nil {
		return
	}
	check := func(name string, want *int, got int) {
		if want != nil && *want != got {
			result.AddError(fmt.Sprintf("step %d: expected %s=%d, got %d", i, name, *want, got))
		}
	}
	check("pushed", want.Pushed, got.Pushed)
	check("received", want.Received, got.Received)
	check("dropped", want.Dropped, got.Dropped)
}

// snapshot records the view of every device and every server document.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	for name, d := range h.devices {
		result.Devices[name] = view(d.local.Snapshot(), d.client)
	}

	clients, err := h.store.Clients(ctx)
	if err != nil {
		return err
	}
	for _, id := range clients {
		l, err := h.store.Load(ctx, id)
		if err != nil {
			return err
		}
		result.Server[id] = view(l.State, id)
	}
	return nil
}
