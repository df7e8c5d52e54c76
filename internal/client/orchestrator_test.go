package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/statesync/internal/api"
	"github.com/roach88/statesync/internal/canon"
	"github.com/roach88/statesync/internal/client/kv"
	"github.com/roach88/statesync/internal/server"
	"github.com/roach88/statesync/internal/state"
	"github.com/roach88/statesync/internal/store"
)

var syncTime = time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)

type harness struct {
	store *store.Store
	url   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.New(store.NewMemoryBackend(), store.WithLogger(discardLogger()))
	srv := server.New(st, server.WithLogger(discardLogger()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{store: st, url: ts.URL}
}

func (h *harness) device(t *testing.T, clientID string) (*Local, *Orchestrator) {
	t.Helper()
	l := openLocal(t, kv.NewMemory(), clientID)
	o := NewOrchestrator(l, NewHTTPTransport(h.url, nil),
		WithLogger(discardLogger()),
		WithClock(func() time.Time { return syncTime }),
		WithTimeout(5*time.Second),
	)
	t.Cleanup(o.Close)
	return l, o
}

type fakeTransport struct {
	fetch func(ctx context.Context, clientID string) (api.FetchResponse, error)
	push  func(ctx context.Context, clientID string, req api.PushRequest) (api.PushResponse, error)
}

func (f *fakeTransport) Fetch(ctx context.Context, clientID string) (api.FetchResponse, error) {
	return f.fetch(ctx, clientID)
}

func (f *fakeTransport) Push(ctx context.Context, clientID string, req api.PushRequest) (api.PushResponse, error) {
	return f.push(ctx, clientID, req)
}

func TestSyncFirstSyncScenario(t *testing.T) {
	h := newHarness(t)
	seed := state.NewStore("alice")
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, seed.Upsert(state.Characters, state.Entity{"id": id, "name": "c" + id}))
	}
	require.NoError(t, h.store.Write(context.Background(), "alice", seed))

	local, o := h.device(t, "alice")
	res, err := o.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Pushed.Total(), "empty client pushes nothing")
	assert.Equal(t, 3, res.Received.Upserts[state.Characters])
	assert.Equal(t, state.BuildSummary(seed, "alice").Characters.Hashes, local.Summary().Characters.Hashes)
	assert.Equal(t, syncTime.UnixMilli(), local.Snapshot().ClientMeta.LastSyncAt)
	assert.Equal(t, local.Summary().Characters.Hashes, local.Ledger().Characters.Hashes)
}

func TestSyncPushesLocalChangesOnce(t *testing.T) {
	h := newHarness(t)
	local, o := h.device(t, "alice")
	ctx := context.Background()

	require.NoError(t, local.Upsert(state.Messages, state.Entity{"id": "m1", "text": "hi"}))
	require.NoError(t, local.Delete(state.Rooms, "r1"))
	require.NoError(t, local.SetSettings(map[string]any{"lang": "en"}))

	res, err := o.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pushed.Upserts[state.Messages])
	assert.Equal(t, 1, res.Pushed.Deletes[state.Rooms])
	assert.True(t, res.Pushed.Settings)
	assert.Equal(t, 0, res.Received.Total())

	l, err := h.store.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, l.State.Messages.ByID, "m1")
	assert.True(t, l.State.Rooms.IsDeleted("r1"))

	res, err = o.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Pushed.Total(), "acknowledged changes are not pushed again")
	assert.Equal(t, 0, res.Received.Total())
}

func TestSyncTwoDevicesConverge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	phone, phoneSync := h.device(t, "alice")
	laptop, laptopSync := h.device(t, "alice")

	require.NoError(t, phone.Upsert(state.Characters, state.Entity{"id": "1", "name": "Aria"}))
	_, err := phoneSync.Sync(ctx)
	require.NoError(t, err)

	_, err = laptopSync.Sync(ctx)
	require.NoError(t, err)
	assert.Contains(t, laptop.Snapshot().Characters.ByID, "1")

	require.NoError(t, laptop.Upsert(state.Characters, state.Entity{"id": "1", "name": "Aria II"}))
	require.NoError(t, laptop.Delete(state.Characters, "2"))
	_, err = laptopSync.Sync(ctx)
	require.NoError(t, err)

	_, err = phoneSync.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Aria II", phone.Snapshot().Characters.ByID["1"]["name"])
	assert.Equal(t, laptop.Summary(), phone.Summary())
}

func TestSyncUnchangedLocalTakesServerVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, aSync := h.device(t, "alice")
	b, bSync := h.device(t, "alice")

	require.NoError(t, a.Upsert(state.Rooms, state.Entity{"id": "r1", "title": "Lobby"}))
	_, err := aSync.Sync(ctx)
	require.NoError(t, err)
	_, err = bSync.Sync(ctx)
	require.NoError(t, err)

	// b edits r1; a has not touched it since its last sync, so a must not
	// push its stale copy back over b's edit.
	require.NoError(t, b.Upsert(state.Rooms, state.Entity{"id": "r1", "title": "Hall"}))
	_, err = bSync.Sync(ctx)
	require.NoError(t, err)

	res, err := aSync.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Pushed.Total())
	assert.Equal(t, "Hall", a.Snapshot().Rooms.ByID["r1"]["title"])
}

func TestSyncFailureLeavesLocalStateUntouched(t *testing.T) {
	boom := errors.New("network down")
	tests := []struct {
		name      string
		transport *fakeTransport
		phase     Phase
	}{
		{
			name: "fetch",
			transport: &fakeTransport{
				fetch: func(context.Context, string) (api.FetchResponse, error) { return api.FetchResponse{}, boom },
			},
			phase: PhaseFetch,
		},
		{
			name: "exchange",
			transport: &fakeTransport{
				fetch: func(context.Context, string) (api.FetchResponse, error) {
					return api.FetchResponse{OK: true, ServerVersion: state.CurrentVersion}, nil
				},
				push: func(context.Context, string, api.PushRequest) (api.PushResponse, error) {
					return api.PushResponse{}, boom
				},
			},
			phase: PhaseExchange,
		},
		{
			name: "exchange ok=false",
			transport: &fakeTransport{
				fetch: func(context.Context, string) (api.FetchResponse, error) {
					return api.FetchResponse{OK: true}, nil
				},
				push: func(context.Context, string, api.PushRequest) (api.PushResponse, error) {
					return api.PushResponse{OK: false}, nil
				},
			},
			phase: PhaseExchange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := openLocal(t, kv.NewMemory(), "alice")
			require.NoError(t, local.Upsert(state.Characters, state.Entity{"id": "1"}))
			before, ledger := local.Summary(), local.Ledger()

			o := NewOrchestrator(local, tt.transport, WithLogger(discardLogger()))
			defer o.Close()
			_, err := o.Sync(context.Background())

			var pe *PhaseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.phase, pe.Phase)
			assert.Equal(t, before, local.Summary())
			assert.Equal(t, ledger, local.Ledger())
		})
	}
}

func TestSyncApplyFailureIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	seed := state.NewStore("alice")
	require.NoError(t, seed.Upsert(state.Characters, state.Entity{"id": "1"}))
	require.NoError(t, seed.Upsert(state.Messages, state.Entity{"id": "m1"}))
	require.NoError(t, h.store.Write(ctx, "alice", seed))

	kvs := &flakyKV{Memory: kv.NewMemory()}
	local := openLocal(t, kvs, "alice")
	o := NewOrchestrator(local, NewHTTPTransport(h.url, nil), WithLogger(discardLogger()))
	defer o.Close()

	kvs.fail = true
	_, err := o.Sync(ctx)
	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseApply, pe.Phase)
	assert.Empty(t, local.Snapshot().Characters.ByID)
	assert.Empty(t, local.Snapshot().Messages.ByID)
	assert.Equal(t, state.Summary{}, local.Ledger())

	kvs.fail = false
	res, err := o.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Received.Total())
	assert.Len(t, local.Snapshot().Characters.ByID, 1)
}

func TestSyncTimeoutIsRetriable(t *testing.T) {
	local := openLocal(t, kv.NewMemory(), "alice")
	slow := &fakeTransport{
		fetch: func(ctx context.Context, _ string) (api.FetchResponse, error) {
			<-ctx.Done()
			return api.FetchResponse{}, &TransportError{Op: "fetch", Err: ctx.Err()}
		},
	}
	o := NewOrchestrator(local, slow, WithLogger(discardLogger()), WithTimeout(20*time.Millisecond))
	defer o.Close()

	_, err := o.Sync(context.Background())
	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseFetch, pe.Phase)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var te *TransportError
	assert.ErrorAs(t, err, &te)
}

func TestSyncServerErrorIsTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"ok":false,"error":"database is locked"}`))
	}))
	defer ts.Close()

	local := openLocal(t, kv.NewMemory(), "alice")
	o := NewOrchestrator(local, NewHTTPTransport(ts.URL, nil), WithLogger(discardLogger()))
	defer o.Close()

	_, err := o.Sync(context.Background())
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.Status)
	assert.Equal(t, "database is locked", te.Message)
	assert.Contains(t, err.Error(), "sync fetch")
}

func TestApplyDoesNotScheduleSync(t *testing.T) {
	h := newHarness(t)
	seed := state.NewStore("alice")
	require.NoError(t, seed.Upsert(state.Characters, state.Entity{"id": "1"}))
	require.NoError(t, h.store.Write(context.Background(), "alice", seed))

	local, o := h.device(t, "alice")

	var mu sync.Mutex
	var origins []ChangeOrigin
	local.OnChange(func(origin ChangeOrigin) {
		mu.Lock()
		defer mu.Unlock()
		origins = append(origins, origin)
	})

	_, err := o.Sync(context.Background())
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, []ChangeOrigin{ChangeRemote}, origins)
	mu.Unlock()
	assert.Len(t, o.requests, 0, "remote apply must not request a sync")

	require.NoError(t, local.Upsert(state.Characters, state.Entity{"id": "2"}))
	mu.Lock()
	assert.Equal(t, []ChangeOrigin{ChangeRemote, ChangeLocal}, origins)
	mu.Unlock()
	assert.Len(t, o.requests, 1, "local change schedules a sync")
}

func TestLocalEditDuringApplyStillSchedulesSync(t *testing.T) {
	h := newHarness(t)
	seed := state.NewStore("alice")
	require.NoError(t, seed.Upsert(state.Characters, state.Entity{"id": "1"}))
	require.NoError(t, h.store.Write(context.Background(), "alice", seed))

	local, o := h.device(t, "alice")

	// An edit committed while the cycle is still finishing its apply.
	var edited bool
	local.OnChange(func(origin ChangeOrigin) {
		if origin != ChangeRemote || edited {
			return
		}
		edited = true
		assert.NoError(t, local.Upsert(state.Rooms, state.Entity{"id": "r1"}))
	})

	_, err := o.Sync(context.Background())
	require.NoError(t, err)

	require.True(t, edited)
	assert.Len(t, o.requests, 1, "the edit is pushed by the next cycle, not the next tick")
	assert.Contains(t, local.Snapshot().Rooms.ByID, "r1")
}

func TestRunSyncsUntilCancelled(t *testing.T) {
	local := openLocal(t, kv.NewMemory(), "alice")
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	tr := &fakeTransport{
		fetch: func(context.Context, string) (api.FetchResponse, error) {
			calls++
			if calls == 2 {
				cancel()
			}
			return api.FetchResponse{OK: true}, nil
		},
		push: func(context.Context, string, api.PushRequest) (api.PushResponse, error) {
			return api.PushResponse{OK: true, Delta: state.NewDelta()}, nil
		},
	}
	o := NewOrchestrator(local, tr, WithLogger(discardLogger()), WithInterval(time.Hour))
	defer o.Close()

	o.RequestSync()
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	assert.Equal(t, 2, calls, "initial cycle plus the requested one")
}

func TestReconcile(t *testing.T) {
	st := state.NewStore("alice")
	require.NoError(t, st.Upsert(state.Characters, state.Entity{"id": "same", "v": 1}))
	require.NoError(t, st.Upsert(state.Characters, state.Entity{"id": "acked", "v": 1}))
	require.NoError(t, st.Upsert(state.Characters, state.Entity{"id": "changed", "v": 2}))
	require.NoError(t, st.Upsert(state.Characters, state.Entity{"id": "new", "v": 1}))
	for _, id := range []string{"d-acked", "d-server", "d-new"} {
		require.NoError(t, st.Delete(state.Rooms, id))
	}
	st.SetSettings("alice", map[string]any{"theme": "dark"})

	hash := func(id string, v int) string { return canon.Hash(state.Entity{"id": id, "v": v}) }
	ledger := state.Summary{
		Characters: state.CollectionSummary{Hashes: map[string]string{
			"acked":   hash("acked", 1),
			"changed": hash("changed", 1),
		}},
		Rooms:    state.CollectionSummary{Deleted: []string{"d-acked"}},
		Settings: state.SettingsSummary{Hash: canon.Hash(map[string]any{"theme": "dark"})},
	}
	srv := state.Summary{
		Characters: state.CollectionSummary{Hashes: map[string]string{
			"same":    hash("same", 1),
			"changed": hash("changed", 1),
		}},
		Rooms: state.CollectionSummary{Deleted: []string{"d-server"}},
	}

	d := Reconcile(st, ledger, srv, "alice")

	var ids []string
	for _, e := range d.Upserts.Characters {
		id, _ := state.EntityID(e)
		ids = append(ids, id)
	}
	assert.Equal(t, []string{"changed", "new"}, ids)
	assert.Equal(t, []string{"d-new"}, d.Deletes.Rooms)
	assert.Nil(t, d.Upserts.Settings, "settings unchanged since the ledger")
	assert.NotNil(t, d.Upserts.Messages)
}
