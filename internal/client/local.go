package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/statesync/internal/client/kv"
	"github.com/roach88/statesync/internal/state"
)

// Keys in the client blob store.
const (
	keyState    = "statesync.state"
	keyLedger   = "statesync.ledger"
	keyClientID = "statesync.clientId"
)

// Local is the client's copy of its state plus the ledger: the server
// summary last acknowledged by a completed sync.
//
// Every mutation is persisted before it becomes visible and then announced
// to change listeners.
type Local struct {
	mu       sync.Mutex
	kv       kv.Store
	clientID string
	st       *state.Store
	ledger   state.Summary
	logger   *slog.Logger
	now      func() time.Time

	lmu       sync.Mutex
	listeners map[int]func(ChangeOrigin)
	nextID    int
}

// ChangeOrigin tells change listeners where a committed change came from.
type ChangeOrigin int

const (
	// ChangeLocal is an edit made on this device (including Restore).
	ChangeLocal ChangeOrigin = iota
	// ChangeRemote is a server delta applied by a sync cycle.
	ChangeRemote
)

// LocalOption configures a Local.
type LocalOption func(*Local)

// WithLocalLogger sets the logger. The default is slog.Default().
func WithLocalLogger(l *slog.Logger) LocalOption {
	return func(c *Local) { c.logger = l }
}

// WithLocalClock sets the time source for corrupt-state backup keys.
func WithLocalClock(now func() time.Time) LocalOption {
	return func(c *Local) { c.now = now }
}

// OpenLocal loads the state and ledger for clientID from store. Missing
// entries start empty. An undecodable state blob is copied aside under
// "statesync.state.corrupt-<unixms>" and replaced by an empty state; an
// undecodable ledger is dropped, which only makes the next sync push more.
func OpenLocal(store kv.Store, clientID string, opts ...LocalOption) (*Local, error) {
	if clientID == "" {
		return nil, errors.New("open local state: empty client id")
	}
	l := &Local{
		kv:        store,
		clientID:  clientID,
		logger:    slog.Default(),
		now:       time.Now,
		listeners: make(map[int]func(ChangeOrigin)),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.loadState(); err != nil {
		return nil, err
	}
	if err := l.loadLedger(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Local) loadState() error {
	raw, ok, err := l.kv.GetItem(keyState)
	if err != nil {
		return fmt.Errorf("open local state: %w", err)
	}
	if !ok {
		l.st = state.NewStore(l.clientID)
		return nil
	}

	st, err := state.Decode([]byte(raw))
	if errors.Is(err, state.ErrNewerSchema) {
		return fmt.Errorf("open local state: %w", err)
	}
	if err != nil {
		backup := fmt.Sprintf("%s.corrupt-%d", keyState, l.now().UnixMilli())
		if serr := l.kv.SetItem(backup, raw); serr != nil {
			return fmt.Errorf("open local state: back up corrupt state: %w", serr)
		}
		l.logger.Error("corrupt local state", "corrupt", true, "backup_key", backup, "error", err)
		l.st = state.NewStore(l.clientID)
		return nil
	}
	st.Rebind(l.clientID)
	l.st = st
	return nil
}

func (l *Local) loadLedger() error {
	raw, ok, err := l.kv.GetItem(keyLedger)
	if err != nil {
		return fmt.Errorf("open local ledger: %w", err)
	}
	if !ok {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &l.ledger); err != nil {
		l.logger.Warn("discarding unreadable sync ledger", "error", err)
		l.ledger = state.Summary{}
	}
	return nil
}

// ClientID returns the sync identity this state belongs to.
func (l *Local) ClientID() string {
	return l.clientID
}

// Snapshot returns a deep copy of the current state.
func (l *Local) Snapshot() *state.Store {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.Clone()
}

// Ledger returns the last acknowledged server summary.
func (l *Local) Ledger() state.Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ledger
}

// Summary returns the fingerprint summary of the current state.
func (l *Local) Summary() state.Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return state.BuildSummary(l.st, l.clientID)
}

// Upsert stores e in the named collection.
func (l *Local) Upsert(name state.CollectionName, e state.Entity) error {
	return l.mutate(func(st *state.Store) error {
		return st.Upsert(name, e)
	})
}

// Delete removes id from the named collection and records a tombstone.
func (l *Local) Delete(name state.CollectionName, id string) error {
	return l.mutate(func(st *state.Store) error {
		return st.Delete(name, id)
	})
}

// SetSettings replaces this client's settings. Nil clears them.
func (l *Local) SetSettings(v any) error {
	return l.mutate(func(st *state.Store) error {
		st.SetSettings(l.clientID, v)
		return nil
	})
}

// Restore replaces the state with a backup document, migrating it from
// whatever schema version it was written with. The backup's own settings
// become this client's settings even when the backup was written under
// another client id. The ledger is kept, so the next sync pushes everything
// the restore changed.
func (l *Local) Restore(data []byte) error {
	st, err := state.Decode(data)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	st.Rebind(l.clientID)
	return l.mutate(func(cur *state.Store) error {
		*cur = *st
		return nil
	})
}

// Export encodes the current state as a backup document.
func (l *Local) Export() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return state.Encode(l.st)
}

// mutate applies fn to a copy of the state and commits it with the
// current ledger.
func (l *Local) mutate(fn func(st *state.Store) error) error {
	l.mu.Lock()
	next := l.st.Clone()
	if err := fn(next); err != nil {
		l.mu.Unlock()
		return err
	}
	err := l.commitLocked(next, l.ledger)
	l.mu.Unlock()
	if err != nil {
		return err
	}
	l.notify(ChangeLocal)
	return nil
}

// applyRemote runs fn on a copy of the current state and commits the
// result together with ledger. Nothing changes if fn or the write fails.
func (l *Local) applyRemote(ledger state.Summary, fn func(st *state.Store)) error {
	l.mu.Lock()
	next := l.st.Clone()
	fn(next)
	err := l.commitLocked(next, ledger)
	l.mu.Unlock()
	if err != nil {
		return err
	}
	l.notify(ChangeRemote)
	return nil
}

// commitLocked persists st and ledger in one batch, then swaps them in.
func (l *Local) commitLocked(st *state.Store, ledger state.Summary) error {
	stateJSON, err := state.Encode(st)
	if err != nil {
		return fmt.Errorf("persist local state: %w", err)
	}
	var ledgerJSON bytes.Buffer
	if err := json.NewEncoder(&ledgerJSON).Encode(ledger); err != nil {
		return fmt.Errorf("persist local ledger: %w", err)
	}

	err = kv.SetAll(l.kv, map[string]string{
		keyState:  string(stateJSON),
		keyLedger: ledgerJSON.String(),
	})
	if err != nil {
		return fmt.Errorf("persist local state: %w", err)
	}
	l.st = st
	l.ledger = ledger
	return nil
}

// OnChange registers fn to run after every committed change, local or
// remote, with the change's origin. It returns a function that unregisters fn.
func (l *Local) OnChange(fn func(ChangeOrigin)) func() {
	l.lmu.Lock()
	defer l.lmu.Unlock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	return func() {
		l.lmu.Lock()
		defer l.lmu.Unlock()
		delete(l.listeners, id)
	}
}

func (l *Local) notify(origin ChangeOrigin) {
	l.lmu.Lock()
	fns := make([]func(ChangeOrigin), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.lmu.Unlock()
	for _, fn := range fns {
		fn(origin)
	}
}
