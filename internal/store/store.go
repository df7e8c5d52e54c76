package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/statesync/internal/config"
	"github.com/roach88/statesync/internal/state"
)

const (
	keyPrefix = "clients/"
	keySuffix = ".json"
)

// ErrInvalidClientID is returned for an empty client ID.
var ErrInvalidClientID = errors.New("store: empty client id")

// Origin says where a loaded Store came from.
type Origin int

const (
	// OriginFresh means no document existed for the client.
	OriginFresh Origin = iota
	// OriginExisting means the persisted document was decoded.
	OriginExisting
	// OriginCorrupt means the persisted document could not be decoded. It
	// was quarantined and a fresh Store returned in its place.
	OriginCorrupt
)

func (o Origin) String() string {
	switch o {
	case OriginFresh:
		return "fresh"
	case OriginExisting:
		return "existing"
	case OriginCorrupt:
		return "corrupt"
	}
	return fmt.Sprintf("Origin(%d)", int(o))
}

// Loaded is the result of Store.Load.
type Loaded struct {
	State  *state.Store
	Origin Origin
}

// Store reads and writes per-client state documents on a Backend.
type Store struct {
	backend  Backend
	compress bool
	logger   *slog.Logger
	now      func() time.Time
	locks    keyedMutex
}

// Option configures a Store.
type Option func(*Store)

// WithCompression enables snappy framing for documents written from now
// on. Reads detect the framing either way.
func WithCompression(on bool) Option {
	return func(s *Store) { s.compress = on }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the time source used for quarantine key suffixes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store on top of b. The Store owns b; Close closes it.
func New(b Backend, opts ...Option) *Store {
	s := &Store{
		backend: b,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the configured backend and wraps it in a Store.
func Open(ctx context.Context, cfg config.Storage, logger *slog.Logger) (*Store, error) {
	b, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithCompression(cfg.Compress)}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	return New(b, opts...), nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// DocumentKey returns the backend key for clientID. IDs are NFC-normalized
// first so canonically equivalent spellings share one document, then
// path-escaped so no ID can introduce a separator.
func DocumentKey(clientID string) string {
	return keyPrefix + url.PathEscape(norm.NFC.String(clientID)) + keySuffix
}

// Load returns the state for clientID. A missing document yields a fresh
// Store; an undecodable one is quarantined and also yields a fresh Store.
// Backend failures and documents from a newer schema are returned as errors.
func (s *Store) Load(ctx context.Context, clientID string) (Loaded, error) {
	if clientID == "" {
		return Loaded{}, ErrInvalidClientID
	}
	key := DocumentKey(clientID)

	raw, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Loaded{State: state.NewStore(clientID), Origin: OriginFresh}, nil
	}
	if err != nil {
		return Loaded{}, fmt.Errorf("load %s: %w", clientID, err)
	}

	st, err := s.decode(raw)
	if errors.Is(err, state.ErrNewerSchema) {
		return Loaded{}, fmt.Errorf("load %s: %w", clientID, err)
	}
	if err != nil {
		if qerr := s.quarantine(ctx, clientID, key, raw, err); qerr != nil {
			return Loaded{}, qerr
		}
		return Loaded{State: state.NewStore(clientID), Origin: OriginCorrupt}, nil
	}

	st.Rebind(clientID)
	return Loaded{State: st, Origin: OriginExisting}, nil
}

func (s *Store) decode(raw []byte) (*state.Store, error) {
	data, err := decompress(raw)
	if err != nil {
		return nil, err
	}
	return state.Decode(data)
}

// quarantine copies an undecodable document aside so the next write does
// not destroy it.
func (s *Store) quarantine(ctx context.Context, clientID, key string, raw []byte, cause error) error {
	qkey := fmt.Sprintf("%s.corrupt-%d", key, s.now().UnixMilli())
	if err := s.backend.Put(ctx, qkey, raw); err != nil {
		return fmt.Errorf("load %s: quarantine corrupt document: %w", clientID, err)
	}
	s.logger.Error("corrupt client state",
		"client_id", clientID,
		"corrupt", true,
		"quarantine_key", qkey,
		"bytes", len(raw),
		"error", cause,
	)
	return nil
}

// Write persists st as the document for clientID.
func (s *Store) Write(ctx context.Context, clientID string, st *state.Store) error {
	if clientID == "" {
		return ErrInvalidClientID
	}
	data, err := state.Encode(st)
	if err != nil {
		return fmt.Errorf("write %s: %w", clientID, err)
	}
	if s.compress {
		if data, err = compress(data); err != nil {
			return fmt.Errorf("write %s: %w", clientID, err)
		}
	}
	if err := s.backend.Put(ctx, DocumentKey(clientID), data); err != nil {
		return fmt.Errorf("write %s: %w", clientID, err)
	}
	return nil
}

// Update loads the state for clientID, passes it to fn, and writes it back
// if fn returns nil. Updates for the same client ID run one at a time;
// different client IDs never wait on each other. Load never blocks on
// Update, so readers may see the state from before an in-flight update.
func (s *Store) Update(ctx context.Context, clientID string, fn func(l Loaded) error) (Loaded, error) {
	if clientID == "" {
		return Loaded{}, ErrInvalidClientID
	}
	release, err := s.locks.acquire(ctx, DocumentKey(clientID))
	if err != nil {
		return Loaded{}, fmt.Errorf("update %s: %w", clientID, err)
	}
	defer release()

	l, err := s.Load(ctx, clientID)
	if err != nil {
		return Loaded{}, err
	}
	if err := fn(l); err != nil {
		return Loaded{}, err
	}
	if err := s.Write(ctx, clientID, l.State); err != nil {
		return Loaded{}, err
	}
	return l, nil
}

// Clients returns the IDs of all clients with a persisted document, in
// key order. Quarantined copies are not included.
func (s *Store) Clients(ctx context.Context) ([]string, error) {
	keys, err := s.backend.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	var ids []string
	for _, key := range keys {
		name, ok := strings.CutSuffix(strings.TrimPrefix(key, keyPrefix), keySuffix)
		if !ok || strings.Contains(name, "/") {
			continue
		}
		id, err := url.PathUnescape(name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
