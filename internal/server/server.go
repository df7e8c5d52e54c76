// Package server exposes per-client state over HTTP.
//
// GET /api/sync/{clientId} returns the server summary for a client. PUT
// applies the client's push, then answers with everything the client's
// declared summary lacks and the post-push summary. Pushes for one client
// ID are serialized by store.Store.Update; last writer wins.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/roach88/statesync/internal/api"
	"github.com/roach88/statesync/internal/config"
	"github.com/roach88/statesync/internal/state"
	"github.com/roach88/statesync/internal/store"
)

// DefaultMaxBodyBytes caps PUT bodies when no limit is configured.
const DefaultMaxBodyBytes = 10 << 20

// Server handles sync requests against a store.Store.
type Server struct {
	store        *store.Store
	logger       *slog.Logger
	now          func() time.Time
	maxBodyBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock sets the time source used to stamp lastSyncAt.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithMaxBodyBytes caps the size of PUT bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// New returns a Server backed by st.
func New(st *store.Store, opts ...Option) *Server {
	s := &Server{
		store:        st,
		logger:       slog.Default(),
		now:          time.Now,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	// Route on the escaped path so client IDs containing "/" still match
	// a single segment.
	r.UseEncodedPath()
	r.Use(s.logRequests)

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.healthz)
	r.Methods(http.MethodGet).Path(api.PathPrefix + "{clientId}").HandlerFunc(s.fetch)
	r.Methods(http.MethodPut).Path(api.PathPrefix + "{clientId}").HandlerFunc(s.push)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Info("handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration", m.Duration,
		)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.Server) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       cfg.ReadTimeout.D(),
		WriteTimeout:      cfg.WriteTimeout.D(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	clientID, ok := s.clientID(w, r)
	if !ok {
		return
	}

	l, err := s.store.Load(r.Context(), clientID)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, clientID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, api.FetchResponse{
		OK:            true,
		ServerVersion: state.CurrentVersion,
		Summary:       state.BuildSummary(l.State, clientID),
	})
}

func (s *Server) push(w http.ResponseWriter, r *http.Request) {
	clientID, ok := s.clientID(w, r)
	if !ok {
		return
	}

	req, status, err := s.decodePush(w, r)
	if err != nil {
		s.fail(w, status, clientID, err)
		return
	}
	incoming := req.Delta()

	var (
		stats   state.ApplyStats
		delta   state.Delta
		summary state.Summary
	)
	l, err := s.store.Update(r.Context(), clientID, func(l store.Loaded) error {
		stats = l.State.Apply(clientID, incoming)
		l.State.Touch(s.now())
		delta = state.ComputeDelta(l.State, req.ClientSummary, clientID)
		summary = state.BuildSummary(l.State, clientID)
		return nil
	})
	if err != nil {
		s.fail(w, http.StatusInternalServerError, clientID, err)
		return
	}

	s.logger.Info("sync push",
		"client_id", clientID,
		"origin", l.Origin,
		"upserted", stats.Upserted,
		"deleted", stats.Deleted,
		"dropped", stats.Dropped,
		"settings", stats.Settings,
		"returned", delta.Counts().Total(),
	)

	s.writeJSON(w, http.StatusOK, api.PushResponse{
		OK:      true,
		Delta:   delta,
		Summary: summary,
	})
}

// decodePush reads the body with numbers kept as json.Number so entity
// fields survive untouched. It returns the status to use on failure.
func (s *Server) decodePush(w http.ResponseWriter, r *http.Request) (*api.PushRequest, int, error) {
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var req api.PushRequest
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, http.StatusBadRequest, fmt.Errorf("malformed request body: %w", err)
	}
	if dec.More() {
		return nil, http.StatusBadRequest, errors.New("malformed request body: trailing data")
	}
	return &req, 0, nil
}

func (s *Server) clientID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := url.PathUnescape(mux.Vars(r)["clientId"])
	if err != nil || id == "" {
		s.fail(w, http.StatusBadRequest, "", fmt.Errorf("invalid client id %q", mux.Vars(r)["clientId"]))
		return "", false
	}
	return id, true
}

func (s *Server) fail(w http.ResponseWriter, status int, clientID string, err error) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "sync request failed",
		"client_id", clientID,
		"status", status,
		"error", err,
	)
	s.writeJSON(w, status, api.ErrorResponse{OK: false, Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
		http.Error(w, `{"ok":false,"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug("write response", "error", err)
	}
}
