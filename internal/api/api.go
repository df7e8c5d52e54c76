// Package api defines the JSON bodies exchanged on /api/sync/{clientId}.
package api

import (
	"net/url"

	"github.com/roach88/statesync/internal/state"
)

// PathPrefix is the route prefix for the sync endpoint.
const PathPrefix = "/api/sync/"

// SyncPath returns the endpoint path for clientID.
func SyncPath(clientID string) string {
	return PathPrefix + url.PathEscape(clientID)
}

// FetchResponse is the body of a successful GET.
type FetchResponse struct {
	OK            bool          `json:"ok"`
	ServerVersion int           `json:"serverVersion"`
	Summary       state.Summary `json:"summary"`
}

// PushRequest is the body of a PUT. Upserts and Deletes may be omitted.
type PushRequest struct {
	ClientSummary state.Summary  `json:"clientSummary"`
	Upserts       *state.Upserts `json:"upserts,omitempty"`
	Deletes       *state.Deletes `json:"deletes,omitempty"`
}

// Delta returns the push as a Delta, with omitted parts empty.
func (r *PushRequest) Delta() state.Delta {
	d := state.NewDelta()
	if r.Upserts != nil {
		d.Upserts = *r.Upserts
	}
	if r.Deletes != nil {
		d.Deletes = *r.Deletes
	}
	return d
}

// PushResponse is the body of a successful PUT. Summary describes the
// server state after the push was applied.
type PushResponse struct {
	OK      bool          `json:"ok"`
	Delta   state.Delta   `json:"delta"`
	Summary state.Summary `json:"summary"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
