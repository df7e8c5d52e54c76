package harness

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/statesync/internal/canon"
	"github.com/roach88/statesync/internal/state"
)

// view reduces st to what golden files record: live and tombstoned ids per
// collection plus the settings stored for clientID.
func view(st *state.Store, clientID string) map[string]any {
	out := make(map[string]any, len(state.Collections)+1)
	for _, name := range state.Collections {
		c := st.Collection(name)
		deleted := append([]string{}, c.Deleted...)
		slices.Sort(deleted)
		out[string(name)] = map[string]any{
			"live":    c.IDs(),
			"deleted": deleted,
		}
	}
	settings, _ := st.Settings(clientID)
	out["settings"] = settings
	return out
}

// fingerprint is the canonical form of everything a Summary captures, with
// tombstones sorted so equal states compare equal.
func fingerprint(st *state.Store, clientID string) string {
	sum := state.BuildSummary(st, clientID)
	out := make(map[string]any, len(state.Collections)+1)
	for _, name := range state.Collections {
		cs := sum.Collection(name)
		deleted := append([]string{}, cs.Deleted...)
		slices.Sort(deleted)
		hashes := cs.Hashes
		if hashes == nil {
			hashes = map[string]string{}
		}
		out[string(name)] = map[string]any{"hashes": hashes, "deleted": deleted}
	}
	out["settings"] = sum.Settings.Hash
	return canon.Canonical(out)
}

// evaluateAssertions returns one message per failed assertion.
func (h *Harness) evaluateAssertions(ctx context.Context, scenario *Scenario, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, scenario, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func (h *Harness) evaluate(ctx context.Context, scenario *Scenario, a Assertion) error {
	if a.Type == AssertConverged {
		return h.assertConverged(ctx, scenario, a.Devices)
	}

	st, clientID, err := h.target(ctx, a)
	if err != nil {
		return err
	}

	switch a.Type {
	case AssertEntity:
		c := st.Collection(state.CollectionName(a.Collection))
		e, ok := c.ByID[a.ID]
		if !ok {
			return fmt.Errorf("%s/%s is not live", a.Collection, a.ID)
		}
		for field, want := range a.Fields {
			if got := canon.Canonical(e[field]); got != canon.Canonical(want) {
				return fmt.Errorf("%s/%s field %q: expected %s, got %s", a.Collection, a.ID, field, canon.Canonical(want), got)
			}
		}
	case AssertDeleted:
		c := st.Collection(state.CollectionName(a.Collection))
		if _, live := c.ByID[a.ID]; live {
			return fmt.Errorf("%s/%s is still live", a.Collection, a.ID)
		}
		if !c.IsDeleted(a.ID) {
			return fmt.Errorf("%s/%s has no tombstone", a.Collection, a.ID)
		}
	case AssertSettings:
		got, _ := st.Settings(clientID)
		if canon.Canonical(got) != canon.Canonical(a.Value) {
			return fmt.Errorf("settings: expected %s, got %s", canon.Canonical(a.Value), canon.Canonical(got))
		}
	}
	return nil
}

// target resolves the state an assertion inspects.
func (h *Harness) target(ctx context.Context, a Assertion) (*state.Store, string, error) {
	if a.Device != "" {
		d := h.devices[a.Device]
		return d.local.Snapshot(), d.client, nil
	}
	l, err := h.store.Load(ctx, a.Client)
	if err != nil {
		return nil, "", err
	}
	return l.State, a.Client, nil
}

// assertConverged checks that devices sharing a client id hold the same
// state as each other and as the server document for that id.
func (h *Harness) assertConverged(ctx context.Context, scenario *Scenario, names []string) error {
	if len(names) == 0 {
		for _, d := range scenario.Devices {
			names = append(names, d.Name)
		}
	}

	server := make(map[string]string)
	for _, name := range names {
		d := h.devices[name]
		want, ok := server[d.client]
		if !ok {
			l, err := h.store.Load(ctx, d.client)
			if err != nil {
				return err
			}
			want = fingerprint(l.State, d.client)
			server[d.client] = want
		}
		if got := fingerprint(d.local.Snapshot(), d.client); got != want {
			return fmt.Errorf("device %s differs from server document %q", name, d.client)
		}
	}
	return nil
}
