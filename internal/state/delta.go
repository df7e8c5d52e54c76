package state

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/roach88/statesync/internal/canon"
)

// Upserts carries whole entities per collection, plus settings when they changed.
type Upserts struct {
	Characters []Entity `json:"characters"`
	Rooms      []Entity `json:"rooms"`
	Messages   []Entity `json:"messages"`
	Settings   any      `json:"settings,omitempty"`
}

// Of returns the upserts for the named collection.
func (u *Upserts) Of(name CollectionName) []Entity {
	switch name {
	case Characters:
		return u.Characters
	case Rooms:
		return u.Rooms
	case Messages:
		return u.Messages
	}
	return nil
}

func (u *Upserts) set(name CollectionName, es []Entity) {
	switch name {
	case Characters:
		u.Characters = es
	case Rooms:
		u.Rooms = es
	case Messages:
		u.Messages = es
	}
}

// Deletes carries tombstoned ids per collection.
type Deletes struct {
	Characters []string `json:"characters"`
	Rooms      []string `json:"rooms"`
	Messages   []string `json:"messages"`
}

// UnmarshalJSON accepts ids of any JSON kind and coerces them the way
// entity ids are coerced. An id that cannot be coerced decodes as "" and
// is dropped by Apply.
func (d *Deletes) UnmarshalJSON(data []byte) error {
	var raw struct {
		Characters []any `json:"characters"`
		Rooms      []any `json:"rooms"`
		Messages   []any `json:"messages"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	d.Characters = coerceIDs(raw.Characters)
	d.Rooms = coerceIDs(raw.Rooms)
	d.Messages = coerceIDs(raw.Messages)
	return nil
}

func coerceIDs(raw []any) []string {
	if raw == nil {
		return nil
	}
	ids := make([]string, len(raw))
	for i, v := range raw {
		if id, ok := coerceID(v); ok {
			ids[i] = id
		}
	}
	return ids
}

// Of returns the deletes for the named collection.
func (d *Deletes) Of(name CollectionName) []string {
	switch name {
	case Characters:
		return d.Characters
	case Rooms:
		return d.Rooms
	case Messages:
		return d.Messages
	}
	return nil
}

func (d *Deletes) set(name CollectionName, ids []string) {
	switch name {
	case Characters:
		d.Characters = ids
	case Rooms:
		d.Rooms = ids
	case Messages:
		d.Messages = ids
	}
}

// Delta is what a peer must apply to converge on the sender's state.
type Delta struct {
	Upserts Upserts `json:"upserts"`
	Deletes Deletes `json:"deletes"`
}

// NewDelta returns an empty delta whose lists encode as [] rather than null.
func NewDelta() Delta {
	var d Delta
	for _, name := range Collections {
		d.Upserts.set(name, []Entity{})
		d.Deletes.set(name, []string{})
	}
	return d
}

// IsEmpty reports whether applying d would change nothing.
func (d *Delta) IsEmpty() bool {
	if d.Upserts.Settings != nil {
		return false
	}
	for _, name := range Collections {
		if len(d.Upserts.Of(name)) > 0 || len(d.Deletes.Of(name)) > 0 {
			return false
		}
	}
	return true
}

// Counts summarizes a delta for logging.
type Counts struct {
	Upserts  map[CollectionName]int `json:"upserts"`
	Deletes  map[CollectionName]int `json:"deletes"`
	Settings bool                   `json:"settings"`
}

// Counts returns per-collection sizes of d.
func (d *Delta) Counts() Counts {
	c := Counts{
		Upserts:  make(map[CollectionName]int, len(Collections)),
		Deletes:  make(map[CollectionName]int, len(Collections)),
		Settings: d.Upserts.Settings != nil,
	}
	for _, name := range Collections {
		c.Upserts[name] = len(d.Upserts.Of(name))
		c.Deletes[name] = len(d.Deletes.Of(name))
	}
	return c
}

// Total returns the number of entities and tombstones carried.
func (c Counts) Total() int {
	n := 0
	for _, v := range c.Upserts {
		n += v
	}
	for _, v := range c.Deletes {
		n += v
	}
	if c.Settings {
		n++
	}
	return n
}

// ComputeDelta returns everything in st the peer described by peer lacks.
//
// An entity is sent whole when the peer has no fingerprint for its id or a
// different one. A tombstone is sent when the peer has not declared it.
// Settings are sent when st holds settings for clientID and their
// fingerprint differs from the peer's. Field-level differences are never
// computed.
func ComputeDelta(st *Store, peer Summary, clientID string) Delta {
	d := NewDelta()
	for _, name := range Collections {
		c := st.Collection(name)
		ps := peer.Collection(name)

		ups := []Entity{}
		for _, id := range c.IDs() {
			e := c.ByID[id]
			if h, ok := ps.Hashes[id]; ok && h == canon.Hash(e) {
				continue
			}
			ups = append(ups, e)
		}
		d.Upserts.set(name, ups)

		known := make(map[string]bool, len(ps.Deleted))
		for _, id := range ps.Deleted {
			known[id] = true
		}
		dels := []string{}
		for _, id := range c.Deleted {
			if !known[id] {
				dels = append(dels, id)
			}
		}
		slices.Sort(dels)
		d.Deletes.set(name, dels)
	}

	if v, ok := st.Settings(clientID); ok && canon.Hash(v) != peer.Settings.Hash {
		d.Upserts.Settings = v
	}
	return d
}
