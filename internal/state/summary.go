package state

import (
	"slices"

	"github.com/roach88/statesync/internal/canon"
)

// CollectionSummary describes a collection without carrying it:
// live id -> fingerprint, plus tombstoned ids.
type CollectionSummary struct {
	Hashes  map[string]string `json:"hashes"`
	Deleted []string          `json:"deleted"`
}

// SettingsSummary holds the settings fingerprint. An empty Hash means the
// party has no settings.
type SettingsSummary struct {
	Hash string `json:"hash,omitempty"`
}

// Summary is what one party believes about every collection and settings.
// A collection missing from a decoded Summary is its zero value, which reads
// as "knows nothing".
type Summary struct {
	Characters CollectionSummary `json:"characters"`
	Rooms      CollectionSummary `json:"rooms"`
	Messages   CollectionSummary `json:"messages"`
	Settings   SettingsSummary   `json:"settings"`
}

// Collection returns the named collection summary, or nil for an unknown name.
func (s *Summary) Collection(name CollectionName) *CollectionSummary {
	switch name {
	case Characters:
		return &s.Characters
	case Rooms:
		return &s.Rooms
	case Messages:
		return &s.Messages
	}
	return nil
}

// BuildSummary fingerprints every live entity of st and copies its
// tombstones. Settings are looked up under clientID.
func BuildSummary(st *Store, clientID string) Summary {
	var sum Summary
	for _, name := range Collections {
		c := st.Collection(name)
		cs := sum.Collection(name)
		cs.Hashes = make(map[string]string, len(c.ByID))
		for id, e := range c.ByID {
			cs.Hashes[id] = canon.Hash(e)
		}
		cs.Deleted = slices.Clone(c.Deleted)
		if cs.Deleted == nil {
			cs.Deleted = []string{}
		}
		slices.Sort(cs.Deleted)
	}
	if v, ok := st.Settings(clientID); ok {
		sum.Settings.Hash = canon.Hash(v)
	}
	return sum
}
