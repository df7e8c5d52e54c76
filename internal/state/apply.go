package state

// ApplyStats reports what Apply did.
type ApplyStats struct {
	Upserted int
	Deleted  int
	// Dropped counts upserted entities without a usable id and delete ids
	// that are empty or could not be coerced to a string.
	Dropped  int
	Settings bool
}

// Apply merges d into s.
//
// All upserts are applied first (an upsert clears the id's tombstone), then
// all deletes (an id both upserted and deleted in one delta ends deleted),
// then settings are stored under clientID. Invalid entities are dropped
// rather than failing the whole delta.
func (s *Store) Apply(clientID string, d Delta) ApplyStats {
	s.Normalize()

	var stats ApplyStats
	for _, name := range Collections {
		c := s.Collection(name)
		for _, e := range d.Upserts.Of(name) {
			id, ok := EntityID(e)
			if !ok {
				stats.Dropped++
				continue
			}
			c.put(id, e)
			stats.Upserted++
		}
	}

	for _, name := range Collections {
		c := s.Collection(name)
		for _, id := range d.Deletes.Of(name) {
			if id == "" {
				stats.Dropped++
				continue
			}
			c.remove(id)
			stats.Deleted++
		}
	}

	if d.Upserts.Settings != nil {
		s.SetSettings(clientID, d.Upserts.Settings)
		stats.Settings = true
	}
	return stats
}
