package state

import (
	"fmt"
	"slices"
	"time"
)

// Collection is an id-keyed set of entities plus tombstones for ids that
// were explicitly deleted. An id is never in both.
type Collection struct {
	ByID    map[string]Entity `json:"byId"`
	Deleted []string          `json:"deleted"`
}

// NewCollection returns an empty collection.
func NewCollection() Collection {
	return Collection{
		ByID:    map[string]Entity{},
		Deleted: []string{},
	}
}

// IsDeleted reports whether id carries a tombstone.
func (c *Collection) IsDeleted(id string) bool {
	return slices.Contains(c.Deleted, id)
}

// IDs returns the live ids in ascending order.
func (c *Collection) IDs() []string {
	ids := make([]string, 0, len(c.ByID))
	for id := range c.ByID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (c *Collection) put(id string, e Entity) {
	c.ByID[id] = e
	c.Deleted = slices.DeleteFunc(c.Deleted, func(d string) bool { return d == id })
}

func (c *Collection) remove(id string) {
	delete(c.ByID, id)
	if !c.IsDeleted(id) {
		c.Deleted = append(c.Deleted, id)
	}
}

// normalize allocates missing containers, drops duplicate tombstones and
// tombstones for live ids.
func (c *Collection) normalize() {
	if c.ByID == nil {
		c.ByID = map[string]Entity{}
	}
	seen := make(map[string]bool, len(c.Deleted))
	kept := make([]string, 0, len(c.Deleted))
	for _, id := range c.Deleted {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, live := c.ByID[id]; live {
			continue
		}
		kept = append(kept, id)
	}
	c.Deleted = kept
}

// ClientMeta is bookkeeping stamped by the owner of the Store.
type ClientMeta struct {
	// LastSyncAt is the Unix time in milliseconds of the last applied sync.
	LastSyncAt int64 `json:"lastSyncAt,omitempty"`
}

// Store is one client's complete synchronized state.
//
// Settings are keyed by client id even though a Store already belongs to a
// single client; peers look them up under their own id.
type Store struct {
	Version          int            `json:"version"`
	ClientID         string         `json:"clientId,omitempty"`
	Characters       Collection     `json:"characters"`
	Rooms            Collection     `json:"rooms"`
	Messages         Collection     `json:"messages"`
	SettingsByClient map[string]any `json:"settingsByClient"`
	ClientMeta       ClientMeta     `json:"clientMeta"`
}

// NewStore returns an empty Store at CurrentVersion.
func NewStore(clientID string) *Store {
	return &Store{
		Version:          CurrentVersion,
		ClientID:         clientID,
		Characters:       NewCollection(),
		Rooms:            NewCollection(),
		Messages:         NewCollection(),
		SettingsByClient: map[string]any{},
	}
}

// Collection returns the named collection, or nil for an unknown name.
func (s *Store) Collection(name CollectionName) *Collection {
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

// Settings returns the settings stored for clientID.
func (s *Store) Settings(clientID string) (any, bool) {
	v, ok := s.SettingsByClient[clientID]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// SetSettings replaces the settings stored for clientID. A nil value removes them.
func (s *Store) SetSettings(clientID string, v any) {
	if s.SettingsByClient == nil {
		s.SettingsByClient = map[string]any{}
	}
	if v == nil {
		delete(s.SettingsByClient, clientID)
		return
	}
	s.SettingsByClient[clientID] = v
}

// Rebind hands s to clientID. Settings stored under the previous owner
// (including the "" owner of documents that never recorded one) move to
// clientID and replace any entry it already had.
func (s *Store) Rebind(clientID string) {
	if s.ClientID == clientID {
		return
	}
	if v, ok := s.SettingsByClient[s.ClientID]; ok {
		delete(s.SettingsByClient, s.ClientID)
		s.SetSettings(clientID, v)
	}
	s.ClientID = clientID
}

// Upsert stores e under its id, clearing any tombstone for that id.
func (s *Store) Upsert(name CollectionName, e Entity) error {
	c := s.Collection(name)
	if c == nil {
		return fmt.Errorf("unknown collection %q", name)
	}
	id, ok := EntityID(e)
	if !ok {
		return fmt.Errorf("%s: entity has no usable id", name)
	}
	c.put(id, e)
	return nil
}

// Delete removes id and records a tombstone. Deleting an unknown id still
// records the tombstone so peers that hold it learn of the deletion.
func (s *Store) Delete(name CollectionName, id string) error {
	c := s.Collection(name)
	if c == nil {
		return fmt.Errorf("unknown collection %q", name)
	}
	if id == "" {
		return fmt.Errorf("%s: empty id", name)
	}
	c.remove(id)
	return nil
}

// Touch stamps the last sync time.
func (s *Store) Touch(now time.Time) {
	s.ClientMeta.LastSyncAt = now.UnixMilli()
}

// Normalize allocates missing containers and repairs tombstones that
// violate the collection invariant. Decode calls it on every document.
func (s *Store) Normalize() {
	for _, name := range Collections {
		s.Collection(name).normalize()
	}
	if s.SettingsByClient == nil {
		s.SettingsByClient = map[string]any{}
	}
}

// Check returns an error if any id is both live and tombstoned.
func (s *Store) Check() error {
	for _, name := range Collections {
		c := s.Collection(name)
		for _, id := range c.Deleted {
			if _, live := c.ByID[id]; live {
				return fmt.Errorf("%s: id %q is both live and deleted", name, id)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of s.
func (s *Store) Clone() *Store {
	out := &Store{
		Version:          s.Version,
		ClientID:         s.ClientID,
		SettingsByClient: make(map[string]any, len(s.SettingsByClient)),
		ClientMeta:       s.ClientMeta,
	}
	for _, name := range Collections {
		src := s.Collection(name)
		dst := out.Collection(name)
		dst.ByID = make(map[string]Entity, len(src.ByID))
		for id, e := range src.ByID {
			dst.ByID[id] = cloneEntity(e)
		}
		dst.Deleted = slices.Clone(src.Deleted)
		if dst.Deleted == nil {
			dst.Deleted = []string{}
		}
	}
	for k, v := range s.SettingsByClient {
		out.SettingsByClient[k] = cloneValue(v)
	}
	return out
}

func cloneEntity(e Entity) Entity {
	if e == nil {
		return nil
	}
	out := make(Entity, len(e))
	for k, v := range e {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = cloneValue(x)
		}
		return out
	case Entity:
		return cloneEntity(val)
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = cloneValue(x)
		}
		return out
	}
	return v
}
