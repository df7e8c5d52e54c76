// Package state holds the synchronized data model and the pure functions
// that reconcile it.
//
// A Store is one client's authoritative state: three identity-keyed
// collections (characters, rooms, messages) with tombstones, and a settings
// singleton. Peers never exchange Stores directly. Instead:
//
//   - BuildSummary describes a Store as id -> fingerprint maps plus tombstones
//   - ComputeDelta compares a Store against a peer's Summary and returns the
//     whole entities and tombstones the peer lacks
//   - Store.Apply merges a Delta: upserts, then deletes, then settings
//
// Fingerprints come from internal/canon and are always recomputed from
// current content; nothing here caches them.
//
// Persisted documents carry a schema version. Decode migrates older
// documents forward through Migrations before use.
package state
