// Package canon computes deterministic fingerprints of JSON-like values.
//
// Two peers that never exchange anything but fingerprints must agree on them,
// so both the serialization (Canonical) and the hash (Hash) follow the same
// rules a JavaScript peer uses:
//   - Object keys sorted by UTF-16 code units (JavaScript's default sort)
//   - Strings escaped exactly like JSON.stringify (no HTML escaping)
//   - Numbers formatted like ECMAScript Number#toString
//   - FNV-1a 32 folded over UTF-16 code units, emitted as unpadded lowercase hex
//
// Canonical never fails. Values that cannot be represented serialize as null,
// and a map or slice already on the current recursion path serializes as
// CircularMarker.
package canon
