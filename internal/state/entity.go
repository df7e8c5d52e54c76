package state

import (
	"encoding/json"
	"strconv"

	"github.com/roach88/statesync/internal/canon"
)

// Entity is an untyped JSON record. Its identity is the "id" field,
// coerced to a string by EntityID.
type Entity map[string]any

// CollectionName names one of the identity-keyed collections.
type CollectionName string

const (
	Characters CollectionName = "characters"
	Rooms      CollectionName = "rooms"
	Messages   CollectionName = "messages"
)

// Collections lists every collection in wire order.
var Collections = []CollectionName{Characters, Rooms, Messages}

// EntityID returns the entity's id as a string.
//
// Strings are used as-is, numbers are formatted the way JavaScript's String()
// would format them, booleans become "true"/"false". A missing, null, empty
// or structured id is invalid.
func EntityID(e Entity) (string, bool) {
	if e == nil {
		return "", false
	}
	return coerceID(e["id"])
}

func coerceID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case bool:
		return strconv.FormatBool(id), true
	case json.Number, float64, float32, int, int64, int32, uint, uint64, uint32:
		s := canon.Canonical(id)
		return s, s != "null"
	}
	return "", false
}
