package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/roach88/statesync/internal/migrate"
)

// Store document schema versions:
//
//	1 - collections are arrays of entities; top-level settings and lastSyncAt
//	2 - collections become {byId} maps keyed by entity id
//	3 - collections gain "deleted" tombstone lists
//	4 - settings move to settingsByClient[clientId]; lastSyncAt moves to clientMeta
const CurrentVersion = 4

// ErrNewerSchema is returned when a document was written by a newer schema.
var ErrNewerSchema = errors.New("document schema is newer than supported")

// Migrations brings store documents of any older version to CurrentVersion.
var Migrations = migrate.NewChain(map[int]migrate.Transform{
	2: migrateKeyCollections,
	3: migrateAddTombstones,
	4: migrateSettingsByClient,
})

// Decode parses a persisted or restored store document, migrating it to
// CurrentVersion first. A document without a version is treated as version 1.
func Decode(data []byte) (*Store, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode store: document is %T, not an object", raw)
	}
	return DecodeDoc(doc)
}

// DecodeDoc migrates an already parsed document and converts it to a Store.
func DecodeDoc(doc migrate.Doc) (*Store, error) {
	version := DocVersion(doc)
	if version > CurrentVersion {
		return nil, fmt.Errorf("decode store: version %d: %w", version, ErrNewerSchema)
	}

	doc, err := Migrations.Migrate(doc, version, CurrentVersion)
	if err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}
	doc["version"] = CurrentVersion

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("decode store: re-encode: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(normalized))
	dec.UseNumber()
	st := &Store{}
	if err := dec.Decode(st); err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}
	st.Normalize()
	return st, nil
}

// Encode serializes st as a current-version document.
func Encode(st *Store) ([]byte, error) {
	st.Normalize()
	if st.Version < CurrentVersion {
		st.Version = CurrentVersion
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode store: %w", err)
	}
	return data, nil
}

// DocVersion reads the "version" field of a raw document. Missing or
// unreadable versions count as 1.
func DocVersion(doc migrate.Doc) int {
	switch v := doc["version"].(type) {
	case json.Number:
		f, err := v.Float64()
		if err == nil && f >= 1 && f <= math.MaxInt32 {
			return int(f)
		}
	case float64:
		if v >= 1 && v <= math.MaxInt32 {
			return int(v)
		}
	case int:
		if v >= 1 {
			return v
		}
	}
	return 1
}

// migrateKeyCollections turns entity arrays into {byId} maps.
func migrateKeyCollections(doc migrate.Doc) migrate.Doc {
	for _, name := range Collections {
		key := string(name)
		switch raw := doc[key].(type) {
		case []any:
			byID := map[string]any{}
			for _, item := range raw {
				e, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if id, ok := EntityID(e); ok {
					byID[id] = e
				}
			}
			doc[key] = map[string]any{"byId": byID}
		case map[string]any:
			if _, ok := raw["byId"]; ok {
				continue
			}
			// Already keyed by id but not wrapped.
			byID := map[string]any{}
			for id, item := range raw {
				if e, ok := item.(map[string]any); ok {
					byID[id] = e
				}
			}
			doc[key] = map[string]any{"byId": byID}
		default:
			doc[key] = map[string]any{"byId": map[string]any{}}
		}
	}
	return doc
}

// migrateAddTombstones gives every collection a deduplicated "deleted" list
// that excludes live ids.
func migrateAddTombstones(doc migrate.Doc) migrate.Doc {
	for _, name := range Collections {
		key := string(name)
		coll, ok := doc[key].(map[string]any)
		if !ok {
			coll = map[string]any{}
			doc[key] = coll
		}
		byID, ok := coll["byId"].(map[string]any)
		if !ok {
			byID = map[string]any{}
			coll["byId"] = byID
		}

		deleted := []any{}
		seen := map[string]bool{}
		if prior, ok := coll["deleted"].([]any); ok {
			for _, raw := range prior {
				id, ok := coerceID(raw)
				if !ok || seen[id] {
					continue
				}
				seen[id] = true
				if _, live := byID[id]; live {
					continue
				}
				deleted = append(deleted, id)
			}
		}
		coll["deleted"] = deleted
	}
	return doc
}

// migrateSettingsByClient namespaces settings under the owning client id
// and moves lastSyncAt into clientMeta.
func migrateSettingsByClient(doc migrate.Doc) migrate.Doc {
	byClient, ok := doc["settingsByClient"].(map[string]any)
	if !ok {
		byClient = map[string]any{}
		doc["settingsByClient"] = byClient
	}
	if settings, ok := doc["settings"]; ok {
		clientID, _ := doc["clientId"].(string)
		if _, exists := byClient[clientID]; !exists && settings != nil {
			byClient[clientID] = settings
		}
		delete(doc, "settings")
	}

	meta, ok := doc["clientMeta"].(map[string]any)
	if !ok {
		meta = map[string]any{}
		doc["clientMeta"] = meta
	}
	if last, ok := doc["lastSyncAt"]; ok {
		if _, has := meta["lastSyncAt"]; !has {
			switch last.(type) {
			case json.Number, float64, int64, int:
				meta["lastSyncAt"] = last
			}
		}
		delete(doc, "lastSyncAt")
	}
	return doc
}
