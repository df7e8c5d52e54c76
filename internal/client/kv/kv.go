// Package kv is the client's durable string blob store.
//
// The sync client only needs get/set/remove of whole values by key. Bolt
// keeps them in a single bbolt file; Memory is for tests and one-shot runs.
package kv

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Store is a string key/value blob store. GetItem reports ok=false for a
// missing key; RemoveItem of a missing key is not an error.
type Store interface {
	GetItem(key string) (value string, ok bool, err error)
	SetItem(key, value string) error
	RemoveItem(key string) error
	Close() error
}

// BatchSetter is implemented by stores that can write several keys
// atomically. Readers observe either all of the new values or none.
type BatchSetter interface {
	SetItems(items map[string]string) error
}

// Memory is a map-backed Store.
type Memory struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

func (m *Memory) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *Memory) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

// SetItems writes all items under one lock.
func (m *Memory) SetItems(items map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.items, items)
	return nil
}

func (m *Memory) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) Close() error {
	return nil
}

var bucketName = []byte("statesync")

// Bolt is a Store in a single bbolt bucket.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path. bbolt holds an exclusive
// file lock, so a second process opening the same file waits up to a
// second and then fails.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open kv %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open kv %s: create bucket: %w", path, err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) GetItem(key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		// Values returned by Get are only valid inside the transaction;
		// the string conversion copies.
		if v := tx.Bucket(bucketName).Get([]byte(key)); v != nil {
			value, ok = string(v), true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, ok, nil
}

func (b *Bolt) SetItem(key, value string) error {
	return b.SetItems(map[string]string{key: value})
}

// SetItems writes all items in one bbolt transaction.
func (b *Bolt) SetItems(items map[string]string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		for k, v := range items {
			if err := bucket.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

func (b *Bolt) RemoveItem(key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("kv remove %s: %w", key, err)
	}
	return nil
}

func (b *Bolt) Close() error {
	if b.db == nil {
		return errors.New("kv: already closed")
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// SetAll writes items through s, atomically when s implements BatchSetter.
// Otherwise keys are written one at a time in no particular order.
func SetAll(s Store, items map[string]string) error {
	if bs, ok := s.(BatchSetter); ok {
		return bs.SetItems(items)
	}
	for k, v := range items {
		if err := s.SetItem(k, v); err != nil {
			return err
		}
	}
	return nil
}
