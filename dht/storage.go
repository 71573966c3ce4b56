package dht

import (
	"bytes"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/opd-ai/opendht/crypto"
	"github.com/opd-ai/opendht/limits"
)

const (
	// DefaultValueLifetime is how long a stored value survives without
	// being put again.
	DefaultValueLifetime = 10 * time.Minute

	// DefaultMaxKeys bounds how many keys a node stores.
	DefaultMaxKeys = 4096

	// MaxValuesPerKey bounds how many distinct values a key holds. The
	// oldest value is dropped first.
	MaxValuesPerKey = 64
)

// Storage holds values this node is responsible for. Keys expire
// DefaultValueLifetime after their last write, measured on the wall clock
// since the expirable LRU has no clock hook; the least recently used key
// is evicted when the store is full.
type Storage struct {
	mu    sync.Mutex
	cache *expirable.LRU[crypto.ID, [][]byte]
}

// NewStorage creates a store for up to maxKeys keys with the given lifetime.
func NewStorage(maxKeys int, ttl time.Duration) *Storage {
	return &Storage{
		cache: expirable.NewLRU[crypto.ID, [][]byte](maxKeys, nil, ttl),
	}
}

// Store adds value under key. It reports whether the value was new.
func (s *Storage) Store(key crypto.ID, value []byte) bool {
	if limits.ValidateValue(value) != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _ := s.cache.Get(key)
	for _, v := range existing {
		if bytes.Equal(v, value) {
			// Refresh the lifetime.
			s.cache.Add(key, existing)
			return false
		}
	}

	values := make([][]byte, 0, len(existing)+1)
	values = append(values, existing...)
	values = append(values, append([]byte(nil), value...))
	if len(values) > MaxValuesPerKey {
		values = values[len(values)-MaxValuesPerKey:]
	}
	s.cache.Add(key, values)
	return true
}

// Get returns copies of the values stored under key.
func (s *Storage) Get(key crypto.ID) [][]byte {
	s.mu.Lock()
	values, ok := s.cache.Get(key)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = append([]byte(nil), v...)
	}
	return out
}

// Len returns the number of stored keys.
func (s *Storage) Len() int {
	return s.cache.Len()
}

// Purge removes every stored value.
func (s *Storage) Purge() {
	s.cache.Purge()
}
