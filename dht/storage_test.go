package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opd-ai/opendht/crypto"
	"github.com/opd-ai/opendht/limits"
)

func TestStorage_StoreAndGet(t *testing.T) {
	s := NewStorage(16, time.Minute)
	key := crypto.Sum([]byte("foo"))

	assert.True(t, s.Store(key, []byte{1}))
	assert.True(t, s.Store(key, []byte{2}))
	assert.False(t, s.Store(key, []byte{1}), "duplicates are not stored twice")

	assert.Equal(t, [][]byte{{1}, {2}}, s.Get(key))
	assert.Nil(t, s.Get(crypto.Sum([]byte("bar"))))
	assert.Equal(t, 1, s.Len())
}

func TestStorage_RejectsInvalidValues(t *testing.T) {
	s := NewStorage(16, time.Minute)
	key := crypto.Sum([]byte("foo"))

	assert.False(t, s.Store(key, nil))
	assert.False(t, s.Store(key, make([]byte, limits.MaxValueSize+1)))
	assert.Equal(t, 0, s.Len())
}

func TestStorage_GetReturnsCopies(t *testing.T) {
	s := NewStorage(16, time.Minute)
	key := crypto.Sum([]byte("foo"))
	s.Store(key, []byte{1, 2, 3})

	got := s.Get(key)
	got[0][0] = 9

	assert.Equal(t, []byte{1, 2, 3}, s.Get(key)[0])
}

func TestStorage_BoundsValuesPerKey(t *testing.T) {
	s := NewStorage(16, time.Minute)
	key := crypto.Sum([]byte("foo"))
	for i := 0; i < MaxValuesPerKey+3; i++ {
		s.Store(key, []byte{byte(i), byte(i >> 8)})
	}

	values := s.Get(key)
	assert.Len(t, values, MaxValuesPerKey)
	assert.Equal(t, []byte{3, 0}, values[0], "oldest values are dropped first")
}

func TestStorage_EvictsLeastRecentlyUsedKey(t *testing.T) {
	s := NewStorage(2, time.Minute)
	a, b, c := crypto.Sum([]byte("a")), crypto.Sum([]byte("b")), crypto.Sum([]byte("c"))

	s.Store(a, []byte{1})
	s.Store(b, []byte{2})
	s.Store(c, []byte{3})

	assert.Nil(t, s.Get(a))
	assert.NotNil(t, s.Get(c))

	s.Purge()
	assert.Equal(t, 0, s.Len())
}
