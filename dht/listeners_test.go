package dht

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/opendht/crypto"
	"github.com/opd-ai/opendht/limits"
)

type recordedBatches struct {
	batches [][][]byte
	accept  int
}

func (r *recordedBatches) get(values [][]byte, state uintptr) bool {
	copied := make([][]byte, len(values))
	for i, v := range values {
		copied[i] = append([]byte(nil), v...)
	}
	r.batches = append(r.batches, copied)
	return r.accept < 0 || len(r.batches) < r.accept
}

func TestValueSink_DropsDuplicates(t *testing.T) {
	rec := &recordedBatches{accept: -1}
	sink := newValueSink(rec.get, 7)

	assert.True(t, sink.deliver([][]byte{{1}, {2}}))
	assert.True(t, sink.deliver([][]byte{{2}, {3}}))
	assert.True(t, sink.deliver([][]byte{{3}}))

	assert.Equal(t, [][][]byte{{{1}, {2}}, {{3}}}, rec.batches)
}

func TestValueSink_SplitsBatches(t *testing.T) {
	rec := &recordedBatches{accept: -1}
	sink := newValueSink(rec.get, 7)

	values := make([][]byte, limits.MaxValuesPerBatch+1)
	for i := range values {
		values[i] = []byte{byte(i)}
	}
	sink.deliver(values)

	require.Len(t, rec.batches, 2)
	assert.Len(t, rec.batches[0], limits.MaxValuesPerBatch)
	assert.Len(t, rec.batches[1], 1)
}

func TestValueSink_StopsAfterFalse(t *testing.T) {
	rec := &recordedBatches{accept: 1}
	sink := newValueSink(rec.get, 7)

	assert.False(t, sink.deliver([][]byte{{1}}))
	assert.False(t, sink.deliver([][]byte{{2}}))
	assert.False(t, sink.active())
	assert.Len(t, rec.batches, 1)
}

func TestListenerRegistry_Local(t *testing.T) {
	r := NewListenerRegistry()
	key := crypto.Sum([]byte("foo"))

	keep := &recordedBatches{accept: -1}
	once := &recordedBatches{accept: 1}
	r.AddLocal(key, newValueSink(keep.get, 1))
	r.AddLocal(key, newValueSink(once.get, 2))

	r.NotifyLocal(key, [][]byte{{1}})
	r.NotifyLocal(key, [][]byte{{2}})

	assert.Len(t, keep.batches, 2)
	assert.Len(t, once.batches, 1)
	assert.Equal(t, []crypto.ID{key}, r.LocalKeys())

	r.Reset()
	assert.Empty(t, r.LocalKeys())
}

func TestListenerRegistry_LocalKeysForgetsStopped(t *testing.T) {
	r := NewListenerRegistry()
	key := crypto.Sum([]byte("foo"))
	rec := &recordedBatches{accept: 1}
	r.AddLocal(key, newValueSink(rec.get, 1))

	r.NotifyLocal(key, [][]byte{{1}})

	assert.Empty(t, r.LocalKeys())
}

func TestListenerRegistry_Remote(t *testing.T) {
	r := NewListenerRegistry()
	key := crypto.Sum([]byte("foo"))
	addr := netip.MustParseAddrPort("127.0.0.1:4222")
	now := time.Unix(1000, 0)

	r.AddRemote(key, addr, now.Add(time.Minute))
	assert.Equal(t, []netip.AddrPort{addr}, r.RemoteFor(key, now))
	assert.Empty(t, r.RemoteFor(key, now.Add(2*time.Minute)))

	assert.Equal(t, 0, r.ExpireRemote(now))
	assert.Equal(t, 1, r.ExpireRemote(now.Add(time.Minute)))
	assert.Empty(t, r.RemoteFor(key, now))
}
