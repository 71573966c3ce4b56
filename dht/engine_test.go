package dht

import (
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/opendht/crypto"
	"github.com/opd-ai/opendht/interfaces"
	"github.com/opd-ai/opendht/limits"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()

	e := NewEngine(&interfaces.EngineConfig{
		Backend:        interfaces.BackendGo,
		RequestTimeout: 500,
		RetryAttempts:  1,
		BucketSize:     8,
	}, append([]Option{WithListenHost("127.0.0.1")}, opts...)...)
	require.Equal(t, interfaces.StatusOK, e.Run(0))
	t.Cleanup(func() {
		e.Join()
		e.Drop()
	})
	return e
}

func addrOf(t *testing.T, e *Engine) netip.AddrPort {
	t.Helper()
	udp, ok := e.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)
	return unmapAddrPort(udp.AddrPort())
}

func keyBytes(s string) []byte {
	id := crypto.Sum([]byte(s))
	return id[:]
}

// outcome collects done callbacks.
type outcome chan bool

func (o outcome) done(success bool, state uintptr) { o <- success }

func (o outcome) wait(t *testing.T) bool {
	t.Helper()
	select {
	case ok := <-o:
		return ok
	case <-time.After(5 * time.Second):
		t.Fatal("done callback not called")
		return false
	}
}

// collector gathers values from get callbacks.
type collector struct {
	mu     sync.Mutex
	values [][]byte
}

func (c *collector) get(values [][]byte, state uintptr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range values {
		c.values = append(c.values, append([]byte(nil), v...))
	}
	return true
}

func (c *collector) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.values...)
}

func connect(t *testing.T, a, b *Engine) {
	t.Helper()
	ok := make(outcome, 1)
	a.Bootstrap([]netip.AddrPort{addrOf(t, b)}, ok.done, 1)
	require.True(t, ok.wait(t))
}

func TestNewEngine_DoesNotListen(t *testing.T) {
	e := NewEngine(nil)
	assert.False(t, e.IsRunning())
	assert.Nil(t, e.LocalAddr())
	assert.False(t, e.ID().IsZero())
}

func TestEngine_RunAndJoin(t *testing.T) {
	e := NewEngine(nil, WithListenHost("127.0.0.1"))
	require.Equal(t, interfaces.StatusOK, e.Run(0))
	assert.True(t, e.IsRunning())
	assert.Greater(t, e.Loop(), time.Duration(0))

	e.Join()
	assert.False(t, e.IsRunning())
	assert.Equal(t, interfaces.StatusRunFailed, e.Run(0), "a joined engine does not restart")
	e.Drop()
	e.Drop()
}

func TestEngine_RunFailsOnBusyPort(t *testing.T) {
	a := newTestEngine(t)
	port := addrOf(t, a).Port()

	b := NewEngine(nil, WithListenHost("127.0.0.1"))
	assert.Equal(t, interfaces.StatusRunFailed, b.Run(port))
	b.Join()
	b.Drop()
}

func TestEngine_OperationsAfterJoinFail(t *testing.T) {
	e := NewEngine(nil, WithListenHost("127.0.0.1"))
	require.Equal(t, interfaces.StatusOK, e.Run(0))
	e.Join()
	defer e.Drop()

	ok := make(outcome, 3)
	e.Bootstrap([]netip.AddrPort{netip.MustParseAddrPort("127.0.0.1:1")}, ok.done, 1)
	e.Put(keyBytes("k"), []byte{1}, ok.done, 2)
	e.Get(keyBytes("k"), (&collector{}).get, 3, ok.done, 4)

	for i := 0; i < 3; i++ {
		assert.False(t, ok.wait(t))
	}
}

func TestEngine_PutRejectsEmptyValue(t *testing.T) {
	e := newTestEngine(t)
	ok := make(outcome, 1)
	e.Put(keyBytes("k"), nil, ok.done, 1)
	assert.False(t, ok.wait(t))
}

func TestEngine_LocalPutGet(t *testing.T) {
	e := newTestEngine(t)
	key := keyBytes("foo")

	stored := make(outcome, 1)
	e.Put(key, []byte{9, 9, 9}, stored.done, 1)
	assert.True(t, stored.wait(t), "a lone node still holds the value")

	c := &collector{}
	done := make(outcome, 1)
	e.Get(key, c.get, 2, done.done, 3)
	assert.True(t, done.wait(t))
	assert.Equal(t, [][]byte{{9, 9, 9}}, c.snapshot())
}

func TestEngine_GetSplitsBatches(t *testing.T) {
	e := newTestEngine(t)
	key := keyBytes("many")

	for i := 0; i < 12; i++ {
		stored := make(outcome, 1)
		e.Put(key, []byte{byte(i + 1)}, stored.done, 1)
		require.True(t, stored.wait(t))
	}

	var mu sync.Mutex
	var sizes []int
	done := make(outcome, 1)
	e.Get(key, func(values [][]byte, state uintptr) bool {
		mu.Lock()
		defer mu.Unlock()
		sizes = append(sizes, len(values))
		return true
	}, 2, done.done, 3)
	assert.True(t, done.wait(t))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{limits.MaxValuesPerBatch, 12 - limits.MaxValuesPerBatch}, sizes)
}

func TestEngine_GetMissingKey(t *testing.T) {
	e := newTestEngine(t)

	c := &collector{}
	done := make(outcome, 1)
	e.Get(keyBytes("nothing"), c.get, 1, done.done, 2)
	assert.True(t, done.wait(t))
	assert.Empty(t, c.snapshot())
}

func TestEngine_BootstrapUnreachable(t *testing.T) {
	e := newTestEngine(t)

	// Bind and release a port so nothing answers on it.
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	require.NoError(t, conn.Close())

	ok := make(outcome, 1)
	e.Bootstrap([]netip.AddrPort{dead}, ok.done, 1)
	assert.False(t, ok.wait(t))
}

func TestEngine_Bootstrap(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)

	connect(t, a, b)

	assert.Equal(t, 1, a.NodeCount())
	assert.Eventually(t, func() bool { return b.NodeCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, a.bootstrap.IsBootstrapped())
}

func TestEngine_PutGetAcrossNodes(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)
	connect(t, a, b)
	key := keyBytes("shared")

	stored := make(outcome, 1)
	a.Put(key, []byte("hello"), stored.done, 1)
	require.True(t, stored.wait(t))
	assert.Equal(t, 1, b.StoredKeys(), "the value is replicated to the closest node")

	c := &collector{}
	done := make(outcome, 1)
	b.Get(key, c.get, 2, done.done, 3)
	assert.True(t, done.wait(t))
	assert.Contains(t, c.snapshot(), []byte("hello"))
}

func TestEngine_GetFindsRemoteValues(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)
	connect(t, a, b)
	key := crypto.Sum([]byte("remote-only"))

	// Stored on b only, so a must find it with a lookup.
	b.storage.Store(key, []byte("far"))

	c := &collector{}
	done := make(outcome, 1)
	a.Get(key[:], c.get, 1, done.done, 2)
	assert.True(t, done.wait(t))
	assert.Equal(t, [][]byte{[]byte("far")}, c.snapshot())
}

func TestEngine_ListenAcrossNodes(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)
	connect(t, a, b)
	key := keyBytes("topic")

	c := &collector{}
	b.Listen(key, c.get, 1)

	stored := make(outcome, 1)
	a.Put(key, []byte("update"), stored.done, 2)
	require.True(t, stored.wait(t))

	assert.Eventually(t, func() bool {
		return len(c.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, [][]byte{[]byte("update")}, c.snapshot())
}

func TestEngine_ListenStopsOnFalse(t *testing.T) {
	e := newTestEngine(t)
	key := keyBytes("topic")

	var mu sync.Mutex
	calls := 0
	e.Listen(key, func(values [][]byte, state uintptr) bool {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return false
	}, 1)

	for i := byte(1); i <= 3; i++ {
		stored := make(outcome, 1)
		e.Put(key, []byte{i}, stored.done, uintptr(i))
		require.True(t, stored.wait(t))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Empty(t, e.listeners.LocalKeys())
}

func TestEngine_SerializeDeserialize(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)
	connect(t, a, b)

	var snapshot []byte
	a.Serialize(func(src []byte, dst uintptr) {
		snapshot = append([]byte(nil), src...)
	}, 1)
	require.NotEmpty(t, snapshot)

	c := newTestEngine(t)
	c.Deserialize(snapshot)
	assert.Equal(t, 1, c.NodeCount())
	assert.Equal(t, []netip.AddrPort{addrOf(t, b)}, c.bootstrap.GetNodes())

	// Garbage is ignored.
	c.Deserialize([]byte{0xc1})
	assert.Equal(t, 1, c.NodeCount())
}

func TestFitValues(t *testing.T) {
	values := [][]byte{make([]byte, 10), make([]byte, 10), make([]byte, 10)}
	assert.Len(t, fitValues(values, 100), 3)
	assert.Len(t, fitValues(values, 30), 2)
	assert.Empty(t, fitValues(values, 5))
}
