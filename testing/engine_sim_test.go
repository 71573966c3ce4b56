package testing

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/opendht/interfaces"
)

func TestSimulatedEngine_ImplementsEngine(t *testing.T) {
	var _ interfaces.Engine = NewSimulatedEngine(nil)
}

func TestSimulatedEngine_RunStatus(t *testing.T) {
	sim := NewSimulatedEngine(nil, WithRunStatus(interfaces.StatusRunFailed))
	assert.Equal(t, interfaces.StatusRunFailed, sim.Run(4222))
	assert.False(t, sim.IsRunning())

	sim = NewSimulatedEngine(nil)
	assert.Equal(t, interfaces.StatusOK, sim.Run(4222))
	assert.True(t, sim.IsRunning())
}

func TestSimulatedEngine_PutGet(t *testing.T) {
	sim := NewSimulatedEngine(nil)
	require.Equal(t, interfaces.StatusOK, sim.Run(0))

	putDone := make(chan bool, 1)
	sim.Put([]byte("k"), []byte{9, 9, 9}, func(ok bool, _ uintptr) { putDone <- ok }, 1)
	assert.True(t, <-putDone)

	var (
		mu  sync.Mutex
		got [][]byte
	)
	getDone := make(chan bool, 1)
	sim.Get([]byte("k"), func(values [][]byte, _ uintptr) bool {
		mu.Lock()
		got = append(got, values...)
		mu.Unlock()
		return true
	}, 2, func(ok bool, _ uintptr) { getDone <- ok }, 2)

	assert.True(t, <-getDone)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]byte{{9, 9, 9}}, got)
}

func TestSimulatedEngine_GetStopsOnFalse(t *testing.T) {
	sim := NewSimulatedEngine(nil)
	require.Equal(t, interfaces.StatusOK, sim.Run(0))

	for i := 0; i < 40; i++ {
		sim.Put([]byte("k"), []byte{byte(i)}, func(bool, uintptr) {}, 0)
	}

	var batches atomic.Int32
	done := make(chan struct{})
	sim.Get([]byte("k"), func([][]byte, uintptr) bool {
		batches.Add(1)
		return false
	}, 1, func(bool, uintptr) { close(done) }, 1)

	<-done
	assert.Equal(t, int32(1), batches.Load())
}

func TestSimulatedEngine_ListenDeliversNewValues(t *testing.T) {
	sim := NewSimulatedEngine(nil)
	require.Equal(t, interfaces.StatusOK, sim.Run(0))

	got := make(chan []byte, 4)
	sim.Listen([]byte("k"), func(values [][]byte, _ uintptr) bool {
		for _, v := range values {
			got <- v
		}
		return true
	}, 7)
	sim.Put([]byte("k"), []byte("a"), func(bool, uintptr) {}, 0)

	select {
	case v := <-got:
		assert.Equal(t, []byte("a"), v)
	case <-time.After(time.Second):
		t.Fatal("listener not notified")
	}
	assert.Equal(t, 1, sim.ActiveListeners([]byte("k")))
}

func TestSimulatedEngine_ManualCallbacks(t *testing.T) {
	sim := NewSimulatedEngine(nil, WithManualCallbacks())
	require.Equal(t, interfaces.StatusOK, sim.Run(0))

	sim.Get([]byte("k"), func([][]byte, uintptr) bool { return true }, 3, func(bool, uintptr) {}, 3)
	ops := sim.PendingOps()
	require.Len(t, ops, 1)
	assert.Equal(t, "get", ops[0].Op)
	assert.Equal(t, uintptr(3), ops[0].GetState)
	assert.Equal(t, uintptr(3), ops[0].DoneState)
}

func TestSimulatedEngine_LoopScript(t *testing.T) {
	sim := NewSimulatedEngine(nil,
		WithLoopDelays(50*time.Millisecond, 10*time.Millisecond),
		WithStopAfterTicks(3),
	)
	require.Equal(t, interfaces.StatusOK, sim.Run(0))

	assert.Equal(t, 50*time.Millisecond, sim.Loop())
	assert.Equal(t, 10*time.Millisecond, sim.Loop())
	assert.True(t, sim.IsRunning())
	assert.Equal(t, 10*time.Millisecond, sim.Loop())
	assert.False(t, sim.IsRunning())
	assert.Equal(t, 3, sim.Ticks())
}

func TestSimulatedEngine_SerializeRoundTrip(t *testing.T) {
	a := NewSimulatedEngine(nil)
	require.Equal(t, interfaces.StatusOK, a.Run(0))
	addr := netip.MustParseAddrPort("192.0.2.1:4222")
	done := make(chan struct{})
	a.Bootstrap([]netip.AddrPort{addr}, func(bool, uintptr) { close(done) }, 0)
	<-done

	var snapshot []byte
	a.Serialize(func(src []byte, _ uintptr) {
		snapshot = append([]byte(nil), src...)
	}, 0)
	require.NotEmpty(t, snapshot)

	b := NewSimulatedEngine(nil)
	b.Deserialize(snapshot)
	assert.Equal(t, []netip.AddrPort{addr}, b.KnownNodes())
}

func TestSimulatedEngine_JoinWaitsForCallbacks(t *testing.T) {
	sim := NewSimulatedEngine(nil)
	require.Equal(t, interfaces.StatusOK, sim.Run(0))

	var fired atomic.Bool
	sim.Put([]byte("k"), []byte("v"), func(bool, uintptr) {
		time.Sleep(10 * time.Millisecond)
		fired.Store(true)
	}, 0)
	sim.Join()

	assert.True(t, fired.Load())
	assert.Equal(t, 1, sim.JoinCount())

	// Operations after Join never call back.
	sim.Put([]byte("k"), []byte("v"), func(bool, uintptr) {
		t.Error("callback after join")
	}, 0)
	sim.Join()
}
