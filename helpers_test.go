package opendht

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	simtest "github.com/opd-ai/opendht/testing"
)

// newSimDHT starts a shared handle on a simulated engine and closes it when
// the test ends.
func newSimDHT(t *testing.T, capacity int, opts ...simtest.SimOption) (*DHT, *simtest.SimulatedEngine) {
	t.Helper()

	sim := simtest.NewSimulatedEngine(nil, opts...)
	d, err := NewWithOptions(&Options{
		Engine:         sim.Factory(),
		StreamCapacity: capacity,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, sim
}

// countingClock records every requested sleep. Its timers fire at once
// unless block is set, in which case they never fire.
type countingClock struct {
	*clock.Mock
	real  clock.Clock
	block bool

	mu     sync.Mutex
	sleeps []time.Duration
}

func newCountingClock(block bool) *countingClock {
	return &countingClock{Mock: clock.NewMock(), real: clock.New(), block: block}
}

func (c *countingClock) Timer(d time.Duration) *clock.Timer {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()

	if c.block {
		return c.real.Timer(time.Hour)
	}
	return c.real.Timer(0)
}

func (c *countingClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// scriptedTicker returns a fixed sequence of tick results.
type scriptedTicker struct {
	mu    sync.Mutex
	ticks []func() (time.Time, bool)
	calls int
}

func (s *scriptedTicker) Tick() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls > len(s.ticks) {
		return time.Time{}, false
	}
	return s.ticks[s.calls-1]()
}

func (s *scriptedTicker) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
