package opendht

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	simtest "github.com/opd-ai/opendht/testing"
)

func TestMaintain_TwoSleepsThenStop(t *testing.T) {
	clk := newCountingClock(false)
	ticker := &scriptedTicker{ticks: []func() (time.Time, bool){
		func() (time.Time, bool) { return clk.Now().Add(50 * time.Millisecond), true },
		func() (time.Time, bool) { return clk.Now().Add(50 * time.Millisecond), true },
		func() (time.Time, bool) { return time.Time{}, false },
	}}

	err := Maintain(context.Background(), ticker, WithClock(clk))
	require.NoError(t, err)

	assert.Equal(t, 3, ticker.Calls())
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, clk.Sleeps())
}

func TestMaintain_ElapsedDeadlineUsesMinDelay(t *testing.T) {
	clk := newCountingClock(false)
	ticker := &scriptedTicker{ticks: []func() (time.Time, bool){
		func() (time.Time, bool) { return clk.Now().Add(-time.Second), true },
		func() (time.Time, bool) { return clk.Now(), true },
	}}

	require.NoError(t, Maintain(context.Background(), ticker, WithClock(clk)))
	assert.Equal(t, []time.Duration{DefaultMinRetryDelay, DefaultMinRetryDelay}, clk.Sleeps())

	clk = newCountingClock(false)
	ticker = &scriptedTicker{ticks: []func() (time.Time, bool){
		func() (time.Time, bool) { return clk.Now().Add(-time.Second), true },
	}}
	require.NoError(t, Maintain(context.Background(), ticker,
		WithClock(clk), WithMinRetryDelay(time.Second)))
	assert.Equal(t, []time.Duration{time.Second}, clk.Sleeps())
}

func TestMaintain_ContextCancel(t *testing.T) {
	clk := newCountingClock(true)
	ticker := &scriptedTicker{ticks: []func() (time.Time, bool){
		func() (time.Time, bool) { return clk.Now().Add(time.Minute), true },
	}}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Maintain(ctx, ticker, WithClock(clk)) }()

	require.Eventually(t, func() bool { return len(clk.Sleeps()) == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Maintain did not honor cancellation")
	}

	assert.ErrorIs(t, Maintain(ctx, ticker), context.Canceled)
}

func TestSleepDuration(t *testing.T) {
	now := time.Unix(1000, 0)
	tests := []struct {
		name string
		next time.Time
		want time.Duration
	}{
		{"future", now.Add(50 * time.Millisecond), 50 * time.Millisecond},
		{"now", now, 200 * time.Millisecond},
		{"past", now.Add(-time.Hour), 200 * time.Millisecond},
		{"short future", now.Add(time.Millisecond), time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sleepDuration(now, tt.next, 200*time.Millisecond))
		})
	}
}

func TestDHT_Maintain(t *testing.T) {
	clk := newCountingClock(false)
	sim := simtest.NewSimulatedEngine(nil,
		simtest.WithLoopDelays(50*time.Millisecond),
		simtest.WithStopAfterTicks(2),
	)
	d, err := NewWithOptions(&Options{Engine: sim.Factory(), Clock: clk})
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Maintain(context.Background()))
	assert.Equal(t, 2, sim.Ticks())
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, clk.Sleeps())

	_, ok := d.Tick()
	assert.False(t, ok)
}

func TestDHT_MaintainSingleLoop(t *testing.T) {
	clk := newCountingClock(true)
	sim := simtest.NewSimulatedEngine(nil)
	d, err := NewWithOptions(&Options{Engine: sim.Factory(), Clock: clk})
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Maintain(ctx) }()
	require.Eventually(t, func() bool { return len(clk.Sleeps()) == 1 }, time.Second, time.Millisecond)

	clone, err := d.Clone()
	require.NoError(t, err)
	defer clone.Close()
	assert.ErrorIs(t, clone.Maintain(ctx), ErrMaintainerRunning)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestDHT_MaintainEndsOnJoin(t *testing.T) {
	clk := newCountingClock(false)
	sim := simtest.NewSimulatedEngine(nil, simtest.WithLoopDelays(time.Millisecond))
	d, err := NewWithOptions(&Options{Engine: sim.Factory(), Clock: clk})
	require.NoError(t, err)
	defer d.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Maintain(context.Background()) }()
	require.Eventually(t, func() bool { return sim.Ticks() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, d.Join())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("maintenance loop outlived join")
	}
}
