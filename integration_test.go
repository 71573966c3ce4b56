package opendht

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/opendht/dht"
	"github.com/opd-ai/opendht/interfaces"
)

// newLoopbackDHT starts a shared handle on the pure-Go engine bound to an
// ephemeral loopback port.
func newLoopbackDHT(t *testing.T) (*DHT, *dht.Engine) {
	t.Helper()

	engine := dht.NewEngine(&interfaces.EngineConfig{
		Backend:        interfaces.BackendGo,
		RequestTimeout: 500,
		RetryAttempts:  1,
		BucketSize:     8,
	}, dht.WithListenHost("127.0.0.1"))

	d, err := NewWithOptions(&Options{
		Port:   0,
		Engine: func() interfaces.Engine { return engine },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = d.Maintain(ctx) }()
	return d, engine
}

func loopbackAddr(t *testing.T, e *dht.Engine) string {
	t.Helper()
	udp, ok := e.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(udp.Port))
}

func TestIntegration_PutGetAcrossNodes(t *testing.T) {
	a, _ := newLoopbackDHT(t)
	b, be := newLoopbackDHT(t)
	ctx := waitCtx(t)

	joined, err := a.BootstrapHosts(ctx, loopbackAddr(t, be))
	require.NoError(t, err)
	ok, err := joined.Wait(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	key := HashString("foo")
	stored, err := a.Put(key, []byte{9, 9, 9})
	require.NoError(t, err)
	ok, err = stored.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	values, err := b.Get(key)
	require.NoError(t, err)
	got, err := values.Collect(ctx)
	require.NoError(t, err)
	assert.Contains(t, got, []byte{9, 9, 9})
}

func TestIntegration_ListenAcrossNodes(t *testing.T) {
	a, _ := newLoopbackDHT(t)
	b, be := newLoopbackDHT(t)
	ctx := waitCtx(t)

	joined, err := a.BootstrapHosts(ctx, loopbackAddr(t, be))
	require.NoError(t, err)
	ok, err := joined.Wait(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	key := HashString("news")
	updates, err := b.Listen(key)
	require.NoError(t, err)
	defer updates.Close()

	stored, err := a.Put(key, []byte("hello"))
	require.NoError(t, err)
	_, err = stored.Wait(ctx)
	require.NoError(t, err)

	v, ok, err := updates.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), v)
}

func TestIntegration_SnapshotBetweenHandles(t *testing.T) {
	a, _ := newLoopbackDHT(t)
	_, be := newLoopbackDHT(t)
	c, ce := newLoopbackDHT(t)
	ctx := waitCtx(t)

	joined, err := a.BootstrapHosts(ctx, loopbackAddr(t, be))
	require.NoError(t, err)
	ok, err := joined.Wait(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	snapshot, err := a.Serialize()
	require.NoError(t, err)
	require.NotEmpty(t, snapshot)

	require.NoError(t, c.Deserialize(snapshot))
	assert.Equal(t, 1, ce.NodeCount())
}
