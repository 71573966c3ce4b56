package dht

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/opendht/transport"
)

// BootstrapManager handles the process of connecting to the network.
type BootstrapManager struct {
	e            *Engine
	mu           sync.RWMutex
	nodes        []netip.AddrPort
	bootstrapped bool
	maxRetries   int
	backoff      time.Duration
	maxBackoff   time.Duration
}

// NewBootstrapManager creates a new bootstrap manager.
func NewBootstrapManager(e *Engine, maxRetries int) *BootstrapManager {
	return &BootstrapManager{
		e:          e,
		maxRetries: maxRetries,
		backoff:    200 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
}

// AddNodes remembers addresses for later re-bootstraps.
func (bm *BootstrapManager) AddNodes(addrs []netip.AddrPort) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	for _, a := range addrs {
		a = unmapAddrPort(a)
		known := false
		for _, n := range bm.nodes {
			if n == a {
				known = true
				break
			}
		}
		if !known {
			bm.nodes = append(bm.nodes, a)
		}
	}
}

// GetNodes returns the remembered bootstrap addresses.
func (bm *BootstrapManager) GetNodes() []netip.AddrPort {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return append([]netip.AddrPort(nil), bm.nodes...)
}

// IsBootstrapped reports whether any bootstrap has succeeded.
func (bm *BootstrapManager) IsBootstrapped() bool {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	return bm.bootstrapped
}

// Bootstrap pings every address, retrying with exponential backoff, and
// adds responders to the routing table. It then looks up this node's own ID
// to fill nearby buckets. It reports whether at least one node answered.
func (bm *BootstrapManager) Bootstrap(ctx context.Context, addrs []netip.AddrPort) bool {
	bm.AddNodes(addrs)

	var reached atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range addrs {
		g.Go(func() error {
			if bm.pingWithRetry(gctx, addr) {
				reached.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	ok := reached.Load() > 0
	logrus.WithFields(logrus.Fields{
		"function":  "BootstrapManager.Bootstrap",
		"addresses": len(addrs),
		"reached":   reached.Load(),
		"success":   ok,
	}).Info("Bootstrap attempt finished")

	if !ok {
		return false
	}

	bm.mu.Lock()
	bm.bootstrapped = true
	bm.mu.Unlock()

	bm.e.lookup(ctx, bm.e.selfID, nil)
	return true
}

// pingWithRetry pings addr until it answers or the retries run out.
func (bm *BootstrapManager) pingWithRetry(ctx context.Context, addr netip.AddrPort) bool {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = bm.backoff
	policy.MaxInterval = bm.maxBackoff
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(bm.maxRetries)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		reply, err := bm.e.request(ctx, addr, transport.PacketPing, &transport.Message{})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "pingWithRetry",
				"address":  addr.String(),
				"attempt":  attempt,
				"error":    err.Error(),
			}).Debug("Bootstrap ping failed")
			return err
		}
		if reply.Sender == bm.e.selfID || reply.Sender.IsZero() {
			return backoff.Permanent(errSelfPing)
		}
		node := NewNode(reply.Sender, addr, bm.e.clock.Now())
		node.Status = StatusGood
		bm.e.routing.AddNode(node)
		return nil
	}, b)
	return err == nil
}
