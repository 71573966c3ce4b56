package opendht

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/opendht/interfaces"
)

// bridge issues engine operations on behalf of one handle. Every method
// calls the engine synchronously and must be invoked with the engine
// confined: under the shared handle's mutex or on the runner goroutine.
type bridge struct {
	owner    uint64
	capacity int
}

func (b *bridge) bootstrap(e interfaces.Engine, addrs []netip.AddrPort) *Completion {
	c := newCompletion("bootstrap")
	token := pending.register(b.owner, &completionSender{c: c})
	e.Bootstrap(addrs, completionDone, token)
	return c
}

func (b *bridge) put(e interfaces.Engine, key InfoHash, value []byte) *Completion {
	c := newCompletion("put")
	token := pending.register(b.owner, &completionSender{c: c})
	e.Put(key[:], value, completionDone, token)
	return c
}

// get passes the same token as both per-item and terminal state; the
// terminal callback is the one that reclaims it.
func (b *bridge) get(e interfaces.Engine, key InfoHash) *Stream {
	s, sender := newStream(b.capacity, true)
	token := pending.register(b.owner, sender)
	e.Get(key[:], streamValues, token, streamDone, token)
	return s
}

func (b *bridge) listen(e interfaces.Engine, key InfoHash) *Stream {
	s, sender := newStream(b.capacity, false)
	token := pending.register(b.owner, sender)
	e.Listen(key[:], streamValues, token)
	return s
}

// validateAddrs checks bootstrap addresses before any token is issued.
func validateAddrs(addrs []netip.AddrPort) error {
	if len(addrs) == 0 {
		return ErrNoAddresses
	}
	for _, a := range addrs {
		if !a.IsValid() || a.Port() == 0 {
			return fmt.Errorf("%w: %v", ErrInvalidAddress, a)
		}
	}
	return nil
}

// resolveAddrs resolves "host:port" strings to socket addresses, keeping
// every address a name resolves to.
func resolveAddrs(ctx context.Context, hostports []string) ([]netip.AddrPort, error) {
	if len(hostports) == 0 {
		return nil, ErrNoAddresses
	}

	results := make([][]netip.AddrPort, len(hostports))
	g, ctx := errgroup.WithContext(ctx)
	for i, hp := range hostports {
		g.Go(func() error {
			addrs, err := resolveOne(ctx, hp)
			if err != nil {
				return err
			}
			results[i] = addrs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []netip.AddrPort
	for _, r := range results {
		out = append(out, r...)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "resolveAddrs",
		"hosts":     len(hostports),
		"addresses": len(out),
	}).Debug("Resolved bootstrap hosts")
	return out, nil
}

func resolveOne(ctx context.Context, hostport string) ([]netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(hostport); err == nil {
		return []netip.AddrPort{ap}, nil
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, hostport, err)
	}
	port, err := net.DefaultResolver.LookupPort(ctx, "udp", portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %s: bad port", ErrInvalidAddress, hostport)
	}
	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}

	out := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		out = append(out, netip.AddrPortFrom(ip.Unmap(), uint16(port)))
	}
	return out, nil
}
