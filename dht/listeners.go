package dht

import (
	"net/netip"
	"sync"
	"time"

	"github.com/opd-ai/opendht/crypto"
	"github.com/opd-ai/opendht/interfaces"
	"github.com/opd-ai/opendht/limits"
)

// RemoteListenerLifetime is how long a remote subscription lasts without
// being renewed. Subscribers renew every ListenRefreshInterval.
const RemoteListenerLifetime = 3 * time.Minute

// valueSink delivers values to one get or listen callback. It drops
// values it already delivered, splits batches to limits.MaxValuesPerBatch,
// and never calls back after the callback asked to stop.
type valueSink struct {
	mu      sync.Mutex
	get     interfaces.ValuesFunc
	state   uintptr
	stopped bool
	seen    map[string]struct{}
}

func newValueSink(get interfaces.ValuesFunc, state uintptr) *valueSink {
	return &valueSink{get: get, state: state, seen: make(map[string]struct{})}
}

// deliver reports whether the sink still wants values.
func (s *valueSink) deliver(values [][]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}

	fresh := make([][]byte, 0, len(values))
	for _, v := range values {
		if _, dup := s.seen[string(v)]; dup {
			continue
		}
		s.seen[string(v)] = struct{}{}
		fresh = append(fresh, v)
	}

	for len(fresh) > 0 {
		n := len(fresh)
		if n > limits.MaxValuesPerBatch {
			n = limits.MaxValuesPerBatch
		}
		if !s.get(fresh[:n], s.state) {
			s.stopped = true
			return false
		}
		fresh = fresh[n:]
	}
	return true
}

func (s *valueSink) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

// ListenerRegistry tracks local Listen subscriptions and remote nodes
// subscribed to keys stored here.
type ListenerRegistry struct {
	mu     sync.Mutex
	local  map[crypto.ID][]*valueSink
	remote map[crypto.ID]map[netip.AddrPort]time.Time
}

// NewListenerRegistry creates an empty registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{
		local:  make(map[crypto.ID][]*valueSink),
		remote: make(map[crypto.ID]map[netip.AddrPort]time.Time),
	}
}

// AddLocal registers a local subscription on key.
func (r *ListenerRegistry) AddLocal(key crypto.ID, sink *valueSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[key] = append(r.local[key], sink)
}

// NotifyLocal delivers values to every active local subscription on key
// and forgets subscriptions that asked to stop.
func (r *ListenerRegistry) NotifyLocal(key crypto.ID, values [][]byte) {
	for _, sink := range r.localFor(key) {
		sink.deliver(values)
	}
	r.pruneLocal(key)
}

func (r *ListenerRegistry) localFor(key crypto.ID) []*valueSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*valueSink(nil), r.local[key]...)
}

func (r *ListenerRegistry) pruneLocal(key crypto.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sinks := r.local[key]
	kept := sinks[:0]
	for _, s := range sinks {
		if s.active() {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(r.local, key)
		return
	}
	r.local[key] = kept
}

// LocalKeys returns keys with at least one active local subscription.
func (r *ListenerRegistry) LocalKeys() []crypto.ID {
	r.mu.Lock()
	keys := make([]crypto.ID, 0, len(r.local))
	for k := range r.local {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	active := keys[:0]
	for _, k := range keys {
		r.pruneLocal(k)
		r.mu.Lock()
		_, ok := r.local[k]
		r.mu.Unlock()
		if ok {
			active = append(active, k)
		}
	}
	return active
}

// AddRemote subscribes addr to key until expires.
func (r *ListenerRegistry) AddRemote(key crypto.ID, addr netip.AddrPort, expires time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.remote[key]
	if !ok {
		subs = make(map[netip.AddrPort]time.Time)
		r.remote[key] = subs
	}
	subs[addr] = expires
}

// RemoteFor returns the unexpired subscribers of key.
func (r *ListenerRegistry) RemoteFor(key crypto.ID, now time.Time) []netip.AddrPort {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []netip.AddrPort
	for addr, expires := range r.remote[key] {
		if now.Before(expires) {
			out = append(out, addr)
		}
	}
	return out
}

// ExpireRemote forgets subscriptions that expired before now.
func (r *ListenerRegistry) ExpireRemote(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := 0
	for key, subs := range r.remote {
		for addr, expires := range subs {
			if !now.Before(expires) {
				delete(subs, addr)
				expired++
			}
		}
		if len(subs) == 0 {
			delete(r.remote, key)
		}
	}
	return expired
}

// Reset drops every subscription.
func (r *ListenerRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = make(map[crypto.ID][]*valueSink)
	r.remote = make(map[crypto.ID]map[netip.AddrPort]time.Time)
}
