package opendht

import (
	"sync"
	"sync/atomic"
)

// owned is implemented by every piece of callback state handed to an
// engine. abandon is called when the issuing handle is torn down before the
// engine reclaimed the token, so waiters are released instead of hanging.
type owned interface {
	abandon()
}

type tokenEntry struct {
	owner uint64
	value owned
}

// tokenTable maps the opaque uintptr tokens engines carry back to Go state.
// A token is valid from register until the first successful take; after
// that it names nothing and any further callback with it is a contract
// violation.
type tokenTable struct {
	mu      sync.Mutex
	entries map[uintptr]tokenEntry
	next    uintptr
}

// pending is the process-wide table. Engines are process-wide too (the
// native library keeps global callback state), so one table serves every
// handle; entries are tagged with their owning handle for teardown.
var pending = &tokenTable{
	entries: make(map[uintptr]tokenEntry),
	next:    1,
}

var ownerSeq atomic.Uint64

// newOwner returns a fresh owner tag for a handle.
func newOwner() uint64 {
	return ownerSeq.Add(1)
}

// register transfers v into the table and returns its token. Token zero is
// never issued.
func (t *tokenTable) register(owner uint64, v owned) uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()

	token := t.next
	t.next++
	if t.next == 0 {
		t.next = 1
	}
	t.entries[token] = tokenEntry{owner: owner, value: v}
	pendingTokens.Set(float64(len(t.entries)))
	return token
}

// take reclaims the entry for token. It succeeds at most once per token.
func (t *tokenTable) take(token uintptr) (owned, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[token]
	if !ok {
		return nil, false
	}
	delete(t.entries, token)
	pendingTokens.Set(float64(len(t.entries)))
	return e.value, true
}

// borrow looks up the entry for token without reclaiming it.
func (t *tokenTable) borrow(token uintptr) (owned, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[token]
	return e.value, ok
}

// takeOwned reclaims every entry issued by owner.
func (t *tokenTable) takeOwned(owner uint64) []owned {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []owned
	for token, e := range t.entries {
		if e.owner == owner {
			out = append(out, e.value)
			delete(t.entries, token)
		}
	}
	pendingTokens.Set(float64(len(t.entries)))
	return out
}

// countOwned reports how many live tokens owner has issued.
func (t *tokenTable) countOwned(owner uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.entries {
		if e.owner == owner {
			n++
		}
	}
	return n
}

// abandonOwned reclaims and releases every entry issued by owner. It must
// only be called once the engine can no longer invoke callbacks.
func abandonOwned(owner uint64) int {
	entries := pending.takeOwned(owner)
	for _, e := range entries {
		e.abandon()
	}
	return len(entries)
}
