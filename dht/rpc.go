package dht

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/opd-ai/opendht/transport"
)

// ErrRequestTimeout is returned when a node does not answer in time.
var ErrRequestTimeout = errors.New("request timed out")

// rpcTable matches responses to outstanding requests by transaction ID.
type rpcTable struct {
	mu      sync.Mutex
	next    uint32
	waiting map[uint32]chan *transport.Message
}

func newRPCTable() *rpcTable {
	return &rpcTable{waiting: make(map[uint32]chan *transport.Message)}
}

func (r *rpcTable) register() (uint32, chan *transport.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	if r.next == 0 {
		r.next = 1
	}
	ch := make(chan *transport.Message, 1)
	r.waiting[r.next] = ch
	return r.next, ch
}

// complete hands msg to the request waiting on its transaction ID.
func (r *rpcTable) complete(msg *transport.Message) bool {
	r.mu.Lock()
	ch, ok := r.waiting[msg.TxID]
	delete(r.waiting, msg.TxID)
	r.mu.Unlock()

	if ok {
		ch <- msg
	}
	return ok
}

func (r *rpcTable) cancel(tx uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiting, tx)
}

func (r *rpcTable) outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting)
}

// request sends a packet to addr and waits for the matching response or
// the engine's request timeout.
func (e *Engine) request(ctx context.Context, addr netip.AddrPort, t transport.PacketType, msg *transport.Message) (*transport.Message, error) {
	tx, ch := e.rpc.register()
	defer e.rpc.cancel(tx)

	msg.TxID = tx
	msg.Sender = e.selfID
	packet, err := transport.NewMessagePacket(t, msg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout())
	defer cancel()

	if err := e.transport.Send(packet, udpAddr(addr)); err != nil {
		return nil, fmt.Errorf("send %s to %s: %w", t, addr, err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s to %s", ErrRequestTimeout, t, addr)
		}
		return nil, ctx.Err()
	}
}

// requestNode is request for a known node, recording the outcome in the
// routing table.
func (e *Engine) requestNode(ctx context.Context, n *Node, t transport.PacketType, msg *transport.Message) (*transport.Message, error) {
	e.routing.RecordPing(n.ID, e.clock.Now())
	reply, err := e.request(ctx, n.Address, t, msg)
	if ctx.Err() == nil {
		e.routing.RecordResponse(n.ID, e.clock.Now(), err == nil)
	}
	return reply, err
}
