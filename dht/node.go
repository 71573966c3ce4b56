package dht

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/opd-ai/opendht/crypto"
	"github.com/opd-ai/opendht/transport"
)

// NodeStatus represents the connection status of a node.
type NodeStatus uint8

const (
	StatusUnknown NodeStatus = iota
	StatusBad
	StatusGood
)

// PingStats tracks ping statistics for a node.
type PingStats struct {
	LastPingSent     time.Time
	LastPingReceived time.Time
	PingCount        uint32
	SuccessCount     uint32
	FailureCount     uint32
}

// Node represents a peer in the DHT network.
type Node struct {
	ID        crypto.ID
	Address   netip.AddrPort
	LastSeen  time.Time
	Status    NodeStatus
	PingStats PingStats
}

// NewNode creates a node with the given ID and address.
func NewNode(id crypto.ID, addr netip.AddrPort, now time.Time) *Node {
	return &Node{
		ID:       id,
		Address:  addr,
		LastSeen: now,
		Status:   StatusUnknown,
	}
}

// Distance calculates the XOR distance between this node and target.
func (n *Node) Distance(target crypto.ID) crypto.ID {
	return n.ID.Distance(target)
}

// IsActive checks if the node has been seen within the timeout period.
func (n *Node) IsActive(now time.Time, timeout time.Duration) bool {
	return now.Sub(n.LastSeen) < timeout
}

// Update marks the node as recently seen and updates its status.
func (n *Node) Update(now time.Time, status NodeStatus) {
	n.LastSeen = now
	n.Status = status
}

// RecordPingSent marks that a ping was sent to this node.
func (n *Node) RecordPingSent(now time.Time) {
	n.PingStats.LastPingSent = now
	n.PingStats.PingCount++
}

// RecordPingResponse records the outcome of a request to this node.
func (n *Node) RecordPingResponse(now time.Time, success bool) {
	if success {
		n.PingStats.LastPingReceived = now
		n.PingStats.SuccessCount++
		n.Update(now, StatusGood)
		return
	}
	n.PingStats.FailureCount++
	if n.PingStats.FailureCount > n.PingStats.SuccessCount {
		n.Status = StatusBad
	}
}

// GetReliability returns a reliability score for this node (0.0-1.0).
func (n *Node) GetReliability() float64 {
	if n.PingStats.PingCount == 0 {
		return 0.0
	}
	return float64(n.PingStats.SuccessCount) / float64(n.PingStats.PingCount)
}

// UDPAddr returns the node's address in net.Addr form.
func (n *Node) UDPAddr() net.Addr {
	return net.UDPAddrFromAddrPort(n.Address)
}

// Info returns the wire form of the node.
func (n *Node) Info() transport.NodeInfo {
	return transport.NodeInfo{ID: n.ID, Addr: n.Address.String()}
}

// nodeFromInfo converts a wire node into a Node.
func nodeFromInfo(info transport.NodeInfo, now time.Time) (*Node, error) {
	addr, err := netip.ParseAddrPort(info.Addr)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", info.ID, err)
	}
	if !addr.IsValid() || addr.Port() == 0 {
		return nil, fmt.Errorf("node %s: unusable address %q", info.ID, info.Addr)
	}
	return NewNode(info.ID, unmapAddrPort(addr), now), nil
}

// unmapAddrPort normalizes IPv4-mapped IPv6 addresses so one peer has one
// address form.
func unmapAddrPort(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// addrPortOf extracts a netip.AddrPort from a transport address.
func addrPortOf(addr net.Addr) (netip.AddrPort, bool) {
	if u, ok := addr.(*net.UDPAddr); ok {
		return unmapAddrPort(u.AddrPort()), true
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.AddrPort{}, false
	}
	return unmapAddrPort(ap), true
}
