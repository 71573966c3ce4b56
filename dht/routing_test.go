package dht

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/opendht/crypto"
)

func idWithPrefix(prefix byte, last byte) crypto.ID {
	var id crypto.ID
	id[0] = prefix
	id[crypto.IDSize-1] = last
	return id
}

func testNode(id crypto.ID, port uint16) *Node {
	return NewNode(id, netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port), time.Unix(1000, 0))
}

func TestKBucket_AddNode(t *testing.T) {
	kb := NewKBucket(2)

	assert.True(t, kb.AddNode(testNode(idWithPrefix(1, 1), 1)))
	assert.True(t, kb.AddNode(testNode(idWithPrefix(1, 2), 2)))
	assert.False(t, kb.AddNode(testNode(idWithPrefix(1, 3), 3)), "full bucket rejects new nodes")

	// A known node is refreshed and moved to the back.
	refreshed := testNode(idWithPrefix(1, 1), 9)
	refreshed.LastSeen = time.Unix(2000, 0)
	assert.True(t, kb.AddNode(refreshed))

	nodes := kb.GetNodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, idWithPrefix(1, 1), nodes[1].ID)
	assert.Equal(t, uint16(9), nodes[1].Address.Port())
	assert.Equal(t, time.Unix(2000, 0), nodes[1].LastSeen)
}

func TestKBucket_ReplacesBadNode(t *testing.T) {
	kb := NewKBucket(1)
	bad := testNode(idWithPrefix(1, 1), 1)
	bad.Status = StatusBad
	require.True(t, kb.AddNode(bad))

	assert.True(t, kb.AddNode(testNode(idWithPrefix(1, 2), 2)))
	nodes := kb.GetNodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, idWithPrefix(1, 2), nodes[0].ID)
}

func TestKBucket_GetNodesReturnsCopies(t *testing.T) {
	kb := NewKBucket(4)
	kb.AddNode(testNode(idWithPrefix(1, 1), 1))

	nodes := kb.GetNodes()
	nodes[0].Status = StatusBad

	assert.Equal(t, StatusUnknown, kb.GetNodes()[0].Status)
}

func TestRoutingTable_IgnoresSelf(t *testing.T) {
	self := idWithPrefix(0, 0)
	rt := NewRoutingTable(self, 8)

	assert.False(t, rt.AddNode(testNode(self, 1)))
	assert.Equal(t, 0, rt.Size())
}

func TestRoutingTable_FindClosestNodes(t *testing.T) {
	rt := NewRoutingTable(idWithPrefix(0, 0), 8)
	for i := byte(1); i <= 5; i++ {
		rt.AddNode(testNode(idWithPrefix(0x80, i), uint16(i)))
	}
	bad := testNode(idWithPrefix(0x80, 6), 6)
	bad.Status = StatusBad
	rt.AddNode(bad)

	got := rt.FindClosestNodes(idWithPrefix(0x80, 4), 3)
	require.Len(t, got, 3)
	assert.Equal(t, idWithPrefix(0x80, 4), got[0].ID)
	assert.Equal(t, idWithPrefix(0x80, 5), got[1].ID)
	assert.Equal(t, idWithPrefix(0x80, 1), got[2].ID)

	for _, n := range rt.FindClosestNodes(idWithPrefix(0x80, 6), 8) {
		assert.NotEqual(t, idWithPrefix(0x80, 6), n.ID, "bad nodes are not returned")
	}
}

func TestRoutingTable_RecordResponse(t *testing.T) {
	rt := NewRoutingTable(idWithPrefix(0, 0), 8)
	id := idWithPrefix(0x40, 1)
	rt.AddNode(testNode(id, 1))

	now := time.Unix(5000, 0)
	rt.RecordPing(id, now)
	rt.RecordResponse(id, now, false)

	nodes := rt.GetAllNodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, StatusBad, nodes[0].Status)
	assert.Equal(t, uint32(1), nodes[0].PingStats.PingCount)

	rt.RecordPing(id, now)
	rt.RecordResponse(id, now, true)
	rt.RecordPing(id, now)
	rt.RecordResponse(id, now, true)
	n := rt.GetAllNodes()[0]
	assert.Equal(t, StatusGood, n.Status)
	assert.Equal(t, now, n.LastSeen)
	assert.InDelta(t, 2.0/3.0, n.GetReliability(), 0.001)

	assert.True(t, rt.RemoveNode(id))
	assert.False(t, rt.RemoveNode(id))
	assert.Equal(t, 0, rt.Size())
}

func TestClosest(t *testing.T) {
	target := idWithPrefix(0, 0)
	var nodes []*Node
	for i := byte(10); i > 0; i-- {
		nodes = append(nodes, testNode(idWithPrefix(0, i), uint16(i)))
	}

	got := closest(nodes, target, 4)
	require.Len(t, got, 4)
	for i, n := range got {
		assert.Equal(t, idWithPrefix(0, byte(i+1)), n.ID)
	}

	assert.Empty(t, closest(nodes, target, 0))
	assert.Len(t, closest(nodes[:2], target, 8), 2)
}
