package dht

import (
	"container/heap"
	"sync"
	"time"

	"github.com/opd-ai/opendht/crypto"
)

// IDBits is the number of k-buckets: one per bit of a node ID.
const IDBits = crypto.IDSize * 8

// KBucket implements a k-bucket for the Kademlia DHT.
type KBucket struct {
	nodes   []*Node
	maxSize int
	mu      sync.RWMutex
}

// NewKBucket creates a new k-bucket with the specified maximum size.
func NewKBucket(maxSize int) *KBucket {
	return &KBucket{
		nodes:   make([]*Node, 0, maxSize),
		maxSize: maxSize,
	}
}

// AddNode adds a node to the k-bucket if there is space or if it's better
// than an existing node. A known node is refreshed and moved to the end
// (most recently seen).
func (kb *KBucket) AddNode(node *Node) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for i, existing := range kb.nodes {
		if existing.ID == node.ID {
			existing.Address = node.Address
			if node.LastSeen.After(existing.LastSeen) {
				existing.LastSeen = node.LastSeen
			}
			if node.Status == StatusGood {
				existing.Status = StatusGood
			}
			kb.nodes = append(kb.nodes[:i], kb.nodes[i+1:]...)
			kb.nodes = append(kb.nodes, existing)
			return true
		}
	}

	if len(kb.nodes) < kb.maxSize {
		n := *node
		kb.nodes = append(kb.nodes, &n)
		return true
	}

	// The bucket is full, check if we can replace a bad node
	for i, existing := range kb.nodes {
		if existing.Status == StatusBad {
			n := *node
			kb.nodes[i] = &n
			return true
		}
	}

	return false
}

// update applies fn to the node with the given ID.
func (kb *KBucket) update(id crypto.ID, fn func(*Node)) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for _, n := range kb.nodes {
		if n.ID == id {
			fn(n)
			return true
		}
	}
	return false
}

// GetNodes returns copies of all nodes in the k-bucket.
func (kb *KBucket) GetNodes() []*Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	result := make([]*Node, len(kb.nodes))
	for i, n := range kb.nodes {
		c := *n
		result[i] = &c
	}
	return result
}

// RemoveNode removes a node with the given ID from the k-bucket if it exists.
func (kb *KBucket) RemoveNode(id crypto.ID) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for i, node := range kb.nodes {
		if node.ID == id {
			kb.nodes = append(kb.nodes[:i], kb.nodes[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of nodes in the bucket.
func (kb *KBucket) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.nodes)
}

// RoutingTable manages k-buckets for the DHT routing.
type RoutingTable struct {
	kBuckets [IDBits]*KBucket
	selfID   crypto.ID
	mu       sync.RWMutex
}

// NewRoutingTable creates a new DHT routing table.
func NewRoutingTable(selfID crypto.ID, maxBucketSize int) *RoutingTable {
	rt := &RoutingTable{selfID: selfID}
	for i := range rt.kBuckets {
		rt.kBuckets[i] = NewKBucket(maxBucketSize)
	}
	return rt
}

func (rt *RoutingTable) bucketFor(id crypto.ID) *KBucket {
	idx := rt.selfID.CommonPrefixLen(id)
	if idx >= IDBits {
		idx = IDBits - 1
	}
	return rt.kBuckets[idx]
}

// AddNode adds a node to the appropriate k-bucket in the routing table.
func (rt *RoutingTable) AddNode(node *Node) bool {
	if node.ID == rt.selfID {
		return false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.bucketFor(node.ID).AddNode(node)
}

// RecordPing records that a request was sent to id.
func (rt *RoutingTable) RecordPing(id crypto.ID, now time.Time) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	rt.bucketFor(id).update(id, func(n *Node) { n.RecordPingSent(now) })
}

// RecordResponse records the outcome of a request to id.
func (rt *RoutingTable) RecordResponse(id crypto.ID, now time.Time, success bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	rt.bucketFor(id).update(id, func(n *Node) { n.RecordPingResponse(now, success) })
}

// RemoveNode removes the node with the given ID.
func (rt *RoutingTable) RemoveNode(id crypto.ID) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.bucketFor(id).RemoveNode(id)
}

// nodeHeap implements heap.Interface for finding closest nodes efficiently.
// It's a max-heap based on distance, keeping the k closest nodes.
type nodeHeap struct {
	nodes     []*Node
	distances []crypto.ID
	target    crypto.ID
}

func (h *nodeHeap) Len() int { return len(h.nodes) }

func (h *nodeHeap) Less(i, j int) bool {
	// Max-heap: return true if i is farther than j
	return h.distances[j].Less(h.distances[i])
}

func (h *nodeHeap) Swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.distances[i], h.distances[j] = h.distances[j], h.distances[i]
}

func (h *nodeHeap) Push(x interface{}) {
	item := x.(*Node)
	h.nodes = append(h.nodes, item)
	h.distances = append(h.distances, item.Distance(h.target))
}

func (h *nodeHeap) Pop() interface{} {
	old := h.nodes
	n := len(old)
	item := old[n-1]
	h.nodes = old[0 : n-1]
	h.distances = h.distances[0 : n-1]
	return item
}

// closest returns the count nodes of candidates closest to target, closest
// first.
func closest(candidates []*Node, target crypto.ID, count int) []*Node {
	if count <= 0 {
		return []*Node{}
	}

	h := &nodeHeap{
		nodes:     make([]*Node, 0, count),
		distances: make([]crypto.ID, 0, count),
		target:    target,
	}
	for _, node := range candidates {
		if len(h.nodes) < count {
			heap.Push(h, node)
			continue
		}
		if node.Distance(target).Less(h.distances[0]) {
			heap.Pop(h)
			heap.Push(h, node)
		}
	}

	// Popping a max-heap yields farthest first; fill from the back.
	result := make([]*Node, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(*Node)
	}
	return result
}

// FindClosestNodes finds the count closest good or unknown nodes to target.
func (rt *RoutingTable) FindClosestNodes(target crypto.ID, count int) []*Node {
	var candidates []*Node
	for _, n := range rt.GetAllNodes() {
		if n.Status != StatusBad {
			candidates = append(candidates, n)
		}
	}
	return closest(candidates, target, count)
}

// GetAllNodes returns all nodes from all k-buckets in the routing table.
func (rt *RoutingTable) GetAllNodes() []*Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	var allNodes []*Node
	for _, bucket := range rt.kBuckets {
		allNodes = append(allNodes, bucket.GetNodes()...)
	}
	return allNodes
}

// Size returns the number of nodes in the routing table.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	n := 0
	for _, bucket := range rt.kBuckets {
		n += bucket.Len()
	}
	return n
}
