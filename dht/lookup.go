package dht

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/opendht/crypto"
	"github.com/opd-ai/opendht/transport"
)

// Alpha is the number of requests a lookup keeps in flight.
const Alpha = 3

// lookup is an iterative Kademlia search for target. When onValues is
// non-nil it runs a find_value search and hands every batch of values
// found to onValues, stopping early once onValues returns false. It returns
// the closest nodes that answered, closest first.
type lookup struct {
	e        *Engine
	target   crypto.ID
	onValues func([][]byte) bool

	mu        sync.Mutex
	shortlist []*Node
	queried   map[crypto.ID]bool
	responded map[crypto.ID]*Node
	stopped   bool
}

func (e *Engine) lookup(ctx context.Context, target crypto.ID, onValues func([][]byte) bool) []*Node {
	l := &lookup{
		e:         e,
		target:    target,
		onValues:  onValues,
		shortlist: e.routing.FindClosestNodes(target, e.bucketSize()),
		queried:   make(map[crypto.ID]bool),
		responded: make(map[crypto.ID]*Node),
	}
	return l.run(ctx)
}

func (l *lookup) run(ctx context.Context) []*Node {
	for round := 0; ; round++ {
		batch := l.nextBatch()
		if len(batch) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(Alpha)
		for _, n := range batch {
			g.Go(func() error {
				l.query(gctx, n)
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil || l.isStopped() {
			break
		}

		logrus.WithFields(logrus.Fields{
			"function":  "lookup.run",
			"target":    l.target.String(),
			"round":     round,
			"responded": len(l.responded),
		}).Debug("Lookup round complete")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	found := make([]*Node, 0, len(l.responded))
	for _, n := range l.responded {
		found = append(found, n)
	}
	return closest(found, l.target, l.e.bucketSize())
}

// nextBatch picks up to Alpha unqueried nodes among the k closest known.
func (l *lookup) nextBatch() []*Node {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return nil
	}
	var batch []*Node
	for _, n := range l.shortlist {
		if l.queried[n.ID] {
			continue
		}
		l.queried[n.ID] = true
		batch = append(batch, n)
		if len(batch) == Alpha {
			break
		}
	}
	return batch
}

func (l *lookup) query(ctx context.Context, n *Node) {
	t := transport.PacketFindNode
	if l.onValues != nil {
		t = transport.PacketFindValue
	}

	reply, err := l.e.requestNode(ctx, n, t, &transport.Message{Target: l.target})
	if err != nil {
		return
	}

	now := l.e.clock.Now()
	var learned []*Node
	for _, info := range reply.Nodes {
		if info.ID == l.e.selfID {
			continue
		}
		node, err := nodeFromInfo(info, now)
		if err != nil {
			continue
		}
		learned = append(learned, node)
	}

	l.mu.Lock()
	l.responded[n.ID] = n
	l.merge(learned)
	l.mu.Unlock()

	if l.onValues != nil && len(reply.Values) > 0 {
		l.mu.Lock()
		defer l.mu.Unlock()
		if !l.stopped && !l.onValues(reply.Values) {
			l.stopped = true
		}
	}
}

// merge adds learned nodes to the shortlist, keeping the k closest. Callers
// must hold l.mu.
func (l *lookup) merge(learned []*Node) {
	known := make(map[crypto.ID]bool, len(l.shortlist))
	for _, n := range l.shortlist {
		known[n.ID] = true
	}
	candidates := append([]*Node(nil), l.shortlist...)
	for _, n := range learned {
		if !known[n.ID] {
			known[n.ID] = true
			candidates = append(candidates, n)
		}
	}
	l.shortlist = closest(candidates, l.target, l.e.bucketSize())
}

func (l *lookup) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}
