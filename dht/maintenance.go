package dht

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/opendht/crypto"
	"github.com/opd-ai/opendht/transport"
)

// MaintenanceConfig holds configuration for DHT maintenance.
type MaintenanceConfig struct {
	// How often to ping nodes that have been quiet
	PingInterval time.Duration
	// How often to look up random IDs to refresh buckets
	LookupInterval time.Duration
	// How long a node can be unresponsive before being marked bad
	NodeTimeout time.Duration
	// How long before a bad node is removed
	PruneTimeout time.Duration
	// How often local Listen subscriptions are renewed on remote nodes
	ListenRefreshInterval time.Duration
}

// DefaultMaintenanceConfig returns sensible defaults for DHT maintenance.
func DefaultMaintenanceConfig() *MaintenanceConfig {
	return &MaintenanceConfig{
		PingInterval:          1 * time.Minute,
		LookupInterval:        5 * time.Minute,
		NodeTimeout:           10 * time.Minute,
		PruneTimeout:          1 * time.Hour,
		ListenRefreshInterval: 1 * time.Minute,
	}
}

// maintenanceTask is one periodic job.
type maintenanceTask struct {
	name     string
	interval time.Duration
	next     time.Time
	run      func(ctx context.Context)
}

// Maintainer schedules periodic DHT maintenance. It has no goroutine of
// its own: the engine's Loop calls Tick, which starts due tasks on engine
// goroutines and returns the delay until the next one is due.
type Maintainer struct {
	e      *Engine
	config *MaintenanceConfig

	mu    sync.Mutex
	tasks []*maintenanceTask
	// lastActivity is when a packet last arrived, or when Start ran.
	lastActivity time.Time
}

// NewMaintainer creates a new DHT maintenance manager.
func NewMaintainer(e *Engine, config *MaintenanceConfig) *Maintainer {
	if config == nil {
		config = DefaultMaintenanceConfig()
	}

	m := &Maintainer{e: e, config: config}
	m.tasks = []*maintenanceTask{
		{name: "ping", interval: config.PingInterval, run: m.pingQuietNodes},
		{name: "lookup", interval: config.LookupInterval, run: m.lookupRandomNodes},
		{name: "prune", interval: config.PingInterval, run: m.pruneDeadNodes},
		{name: "listen", interval: config.ListenRefreshInterval, run: m.refreshListeners},
	}
	return m
}

// Start schedules every task one interval from now.
func (m *Maintainer) Start(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		t.next = now.Add(t.interval)
	}
	m.lastActivity = now
}

// Tick starts the tasks due at now and returns how long until the next
// task is due.
func (m *Maintainer) Tick(now time.Time) time.Duration {
	m.mu.Lock()
	var due []*maintenanceTask
	next := now.Add(m.config.NodeTimeout)
	for _, t := range m.tasks {
		if !now.Before(t.next) {
			due = append(due, t)
			t.next = now.Add(t.interval)
		}
		if t.next.Before(next) {
			next = t.next
		}
	}
	m.mu.Unlock()

	for _, t := range due {
		task := t
		m.e.spawn(func(ctx context.Context) {
			logrus.WithFields(logrus.Fields{
				"function": "Maintainer.Tick",
				"task":     task.name,
			}).Debug("Running maintenance task")
			task.run(ctx)
		})
	}

	m.e.listeners.ExpireRemote(now)
	return next.Sub(now)
}

// pingQuietNodes pings nodes that have not been heard from recently. With
// an empty routing table, or after NodeTimeout without receiving anything,
// it re-bootstraps from remembered addresses instead.
func (m *Maintainer) pingQuietNodes(ctx context.Context) {
	now := m.e.clock.Now()
	nodes := m.e.routing.GetAllNodes()

	if len(nodes) == 0 || m.silent(now) {
		if addrs := m.e.bootstrap.GetNodes(); len(addrs) > 0 {
			logrus.WithFields(logrus.Fields{
				"function":      "Maintainer.pingQuietNodes",
				"nodes":         len(nodes),
				"last_activity": m.LastActivity(),
			}).Info("Network silent, re-bootstrapping")
			m.e.bootstrap.Bootstrap(ctx, addrs)
			return
		}
	}

	for _, n := range nodes {
		if n.IsActive(now, m.config.NodeTimeout/2) {
			continue
		}
		_, _ = m.e.requestNode(ctx, n, transport.PacketPing, &transport.Message{})
	}
}

// lookupRandomNodes refreshes the buckets around this node and one random
// region of the ID space.
func (m *Maintainer) lookupRandomNodes(ctx context.Context) {
	m.e.lookup(ctx, m.e.selfID, nil)
	m.e.lookup(ctx, crypto.RandomID(), nil)
}

// pruneDeadNodes removes unresponsive nodes from the routing table.
func (m *Maintainer) pruneDeadNodes(context.Context) {
	now := m.e.clock.Now()

	for _, n := range m.e.routing.GetAllNodes() {
		if now.Sub(n.LastSeen) > m.config.NodeTimeout && n.Status == StatusGood {
			m.e.routing.RecordResponse(n.ID, now, false)
		}
		if n.Status == StatusBad && now.Sub(n.LastSeen) > m.config.PruneTimeout {
			m.e.routing.RemoveNode(n.ID)
		}
	}
}

// refreshListeners renews remote subscriptions for local Listen calls.
func (m *Maintainer) refreshListeners(ctx context.Context) {
	for _, key := range m.e.listeners.LocalKeys() {
		m.e.subscribe(ctx, key)
	}
}

// UpdateActivity records that a packet arrived at now.
func (m *Maintainer) UpdateActivity(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.After(m.lastActivity) {
		m.lastActivity = now
	}
}

// LastActivity returns when a packet was last received, or when the engine
// started if nothing arrived since.
func (m *Maintainer) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

func (m *Maintainer) silent(now time.Time) bool {
	return now.Sub(m.LastActivity()) > m.config.NodeTimeout
}
