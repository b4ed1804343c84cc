package dht

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/mainline/krpc"
	"github.com/sirupsen/logrus"
)

// MaintenanceConfig holds the timers of the periodic driver loop.
type MaintenanceConfig struct {
	// How often to re-ping bootstrap nodes while the table is sparse.
	BootstrapInterval time.Duration
	// How often to poll get_peers for every watched info-hash.
	LookupInterval time.Duration
	// How often to prune stale routing-table entries.
	PruneInterval time.Duration
	// Node count below which the table counts as sparse.
	MinNodes int
}

// DefaultMaintenanceConfig returns sensible defaults for the driver.
func DefaultMaintenanceConfig() *MaintenanceConfig {
	return &MaintenanceConfig{
		BootstrapInterval: 30 * time.Second,
		LookupInterval:    1 * time.Minute,
		PruneInterval:     5 * time.Minute,
		MinNodes:          bucketCapacity,
	}
}

// Maintainer runs the periodic tasks that keep the node useful: it
// re-seeds a sparse routing table from the bootstrap endpoints,
// freshens the neighbourhood with find_node lookups on the local id,
// polls get_peers for every watched info-hash and prunes stale nodes.
type Maintainer struct {
	routing   *RoutingTable
	bootstrap *BootstrapManager
	sender    *Sender
	config    *MaintenanceConfig

	watched map[string]krpc.InfoHash

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewMaintainer wires a maintainer over the shared state. A nil config
// selects the defaults.
func NewMaintainer(routing *RoutingTable, bootstrap *BootstrapManager, sender *Sender, config *MaintenanceConfig) *Maintainer {
	if config == nil {
		config = DefaultMaintenanceConfig()
	}
	return &Maintainer{
		routing:   routing,
		bootstrap: bootstrap,
		sender:    sender,
		config:    config,
		watched:   make(map[string]krpc.InfoHash),
	}
}

// Watch adds an info-hash to the polling set. The next lookup tick
// issues get_peers for it; discovered peers land in the storage.
func (m *Maintainer) Watch(infoHash krpc.InfoHash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched[infoHash.String()] = infoHash
}

// Unwatch removes an info-hash from the polling set.
func (m *Maintainer) Unwatch(infoHash krpc.InfoHash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, infoHash.String())
}

// Watched returns the polled info-hashes.
func (m *Maintainer) Watched() []krpc.InfoHash {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]krpc.InfoHash, 0, len(m.watched))
	for _, h := range m.watched {
		out = append(out, h)
	}
	return out
}

// Start launches the maintenance goroutines.
func (m *Maintainer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return errors.New("dht: maintainer already running")
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.isRunning = true

	m.wg.Add(3)
	go m.runTicker(m.config.BootstrapInterval, m.bootstrapTick)
	go m.runTicker(m.config.LookupInterval, m.lookupTick)
	go m.runTicker(m.config.PruneInterval, m.pruneTick)
	return nil
}

// Stop cancels the maintenance goroutines and waits for them.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Maintainer) runTicker(interval time.Duration, tick func()) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// bootstrapTick re-pings the entry nodes while the table is sparse and,
// whenever the table holds at least one node, walks it toward the local
// id with a find_node query.
func (m *Maintainer) bootstrapTick() {
	if m.routing.Count() < m.config.MinNodes {
		if err := m.bootstrap.Bootstrap(m.ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "bootstrapTick",
				"error":    err.Error(),
			}).Warn("bootstrap round failed")
		}
	}

	if node := m.routing.RandomNode(); node != nil {
		m.sender.SendFindNode(node.Endpoint.Addr, node.Endpoint.Port, m.routing.LocalID())
	}
}

// Lookup issues get_peers for one info-hash to the closest known
// nodes. Results arrive asynchronously through the response handler.
func (m *Maintainer) Lookup(infoHash krpc.InfoHash) {
	closest := m.routing.FindClosestNodes(krpc.NodeID(infoHash), bucketCapacity)
	if len(closest) == 0 {
		logrus.WithFields(logrus.Fields{
			"function":  "Lookup",
			"info_hash": infoHash.String(),
		}).Debug("no nodes to query yet")
		return
	}
	for _, node := range closest {
		m.sender.SendGetPeers(node, infoHash)
	}
}

// lookupTick polls every watched info-hash.
func (m *Maintainer) lookupTick() {
	for _, infoHash := range m.Watched() {
		m.Lookup(infoHash)
	}
}

// pruneTick drops nodes unseen past the staleness window.
func (m *Maintainer) pruneTick() {
	if removed := m.routing.RemoveStale(staleTimeout); removed > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "pruneTick",
			"removed":  removed,
		}).Info("pruned stale nodes")
	}
}
