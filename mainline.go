// Package mainline assembles a complete Mainline BitTorrent DHT node
// from the building blocks in the dht, krpc and transport packages.
//
// Example:
//
//	node, err := mainline.New(mainline.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	node.Bootstrap(context.Background())
//	hash, _ := node.WatchMagnet("magnet:?xt=urn:btih:...")
//	// later:
//	peers := node.FindPeers(hash)
package mainline

import (
	"context"
	"fmt"

	"github.com/opd-ai/mainline/dht"
	"github.com/opd-ai/mainline/ipdetect"
	"github.com/opd-ai/mainline/krpc"
	"github.com/opd-ai/mainline/magnet"
	"github.com/opd-ai/mainline/transport"
	"github.com/sirupsen/logrus"
)

// Options configures a DHT node. The zero value of any field selects a
// sensible default.
type Options struct {
	// ListenPort is the UDP port to bind. Zero binds an ephemeral port.
	ListenPort uint16
	// PublicIP is the node's public IPv4 address. Empty triggers
	// detection via the IP service.
	PublicIP string
	// IPServiceURL overrides the what-is-my-ip service used when
	// PublicIP is empty.
	IPServiceURL string
	// NodeID fixes the local identifier. Nil derives it from the first
	// hardware address, falling back to a random id.
	NodeID *krpc.NodeID
	// BootstrapNodes overrides the public entry routers.
	BootstrapNodes []krpc.Endpoint
	// Maintenance overrides the periodic driver timers.
	Maintenance *dht.MaintenanceConfig
}

// DefaultOptions returns the standard configuration: port 6881, derived
// id, public bootstrap routers.
func DefaultOptions() *Options {
	return &Options{ListenPort: 6881}
}

// DHT is a running node: a bound UDP socket, a dispatcher wired over
// the routing table, registry and store, and the maintenance driver.
type DHT struct {
	local      *dht.LocalNode
	transport  transport.Transport
	dispatcher *dht.Dispatcher
	bootstrap  *dht.BootstrapManager
	maintainer *dht.Maintainer
}

// New binds the socket, derives the local identity and starts the
// maintenance loops. The node answers queries immediately; call
// Bootstrap to join the global network.
func New(opts *Options) (*DHT, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	id, err := resolveNodeID(opts)
	if err != nil {
		return nil, err
	}
	addr := resolvePublicIP(opts)

	trans, err := transport.NewUDPTransport(fmt.Sprintf("0.0.0.0:%d", opts.ListenPort))
	if err != nil {
		return nil, err
	}

	_, port, err := transport.SplitAddr(trans.LocalAddr())
	if err != nil {
		trans.Close()
		return nil, err
	}

	local := dht.NewLocalNode(addr, port, id)
	dispatcher := dht.NewDispatcher(local, trans)
	bootstrap := dht.NewBootstrapManager(dispatcher.Sender(), dispatcher.RoutingTable(), opts.BootstrapNodes)
	maintainer := dht.NewMaintainer(dispatcher.RoutingTable(), bootstrap, dispatcher.Sender(), opts.Maintenance)

	node := &DHT{
		local:      local,
		transport:  trans,
		dispatcher: dispatcher,
		bootstrap:  bootstrap,
		maintainer: maintainer,
	}
	if err := maintainer.Start(); err != nil {
		trans.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"node_id":  id.String(),
		"address":  local.Endpoint.String(),
	}).Info("DHT node started")
	return node, nil
}

func resolveNodeID(opts *Options) (krpc.NodeID, error) {
	if opts.NodeID != nil {
		return *opts.NodeID, nil
	}
	id, err := krpc.NodeIDFromMAC()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "resolveNodeID",
			"error":    err.Error(),
		}).Warn("no stable hardware seed, using random id")
		return krpc.RandomNodeID(), nil
	}
	return id, nil
}

func resolvePublicIP(opts *Options) string {
	if opts.PublicIP != "" {
		return opts.PublicIP
	}
	addr, err := ipdetect.NewDetector(opts.IPServiceURL).Detect(context.Background())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "resolvePublicIP",
			"error":    err.Error(),
		}).Warn("public IP detection failed, using 0.0.0.0")
		return "0.0.0.0"
	}
	return addr
}

// LocalID returns the node's identifier.
func (d *DHT) LocalID() krpc.NodeID {
	return d.local.ID
}

// Bootstrap pings the configured entry nodes. The routing table fills
// asynchronously as responses arrive; the maintenance loop keeps
// retrying while the table is sparse.
func (d *DHT) Bootstrap(ctx context.Context) error {
	return d.bootstrap.Bootstrap(ctx)
}

// Watch registers an info-hash for periodic get_peers polling and
// kicks off an immediate lookup.
func (d *DHT) Watch(infoHash krpc.InfoHash) {
	d.maintainer.Watch(infoHash)
	d.maintainer.Lookup(infoHash)
}

// WatchMagnet parses a magnet URI and watches its info-hash.
func (d *DHT) WatchMagnet(uri string) (krpc.InfoHash, error) {
	infoHash, err := magnet.ParseInfoHash(uri)
	if err != nil {
		return krpc.InfoHash{}, err
	}
	d.Watch(infoHash)
	return infoHash, nil
}

// Unwatch stops polling an info-hash.
func (d *DHT) Unwatch(infoHash krpc.InfoHash) {
	d.maintainer.Unwatch(infoHash)
}

// FindPeers returns the peers discovered so far for an info-hash.
func (d *DHT) FindPeers(infoHash krpc.InfoHash) []krpc.Endpoint {
	return d.dispatcher.Storage().Find(infoHash.String())
}

// Announce tells the closest known nodes that this node is downloading
// infoHash. Nothing is sent when the store holds no token for infoHash.
func (d *DHT) Announce(infoHash krpc.InfoHash) {
	closest := d.dispatcher.RoutingTable().FindClosestNodes(krpc.NodeID(infoHash), 8)
	for _, node := range closest {
		d.dispatcher.Sender().SendAnnouncePeer(node, infoHash)
	}
}

// NodeCount returns the number of routing-table entries, including
// stale ones not yet pruned.
func (d *DHT) NodeCount() int {
	return d.dispatcher.RoutingTable().Count()
}

// Close stops the maintenance loops and releases the socket.
func (d *DHT) Close() error {
	d.maintainer.Stop()
	return d.transport.Close()
}
