package dht

import (
	"context"
	"errors"
	"sync"

	"github.com/opd-ai/mainline/krpc"
	"github.com/sirupsen/logrus"
)

// ErrNoBootstrapNodes is returned when Bootstrap runs with an empty
// endpoint list.
var ErrNoBootstrapNodes = errors.New("dht: no bootstrap nodes configured")

// defaultBootstrapPort is the port the public entry routers listen on.
const defaultBootstrapPort = 6881

// DefaultBootstrapNodes returns the well-known entry points of the
// public Mainline DHT.
func DefaultBootstrapNodes() []krpc.Endpoint {
	hosts := []string{
		"router.bittorrent.com",
		"dht.transmissionbt.com",
		"router.utorrent.com",
		"dht.aelitis.com",
	}
	endpoints := make([]krpc.Endpoint, 0, len(hosts))
	for _, host := range hosts {
		ep, err := krpc.NewEndpoint(host, defaultBootstrapPort)
		if err != nil {
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints
}

// BootstrapManager seeds the routing table from well-known entry
// nodes. Bootstrap nodes are used only for seeding; once the table has
// live entries, ordinary traffic keeps it populated.
type BootstrapManager struct {
	endpoints []krpc.Endpoint
	sender    *Sender
	routing   *RoutingTable
	mu        sync.Mutex
}

// NewBootstrapManager builds a manager over the given endpoints,
// falling back to the public defaults when none are supplied.
func NewBootstrapManager(sender *Sender, routing *RoutingTable, endpoints []krpc.Endpoint) *BootstrapManager {
	if len(endpoints) == 0 {
		endpoints = DefaultBootstrapNodes()
	}
	return &BootstrapManager{
		endpoints: endpoints,
		sender:    sender,
		routing:   routing,
	}
}

// AddNode appends a bootstrap endpoint.
func (bm *BootstrapManager) AddNode(addr string, port uint16) error {
	endpoint, err := krpc.NewEndpoint(addr, port)
	if err != nil {
		return err
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.endpoints = append(bm.endpoints, endpoint)
	return nil
}

// Endpoints returns a copy of the configured endpoints.
func (bm *BootstrapManager) Endpoints() []krpc.Endpoint {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	out := make([]krpc.Endpoint, len(bm.endpoints))
	copy(out, bm.endpoints)
	return out
}

// Bootstrap pings every configured endpoint. Replies flow back through
// the response handler, which seeds the routing table; the call itself
// does not wait for them.
func (bm *BootstrapManager) Bootstrap(ctx context.Context) error {
	endpoints := bm.Endpoints()
	if len(endpoints) == 0 {
		return ErrNoBootstrapNodes
	}

	for _, endpoint := range endpoints {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		logrus.WithFields(logrus.Fields{
			"function": "Bootstrap",
			"address":  endpoint.String(),
		}).Info("pinging bootstrap node")
		bm.sender.SendPingBootstrap(endpoint)
	}
	return nil
}

// IsBootstrapped reports whether the routing table holds any entries,
// stale ones included.
func (bm *BootstrapManager) IsBootstrapped() bool {
	return bm.routing.Count() > 0
}
