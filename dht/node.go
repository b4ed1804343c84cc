package dht

import (
	"fmt"
	"time"

	"github.com/opd-ai/mainline/krpc"
)

// staleTimeout is how long a node may go unseen before IsActive turns
// false. Stale nodes are pruned by the maintenance loop, never by the
// node itself.
const staleTimeout = 5 * time.Minute

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since the given time.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// defaultTimeProvider is the package-level default for standalone functions.
var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// SetDefaultTimeProvider sets the package-level time provider for testing.
// Pass nil to reset to the default implementation.
func SetDefaultTimeProvider(tp TimeProvider) {
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	defaultTimeProvider = tp
}

func getDefaultTimeProvider() TimeProvider {
	return defaultTimeProvider
}

// Node is a remote peer of the DHT: an endpoint, a 160-bit identifier
// and the time it was last heard from.
type Node struct {
	Endpoint krpc.Endpoint
	ID       krpc.NodeID
	ActiveAt time.Time
}

// NewNode builds a node from an already validated endpoint, stamping
// ActiveAt with the current time.
func NewNode(id krpc.NodeID, endpoint krpc.Endpoint) *Node {
	return NewNodeWithTimeProvider(id, endpoint, nil)
}

// NewNodeWithTimeProvider builds a node with a custom time provider.
func NewNodeWithTimeProvider(id krpc.NodeID, endpoint krpc.Endpoint, tp TimeProvider) *Node {
	if tp == nil {
		tp = getDefaultTimeProvider()
	}
	return &Node{
		Endpoint: endpoint,
		ID:       id,
		ActiveAt: tp.Now(),
	}
}

// NewNodeFromAddr validates (addr, port) and builds a node from it.
func NewNodeFromAddr(id krpc.NodeID, addr string, port uint16) (*Node, error) {
	endpoint, err := krpc.NewEndpoint(addr, port)
	if err != nil {
		return nil, err
	}
	return NewNode(id, endpoint), nil
}

// Update replaces the node's endpoint and marks it as just seen.
func (n *Node) Update(addr string, port uint16) error {
	endpoint, err := krpc.NewEndpoint(addr, port)
	if err != nil {
		return err
	}
	n.Endpoint = endpoint
	n.Touch()
	return nil
}

// Touch refreshes ActiveAt.
func (n *Node) Touch() {
	n.TouchWithTimeProvider(nil)
}

// TouchWithTimeProvider refreshes ActiveAt with a custom time provider.
func (n *Node) TouchWithTimeProvider(tp TimeProvider) {
	if tp == nil {
		tp = getDefaultTimeProvider()
	}
	n.ActiveAt = tp.Now()
}

// IsActive reports whether the node was heard from within the staleness
// window. It is a derived view; nothing expires the node here.
func (n *Node) IsActive() bool {
	return getDefaultTimeProvider().Since(n.ActiveAt) < staleTimeout
}

// MarshalCompact encodes the node as 26-byte compact node info:
// the id followed by compact peer info.
func (n *Node) MarshalCompact() ([]byte, error) {
	ep, err := n.Endpoint.MarshalCompact()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, krpc.CompactNodeLength)
	out = append(out, n.ID[:]...)
	out = append(out, ep...)
	return out, nil
}

// ParseCompactNode decodes one 26-byte compact node record.
func ParseCompactNode(data []byte) (*Node, error) {
	if len(data) != krpc.CompactNodeLength {
		return nil, fmt.Errorf("dht: compact node info must be %d bytes, got %d", krpc.CompactNodeLength, len(data))
	}
	id, err := krpc.NewNodeID(data[:krpc.IDLength])
	if err != nil {
		return nil, err
	}
	endpoint, err := krpc.ParseCompactEndpoint(data[krpc.IDLength:])
	if err != nil {
		return nil, err
	}
	return NewNode(id, endpoint), nil
}

// ParseCompactNodes decodes a concatenation of 26-byte records, as
// carried in the "nodes" key of find_node and get_peers responses.
func ParseCompactNodes(data []byte) ([]*Node, error) {
	if len(data)%krpc.CompactNodeLength != 0 {
		return nil, fmt.Errorf("dht: nodes blob length %d is not a multiple of %d", len(data), krpc.CompactNodeLength)
	}
	nodes := make([]*Node, 0, len(data)/krpc.CompactNodeLength)
	for off := 0; off < len(data); off += krpc.CompactNodeLength {
		node, err := ParseCompactNode(data[off : off+krpc.CompactNodeLength])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// MarshalCompactNodes concatenates the compact encodings of nodes,
// skipping any without a compact form (domain endpoints).
func MarshalCompactNodes(nodes []*Node) []byte {
	out := make([]byte, 0, len(nodes)*krpc.CompactNodeLength)
	for _, n := range nodes {
		enc, err := n.MarshalCompact()
		if err != nil {
			continue
		}
		out = append(out, enc...)
	}
	return out
}

// LocalNode is the node this process runs as. The address is supplied
// by an external IP-lookup collaborator and the id derives from a
// stable seed, so construction is a plain composition.
type LocalNode struct {
	Node
}

// NewLocalNode builds the local node. A malformed local address is not
// rejected: the node keeps it in an unvalidated endpoint.
func NewLocalNode(addr string, port uint16, id krpc.NodeID) *LocalNode {
	endpoint, err := krpc.NewEndpoint(addr, port)
	if err != nil {
		// Fall back to an unvalidated endpoint whose Type is left at its
		// zero value; the id is what matters locally.
		endpoint = krpc.Endpoint{Addr: addr, Port: port}
	}
	return &LocalNode{Node: *NewNode(id, endpoint)}
}
