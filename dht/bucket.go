package dht

import (
	"math/big"
	"sort"
	"time"

	"github.com/opd-ai/mainline/krpc"
)

// bucketCapacity is the Kademlia k parameter: nodes kept per bucket and
// closest-node answers per query.
const bucketCapacity = 8

// Bucket holds up to bucketCapacity nodes whose ids fall inside the
// closed 160-bit range [start, end]. The node list is MRU ordered: the
// head is the most recently touched node, the tail the eviction target.
//
// Buckets are owned by a RoutingTable, which serialises access; the
// bucket itself carries no lock.
type Bucket struct {
	start     *big.Int
	end       *big.Int
	nodes     []*Node
	updatedAt time.Time
}

// NewBucket creates an empty bucket over [start, end].
func NewBucket(start, end *big.Int) *Bucket {
	return &Bucket{
		start:     start,
		end:       end,
		nodes:     make([]*Node, 0, bucketCapacity),
		updatedAt: getDefaultTimeProvider().Now(),
	}
}

// Covers reports whether id falls inside the bucket's range.
func (b *Bucket) Covers(id krpc.NodeID) bool {
	v := id.Big()
	return b.start.Cmp(v) <= 0 && v.Cmp(b.end) <= 0
}

// Add admits a node.
//
// A node whose id is already present has its endpoint and ActiveAt
// refreshed in place, keeping its list position, and Add returns false.
// Otherwise the node goes to the head of the list, evicting the tail
// first when the bucket is full, and Add returns true.
func (b *Bucket) Add(node *Node) bool {
	b.updatedAt = getDefaultTimeProvider().Now()

	for _, existing := range b.nodes {
		if existing.ID.Equal(node.ID) {
			existing.Endpoint = node.Endpoint
			existing.Touch()
			return false
		}
	}

	if len(b.nodes) == bucketCapacity {
		b.nodes = b.nodes[:len(b.nodes)-1]
	}

	node.Touch()
	b.nodes = append([]*Node{node}, b.nodes...)
	return true
}

// Remove deletes the node with the given id, preserving the order of
// the remaining nodes.
func (b *Bucket) Remove(id krpc.NodeID) bool {
	for i, node := range b.nodes {
		if node.ID.Equal(id) {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			b.updatedAt = getDefaultTimeProvider().Now()
			return true
		}
	}
	return false
}

// Len returns the number of stored nodes.
func (b *Bucket) Len() int {
	return len(b.nodes)
}

// Nodes returns a copy of the node list in MRU order.
func (b *Bucket) Nodes() []*Node {
	out := make([]*Node, len(b.nodes))
	copy(out, b.nodes)
	return out
}

// ClosestNodes returns up to k members sorted by ascending XOR distance
// to target.
func (b *Bucket) ClosestNodes(target krpc.NodeID, k int) []*Node {
	out := b.Nodes()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ID.Less(out[j].ID, target)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
