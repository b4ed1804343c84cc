package dht

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/mainline/krpc"
	"github.com/sirupsen/logrus"
)

// RoutingTable is the Kademlia index of known nodes, owned by one local
// node. Its buckets are produced by splitting the 160-bit id space
// along the prefix tree around the local id: at every level the half
// not containing the local id becomes one bucket and the other half is
// split again, so ranges get geometrically finer as they approach the
// local id. The local id itself belongs to no bucket.
type RoutingTable struct {
	localID krpc.NodeID
	buckets []*Bucket
	mu      sync.RWMutex
}

// NewRoutingTable builds the 160-bucket table for the given local id.
func NewRoutingTable(localID krpc.NodeID) *RoutingTable {
	rt := &RoutingTable{localID: localID}

	one := big.NewInt(1)
	lo := new(big.Int)
	hi := new(big.Int).Sub(new(big.Int).Lsh(one, 160), one)
	local := localID.Big()

	// Walk from the full range toward the local id. mid = (lo+hi-1)/2;
	// the off-path half is emitted, the on-path half becomes the next
	// range. The walk ends on the singleton [local, local], which is
	// not stored.
	for lo.Cmp(hi) != 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Sub(mid, one)
		mid.Rsh(mid, 1)

		if local.Cmp(mid) <= 0 {
			rt.buckets = append(rt.buckets, NewBucket(new(big.Int).Add(mid, one), new(big.Int).Set(hi)))
			hi = mid
		} else {
			rt.buckets = append(rt.buckets, NewBucket(new(big.Int).Set(lo), new(big.Int).Set(mid)))
			lo = new(big.Int).Add(mid, one)
		}
	}

	return rt
}

// LocalID returns the id the table is split around.
func (rt *RoutingTable) LocalID() krpc.NodeID {
	return rt.localID
}

// bucketFor locates the unique bucket covering id. Returns nil for the
// local id, which no bucket covers.
func (rt *RoutingTable) bucketFor(id krpc.NodeID) *Bucket {
	for _, b := range rt.buckets {
		if b.Covers(id) {
			return b
		}
	}
	return nil
}

// AddNode stores a node in the bucket covering its id, following the
// bucket admission rules. Returns true iff the node was newly inserted.
func (rt *RoutingTable) AddNode(node *Node) bool {
	if node.ID.Equal(rt.localID) {
		return false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	bucket := rt.bucketFor(node.ID)
	if bucket == nil {
		logrus.WithFields(logrus.Fields{
			"function": "AddNode",
			"node_id":  node.ID.String(),
		}).Warn("no bucket covers node id")
		return false
	}
	return bucket.Add(node)
}

// Remove deletes the given node by id.
func (rt *RoutingTable) Remove(node *Node) bool {
	return rt.RemoveByID(node.ID)
}

// RemoveByID deletes the node with the given id, if present.
func (rt *RoutingTable) RemoveByID(id krpc.NodeID) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for _, bucket := range rt.buckets {
		if bucket.Remove(id) {
			return true
		}
	}
	return false
}

// RemoveByIP deletes every node whose endpoint address equals ip and
// returns how many were removed. Used to penalise senders of malformed
// datagrams.
func (rt *RoutingTable) RemoveByIP(ip string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	removed := 0
	for _, bucket := range rt.buckets {
		for _, node := range bucket.Nodes() {
			if node.Endpoint.Addr == ip {
				if bucket.Remove(node.ID) {
					removed++
				}
			}
		}
	}
	return removed
}

// Find returns the stored node with the given id, or nil.
func (rt *RoutingTable) Find(id krpc.NodeID) *Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	for _, bucket := range rt.buckets {
		for _, node := range bucket.Nodes() {
			if node.ID.Equal(id) {
				return node
			}
		}
	}
	return nil
}

// FindClosestNodes returns up to k stored nodes sorted by ascending XOR
// distance to target.
func (rt *RoutingTable) FindClosestNodes(target krpc.NodeID, k int) []*Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	all := make([]*Node, 0, rt.countLocked())
	for _, bucket := range rt.buckets {
		all = append(all, bucket.Nodes()...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].ID.Less(all[j].ID, target)
	})

	if len(all) > k {
		all = all[:k]
	}
	return all
}

// RandomNode returns the head node of the first non-empty bucket, or
// nil when the table is empty.
func (rt *RoutingTable) RandomNode() *Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	for _, bucket := range rt.buckets {
		if bucket.Len() > 0 {
			return bucket.Nodes()[0]
		}
	}
	return nil
}

// Count returns the total number of stored nodes.
func (rt *RoutingTable) Count() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.countLocked()
}

func (rt *RoutingTable) countLocked() int {
	count := 0
	for _, bucket := range rt.buckets {
		count += bucket.Len()
	}
	return count
}

// RemoveStale deletes every node unseen for longer than maxAge and
// returns how many were removed.
func (rt *RoutingTable) RemoveStale(maxAge time.Duration) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := getDefaultTimeProvider().Now()
	removed := 0
	for _, bucket := range rt.buckets {
		for _, node := range bucket.Nodes() {
			if now.Sub(node.ActiveAt) > maxAge {
				if bucket.Remove(node.ID) {
					removed++
				}
			}
		}
	}
	return removed
}

// BucketCount returns the number of buckets (160 for any local id).
func (rt *RoutingTable) BucketCount() int {
	return len(rt.buckets)
}
