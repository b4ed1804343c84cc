package dht

import (
	"sync"

	"github.com/opd-ai/mainline/krpc"
	"github.com/sirupsen/logrus"
)

// Storage limits. A full store holds a million info-hashes of up to a
// hundred peers each; writes beyond either bound are logged and
// ignored.
const (
	maxInfoHashes       = 1 << 20
	maxPeersPerInfoHash = 100
)

// Storage indexes the peers announcing each info-hash, together with
// the announce token the info-hash is guarded by. Keys are lowercase
// hex digests; peer sets use structural (addr, port) equality.
//
// The token stored for an info-hash is fixed for its lifetime: the
// first write pins it and writes carrying a different token are
// rejected.
type Storage struct {
	peers  map[string][]krpc.Endpoint
	tokens map[string]string
	mu     sync.RWMutex
}

// NewStorage creates an empty store.
func NewStorage() *Storage {
	return &Storage{
		peers:  make(map[string][]krpc.Endpoint),
		tokens: make(map[string]string),
	}
}

// Add inserts one peer under an info-hash. Returns true iff the peer
// was newly stored. Rejections: store full and the hash is new, token
// mismatch, peer set full, duplicate peer.
func (s *Storage) Add(hashHex string, peer krpc.Endpoint, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(hashHex, peer, token)
}

// AddList inserts a batch of peers under one info-hash and returns how
// many were newly stored.
func (s *Storage) AddList(hashHex string, peers []krpc.Endpoint, token string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, peer := range peers {
		if s.addLocked(hashHex, peer, token) {
			added++
		}
	}
	return added
}

func (s *Storage) addLocked(hashHex string, peer krpc.Endpoint, token string) bool {
	list, exists := s.peers[hashHex]
	if !exists && len(s.peers) >= maxInfoHashes {
		logrus.WithFields(logrus.Fields{
			"function":  "Add",
			"info_hash": hashHex,
		}).Warn("info-hash store full, dropping write")
		return false
	}

	if stored, ok := s.tokens[hashHex]; ok && stored != token {
		return false
	}

	for _, p := range list {
		if p.Equal(peer) {
			return false
		}
	}
	if len(list) >= maxPeersPerInfoHash {
		logrus.WithFields(logrus.Fields{
			"function":  "Add",
			"info_hash": hashHex,
		}).Warn("peer set full, dropping write")
		return false
	}

	s.peers[hashHex] = append(list, peer)
	if _, ok := s.tokens[hashHex]; !ok {
		s.tokens[hashHex] = token
	}
	return true
}

// Find returns the peers stored under an info-hash, or nil when the
// hash is unknown.
func (s *Storage) Find(hashHex string) []krpc.Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, ok := s.peers[hashHex]
	if !ok {
		return nil
	}
	out := make([]krpc.Endpoint, len(list))
	copy(out, list)
	return out
}

// FindToken returns the token pinned to an info-hash.
func (s *Storage) FindToken(hashHex string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[hashHex]
	return token, ok
}

// Remove deletes an info-hash's peer set and token.
func (s *Storage) Remove(hashHex string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.peers, hashHex)
	delete(s.tokens, hashHex)
}

// Count returns the number of stored info-hashes.
func (s *Storage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}
