package dht

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/mainline/krpc"
)

// tidAlphabet is the character set transaction ids are drawn from.
// Two characters over 62 symbols give 3844 distinct ids, which bounds
// the number of concurrently outstanding requests.
const tidAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// tidCount is the fixed size of the id universe.
const tidCount = len(tidAlphabet) * len(tidAlphabet)

// transactionTTL is how long a borrowed id stays correlatable. A
// response arriving after this window is dropped as unknown.
const transactionTTL = 24 * time.Hour

// TransactionContext is the request state attached to a borrowed id,
// read back by the response handler to know what it is looking at. The
// response frame itself carries no query kind.
type TransactionContext struct {
	Query    string
	Addr     string
	Port     uint16
	InfoHash krpc.InfoHash // get_peers and announce_peer only
}

type transaction struct {
	ctx       *TransactionContext
	expiresAt time.Time
}

// TransactionRegistry manages the fixed pool of two-character ids.
// Every id is either in the free pool or in the borrowed map, never
// both. The initial pool order is shuffled so concurrent nodes do not
// issue colliding sequences.
type TransactionRegistry struct {
	free     []string
	borrowed map[string]*transaction
	tp       TimeProvider
	mu       sync.Mutex
}

// NewTransactionRegistry builds the shuffled 3844-id pool.
func NewTransactionRegistry() *TransactionRegistry {
	return NewTransactionRegistryWithTimeProvider(nil)
}

// NewTransactionRegistryWithTimeProvider builds a registry with a
// custom time provider for expiry testing.
func NewTransactionRegistryWithTimeProvider(tp TimeProvider) *TransactionRegistry {
	if tp == nil {
		tp = getDefaultTimeProvider()
	}

	free := make([]string, 0, tidCount)
	for _, a := range tidAlphabet {
		for _, b := range tidAlphabet {
			free = append(free, string(a)+string(b))
		}
	}
	rand.Shuffle(len(free), func(i, j int) {
		free[i], free[j] = free[j], free[i]
	})

	return &TransactionRegistry{
		free:     free,
		borrowed: make(map[string]*transaction, tidCount),
		tp:       tp,
	}
}

// Create borrows a free id and attaches the request context to it.
//
// When half the universe is borrowed, expired borrowings are reaped
// first. When every id is borrowed, the oldest-expiring half is
// forcibly reclaimed; a late response to a reclaimed id is ambiguous
// and gets dropped by the validity check.
func (r *TransactionRegistry) Create(ctx *TransactionContext) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.borrowed) >= tidCount/2 {
		r.reapExpiredLocked()
	}
	if len(r.free) == 0 {
		r.reclaimOldestLocked(tidCount / 2)
	}

	tid := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	r.borrowed[tid] = &transaction{
		ctx:       ctx,
		expiresAt: r.tp.Now().Add(transactionTTL),
	}
	return tid
}

// Get returns the context attached to tid, or nil when tid is free or
// expired.
func (r *TransactionRegistry) Get(tid string) *TransactionContext {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.borrowed[tid]
	if !ok || r.tp.Now().After(tx.expiresAt) {
		return nil
	}
	return tx.ctx
}

// Finish returns tid to the free pool. Finishing a free id is a no-op;
// an expired-but-borrowed id is reclaimable here.
func (r *TransactionRegistry) Finish(tid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishLocked(tid)
}

func (r *TransactionRegistry) finishLocked(tid string) {
	if _, ok := r.borrowed[tid]; !ok {
		return
	}
	delete(r.borrowed, tid)
	r.free = append(r.free, tid)
}

// IsValid reports whether tid is borrowed and unexpired.
func (r *TransactionRegistry) IsValid(tid string) bool {
	return r.Get(tid) != nil
}

// BorrowedCount returns how many ids are currently borrowed.
func (r *TransactionRegistry) BorrowedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.borrowed)
}

func (r *TransactionRegistry) reapExpiredLocked() {
	now := r.tp.Now()
	for tid, tx := range r.borrowed {
		if now.After(tx.expiresAt) {
			r.finishLocked(tid)
		}
	}
}

func (r *TransactionRegistry) reclaimOldestLocked(n int) {
	type entry struct {
		tid       string
		expiresAt time.Time
	}
	entries := make([]entry, 0, len(r.borrowed))
	for tid, tx := range r.borrowed {
		entries = append(entries, entry{tid, tx.expiresAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].expiresAt.Before(entries[j].expiresAt)
	})
	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] {
		r.finishLocked(e.tid)
	}
}
