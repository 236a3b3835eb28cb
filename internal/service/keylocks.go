package service

import (
	"sort"
	"sync"
)

// keyLocks is a registry of named mutexes: one lazily-created lock per key.
// It serializes the per-parcel and per-address critical sections without one
// global lock, so submissions on unrelated parcels run fully in parallel.
//
// Deadlock discipline: a caller holding one keyLocks entry may only acquire
// further entries through lockAll, which sorts keys ascending. Combined with
// the fixed parcel-before-address acquisition order in LedgerService this
// gives a single global lock order.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for key, creating it on first use. Entries are never
// removed: the key space (parcels, addresses) is bounded for one auction.
func (k *keyLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// lock acquires the single mutex for key and returns its unlock func.
func (k *keyLocks) lock(key string) func() {
	m := k.get(key)
	m.Lock()
	return m.Unlock
}

// lockAll acquires the mutexes for all keys in ascending order, deduplicated,
// and returns a func releasing them in reverse order.
func (k *keyLocks) lockAll(keys ...string) func() {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			uniq = append(uniq, key)
		}
	}
	sort.Strings(uniq)

	held := make([]*sync.Mutex, 0, len(uniq))
	for _, key := range uniq {
		m := k.get(key)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
