// Package dict provides the open-addressing hash table that backs the
// server's keyspace: a string-to-string map with linear probing, lazy
// growth, and an enumeration primitive.
package dict

import (
	"sync"

	"github.com/cespare/xxhash"
)

// slotState distinguishes a slot that has never been occupied from one
// that held an entry and was deleted. Collapsing these two states into
// a single boolean (as the reference implementation does) makes
// probing terminate at the wrong point after a delete: a lookup that
// should skip past a tombstone to find a later entry instead stops
// there, and a delete that should stop at the first true empty can walk
// off the end of the table. Keeping them distinct is required for the
// probe sequence to be correct.
type slotState uint8

const (
	slotEmpty slotState = iota
	slotOccupied
	slotTombstone
)

type slot struct {
	key   string
	value string
	hash  uint32
	state slotState
}

// Dict is a string-to-string open-addressing hash table. The zero value
// is not usable; construct with New.
type Dict struct {
	mu       sync.Mutex
	slots    []slot
	entries  int // live (non-empty, non-tombstone) slot count
	capacity int
}

const (
	defaultCapacity = 16
	maxLoadPercent  = 50
)

// New creates an empty dictionary with a small initial capacity.
func New() *Dict {
	return &Dict{
		slots:    make([]slot, defaultCapacity),
		capacity: defaultCapacity,
	}
}

// hashKey reduces a key to a u32 via xxhash, a well-known non-
// cryptographic mixer. This replaces the byte-sum hash of the original
// implementation, which collides on any anagram of a key.
func hashKey(key string) uint32 {
	return uint32(xxhash.Sum64([]byte(key)))
}

// Get returns the value associated with k, if present. Pure read; never
// mutates the table.
func (d *Dict) Get(k string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx, ok := d.find(k)
	if !ok {
		return "", false
	}
	return d.slots[idx].value, true
}

// Contains reports whether k is present.
func (d *Dict) Contains(k string) bool {
	_, ok := d.Get(k)
	return ok
}

// Put inserts k, or overwrites its value if already present. Grows the
// table first if the load factor, measured before the insert, exceeds 50%.
func (d *Dict) Put(k, v string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loadPercent() > maxLoadPercent {
		d.grow()
	}

	h := hashKey(k)
	home := int(h % uint32(d.capacity))
	firstTombstone := -1

	for i := 0; i < d.capacity; i++ {
		idx := (home + i) % d.capacity
		s := &d.slots[idx]

		switch s.state {
		case slotEmpty:
			target := idx
			if firstTombstone >= 0 {
				target = firstTombstone
			}
			d.slots[target] = slot{key: k, value: v, hash: h, state: slotOccupied}
			d.entries++
			return
		case slotTombstone:
			if firstTombstone < 0 {
				firstTombstone = idx
			}
		case slotOccupied:
			if s.hash == h && s.key == k {
				s.value = v
				return
			}
		}
	}

	// Table is full of tombstones/entries with no match and no empty
	// slot found within one full probe cycle. The load-factor check
	// above counts live entries only, so repeated set/del cycles can
	// leave every non-live slot a tombstone; reusing the first tombstone
	// we saw keeps Put total rather than silently dropping the write.
	if firstTombstone >= 0 {
		d.slots[firstTombstone] = slot{key: k, value: v, hash: h, state: slotOccupied}
		d.entries++
	}
}

// Delete removes k if present, marking its slot as a tombstone so later
// probes for other keys continue past it.
func (d *Dict) Delete(k string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx, ok := d.find(k)
	if !ok {
		return
	}
	d.slots[idx] = slot{state: slotTombstone}
	d.entries--
}

// GetAndDelete atomically reads and removes k, returning its prior
// value. This backs the del command, which must return the value that
// was removed.
func (d *Dict) GetAndDelete(k string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx, ok := d.find(k)
	if !ok {
		return "", false
	}
	v := d.slots[idx].value
	d.slots[idx] = slot{state: slotTombstone}
	d.entries--
	return v, true
}

// Keys returns all live keys in arbitrary but stable-per-snapshot order.
func (d *Dict) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, d.entries)
	for _, s := range d.slots {
		if s.state == slotOccupied {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// Len returns the number of live entries.
func (d *Dict) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entries
}

// Cap returns the current table capacity.
func (d *Dict) Cap() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capacity
}

// Snapshot returns a point-in-time copy of all live entries, for
// metrics and tests.
func (d *Dict) Snapshot() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]string, d.entries)
	for _, s := range d.slots {
		if s.state == slotOccupied {
			out[s.key] = s.value
		}
	}
	return out
}

// find returns the slot index holding k, stopping at a true empty slot
// (a miss) or the matching occupied slot (a hit). Tombstones are
// skipped, never treated as a stopping point.
func (d *Dict) find(k string) (int, bool) {
	h := hashKey(k)
	home := int(h % uint32(d.capacity))

	for i := 0; i < d.capacity; i++ {
		idx := (home + i) % d.capacity
		s := &d.slots[idx]

		switch s.state {
		case slotEmpty:
			return 0, false
		case slotOccupied:
			if s.hash == h && s.key == k {
				return idx, true
			}
		case slotTombstone:
			// keep probing
		}
	}
	return 0, false
}

// loadPercent returns the current load factor as entries*100/capacity.
func (d *Dict) loadPercent() int {
	return 100 * d.entries / d.capacity
}

// grow doubles the table capacity and rehashes every live entry. Called
// with the lock held.
func (d *Dict) grow() {
	old := d.slots
	d.capacity *= 2
	d.slots = make([]slot, d.capacity)
	d.entries = 0

	for _, s := range old {
		if s.state != slotOccupied {
			continue
		}
		d.insertDuringGrow(s.key, s.value, s.hash)
	}
}

// insertDuringGrow places an entry into the freshly grown table. The
// table is known to have no duplicate keys and enough headroom, so this
// is a simpler probe than Put's (no tombstones exist yet, no resize
// check needed).
func (d *Dict) insertDuringGrow(k, v string, h uint32) {
	home := int(h % uint32(d.capacity))
	for i := 0; i < d.capacity; i++ {
		idx := (home + i) % d.capacity
		if d.slots[idx].state == slotEmpty {
			d.slots[idx] = slot{key: k, value: v, hash: h, state: slotOccupied}
			d.entries++
			return
		}
	}
}
