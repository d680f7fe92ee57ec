// Package fdb implements the per-network forwarding database: a MAC address
// to port mapping with age-based expiry, ported from
// original_source/src/fdb.cc.
package fdb

import (
	"sync"
	"time"
)

// Addr is a 6-byte Ethernet hardware address.
type Addr [6]byte

// Port identifies a client's attachment point in the switch fabric.
type Port uint64

// Broadcast reports whether addr is the all-ones broadcast address.
func (a Addr) Broadcast() bool {
	for _, b := range a {
		if b != 0xff {
			return false
		}
	}
	return true
}

type entry struct {
	port     Port
	lastSeen time.Time
}

// age returns now - lastSeen, matching FdbValue::GetAge's "current time minus
// last seen" convention (not the inverted sign some source revisions carry).
func (e entry) age(now time.Time) time.Duration {
	return now.Sub(e.lastSeen)
}

// Fdb is a single network's forwarding database: Addr -> Port, with entries
// invalidated once they are strictly older than Ageing. A single mutex
// guards the whole map, matching fdb.cc's _fdb_write_mtx.
type Fdb struct {
	mu     sync.Mutex
	table  map[Addr]entry
	Ageing time.Duration
	// Now is injectable for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

// New returns an empty Fdb with the given ageing threshold.
func New(ageing time.Duration) *Fdb {
	return &Fdb{
		table:  make(map[Addr]entry),
		Ageing: ageing,
		Now:    time.Now,
	}
}

func (f *Fdb) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// Insert records that addr was last seen on port, refreshing an existing
// entry's timestamp in place or creating a new one. It reports true iff a
// new entry was created, mirroring Fdb::Insert's return value.
func (f *Fdb) Insert(port Port, addr Addr) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.table[addr]; ok {
		e.lastSeen = f.now()
		e.port = port
		f.table[addr] = e
		return false
	}
	f.table[addr] = entry{port: port, lastSeen: f.now()}
	return true
}

// Lookup returns the port last associated with addr, or 0 if unknown or the
// entry has aged out. An aged-out entry is erased on lookup (lazy
// expiration), matching Fdb::Lookup.
func (f *Fdb) Lookup(addr Addr) Port {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.table[addr]
	if !ok {
		return 0
	}
	if e.age(f.now()) > f.Ageing {
		delete(f.table, addr)
		return 0
	}
	return e.port
}

// Delete removes addr's entry if present, reporting whether one existed.
func (f *Fdb) Delete(addr Addr) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.table[addr]; !ok {
		return false
	}
	delete(f.table, addr)
	return true
}

// Discard removes every entry pointing at port (used when a port is unplugged
// or reassociated to a different network) and returns the number removed,
// matching Fdb::Discard.
func (f *Fdb) Discard(port Port) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for addr, e := range f.table {
		if e.port == port {
			delete(f.table, addr)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, including aged-out ones that no
// Lookup has pruned yet.
// Intended for metrics/diagnostics, not forwarding decisions.
func (f *Fdb) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.table)
}
