// Package peertable implements the in-memory mapping from peer identifier
// to {address, last_seen} described in spec §4.2, including same-address
// eviction and self-filtering against the local host's addresses.
package peertable

import (
	"sync"
	"time"
)

// OfflineThreshold is the age beyond which a peer record is considered
// offline (spec §3, "OFFLINE_THRESHOLD").
const OfflineThreshold = 20 * time.Second

// Record is one PeerTable entry.
type Record struct {
	UID      string // trimmed representation, used as the map key
	Address  string // IPv4 dotted-quad, no port
	LastSeen time.Time
}

// Online reports whether the record is online at instant now.
func (r Record) Online(now time.Time) bool {
	return now.Sub(r.LastSeen) < OfflineThreshold
}

// Table is a thread-safe PeerTable. The zero value is not usable; use New.
type Table struct {
	mu    sync.Mutex
	byUID map[string]Record

	// localAddrs is the set of addresses that belong to this host; no
	// record is ever kept for these, and Snapshot filters them out
	// defensively even if one slipped in by some other path.
	localAddrs map[string]struct{}

	// selfUID is never stored, even if it is reported from a non-local
	// address (e.g. a stale echo looped back through a switch).
	selfUID string
}

// New creates an empty Table. selfUID is the trimmed local identifier;
// localAddrs is the full set of this host's addresses (§4.3 records this
// including 127.0.0.1).
func New(selfUID string, localAddrs []string) *Table {
	t := &Table{
		byUID:      make(map[string]Record),
		localAddrs: make(map[string]struct{}, len(localAddrs)),
		selfUID:    selfUID,
	}
	for _, a := range localAddrs {
		t.localAddrs[a] = struct{}{}
	}
	return t
}

func (t *Table) isLocalAddr(addr string) bool {
	_, ok := t.localAddrs[addr]
	return ok
}

// Upsert records or refreshes a peer. Per spec §4.2/§4.3, any existing
// record at the same address but a different UID is evicted first, and
// the local UID and local addresses are never stored.
func (t *Table) Upsert(uid, address string, now time.Time) {
	if uid == t.selfUID || t.isLocalAddr(address) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictSameAddressLocked(uid, address)
	t.byUID[uid] = Record{UID: uid, Address: address, LastSeen: now}
}

// evictSameAddressLocked removes any record whose address matches address
// but whose UID differs from uid. Caller must hold t.mu.
func (t *Table) evictSameAddressLocked(uid, address string) {
	for existingUID, rec := range t.byUID {
		if rec.Address == address && existingUID != uid {
			delete(t.byUID, existingUID)
		}
	}
}

// Get returns the record for uid, if any.
func (t *Table) Get(uid string) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.byUID[uid]
	return rec, ok
}

// Evict removes uid unconditionally.
func (t *Table) Evict(uid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byUID, uid)
}

// Snapshot returns an independent copy of the table, filtered against the
// local-address set, so callers never iterate under the table's lock.
func (t *Table) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, 0, len(t.byUID))
	for _, rec := range t.byUID {
		if t.isLocalAddr(rec.Address) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Classify partitions the table into online and offline peers as of now.
func (t *Table) Classify(now time.Time) (online, offline []Record) {
	for _, rec := range t.Snapshot() {
		if rec.Online(now) {
			online = append(online, rec)
		} else {
			offline = append(offline, rec)
		}
	}
	return online, offline
}

// Seed bulk-loads records without applying same-address eviction between
// them — used at startup to restore a previous snapshot (SPEC_FULL §3.3)
// before Discovery's broadcast loop has run. Entries whose address is
// local, or whose UID is the local UID, are skipped, same as Upsert.
func (t *Table) Seed(records []Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range records {
		if rec.UID == t.selfUID || t.isLocalAddr(rec.Address) {
			continue
		}
		t.byUID[rec.UID] = rec
	}
}
