package peertable

import (
	"testing"
	"time"

	"github.com/d4l3k/messagediff"
)

func TestUpsertAndGet(t *testing.T) {
	tbl := New("alice", []string{"127.0.0.1", "10.0.0.5"})
	now := time.Now()
	tbl.Upsert("bob", "10.0.0.6", now)

	rec, ok := tbl.Get("bob")
	if !ok {
		t.Fatal("expected bob to be present")
	}
	if rec.Address != "10.0.0.6" {
		t.Fatalf("address = %q", rec.Address)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	tbl := New("alice", nil)
	now := time.Now()
	tbl.Upsert("bob", "10.0.0.6", now)
	before := tbl.Snapshot()
	tbl.Upsert("bob", "10.0.0.6", now)
	after := tbl.Snapshot()

	if len(before) != 1 || len(after) != 1 {
		t.Fatalf("expected exactly one record, got %d and %d", len(before), len(after))
	}
	if diff, equal := messagediff.PrettyDiff(before[0].UID, after[0].UID); !equal {
		t.Fatalf("UID changed across idempotent upsert: %s", diff)
	}
}

func TestSameAddressEviction(t *testing.T) {
	tbl := New("alice", nil)
	now := time.Now()
	tbl.Upsert("bob", "10.0.0.6", now)
	tbl.Upsert("bob-renamed", "10.0.0.6", now.Add(time.Second))

	if _, ok := tbl.Get("bob"); ok {
		t.Fatal("old UID at the same address should have been evicted")
	}
	rec, ok := tbl.Get("bob-renamed")
	if !ok || rec.Address != "10.0.0.6" {
		t.Fatalf("bob-renamed not upserted correctly: %+v ok=%v", rec, ok)
	}
}

func TestSnapshotExcludesLocalAddresses(t *testing.T) {
	tbl := New("alice", []string{"127.0.0.1", "192.168.1.5"})
	now := time.Now()
	tbl.Upsert("bob", "192.168.1.5", now) // should be dropped: local address
	tbl.Upsert("carol", "192.168.1.9", now)

	snap := tbl.Snapshot()
	for _, rec := range snap {
		if rec.Address == "192.168.1.5" {
			t.Fatalf("snapshot contains a local address: %+v", rec)
		}
	}
	if len(snap) != 1 || snap[0].UID != "carol" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestSnapshotNoDuplicateUIDs(t *testing.T) {
	tbl := New("alice", nil)
	now := time.Now()
	tbl.Upsert("bob", "10.0.0.1", now)
	tbl.Upsert("carol", "10.0.0.2", now)

	seen := make(map[string]bool)
	for _, rec := range tbl.Snapshot() {
		if seen[rec.UID] {
			t.Fatalf("duplicate UID in snapshot: %s", rec.UID)
		}
		seen[rec.UID] = true
	}
}

func TestClassifyOnlineOffline(t *testing.T) {
	tbl := New("alice", nil)
	now := time.Now()
	tbl.Upsert("bob", "10.0.0.1", now.Add(-30*time.Second))
	tbl.Upsert("carol", "10.0.0.2", now)

	online, offline := tbl.Classify(now)
	if len(online) != 1 || online[0].UID != "carol" {
		t.Fatalf("unexpected online set: %+v", online)
	}
	if len(offline) != 1 || offline[0].UID != "bob" {
		t.Fatalf("unexpected offline set: %+v", offline)
	}
}

func TestLocalUIDNeverStored(t *testing.T) {
	tbl := New("alice", nil)
	tbl.Upsert("alice", "10.0.0.9", time.Now())
	if _, ok := tbl.Get("alice"); ok {
		t.Fatal("local UID must never be stored")
	}
}

func TestSeedSkipsLocal(t *testing.T) {
	tbl := New("alice", []string{"127.0.0.1"})
	tbl.Seed([]Record{
		{UID: "alice", Address: "10.0.0.1", LastSeen: time.Now()},
		{UID: "bob", Address: "127.0.0.1", LastSeen: time.Now()},
		{UID: "carol", Address: "10.0.0.2", LastSeen: time.Now()},
	})
	snap := tbl.Snapshot()
	if len(snap) != 1 || snap[0].UID != "carol" {
		t.Fatalf("unexpected seeded snapshot: %+v", snap)
	}
}
