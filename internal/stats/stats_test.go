package stats

import (
	"testing"

	"github.com/voidframe/roomserver/internal/driver"
	"github.com/voidframe/roomserver/internal/presence"
)

func TestFlushWritesEncodedCounters(t *testing.T) {
	p := presence.NewLocal()
	defer p.Shutdown()
	d := driver.NewLocal()

	s := New(p, d, "p1")
	s.IncrRoomCount(2)
	s.IncrCCU(5)

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, err := p.HGet(hashKey, "p1")
	if err != nil {
		t.Fatalf("HGet: %v", err)
	}
	if got != "2,5" {
		t.Fatalf("got %q, want \"2,5\"", got)
	}
}

func TestFetchAllSubstitutesLocalEntry(t *testing.T) {
	p := presence.NewLocal()
	defer p.Shutdown()
	d := driver.NewLocal()

	// Simulate another process's already-flushed entry.
	if err := p.HSet(hashKey, "p2", "3,7"); err != nil {
		t.Fatalf("HSet: %v", err)
	}

	s := New(p, d, "p1")
	s.IncrRoomCount(1)
	s.IncrCCU(1)
	// Deliberately do not flush: FetchAll must still report the live local
	// counters for p1 rather than whatever (nothing) is in the hash.

	all, err := s.FetchAll()
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if all["p1"] != (Entry{RoomCount: 1, CCU: 1}) {
		t.Fatalf("got p1=%+v, want {1 1}", all["p1"])
	}
	if all["p2"] != (Entry{RoomCount: 3, CCU: 7}) {
		t.Fatalf("got p2=%+v, want {3 7}", all["p2"])
	}
}

func TestGlobalCCUSumsAllProcesses(t *testing.T) {
	p := presence.NewLocal()
	defer p.Shutdown()
	d := driver.NewLocal()

	if err := p.HSet(hashKey, "p2", "1,10"); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	s := New(p, d, "p1")
	s.IncrCCU(5)

	total, err := s.GlobalCCU()
	if err != nil {
		t.Fatalf("GlobalCCU: %v", err)
	}
	if total != 15 {
		t.Fatalf("got %d, want 15", total)
	}
}

func TestExcludeProcessRemovesEntryAndCleansRooms(t *testing.T) {
	p := presence.NewLocal()
	defer p.Shutdown()
	d := driver.NewLocal()

	if _, err := d.CreateInstance(driver.RoomCache{RoomID: "r1", Name: "arena", ProcessID: "dead"}); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if err := p.HSet(hashKey, "dead", "4,9"); err != nil {
		t.Fatalf("HSet: %v", err)
	}

	s := New(p, d, "self")
	if err := s.ExcludeProcess("dead"); err != nil {
		t.Fatalf("ExcludeProcess: %v", err)
	}

	if _, err := p.HGet(hashKey, "dead"); err != presence.ErrNotFound {
		t.Fatalf("expected hash entry removed, got err=%v", err)
	}
	if ok, _ := d.Has("r1"); ok {
		t.Fatal("expected room owned by excluded process to be cleaned up")
	}
}
