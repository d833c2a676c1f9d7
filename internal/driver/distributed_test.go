package driver

import (
	"sync"
	"testing"

	"github.com/voidframe/roomserver/internal/presence"
)

func TestDistributedFindOneExcludesUnlistedByDefault(t *testing.T) {
	p := presence.NewLocal()
	defer p.Shutdown()
	d := NewDistributed(p)

	if _, err := d.CreateInstance(RoomCache{RoomID: "r1", Name: "lobby", ProcessID: "p1", Unlisted: true}); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	if _, err := d.FindOne(Conditions{Name: "lobby"}, nil); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	unlisted := true
	rc, err := d.FindOne(Conditions{Name: "lobby", Unlisted: &unlisted}, nil)
	if err != nil {
		t.Fatalf("FindOne with explicit filter: %v", err)
	}
	if rc.RoomID != "r1" {
		t.Fatalf("got %q, want r1", rc.RoomID)
	}
}

func TestDistributedQueryFiltersByName(t *testing.T) {
	p := presence.NewLocal()
	defer p.Shutdown()
	d := NewDistributed(p)

	for _, rc := range []RoomCache{
		{RoomID: "a", Name: "arena", ProcessID: "p1", MaxClients: 10},
		{RoomID: "b", Name: "lobby", ProcessID: "p1", MaxClients: 10},
		{RoomID: "c", Name: "arena", ProcessID: "p2", MaxClients: 10},
	} {
		if _, err := d.CreateInstance(rc); err != nil {
			t.Fatalf("CreateInstance: %v", err)
		}
	}

	out, err := d.Query(Conditions{Name: "arena"}, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d rooms, want 2", len(out))
	}
}

func TestDistributedCleanupRemovesOnlyOwnedRooms(t *testing.T) {
	p := presence.NewLocal()
	defer p.Shutdown()
	d := NewDistributed(p)

	if _, err := d.CreateInstance(RoomCache{RoomID: "a", Name: "x", ProcessID: "dead"}); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if _, err := d.CreateInstance(RoomCache{RoomID: "b", Name: "x", ProcessID: "alive"}); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	if err := d.Cleanup("dead"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if ok, _ := d.Has("a"); ok {
		t.Fatal("expected room owned by dead process to be removed")
	}
	if ok, _ := d.Has("b"); !ok {
		t.Fatal("expected room owned by alive process to survive")
	}
}

func TestDistributedUpdateOnePersistsThroughPresence(t *testing.T) {
	p := presence.NewLocal()
	defer p.Shutdown()
	d := NewDistributed(p)

	h, err := d.CreateInstance(RoomCache{RoomID: "r1", Name: "lobby", ProcessID: "p1", Clients: 1, MaxClients: 4})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if err := h.UpdateOne(Update{Inc: map[string]int{"clients": 1}}); err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}

	rc, err := d.FindOne(Conditions{Name: "lobby"}, nil)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if rc.Clients != 2 {
		t.Fatalf("got clients=%d, want 2", rc.Clients)
	}
}

// TestDistributedFetchAllCoalescesConcurrentCallers exercises the
// singleflight path directly; it can't observe call counts against
// presence.Local, only that concurrent Query calls don't race or error.
func TestDistributedFetchAllCoalescesConcurrentCallers(t *testing.T) {
	p := presence.NewLocal()
	defer p.Shutdown()
	d := NewDistributed(p)

	for i := 0; i < 20; i++ {
		if _, err := d.CreateInstance(RoomCache{RoomID: string(rune('a' + i)), Name: "arena", ProcessID: "p1", MaxClients: 10}); err != nil {
			t.Fatalf("CreateInstance: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Query(Conditions{}, nil); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Query failed: %v", err)
	}
}
