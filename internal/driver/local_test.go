package driver

import "testing"

func TestLocalFindOneExcludesUnlistedByDefault(t *testing.T) {
	l := NewLocal()
	if _, err := l.CreateInstance(RoomCache{RoomID: "r1", Name: "lobby", ProcessID: "p1", Unlisted: true}); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	if _, err := l.FindOne(Conditions{Name: "lobby"}, nil); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unlisted room, got %v", err)
	}

	unlisted := true
	rc, err := l.FindOne(Conditions{Name: "lobby", Unlisted: &unlisted}, nil)
	if err != nil {
		t.Fatalf("FindOne with explicit unlisted filter: %v", err)
	}
	if rc.RoomID != "r1" {
		t.Fatalf("got room %q, want r1", rc.RoomID)
	}
}

func TestLocalQuerySortsByClientsAscending(t *testing.T) {
	l := NewLocal()
	rooms := []RoomCache{
		{RoomID: "a", Name: "arena", ProcessID: "p1", Clients: 5, MaxClients: 10},
		{RoomID: "b", Name: "arena", ProcessID: "p1", Clients: 1, MaxClients: 10},
		{RoomID: "c", Name: "arena", ProcessID: "p1", Clients: 3, MaxClients: 10},
	}
	for _, rc := range rooms {
		if _, err := l.CreateInstance(rc); err != nil {
			t.Fatalf("CreateInstance: %v", err)
		}
	}

	out, err := l.Query(Conditions{Name: "arena"}, &Sort{Field: "clients"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d rooms, want 3", len(out))
	}
	if out[0].RoomID != "b" || out[1].RoomID != "c" || out[2].RoomID != "a" {
		t.Fatalf("unexpected order: %+v", out)
	}
}

func TestLocalFindOneExcludesFullRooms(t *testing.T) {
	l := NewLocal()
	if _, err := l.CreateInstance(RoomCache{RoomID: "full", Name: "arena", ProcessID: "p1", Clients: 2, MaxClients: 2}); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if _, err := l.CreateInstance(RoomCache{RoomID: "open", Name: "arena", ProcessID: "p1", Clients: 1, MaxClients: 2}); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	gte := 1
	rc, err := l.FindOne(Conditions{Name: "arena", MaxClientsGTE: &gte}, nil)
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if rc.RoomID != "open" {
		t.Fatalf("got %q, want open", rc.RoomID)
	}
}

func TestLocalUpdateOneAppliesSetAndInc(t *testing.T) {
	l := NewLocal()
	h, err := l.CreateInstance(RoomCache{RoomID: "r1", Name: "lobby", ProcessID: "p1", Clients: 1, MaxClients: 4})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	if err := h.UpdateOne(Update{Set: map[string]any{"locked": true}, Inc: map[string]int{"clients": 2}}); err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}

	got := h.Cache()
	if !got.Locked {
		t.Fatal("expected room locked after UpdateOne")
	}
	if got.Clients != 3 {
		t.Fatalf("got clients=%d, want 3", got.Clients)
	}
}

func TestLocalCleanupRemovesOnlyOwnedRooms(t *testing.T) {
	l := NewLocal()
	if _, err := l.CreateInstance(RoomCache{RoomID: "a", Name: "x", ProcessID: "dead"}); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if _, err := l.CreateInstance(RoomCache{RoomID: "b", Name: "x", ProcessID: "alive"}); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	if err := l.Cleanup("dead"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if ok, _ := l.Has("a"); ok {
		t.Fatal("expected room owned by dead process to be removed")
	}
	if ok, _ := l.Has("b"); !ok {
		t.Fatal("expected room owned by alive process to survive")
	}
}

func TestLocalRemoveDeletesHandle(t *testing.T) {
	l := NewLocal()
	h, err := l.CreateInstance(RoomCache{RoomID: "r1", Name: "lobby", ProcessID: "p1"})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if err := h.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ok, _ := l.Has("r1"); ok {
		t.Fatal("expected room removed")
	}
}
