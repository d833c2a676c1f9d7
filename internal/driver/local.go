package driver

import "sync"

// Local is an in-memory Driver: the rooms live as long as this process
// does, filtering and sorting happen directly over the slice.
type Local struct {
	mu    sync.RWMutex
	rooms map[string]*localHandle
}

// NewLocal returns an empty in-memory Driver.
func NewLocal() *Local {
	return &Local{rooms: make(map[string]*localHandle)}
}

type localHandle struct {
	d  *Local
	mu sync.Mutex
	rc RoomCache
}

func (l *Local) CreateInstance(initial RoomCache) (Handle, error) {
	h := &localHandle{d: l, rc: initial}
	l.mu.Lock()
	l.rooms[initial.RoomID] = h
	l.mu.Unlock()
	return h, nil
}

func (l *Local) Has(roomID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.rooms[roomID]
	return ok, nil
}

func (l *Local) snapshot() []RoomCache {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]RoomCache, 0, len(l.rooms))
	for _, h := range l.rooms {
		h.mu.Lock()
		out = append(out, h.rc)
		h.mu.Unlock()
	}
	return out
}

func (l *Local) FindOne(cond Conditions, sort *Sort) (*RoomCache, error) {
	caches, err := l.Query(cond, sort)
	if err != nil {
		return nil, err
	}
	if len(caches) == 0 {
		return nil, ErrNotFound
	}
	return &caches[0], nil
}

func (l *Local) Query(cond Conditions, sort *Sort) ([]RoomCache, error) {
	all := l.snapshot()
	out := make([]RoomCache, 0, len(all))
	for _, rc := range all {
		if matches(rc, cond) {
			out = append(out, rc)
		}
	}
	sortCaches(out, sort)
	return out, nil
}

func (l *Local) Cleanup(processID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, h := range l.rooms {
		h.mu.Lock()
		owner := h.rc.ProcessID
		h.mu.Unlock()
		if owner == processID {
			delete(l.rooms, id)
		}
	}
	return nil
}

func (h *localHandle) Cache() RoomCache {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rc
}

func (h *localHandle) Save() error {
	h.d.mu.Lock()
	h.d.rooms[h.rc.RoomID] = h
	h.d.mu.Unlock()
	return nil
}

func (h *localHandle) UpdateOne(u Update) error {
	h.mu.Lock()
	applyUpdate(&h.rc, u)
	h.mu.Unlock()
	return nil
}

func (h *localHandle) Remove() error {
	h.d.mu.Lock()
	delete(h.d.rooms, h.rc.RoomID)
	h.d.mu.Unlock()
	return nil
}

func applyUpdate(rc *RoomCache, u Update) {
	for k, v := range u.Set {
		switch k {
		case "locked":
			if b, ok := v.(bool); ok {
				rc.Locked = b
			}
		case "private":
			if b, ok := v.(bool); ok {
				rc.Private = b
			}
		case "unlisted":
			if b, ok := v.(bool); ok {
				rc.Unlisted = b
			}
		case "clients":
			if n, ok := v.(int); ok {
				rc.Clients = n
			}
		case "metadata":
			if m, ok := v.(map[string]any); ok {
				rc.Metadata = m
			}
		}
	}
	for k, delta := range u.Inc {
		if k == "clients" {
			rc.Clients += delta
		}
	}
}
