package driver

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/voidframe/roomserver/internal/presence"
)

// roomCachesHash is the single presence hash all processes share
// (spec.md §6).
const roomCachesHash = "roomcaches"

// cleanupBatchSize bounds how many HDel fields are removed per presence
// call (spec.md §4.3).
const cleanupBatchSize = 500

// Distributed is the presence-backed Driver: one hash, fetched and
// filtered in memory, with the whole-hash fetch coalesced across
// concurrent callers via singleflight, plus a second, per-roomName
// memoization layer scoped to a single fetch.
type Distributed struct {
	presence presence.Presence
	fetchSF  singleflight.Group
}

// NewDistributed wires a Distributed driver onto an existing Presence
// instance (Local, shared across simulated processes in tests, or NATS in
// production).
func NewDistributed(p presence.Presence) *Distributed {
	return &Distributed{presence: p}
}

type distributedHandle struct {
	d  *Distributed
	rc RoomCache
}

func (d *Distributed) CreateInstance(initial RoomCache) (Handle, error) {
	h := &distributedHandle{d: d, rc: initial}
	if err := h.Save(); err != nil {
		return nil, err
	}
	return h, nil
}

func (d *Distributed) Has(roomID string) (bool, error) {
	_, err := d.presence.HGet(roomCachesHash, roomID)
	if err == presence.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// fetchAll retrieves and JSON-decodes the whole roomcaches hash, with
// concurrent callers collapsed onto a single in-flight presence.HGetAll
// call (spec.md §4.3: "a single in-flight fetch future is shared").
func (d *Distributed) fetchAll() (map[string]RoomCache, error) {
	v, err, _ := d.fetchSF.Do("fetch-all", func() (any, error) {
		raw, err := d.presence.HGetAll(roomCachesHash)
		if err != nil {
			return nil, err
		}
		out := make(map[string]RoomCache, len(raw))
		for roomID, blob := range raw {
			var rc RoomCache
			if err := json.Unmarshal([]byte(blob), &rc); err != nil {
				continue // corrupt entry: skip rather than fail the whole query
			}
			out[roomID] = rc
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]RoomCache), nil
}

// queryByName reads the raw hash itself and is coalesced per roomName
// while a call is in flight: concurrent FindOne/Query calls for the same
// room name share one read and one filter pass over the raw hash.
func (d *Distributed) queryByName(roomName string) ([]RoomCache, error) {
	key := "name:" + roomName
	v, err, _ := d.fetchSF.Do(key, func() (any, error) {
		raw, err := d.presence.HGetAll(roomCachesHash)
		if err != nil {
			return nil, err
		}
		out := make([]RoomCache, 0)
		needle := `"name":"` + roomName + `"`
		for _, blob := range raw {
			// Pre-filter on the raw string before paying for JSON decode:
			// skips the overwhelming majority of non-matching entries
			// under a large fleet-wide hash.
			if roomName != "" && !strings.Contains(blob, needle) {
				continue
			}
			var rc RoomCache
			if err := json.Unmarshal([]byte(blob), &rc); err != nil {
				continue
			}
			if roomName == "" || rc.Name == roomName {
				out = append(out, rc)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]RoomCache), nil
}

func (d *Distributed) FindOne(cond Conditions, sort *Sort) (*RoomCache, error) {
	caches, err := d.Query(cond, sort)
	if err != nil {
		return nil, err
	}
	if len(caches) == 0 {
		return nil, ErrNotFound
	}
	return &caches[0], nil
}

func (d *Distributed) Query(cond Conditions, sort *Sort) ([]RoomCache, error) {
	var candidates []RoomCache
	var err error
	if cond.Name != "" {
		candidates, err = d.queryByName(cond.Name)
	} else {
		var all map[string]RoomCache
		all, err = d.fetchAll()
		if err == nil {
			candidates = make([]RoomCache, 0, len(all))
			for _, rc := range all {
				candidates = append(candidates, rc)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([]RoomCache, 0, len(candidates))
	for _, rc := range candidates {
		if matches(rc, cond) {
			out = append(out, rc)
		}
	}
	sortCaches(out, sort)
	return out, nil
}

// Cleanup removes every roomcaches field owned by processID, in batches of
// at most cleanupBatchSize HDel fields per presence call.
func (d *Distributed) Cleanup(processID string) error {
	all, err := d.presence.HGetAll(roomCachesHash)
	if err != nil {
		return err
	}
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := d.presence.HDel(roomCachesHash, batch...)
		batch = batch[:0]
		return err
	}
	for roomID, blob := range all {
		var rc RoomCache
		if err := json.Unmarshal([]byte(blob), &rc); err != nil {
			continue
		}
		if rc.ProcessID != processID {
			continue
		}
		batch = append(batch, roomID)
		if len(batch) >= cleanupBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (h *distributedHandle) Cache() RoomCache { return h.rc }

func (h *distributedHandle) Save() error {
	b, err := json.Marshal(h.rc)
	if err != nil {
		return fmt.Errorf("driver: marshal room cache: %w", err)
	}
	return h.d.presence.HSet(roomCachesHash, h.rc.RoomID, string(b))
}

func (h *distributedHandle) UpdateOne(u Update) error {
	applyUpdate(&h.rc, u)
	return h.Save()
}

func (h *distributedHandle) Remove() error {
	return h.d.presence.HDel(roomCachesHash, h.rc.RoomID)
}
