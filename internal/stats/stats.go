// Package stats implements the per-process counters and shared process
// registry described in spec.md §4.4: local {roomCount, ccu}, flushed into a
// fleet-wide "roomcount" hash at most once per second.
package stats

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voidframe/roomserver/internal/driver"
	"github.com/voidframe/roomserver/internal/presence"
)

// hashKey is the shared presence hash all processes flush into.
const hashKey = "roomcount"

// flushInterval bounds flush frequency: a dirty mark arms a timer that
// fires at most once per second, coalescing bursts of join/leave/create
// activity into a single presence write.
const flushInterval = time.Second

// Entry is one process's counters.
type Entry struct {
	RoomCount int
	CCU       int
}

// Stats tracks this process's local counters and flushes them to the
// shared hash, coalescing writes under load.
type Stats struct {
	presence  presence.Presence
	driver    driver.Driver
	processID string

	mu        sync.Mutex
	roomCount int
	ccu       int
	dirty     bool
	timer     *time.Timer
}

// New wires a Stats tracker for processID onto presence and driver (driver
// is used by ExcludeProcess to clean up orphaned room caches).
func New(p presence.Presence, d driver.Driver, processID string) *Stats {
	return &Stats{presence: p, driver: d, processID: processID}
}

// IncrRoomCount adds delta (negative to decrement); called by the
// matchmaker's create and dispose hooks.
func (s *Stats) IncrRoomCount(delta int) {
	s.mu.Lock()
	s.roomCount += delta
	s.markDirtyLocked()
	s.mu.Unlock()
}

// IncrCCU adds delta (negative to decrement); called by the room
// runtime's join/leave hooks.
func (s *Stats) IncrCCU(delta int) {
	s.mu.Lock()
	s.ccu += delta
	s.markDirtyLocked()
	s.mu.Unlock()
}

func (s *Stats) Local() Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Entry{RoomCount: s.roomCount, CCU: s.ccu}
}

// markDirtyLocked arms the coalesced flush timer if one isn't already
// pending. Must be called with s.mu held.
func (s *Stats) markDirtyLocked() {
	s.dirty = true
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(flushInterval, s.flush)
}

func (s *Stats) flush() {
	s.mu.Lock()
	if !s.dirty {
		s.timer = nil
		s.mu.Unlock()
		return
	}
	value := encode(s.roomCount, s.ccu)
	s.dirty = false
	s.timer = nil
	s.mu.Unlock()

	if err := s.presence.HSet(hashKey, s.processID, value); err != nil {
		log.Error().Str("module", "stats").Str("processId", s.processID).Err(err).Msg("flush roomcount")
	}
}

// Flush forces an immediate write, bypassing the coalescing timer.
func (s *Stats) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	value := encode(s.roomCount, s.ccu)
	s.dirty = false
	s.mu.Unlock()
	return s.presence.HSet(hashKey, s.processID, value)
}

// FetchAll reads every process's entry from the shared hash, substituting
// this process's own live local counters to avoid reading back
// not-yet-flushed stale data (spec.md §4.4).
func (s *Stats) FetchAll() (map[string]Entry, error) {
	raw, err := s.presence.HGetAll(hashKey)
	if err != nil {
		return nil, fmt.Errorf("stats: fetch roomcount hash: %w", err)
	}
	out := make(map[string]Entry, len(raw))
	for pid, v := range raw {
		e, err := decode(v)
		if err != nil {
			continue
		}
		out[pid] = e
	}
	out[s.processID] = s.Local()
	return out, nil
}

// GlobalCCU sums CCU across every known process.
func (s *Stats) GlobalCCU() (int, error) {
	all, err := s.FetchAll()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, e := range all {
		total += e.CCU
	}
	return total, nil
}

// ExcludeProcess removes processID's entry from the shared hash and cleans
// up any room caches it still owns (e.g. after it fails a health check and
// is considered dead; spec.md §4.4).
func (s *Stats) ExcludeProcess(processID string) error {
	if err := s.presence.HDel(hashKey, processID); err != nil {
		return fmt.Errorf("stats: remove process %q: %w", processID, err)
	}
	if err := s.driver.Cleanup(processID); err != nil {
		return fmt.Errorf("stats: cleanup rooms for process %q: %w", processID, err)
	}
	return nil
}

func encode(roomCount, ccu int) string {
	return strconv.Itoa(roomCount) + "," + strconv.Itoa(ccu)
}

func decode(v string) (Entry, error) {
	parts := strings.SplitN(v, ",", 2)
	if len(parts) != 2 {
		return Entry{}, fmt.Errorf("stats: malformed entry %q", v)
	}
	roomCount, err := strconv.Atoi(parts[0])
	if err != nil {
		return Entry{}, fmt.Errorf("stats: malformed roomCount in %q: %w", v, err)
	}
	ccu, err := strconv.Atoi(parts[1])
	if err != nil {
		return Entry{}, fmt.Errorf("stats: malformed ccu in %q: %w", v, err)
	}
	return Entry{RoomCount: roomCount, CCU: ccu}, nil
}
