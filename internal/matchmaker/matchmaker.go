// Package matchmaker implements process/room selection, concurrent
// join-or-create, and seat reservation (spec.md §4.5): the entry point
// clients (or an HTTP matchmaking surface, out of this repo's scope) use
// to find or create a room.
package matchmaker

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voidframe/roomserver/internal/driver"
	"github.com/voidframe/roomserver/internal/ipc"
	"github.com/voidframe/roomserver/internal/presence"
	"github.com/voidframe/roomserver/internal/room"
	"github.com/voidframe/roomserver/internal/stats"
)

// Status is the matchmaker's own lifecycle, distinct from any Room's
// (spec.md §4.8 "Transition matchmaker to SHUTTING_DOWN").
type Status int

const (
	StatusRunning Status = iota
	StatusShuttingDown
)

// SelectProcessFunc chooses which process should host a new room
// (spec.md §4.5 "Process selection"). roomCounts is the fleet-wide
// snapshot from stats.FetchAll.
type SelectProcessFunc func(roomName string, options map[string]any, roomCounts map[string]stats.Entry, selfProcessID string) string

// ReservedRoom is what join/create operations hand back to the caller
// (spec.md §4.5 public surface).
type ReservedRoom struct {
	Room      driver.RoomCache
	SessionID string
}

// Matchmaker is process-scoped: one instance runs per server process,
// registered handlers are immutable after Define, and it owns every Room
// this process hosts directly (spec.md §3 "Ownership and lifecycle").
type Matchmaker struct {
	ProcessID    string
	Presence     presence.Presence
	Driver       driver.Driver
	Stats        *stats.Stats
	DevMode      bool
	HealthChecks bool

	SelectProcessIdToCreateRoom SelectProcessFunc

	mu             sync.RWMutex
	status         Status
	handlers       map[string]*room.Handler
	rooms          map[string]*room.Room
	roomDispatchers map[string]*ipc.Dispatcher

	dispatcher *ipc.Dispatcher
}

// New wires a Matchmaker for processID onto shared presence/driver/stats,
// subscribing its process inbox ("p:<processId>") for cross-process
// create/join requests (spec.md §4.5 create path step 2).
func New(processID string, p presence.Presence, d driver.Driver, s *stats.Stats) (*Matchmaker, error) {
	m := &Matchmaker{
		ProcessID:                   processID,
		Presence:                    p,
		Driver:                      d,
		Stats:                       s,
		SelectProcessIdToCreateRoom: defaultSelectProcessIdToCreateRoom,
		handlers:                    make(map[string]*room.Handler),
		rooms:                       make(map[string]*room.Room),
		roomDispatchers:             make(map[string]*ipc.Dispatcher),
	}
	dispatcher, err := ipc.NewDispatcher(p, processTopic(processID))
	if err != nil {
		return nil, err
	}
	m.dispatcher = dispatcher
	dispatcher.Handle("createRoom", m.handleRemoteCreateRoom)
	return m, nil
}

func processTopic(processID string) string { return "p:" + processID }
func roomTopic(roomID string) string       { return "$" + roomID }

// Define registers a RoomHandler, immutable for the process's lifetime
// once registered (spec.md §3 RoomHandler, §4.5 "define").
func (m *Matchmaker) Define(h *room.Handler) {
	m.mu.Lock()
	m.handlers[h.RoomName] = h
	m.mu.Unlock()
}

func (m *Matchmaker) handler(roomName string) (*room.Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[roomName]
	return h, ok
}

func (m *Matchmaker) localRoom(roomID string) (*room.Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	return r, ok
}

func (m *Matchmaker) registerLocalRoom(r *room.Room) {
	m.mu.Lock()
	m.rooms[r.RoomID] = r
	m.mu.Unlock()
}

func (m *Matchmaker) unregisterLocalRoom(roomID string) {
	m.mu.Lock()
	delete(m.rooms, roomID)
	m.mu.Unlock()
}

func (m *Matchmaker) bindRoomDispatcher(roomID string, d *ipc.Dispatcher) {
	m.mu.Lock()
	m.roomDispatchers[roomID] = d
	m.mu.Unlock()
}

func (m *Matchmaker) unbindRoomDispatcher(roomID string) {
	m.mu.Lock()
	d, ok := m.roomDispatchers[roomID]
	delete(m.roomDispatchers, roomID)
	m.mu.Unlock()
	if ok {
		_ = d.Close()
	}
}

func (m *Matchmaker) isShuttingDown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status == StatusShuttingDown
}

func mergeOptions(defaults, override map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(override))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func (m *Matchmaker) logf(roomName, event string) {
	log.Info().Str("module", "matchmaker").Str("processId", m.ProcessID).Str("roomName", roomName).Msg(event)
}
