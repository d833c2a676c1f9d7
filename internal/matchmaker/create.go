package matchmaker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voidframe/roomserver/internal/driver"
	"github.com/voidframe/roomserver/internal/ipc"
	"github.com/voidframe/roomserver/internal/presence"
	"github.com/voidframe/roomserver/internal/room"
)

// concurrencyField is the single hash field used for the fleet-wide
// create-room slot counter (spec.md §4.5 create path step 1).
const concurrencyField = "create"

// maxConcurrentCreateRoomWaitTime bounds how long a contending follower
// waits for the winner's rendezvous broadcast before giving up and
// retrying independently (spec.md §5 "MAX_CONCURRENT_CREATE_ROOM_WAIT_TIME").
const maxConcurrentCreateRoomWaitTime = 3 * time.Second

func concurrencyHashKey(roomName string) string { return "ch:" + roomName }
func concurrencyListKey(roomName string) string { return "l:" + roomName + ":" + concurrencyField }

// createRoom implements spec.md §4.5's five-step create path: acquire a
// fleet-wide slot, defer to the winner if contended, select a process,
// create locally or via IPC, and (if this process is the winner) publish
// the result to followers waiting on the rendezvous list.
func (m *Matchmaker) createRoom(ctx context.Context, roomName string, options map[string]any) (driver.RoomCache, error) {
	if _, ok := m.handler(roomName); !ok {
		return driver.RoomCache{}, ErrUnknownRoomName
	}

	chKey := concurrencyHashKey(roomName)
	listKey := concurrencyListKey(roomName)

	count, err := m.Presence.HIncrByEx(chKey, concurrencyField, 1, maxConcurrentCreateRoomWaitTime*2)
	if err != nil {
		return driver.RoomCache{}, fmt.Errorf("matchmaker: acquire create slot: %w", err)
	}

	if count > 1 {
		_, value, err := m.Presence.BRPop(ctx, maxConcurrentCreateRoomWaitTime, listKey)
		if err == presence.ErrNotFound {
			// Best-effort rendezvous (spec.md §9 open question): the
			// window closed before a copy arrived. Proceed as if
			// uncontended rather than block indefinitely.
			return m.createRoomUncontended(ctx, roomName, options)
		}
		if err != nil {
			return driver.RoomCache{}, err
		}
		var rc driver.RoomCache
		if jsonErr := json.Unmarshal([]byte(value), &rc); jsonErr != nil {
			return driver.RoomCache{}, fmt.Errorf("matchmaker: decode rendezvous payload: %w", jsonErr)
		}
		return rc, nil
	}

	rc, createErr := m.createRoomUncontended(ctx, roomName, options)

	// Winner: publish to followers that have shown up so far, then clear
	// the slot so the next create cycle for this room name starts fresh.
	contenders, readErr := m.Presence.HIncrByEx(chKey, concurrencyField, 0, maxConcurrentCreateRoomWaitTime*2)
	if readErr == nil && createErr == nil {
		payload, _ := json.Marshal(rc)
		for i := int64(0); i < contenders-1; i++ {
			_ = m.Presence.RPush(listKey, string(payload))
		}
	}
	_ = m.Presence.Del(chKey)
	return rc, createErr
}

// createRoomUncontended runs step 2 onward of the create path without any
// rendezvous bookkeeping: select a process, then create locally or
// delegate over IPC.
func (m *Matchmaker) createRoomUncontended(ctx context.Context, roomName string, options map[string]any) (driver.RoomCache, error) {
	roomCounts, err := m.Stats.FetchAll()
	if err != nil {
		return driver.RoomCache{}, fmt.Errorf("matchmaker: fetch fleet stats: %w", err)
	}
	pid := m.SelectProcessIdToCreateRoom(roomName, options, roomCounts, m.ProcessID)

	if pid == m.ProcessID {
		return m.handleCreateRoom(roomName, options)
	}
	return m.createRoomRemote(ctx, pid, roomName, options)
}

// createRoomRemote delegates room creation to pid over IPC (spec.md §4.5
// step 2 "else requestFromIPC"), excluding the remote process and
// retrying locally on timeout when health checks are enabled (step 3).
func (m *Matchmaker) createRoomRemote(ctx context.Context, pid, roomName string, options map[string]any) (driver.RoomCache, error) {
	args, err := json.Marshal(createRoomArgs{RoomName: roomName, Options: options})
	if err != nil {
		return driver.RoomCache{}, err
	}
	payload, err := ipc.Call(ctx, m.Presence, processTopic(pid), "createRoom", args, ipc.LongTimeout)
	if err == ipc.ErrTimeout {
		if m.HealthChecks {
			_ = m.Stats.ExcludeProcess(pid)
		}
		return m.handleCreateRoom(roomName, options)
	}
	if err != nil {
		return driver.RoomCache{}, fmt.Errorf("%w: %v", ErrIpcTimeout, err)
	}
	var rc driver.RoomCache
	if err := json.Unmarshal(payload, &rc); err != nil {
		return driver.RoomCache{}, err
	}
	return rc, nil
}

type createRoomArgs struct {
	RoomName string         `json:"roomName"`
	Options  map[string]any `json:"options"`
}

// handleRemoteCreateRoom services "createRoom" IPC requests arriving on
// this process's inbox from a peer's createRoomRemote.
func (m *Matchmaker) handleRemoteCreateRoom(ctx context.Context, args json.RawMessage) (any, error) {
	var a createRoomArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return m.handleCreateRoom(a.RoomName, a.Options)
}

// handleCreateRoom implements spec.md §4.5 step 4: instantiate via the
// handler factory, assign identity, run onCreate, create the RoomCache,
// subscribe the room's IPC inbox, bind lifecycle stats, and register the
// room in this process's local map.
func (m *Matchmaker) handleCreateRoom(roomName string, options map[string]any) (driver.RoomCache, error) {
	handler, ok := m.handler(roomName)
	if !ok {
		return driver.RoomCache{}, ErrUnknownRoomName
	}

	r := handler.Factory()
	r.RoomID = uuid.NewString()
	r.RoomName = roomName
	r.ProcessID = m.ProcessID
	if handler.MaxClients > 0 {
		r.MaxClients = handler.MaxClients
	}
	r.AutoDispose = handler.ResolvedAutoDispose()
	if handler.PatchRateMS > 0 {
		r.PatchRateMS = handler.PatchRateMS
	}
	if handler.SeatReservationSeconds > 0 {
		r.SeatReservationSeconds = handler.SeatReservationSeconds
	}
	r.Hooks = handler.Hooks
	r.SetDevMode(m.DevMode)
	if handler.Serializer != nil {
		r.SetSerializer(handler.Serializer())
	}
	r.JoinStatHook = func(*room.Room) { m.Stats.IncrCCU(1) }
	r.LeaveStatHook = func(*room.Room) { m.Stats.IncrCCU(-1) }
	r.OnDisposed = m.onRoomDisposed

	merged := mergeOptions(handler.DefaultOptions, options)
	initial := driver.RoomCache{
		RoomID:     r.RoomID,
		Name:       r.RoomName,
		ProcessID:  r.ProcessID,
		Clients:    0,
		MaxClients: r.MaxClients,
		CreatedAt:  time.Now(),
	}
	if unlisted, ok := merged["unlisted"].(bool); ok {
		initial.Unlisted = unlisted
	}
	if private, ok := merged["private"].(bool); ok {
		initial.Private = private
	}
	if metadata, ok := merged["metadata"].(map[string]any); ok {
		initial.Metadata = metadata
	}

	handle, err := m.Driver.CreateInstance(initial)
	if err != nil {
		return driver.RoomCache{}, fmt.Errorf("matchmaker: create room cache: %w", err)
	}
	r.SetDriverHandle(handle)

	if err := r.Create(merged); err != nil {
		_ = handle.Remove()
		return driver.RoomCache{}, fmt.Errorf("%w: %v", ErrMatchmaking, err)
	}

	roomDispatcher, err := ipc.NewDispatcher(m.Presence, roomTopic(r.RoomID))
	if err == nil {
		bindRoomRemoteMethods(roomDispatcher, r)
		m.bindRoomDispatcher(r.RoomID, roomDispatcher)
	}

	m.registerLocalRoom(r)
	m.Stats.IncrRoomCount(1)
	m.logf(roomName, "room created")

	return handle.Cache(), nil
}

// onRoomDisposed implements spec.md §4.6 "Matchmaker's disposeRoom":
// decrement stats, unsubscribe the room's IPC inbox, remove it from the
// local map, and log no-active-rooms once this process's own room count
// reaches zero.
func (m *Matchmaker) onRoomDisposed(r *room.Room) {
	m.unregisterLocalRoom(r.RoomID)
	m.unbindRoomDispatcher(r.RoomID)
	m.Stats.IncrRoomCount(-1)
	m.logf(r.RoomName, "room disposed")

	if m.Stats.Local().RoomCount <= 0 {
		m.logf(r.RoomName, "no-active-rooms")
	}
}
