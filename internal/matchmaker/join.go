package matchmaker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/voidframe/roomserver/internal/driver"
)

// Create always provisions a fresh room, skipping the availability query
// (spec.md §4.5 "create").
func (m *Matchmaker) Create(ctx context.Context, roomName string, options map[string]any) (ReservedRoom, error) {
	if m.isShuttingDown() {
		return ReservedRoom{}, ErrShuttingDown
	}
	rc, err := m.createRoom(ctx, roomName, options)
	if err != nil {
		return ReservedRoom{}, err
	}
	return m.reserveSeatOn(ctx, rc, options)
}

// Join finds an available room and reserves a seat on it, failing with
// ErrRoomNotFound if none exists (spec.md §4.5 "join").
func (m *Matchmaker) Join(ctx context.Context, roomName string, options map[string]any) (ReservedRoom, error) {
	if m.isShuttingDown() {
		return ReservedRoom{}, ErrShuttingDown
	}
	rc, err := m.findOneRoomAvailable(roomName, options)
	if err != nil {
		return ReservedRoom{}, fmt.Errorf("matchmaker: query available rooms: %w", err)
	}
	if rc == nil {
		return ReservedRoom{}, ErrRoomNotFound
	}
	return m.reserveSeatOn(ctx, *rc, options)
}

// JoinOrCreate joins an available room if one exists, otherwise creates
// one (spec.md §4.5 "joinOrCreate", the entry point most matchmaking
// clients use).
func (m *Matchmaker) JoinOrCreate(ctx context.Context, roomName string, options map[string]any) (ReservedRoom, error) {
	if m.isShuttingDown() {
		return ReservedRoom{}, ErrShuttingDown
	}
	rc, err := m.findOneRoomAvailable(roomName, options)
	if err != nil {
		return ReservedRoom{}, fmt.Errorf("matchmaker: query available rooms: %w", err)
	}
	if rc == nil {
		created, err := m.createRoom(ctx, roomName, options)
		if err != nil {
			return ReservedRoom{}, err
		}
		return m.reserveSeatOn(ctx, created, options)
	}
	reserved, err := m.reserveSeatOn(ctx, *rc, options)
	if err == nil {
		return reserved, nil
	}
	// The room filled between the query and the reservation attempt; fall
	// back to creating a new one rather than surfacing a transient race.
	created, createErr := m.createRoom(ctx, roomName, options)
	if createErr != nil {
		return ReservedRoom{}, createErr
	}
	return m.reserveSeatOn(ctx, created, options)
}

// JoinById reserves a seat on a specific room by id (spec.md §4.5
// "joinById"), used for invite links and reconnection-adjacent flows.
// Because driver.Driver has no query-by-id primitive (spec.md §4.3 keys
// caches by roomId but exposes only name-scoped queries), this only
// forwards the reservation; callers needing full metadata should pair it
// with a prior Query call.
func (m *Matchmaker) JoinById(ctx context.Context, roomID string, options map[string]any) (ReservedRoom, error) {
	if m.isShuttingDown() {
		return ReservedRoom{}, ErrShuttingDown
	}
	sessionID := uuid.NewString()
	if err := m.reserveSeat(ctx, roomID, sessionID, options, nil, false); err != nil {
		if errors.Is(err, ErrIpcTimeout) {
			return ReservedRoom{}, ErrRoomNotFound
		}
		return ReservedRoom{}, err
	}
	return ReservedRoom{Room: driver.RoomCache{RoomID: roomID}, SessionID: sessionID}, nil
}

func (m *Matchmaker) reserveSeatOn(ctx context.Context, rc driver.RoomCache, options map[string]any) (ReservedRoom, error) {
	sessionID := uuid.NewString()
	if err := m.reserveSeat(ctx, rc.RoomID, sessionID, options, nil, false); err != nil {
		return ReservedRoom{}, fmt.Errorf("%w: %v", ErrSeatReservation, err)
	}
	return ReservedRoom{Room: rc, SessionID: sessionID}, nil
}
