package matchmaker

import (
	"time"

	"github.com/voidframe/roomserver/internal/room"
)

// closeCodeShutdown is the consented close code used when the process is
// shutting down (mirrors protocol.CloseConsented; kept local to avoid a
// needless import for one constant).
const closeCodeShutdown = uint16(4000)

// gracefulShutdownPollInterval is how often GracefullyShutdown re-checks
// whether every local room has finished disposing.
const gracefulShutdownPollInterval = 20 * time.Millisecond

// GracefullyShutdown implements spec.md §4.8: stop accepting new
// join/create calls, exclude this process from fleet stats and caches,
// force every locally-hosted room through its own shutdown sequence, wait
// for them all to dispose, then unsubscribe and release presence.
func (m *Matchmaker) GracefullyShutdown(deadline time.Duration) error {
	m.mu.Lock()
	m.status = StatusShuttingDown
	m.mu.Unlock()

	if err := m.Stats.ExcludeProcess(m.ProcessID); err != nil {
		return err
	}

	for _, r := range m.snapshotLocalRooms() {
		r.Disconnect(closeCodeShutdown, "shutting down")
	}

	deadlineAt := time.Now().Add(deadline)
	for time.Now().Before(deadlineAt) {
		if len(m.snapshotLocalRooms()) == 0 {
			break
		}
		time.Sleep(gracefulShutdownPollInterval)
	}

	for roomID := range m.snapshotRoomDispatcherIDs() {
		m.unbindRoomDispatcher(roomID)
	}
	if m.dispatcher != nil {
		_ = m.dispatcher.Close()
	}
	return m.Presence.Shutdown()
}

func (m *Matchmaker) snapshotLocalRooms() []*room.Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*room.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

func (m *Matchmaker) snapshotRoomDispatcherIDs() map[string]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]struct{}, len(m.roomDispatchers))
	for id := range m.roomDispatchers {
		out[id] = struct{}{}
	}
	return out
}
