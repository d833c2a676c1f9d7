package matchmaker

import "github.com/voidframe/roomserver/internal/stats"

// defaultSelectProcessIdToCreateRoom picks the process with the lowest
// roomCount from the fleet-wide snapshot, tie-broken arbitrarily by Go's
// randomized map iteration order (spec.md §4.5 "tie-break arbitrary" —
// intentional, not a bug, recorded in DESIGN.md), falling back to
// selfProcessID when the snapshot is empty.
func defaultSelectProcessIdToCreateRoom(roomName string, options map[string]any, roomCounts map[string]stats.Entry, selfProcessID string) string {
	best := ""
	bestCount := 0
	for pid, entry := range roomCounts {
		if best == "" || entry.RoomCount < bestCount {
			best = pid
			bestCount = entry.RoomCount
		}
	}
	if best == "" {
		return selfProcessID
	}
	return best
}
