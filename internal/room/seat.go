package room

import "github.com/voidframe/roomserver/internal/driver"

// ReserveSeat implements _reserveSeat (spec.md §4.6): rejects when the
// room would exceed MaxClients and this isn't a reconnection hold,
// otherwise records a provisional seat, bumps the cache's provisional
// client count, and arms a TTL reaper.
func (r *Room) ReserveSeat(sessionID string, options map[string]any, auth any, reconnect bool) error {
	r.mu.Lock()
	if r.state == StateDisposing {
		r.mu.Unlock()
		return ErrDisposing
	}
	if !reconnect && r.hasReachedMaxClients() {
		r.mu.Unlock()
		return ErrSeatReservation
	}

	seat := &reservedSeat{options: options, auth: auth, reconnect: reconnect}
	r.reservedSeats[sessionID] = seat
	ttl := r.seatReservationDuration()
	seat.timerID = r.clock.SetTimeout(func() { r.reapSeat(sessionID) }, ttl)
	r.mu.Unlock()

	r.autoLockIfFull()
	return r.updateCacheAfterSeatChange(1)
}

// reapSeat deletes an unconsumed reserved seat once its TTL fires,
// decrementing the provisional client count (spec.md §4.6 "schedule TTL
// reaper").
func (r *Room) reapSeat(sessionID string) {
	r.mu.Lock()
	seat, ok := r.reservedSeats[sessionID]
	if !ok || seat.consumed {
		r.mu.Unlock()
		return
	}
	delete(r.reservedSeats, sessionID)
	r.mu.Unlock()

	r.autoLockIfFull()
	_ = r.updateCacheAfterSeatChange(-1)
	r.disposeIfEmpty()
}

func (r *Room) updateCacheAfterSeatChange(delta int) error {
	r.mu.Lock()
	h := r.driverHandle
	locked := r.locked
	r.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.UpdateOne(driver.Update{
		Inc: map[string]int{"clients": delta},
		Set: map[string]any{"locked": locked},
	})
}

// consumeSeat marks a reserved seat consumed (on successful join),
// removing it from reservedSeats since the about-to-join client now
// represents that capacity directly via r.clients, and returns it, or
// ErrNoReservedSeat if none is pending for sessionID.
func (r *Room) consumeSeat(sessionID string) (*reservedSeat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seat, ok := r.reservedSeats[sessionID]
	if !ok {
		return nil, ErrNoReservedSeat
	}
	seat.consumed = true
	r.clock.ClearTimeout(seat.timerID)
	delete(r.reservedSeats, sessionID)
	return seat, nil
}
