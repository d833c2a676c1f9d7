package room

import "time"

// disposeIfEmpty implements _disposeIfEmpty (spec.md §4.6): true iff no
// leave is mid-flight, autoDispose is enabled, no autoDisposeTimeout is
// currently pending, there are no joined clients, and no reserved seats
// remain. On true, _dispose runs exactly once.
func (r *Room) disposeIfEmpty() bool {
	r.mu.Lock()
	ready := r.leaveInFlight == 0 &&
		r.AutoDispose &&
		!r.hasAutoDisposeTimer &&
		len(r.clients) == 0 &&
		len(r.reservedSeats) == 0
	r.mu.Unlock()
	if !ready {
		return false
	}
	r.dispose()
	return true
}

// ResetAutoDisposeTimeout defers the next auto-dispose re-check by the
// given window (default 1s per spec.md §4.6), letting a handler keep an
// otherwise-empty room alive briefly (e.g. a lobby expecting a quick
// refill).
func (r *Room) ResetAutoDisposeTimeout(seconds int) {
	if seconds <= 0 {
		seconds = defaultAutoDisposeGraceSeconds
	}
	r.mu.Lock()
	if r.hasAutoDisposeTimer {
		r.clock.ClearTimeout(r.autoDisposeTimerID)
	}
	r.hasAutoDisposeTimer = true
	r.autoDisposeTimerID = r.clock.SetTimeout(func() {
		r.mu.Lock()
		r.hasAutoDisposeTimer = false
		r.mu.Unlock()
		r.disposeIfEmpty()
	}, time.Duration(seconds)*time.Second)
	r.mu.Unlock()
}

// dispose implements _dispose (spec.md §4.6): transitions to DISPOSING,
// removes the RoomCache, runs onDispose, clears every timer/interval,
// stops the clock, and notifies the matchmaker exactly once.
func (r *Room) dispose() {
	r.mu.Lock()
	if r.state == StateDisposing {
		r.mu.Unlock()
		return
	}
	r.state = StateDisposing
	h := r.driverHandle
	r.mu.Unlock()

	if h != nil {
		_ = h.Remove()
	}

	if r.Hooks.OnDispose != nil {
		_ = r.safeCall(MethodOnDispose, func() error { return r.Hooks.OnDispose(r) })
	}

	r.stopPatchLoop()
	r.stopSimulationInterval()
	r.mu.Lock()
	if r.hasAutoDisposeTimer {
		r.clock.ClearTimeout(r.autoDisposeTimerID)
		r.hasAutoDisposeTimer = false
	}
	r.mu.Unlock()
	r.clock.Clear()
	r.clock.Stop()

	r.disposeOnce.Do(func() {
		close(r.disposed)
		if r.OnDisposed != nil {
			r.OnDisposed(r)
		}
	})
}

// Disconnect force-disposes the room regardless of emptiness, matching
// the graceful shutdown path's lock+onBeforeShutdown+disconnect sequence
// (spec.md §4.8).
func (r *Room) Disconnect(code uint16, reason string) {
	r.Lock()
	if r.Hooks.OnBeforeShutdown != nil {
		_ = r.Hooks.OnBeforeShutdown(r)
	} else {
		defaultOnBeforeShutdown(r)
	}
	r.DisconnectAll(code, reason)
	r.dispose()
}
