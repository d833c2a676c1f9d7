package room

import (
	"time"

	"github.com/voidframe/roomserver/internal/protocol"
)

// SetSimulationInterval implements setSimulationInterval (spec.md §4.6):
// replaces any prior interval. Each tick advances the clock then invokes
// cb(deltaTime) under exception-wrapping.
func (r *Room) SetSimulationInterval(cb func(delta time.Duration), interval time.Duration) {
	r.mu.Lock()
	if r.hasSimInterval {
		r.clock.ClearInterval(r.simTimerID)
	}
	r.hasSimInterval = true
	r.simTimerID = r.clock.SetInterval(func() {
		r.clock.Tick()
		_ = r.safeCall(MethodSimulationInterval, func() error {
			cb(r.clock.DeltaTime())
			return nil
		})
	}, interval)
	r.mu.Unlock()
}

func (r *Room) stopSimulationInterval() {
	r.mu.Lock()
	if r.hasSimInterval {
		r.clock.ClearInterval(r.simTimerID)
		r.hasSimInterval = false
	}
	r.mu.Unlock()
}

// startPatchLoop arms the independent patch interval (spec.md §4.6
// "Patch loop runs every patchRate ms"). The loop runs on a wall-clock
// ticker until the room is disposed, because patchTick is what advances
// the room clock when no simulation interval is set.
func (r *Room) startPatchLoop() {
	r.mu.Lock()
	r.hasPatchInterval = true
	interval := r.patchInterval()
	r.mu.Unlock()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.disposed:
				return
			case <-ticker.C:
				r.patchTick()
			}
		}
	}()
}

func (r *Room) stopPatchLoop() {
	r.mu.Lock()
	if r.hasPatchInterval {
		r.clock.ClearInterval(r.patchTimerID)
		r.hasPatchInterval = false
	}
	r.mu.Unlock()
}

// patchTick implements one patch cycle (spec.md §4.6): onBeforePatch,
// tick the clock if no simulation owns it already, ask the serializer for
// per-client deltas, deliver them, then drain afterNextPatch.
func (r *Room) patchTick() {
	r.mu.Lock()
	state := r.roomState
	simActive := r.hasSimInterval
	r.mu.Unlock()

	if state == nil {
		// No state to patch (spec.md §4.6 "if state is absent, patch is a
		// no-op"), but afterNextPatch queues broadcast deliveries deferred
		// via BroadcastOptions, independent of state existing — those still
		// have to fire on schedule, so draining here is intentional.
		r.drainAfterNextPatch()
		return
	}

	if r.Hooks.OnBeforePatch != nil {
		_ = r.safeCall(MethodOnBeforePatch, func() error { return r.Hooks.OnBeforePatch(r, state) })
	}
	if !simActive {
		r.clock.Tick()
	}

	r.mu.Lock()
	clients := make([]*Client, len(r.clients))
	copy(clients, r.clients)
	s := r.serializer
	r.mu.Unlock()

	for _, c := range clients {
		patch, ok, err := s.ApplyPatches(c.SessionID, state)
		if err != nil || !ok {
			continue
		}
		_ = c.Send(protocol.EncodeRoomStatePatch(patch))
	}

	r.drainAfterNextPatch()
}

func (r *Room) drainAfterNextPatch() {
	r.mu.Lock()
	pending := r.afterNextPatch
	r.afterNextPatch = nil
	r.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}
