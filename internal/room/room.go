// Package room implements the Room runtime (spec.md §4.6): lifecycle FSM,
// seat reservation bookkeeping, join/leave concurrency, tick/patch loop,
// message dispatch, auto-dispose, and graceful per-room shutdown.
package room

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voidframe/roomserver/internal/clock"
	"github.com/voidframe/roomserver/internal/driver"
	"github.com/voidframe/roomserver/internal/protocol"
	"github.com/voidframe/roomserver/internal/serializer"
)

// State is the room's lifecycle stage (spec.md §3). Transitions are
// monotonic: CREATING -> CREATED -> DISPOSING.
type State int

const (
	StateCreating State = iota
	StateCreated
	StateDisposing
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "CREATING"
	case StateCreated:
		return "CREATED"
	case StateDisposing:
		return "DISPOSING"
	default:
		return "UNKNOWN"
	}
}

const (
	consentedCloseCode = uint16(protocol.CloseConsented)
	errorCloseCode     = uint16(protocol.CloseWithError)

	// defaultPatchRateMS and defaultSeatReservationSeconds mirror spec.md
	// §3's stated defaults; process-wide overrides are wired via config.
	defaultPatchRateMS            = 50
	defaultSeatReservationSeconds = 15

	// defaultAutoDisposeGraceSeconds is the deferred re-check window used
	// by resetAutoDisposeTimeout when no explicit value is requested.
	defaultAutoDisposeGraceSeconds = 1
)

// reservedSeat is a provisional, not-yet-joined claim on a room slot
// (spec.md §3 reservedSeats).
type reservedSeat struct {
	options   map[string]any
	auth      any
	consumed  bool
	reconnect bool
	timerID   clock.TimerID
}

// pendingReconnect is an in-flight allowReconnection hold (spec.md §4.6
// "Reconnection").
type pendingReconnect struct {
	sessionID string
	client    *Client
	timerID   clock.TimerID
	resolved  bool
	done      chan *Client // closed once resolved or rejected
}

// Room is one authoritative session instance, owned exclusively by the
// process that created it (spec.md §3 "Ownership and lifecycle").
type Room struct {
	RoomID    string
	RoomName  string
	ProcessID string

	MaxClients             int
	AutoDispose            bool
	PatchRateMS            int
	SeatReservationSeconds int

	Hooks Hooks

	mu            sync.Mutex
	state         State
	private       bool
	locked        bool
	clients       []*Client
	reservedSeats map[string]*reservedSeat
	reconnections map[string]*pendingReconnect
	leaveInFlight int

	roomState  any
	serializer serializer.Serializer

	clock              *clock.Clock
	simTimerID         clock.TimerID
	hasSimInterval     bool
	patchTimerID       clock.TimerID
	hasPatchInterval   bool
	autoDisposeTimerID clock.TimerID
	hasAutoDisposeTimer bool

	messageHandlers map[string]MessageHandler
	wildcardHandler MessageHandler
	devMode         bool

	afterNextPatch []func()

	driverHandle driver.Handle

	disposeOnce sync.Once
	disposed    chan struct{}

	// OnDisposed is invoked exactly once, after _dispose completes, so the
	// matchmaker can unsubscribe IPC and remove the room from its local
	// map (spec.md §4.6 "Matchmaker's disposeRoom").
	OnDisposed func(r *Room)

	// JoinStatHook and LeaveStatHook notify the matchmaker's stats
	// tracker of CCU changes (spec.md §4.6 "emit join (for matchmaker
	// stats)").
	JoinStatHook  func(r *Room)
	LeaveStatHook func(r *Room)
}

// New constructs a Room in the CREATING state. The caller (matchmaker)
// must assign RoomID/RoomName/ProcessID, bind a driver.Handle, and call
// Create once onCreate-relevant wiring is done.
func New() *Room {
	return &Room{
		state:                  StateCreating,
		MaxClients:             0,
		AutoDispose:            true,
		PatchRateMS:            defaultPatchRateMS,
		SeatReservationSeconds: defaultSeatReservationSeconds,
		reservedSeats:          make(map[string]*reservedSeat),
		reconnections:          make(map[string]*pendingReconnect),
		messageHandlers:        make(map[string]MessageHandler),
		clock:                  clock.New(),
		serializer:             serializer.None{},
		disposed:               make(chan struct{}),
	}
}

// Create runs onCreate, starts the room's clock, arms the patch loop, and
// transitions CREATING -> CREATED. options is the merge of the handler's
// defaultOptions and the caller's request options (matchmaker's job).
func (r *Room) Create(options map[string]any) error {
	r.clock.Start()
	if r.Hooks.OnCreate != nil {
		if err := r.safeCall(MethodOnCreate, func() error { return r.Hooks.OnCreate(r, options) }); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.state = StateCreated
	r.mu.Unlock()
	r.startPatchLoop()
	return nil
}

// SetState replaces the room's serializer-owned state object, used by
// onCreate and simulation callbacks.
func (r *Room) SetState(state any) {
	r.mu.Lock()
	r.roomState = state
	r.mu.Unlock()
}

// State returns the room's serializer-owned state object.
func (r *Room) State() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomState
}

// SetSerializer replaces the active Serializer (spec.md "Room may replace
// via setSerializer").
func (r *Room) SetSerializer(s serializer.Serializer) {
	r.mu.Lock()
	r.serializer = s
	r.mu.Unlock()
}

// SetDriverHandle binds the driver.Handle backing this room's RoomCache,
// set once by the matchmaker right after CreateInstance.
func (r *Room) SetDriverHandle(h driver.Handle) {
	r.mu.Lock()
	r.driverHandle = h
	r.mu.Unlock()
}

// SetDevMode toggles devMode behavior for invalid-payload handling.
func (r *Room) SetDevMode(on bool) {
	r.mu.Lock()
	r.devMode = on
	r.mu.Unlock()
}

// Status reports the room's current lifecycle stage.
func (r *Room) Status() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ClientCount returns the number of currently joined/reconnected clients.
func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// hasReachedMaxClients counts joined clients plus pending reserved seats
// against MaxClients (spec.md §3 invariant 1). A reservedSeats entry
// always represents capacity not already counted by r.clients: either a
// seat awaiting its first join, or a reconnection hold for a client
// currently absent from r.clients (spec.md §4.6 "maxClients is enforced
// counting the held seat"). Entries are removed from the map the moment
// they stop representing distinct capacity (see consumeSeat/Attach).
// MaxClients == 0 means unlimited.
func (r *Room) hasReachedMaxClients() bool {
	if r.MaxClients <= 0 {
		return false
	}
	return len(r.clients)+len(r.reservedSeats) >= r.MaxClients
}

// Lock marks the room locked and updates the cache entry.
func (r *Room) Lock() {
	r.mu.Lock()
	r.locked = true
	h := r.driverHandle
	r.mu.Unlock()
	if h != nil {
		_ = h.UpdateOne(driver.Update{Set: map[string]any{"locked": true}})
	}
}

// Unlock marks the room unlocked and updates the cache entry.
func (r *Room) Unlock() {
	r.mu.Lock()
	r.locked = false
	h := r.driverHandle
	r.mu.Unlock()
	if h != nil {
		_ = h.UpdateOne(driver.Update{Set: map[string]any{"locked": false}})
	}
}

// SetPrivate toggles visibility and updates the cache entry.
func (r *Room) SetPrivate(private bool) {
	r.mu.Lock()
	r.private = private
	h := r.driverHandle
	r.mu.Unlock()
	if h != nil {
		_ = h.UpdateOne(driver.Update{Set: map[string]any{"private": private}})
	}
}

func (r *Room) autoLockIfFull() {
	r.mu.Lock()
	full := r.MaxClients > 0 && len(r.clients) >= r.MaxClients
	shouldUpdate := full != r.locked
	if shouldUpdate {
		r.locked = full
	}
	h := r.driverHandle
	r.mu.Unlock()
	if shouldUpdate && h != nil {
		_ = h.UpdateOne(driver.Update{Set: map[string]any{"locked": full}})
	}
}

// safeCall wraps a user hook, routing panics and errors to
// onUncaughtException instead of propagating (spec.md §4.6 "Exception
// policy"). The error is still returned to the immediate caller so
// matchmaking-path failures (onCreate, onAuth on the critical join path)
// can short-circuit.
func (r *Room) safeCall(method MethodName, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			e := &UncaughtError{Method: method, Err: panicToError(rec)}
			r.reportUncaught(e)
			err = e
		}
	}()
	if ferr := fn(); ferr != nil {
		e := &UncaughtError{Method: method, Err: ferr}
		r.reportUncaught(e)
		return e
	}
	return nil
}

func (r *Room) reportUncaught(err *UncaughtError) {
	if r.Hooks.OnUncaughtException != nil {
		r.Hooks.OnUncaughtException(r, err.Err, err.Method)
		return
	}
	defaultOnUncaughtException(r, err.Err, err.Method)
}

func panicToError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return &panicValue{v: rec}
}

type panicValue struct{ v any }

func (p *panicValue) Error() string { return "panic: " + stringify(p.v) }

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if e, ok := v.(error); ok {
		return e.Error()
	}
	return "non-string panic value"
}

func logUncaught(roomID string, method MethodName, err error) {
	log.Error().Str("module", "room").Str("roomId", roomID).Str("method", string(method)).Err(err).Msg("uncaught exception")
}

// Disposed returns a channel closed once _dispose has completed.
func (r *Room) Disposed() <-chan struct{} { return r.disposed }

// seatReservationDuration returns the configured TTL, or the package
// default if unset.
func (r *Room) seatReservationDuration() time.Duration {
	if r.SeatReservationSeconds <= 0 {
		return defaultSeatReservationSeconds * time.Second
	}
	return time.Duration(r.SeatReservationSeconds) * time.Second
}

func (r *Room) patchInterval() time.Duration {
	if r.PatchRateMS <= 0 {
		return defaultPatchRateMS * time.Millisecond
	}
	return time.Duration(r.PatchRateMS) * time.Millisecond
}
