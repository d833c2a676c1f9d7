package room

import (
	"github.com/voidframe/roomserver/internal/driver"
	"github.com/voidframe/roomserver/internal/serializer"
)

// Factory constructs a fresh, unconfigured Room instance for one handler
// registration. onCreate is run separately once the Room is wired up.
type Factory func() *Room

// Hooks are the user-supplied lifecycle callbacks (spec.md §4.6), all
// optional, all of which may suspend.
type Hooks struct {
	OnCreate             func(r *Room, options map[string]any) error
	OnAuth               func(r *Room, client *Client, options map[string]any, authContext any) (any, error)
	OnJoin               func(r *Room, client *Client, options map[string]any, auth any) error
	OnLeave              func(r *Room, client *Client, consented bool) error
	OnDispose            func(r *Room) error
	OnBeforeShutdown     func(r *Room) error
	OnBeforePatch        func(r *Room, state any) error
	OnUncaughtException  func(r *Room, err error, method MethodName)
}

// defaultOnAuth accepts unconditionally, matching spec.md's stated default.
func defaultOnAuth(r *Room, client *Client, options map[string]any, authContext any) (any, error) {
	return nil, nil
}

// defaultOnBeforeShutdown disconnects every client, matching spec.md's
// stated default.
func defaultOnBeforeShutdown(r *Room) error {
	r.DisconnectAll(consentedCloseCode, "shutting down")
	return nil
}

// defaultOnUncaughtException logs and continues, matching spec.md's stated
// default ("log and continue").
func defaultOnUncaughtException(r *Room, err error, method MethodName) {
	logUncaught(r.RoomID, method, err)
}

// Handler is a process-wide, immutable-after-registration declaration of
// how to create and filter rooms of one name (spec.md §3 RoomHandler).
type Handler struct {
	RoomName       string
	Factory        Factory
	DefaultOptions map[string]any
	// FilterBy builds the extra Conditions fields a joinOrCreate/query
	// call should apply beyond {name, locked:false, private:false,
	// unlisted:false}, derived from the caller's options.
	FilterBy func(options map[string]any) driver.Conditions
	SortBy   *driver.Sort
	Hooks    Hooks

	MaxClients int
	// AutoDispose controls whether a room disposes itself once empty with
	// no pending seat reservations (spec.md §3 "autoDispose", defaults to
	// true). A nil value means "use the default"; set it to Bool(false)
	// to keep a room alive while empty (e.g. a persistent lobby).
	AutoDispose            *bool
	PatchRateMS            int
	SeatReservationSeconds int
	Serializer             func() serializer.Serializer
}

// Bool returns a pointer to b, for populating Handler.AutoDispose.
func Bool(b bool) *bool { return &b }

// ResolvedAutoDispose resolves the handler's configured AutoDispose,
// defaulting to true when unset.
func (h *Handler) ResolvedAutoDispose() bool {
	if h.AutoDispose == nil {
		return true
	}
	return *h.AutoDispose
}
