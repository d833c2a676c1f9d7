// Package transport defines the connection abstraction a Room drives
// (spec.md treats the concrete transport as an external collaborator) and
// ships one reference implementation over gorilla/websocket so this
// repo's own tests have something real to exercise.
package transport

// Conn is one client's wire connection, as seen by the room runtime.
type Conn interface {
	// Send writes a fully encoded protocol frame (see internal/protocol).
	// Implementations must not block the caller indefinitely; a slow or
	// unresponsive client should be handled via backpressure/drop, not by
	// stalling the room's dispatch loop.
	Send(frame []byte) error
	// Close terminates the connection with a protocol close code and an
	// optional human-readable reason.
	Close(code uint16, reason string)
	// RemoteAddr identifies the peer for logging/diagnostics.
	RemoteAddr() string
}
