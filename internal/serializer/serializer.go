// Package serializer defines the state-encoding boundary a Room sits
// behind (spec.md §4.6, SPEC_FULL §5.10). The wire schema/codec itself is
// out of scope; this package supplies the interface plus two concrete,
// spec-legal implementations so the patch loop is exercised end to end.
package serializer

// Serializer encodes a room's full state and computes incremental patches
// per connected client. Implementations decide what "state" and "patch"
// mean for their wire format.
type Serializer interface {
	// GetFullState returns the complete encoded state sent on join.
	GetFullState(state any) ([]byte, error)
	// ApplyPatches computes the delta between the last state sent to a
	// client and the current state. ok is false when nothing changed and
	// no patch should be sent.
	ApplyPatches(clientID string, state any) (patch []byte, ok bool, err error)
	// ForgetClient drops any per-client tracking state (called on leave).
	ForgetClient(clientID string)
	// ID identifies this serializer in the JOIN_ROOM handshake.
	ID() string
}
