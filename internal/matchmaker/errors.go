package matchmaker

import "errors"

// Errors surfaced to matchmaking callers (spec.md §4.5 "Failures").
var (
	ErrRoomNotFound      = errors.New("matchmaker: room not found")
	ErrSeatReservation   = errors.New("matchmaker: seat reservation failed")
	ErrAuth              = errors.New("matchmaker: auth rejected")
	ErrIpcTimeout        = errors.New("matchmaker: ipc call timed out")
	ErrMatchmaking       = errors.New("matchmaker: room creation failed")
	ErrShuttingDown      = errors.New("matchmaker: process is shutting down")
	ErrUnknownRoomName   = errors.New("matchmaker: no handler registered for room name")
)
