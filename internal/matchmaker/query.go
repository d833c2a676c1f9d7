package matchmaker

import (
	"errors"

	"github.com/voidframe/roomserver/internal/driver"
	"github.com/voidframe/roomserver/internal/room"
)

// excludeFullRoomsSentinel enables driver.Conditions.MaxClientsGTE's
// exclude-when-full check; its value is unused by matches, only its
// non-nilness is.
var excludeFullRoomsSentinel = 0

// baseConditions builds the {name, locked:false, private:false,
// unlisted:false, excludeFull} filter every availability query starts
// from (spec.md §4.5 "findOneRoomAvailable"), then layers the handler's
// own FilterBy on top.
func baseConditions(roomName string, options map[string]any, handler *room.Handler) driver.Conditions {
	no := false
	cond := driver.Conditions{
		Name:          roomName,
		Locked:        &no,
		Private:       &no,
		Unlisted:      &no,
		MaxClientsGTE: &excludeFullRoomsSentinel,
	}
	if handler.FilterBy == nil {
		return cond
	}
	extra := handler.FilterBy(options)
	if extra.Locked != nil {
		cond.Locked = extra.Locked
	}
	if extra.Private != nil {
		cond.Private = extra.Private
	}
	if extra.Unlisted != nil {
		cond.Unlisted = extra.Unlisted
	}
	if extra.Extra != nil {
		cond.Extra = extra.Extra
	}
	return cond
}

// findOneRoomAvailable implements spec.md §4.5's availability query: rooms
// matching name/handler filters with capacity remaining, sorted by the
// handler's SortBy (defaulting to least-full-first). Returns (nil, nil)
// when no room matches.
func (m *Matchmaker) findOneRoomAvailable(roomName string, options map[string]any) (*driver.RoomCache, error) {
	handler, ok := m.handler(roomName)
	if !ok {
		return nil, ErrUnknownRoomName
	}

	cond := baseConditions(roomName, options, handler)
	sort := handler.SortBy
	if sort == nil {
		sort = &driver.Sort{Field: "clients", Desc: false}
	}
	rc, err := m.Driver.FindOne(cond, sort)
	if errors.Is(err, driver.ErrNotFound) {
		return nil, nil
	}
	return rc, err
}

// Query implements spec.md §4.5's public `query(conditions)` operation: a
// caller-facing room listing, unfiltered by any handler's FilterBy/SortBy
// (those only apply to matchmaking's own findOneRoomAvailable). Callers
// that want the matchmaking-facing defaults (locked/private/unlisted
// excluded) set those fields on cond themselves.
func (m *Matchmaker) Query(cond driver.Conditions, sort *driver.Sort) ([]driver.RoomCache, error) {
	return m.Driver.Query(cond, sort)
}
