// Package driver implements the RoomCache store used for matchmaking
// queries (spec.md §4.3): the externally visible projection of a Room used
// for discovery, independent from the Room itself.
package driver

import (
	"errors"
	"time"
)

// ErrNotFound is returned by FindOne when no room cache matches the
// conditions.
var ErrNotFound = errors.New("driver: room cache not found")

// RoomCache is the externally visible listing projection (spec.md §3).
type RoomCache struct {
	RoomID        string            `json:"roomId"`
	Name          string            `json:"name"`
	ProcessID     string            `json:"processId"`
	PublicAddress string            `json:"publicAddress,omitempty"`
	Clients       int               `json:"clients"`
	MaxClients    int               `json:"maxClients"`
	Locked        bool              `json:"locked"`
	Private       bool              `json:"private"`
	Unlisted      bool              `json:"unlisted"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Update describes a partial mutation applied by UpdateOne, modeled after
// the $set/$inc shape spec.md §4.3 calls out.
type Update struct {
	Set map[string]any
	Inc map[string]int
}

// Sort picks an ordering field and direction for Query/FindOne.
type Sort struct {
	Field string
	Desc  bool
}

// Conditions is a conjunction of equality/range filters evaluated against
// a RoomCache. Matchmaker builds these from a handler's filterBy plus the
// caller's own options.
type Conditions struct {
	Name           string
	Locked         *bool
	Private        *bool
	Unlisted       *bool
	MaxClientsGTE  *int // clients < maxClients is implied by callers that want capacity
	Extra          map[string]any
}

// Handle is a single room's live cache entry, mutable only by its owning
// process (spec.md §3 "Ownership and lifecycle").
type Handle interface {
	Cache() RoomCache
	Save() error
	UpdateOne(u Update) error
	Remove() error
}

// Driver is the store of RoomCache listings across the fleet.
type Driver interface {
	CreateInstance(initial RoomCache) (Handle, error)
	Has(roomID string) (bool, error)
	FindOne(cond Conditions, sort *Sort) (*RoomCache, error)
	Query(cond Conditions, sort *Sort) ([]RoomCache, error)
	// Cleanup removes every cache entry owned by processID, e.g. after the
	// process is excluded for failing health checks.
	Cleanup(processID string) error
}

// matches reports whether rc satisfies cond. Unlisted rooms are excluded
// by default unless cond explicitly asks for them (spec.md §9 open
// question decision, recorded in DESIGN.md).
func matches(rc RoomCache, cond Conditions) bool {
	if cond.Name != "" && rc.Name != cond.Name {
		return false
	}
	if cond.Locked != nil && rc.Locked != *cond.Locked {
		return false
	}
	if cond.Private != nil && rc.Private != *cond.Private {
		return false
	}
	if cond.Unlisted != nil {
		if rc.Unlisted != *cond.Unlisted {
			return false
		}
	} else if rc.Unlisted {
		return false
	}
	if cond.MaxClientsGTE != nil && rc.MaxClients > 0 && rc.Clients >= rc.MaxClients {
		return false
	}
	return true
}

func sortCaches(caches []RoomCache, sort *Sort) {
	if sort == nil || sort.Field == "" {
		return
	}
	less := func(i, j int) bool {
		a, b := fieldValue(caches[i], sort.Field), fieldValue(caches[j], sort.Field)
		if sort.Desc {
			return a > b
		}
		return a < b
	}
	insertionSort(caches, less)
}

// fieldValue extracts the handful of numeric sort fields handlers use
// (e.g. "clients" for least-full-first matchmaking).
func fieldValue(rc RoomCache, field string) float64 {
	switch field {
	case "clients":
		return float64(rc.Clients)
	case "maxClients":
		return float64(rc.MaxClients)
	default:
		return 0
	}
}

// insertionSort avoids pulling in sort.Slice's reflection for such small
// lists and keeps the comparator signature simple for fieldValue.
func insertionSort(caches []RoomCache, less func(i, j int) bool) {
	for i := 1; i < len(caches); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			caches[j], caches[j-1] = caches[j-1], caches[j]
		}
	}
}
