// Package presence implements the distributed coordination primitive the
// rest of the room server core is built on: pub/sub, a key/value store,
// hashes, sets, lists, and counters, each with best-effort TTL.
//
// Two implementations are provided. Local backs a single process with
// in-memory maps and is also used to simulate a shared backend across
// multiple in-process Matchmaker instances in tests. NATS backs a fleet of
// processes over a real NATS connection plus a JetStream KeyValue bucket.
package presence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/HGet/LPop/RPop when the key, field, or
// list is empty/absent.
var ErrNotFound = errors.New("presence: not found")

// ErrClosed is returned once Shutdown has completed and the instance is no
// longer usable.
var ErrClosed = errors.New("presence: closed")

// MessageHandler receives the raw bytes published to a subscribed topic.
// Presence makes no ordering guarantee across topics; per-topic order is
// preserved for a single publisher/subscriber pair.
type MessageHandler func(data []byte)

// Presence is the polymorphic coordination capability consumed by ipc,
// driver, stats, and matchmaker. Delivery to subscribers is at-most-once;
// TTL is best-effort and monotonic, not precise under load.
type Presence interface {
	// Pub/sub
	Subscribe(topic string, handler MessageHandler) (subID string, err error)
	Unsubscribe(topic, subID string) error
	Publish(topic string, data []byte) error
	Channels(pattern string) ([]string, error)

	// Key/value
	Set(key, value string) error
	SetEx(key, value string, ttl time.Duration) error
	Get(key string) (string, error)
	Del(key string) error
	Exists(key string) (bool, error)
	Expire(key string, ttl time.Duration) error

	// Sets
	SAdd(key, member string) error
	SRem(key, member string) error
	SMembers(key string) ([]string, error)
	SIsMember(key, member string) (bool, error)
	SCard(key string) (int, error)
	SInter(keys ...string) ([]string, error)

	// Hashes
	HSet(key, field, value string) error
	HGet(key, field string) (string, error)
	HGetAll(key string) (map[string]string, error)
	HDel(key string, fields ...string) error
	HIncrBy(key, field string, delta int64) (int64, error)
	HIncrByEx(key, field string, delta int64, ttl time.Duration) (int64, error)
	HLen(key string) (int, error)

	// Counters
	Incr(key string) (int64, error)
	Decr(key string) (int64, error)

	// Lists
	LPush(key string, values ...string) error
	RPush(key string, values ...string) error
	LPop(key string) (string, error)
	RPop(key string) (string, error)
	LLen(key string) (int, error)
	// BRPop blocks up to timeoutSec across the given keys (checked in
	// order) and returns the key that produced a value plus that value.
	// Returns ErrNotFound if every key is still empty when the timeout
	// elapses, or ctx.Err() if ctx ends first.
	BRPop(ctx context.Context, timeoutSec time.Duration, keys ...string) (key, value string, err error)

	Shutdown() error
}
