package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// pollInterval is how often a blocked BRPop re-checks its keys. Local is an
// in-process simulation of a distributed backend; a short poll is simpler
// and just as correct as a condition-variable wakeup for the scale this
// runs at (single process, tests, dev).
const pollInterval = 5 * time.Millisecond

// Local is an in-memory Presence used by a single process, or shared by
// several in-process Matchmaker instances in tests to simulate a fleet.
type Local struct {
	mu sync.Mutex

	subs      map[string]map[string]MessageHandler
	nextSubID uint64

	kv     map[string]string
	timers map[string]*time.Timer

	sets map[string]map[string]struct{}

	hashes     map[string]map[string]string
	hashTimers map[string]map[string]*time.Timer

	lists map[string][]string

	closed bool

	snapshot *snapshotStore
}

// NewLocal returns an empty Local presence instance.
func NewLocal() *Local {
	return &Local{
		subs:       make(map[string]map[string]MessageHandler),
		kv:         make(map[string]string),
		timers:     make(map[string]*time.Timer),
		sets:       make(map[string]map[string]struct{}),
		hashes:     make(map[string]map[string]string),
		hashTimers: make(map[string]map[string]*time.Timer),
		lists:      make(map[string][]string),
	}
}

func (l *Local) Subscribe(topic string, handler MessageHandler) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", ErrClosed
	}
	if l.subs[topic] == nil {
		l.subs[topic] = make(map[string]MessageHandler)
	}
	id := uuid.NewString()
	l.subs[topic][id] = handler
	return id, nil
}

func (l *Local) Unsubscribe(topic, subID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.subs[topic]; ok {
		delete(m, subID)
		if len(m) == 0 {
			delete(l.subs, topic)
		}
	}
	return nil
}

func (l *Local) Publish(topic string, data []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	handlers := make([]MessageHandler, 0, len(l.subs[topic]))
	for _, h := range l.subs[topic] {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()

	// Dispatch outside the lock: a handler may itself call back into
	// Presence (e.g. an IPC reply handler unsubscribing).
	for _, h := range handlers {
		func(h MessageHandler) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("module", "presence.local").Str("topic", topic).
						Interface("panic", r).Msg("subscriber handler panicked")
				}
			}()
			h(data)
		}(h)
	}
	return nil
}

func (l *Local) Channels(pattern string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.subs))
	for topic := range l.subs {
		if matchPattern(pattern, topic) {
			out = append(out, topic)
		}
	}
	return out, nil
}

// matchPattern supports a trailing "*" wildcard, the only form the core
// needs (spec.md's channels(pattern) is used for diagnostics, not routing).
func matchPattern(pattern, topic string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if n := len(pattern); n > 0 && pattern[n-1] == '*' {
		prefix := pattern[:n-1]
		return len(topic) >= len(prefix) && topic[:len(prefix)] == prefix
	}
	return pattern == topic
}

func (l *Local) Set(key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelTimerLocked(key)
	l.kv[key] = value
	return nil
}

func (l *Local) SetEx(key, value string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelTimerLocked(key)
	l.kv[key] = value
	l.timers[key] = time.AfterFunc(ttl, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.kv, key)
		delete(l.timers, key)
	})
	return nil
}

func (l *Local) Get(key string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.kv[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (l *Local) Del(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelTimerLocked(key)
	delete(l.kv, key)
	return nil
}

func (l *Local) Exists(key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.kv[key]
	return ok, nil
}

func (l *Local) Expire(key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.kv[key]; !ok {
		return ErrNotFound
	}
	l.cancelTimerLocked(key)
	l.timers[key] = time.AfterFunc(ttl, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.kv, key)
		delete(l.timers, key)
	})
	return nil
}

func (l *Local) cancelTimerLocked(key string) {
	if t, ok := l.timers[key]; ok {
		t.Stop()
		delete(l.timers, key)
	}
}

func (l *Local) SAdd(key, member string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sets[key] == nil {
		l.sets[key] = make(map[string]struct{})
	}
	l.sets[key][member] = struct{}{}
	return nil
}

func (l *Local) SRem(key, member string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.sets[key]; ok {
		delete(s, member)
		if len(s) == 0 {
			delete(l.sets, key)
		}
	}
	return nil
}

func (l *Local) SMembers(key string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.sets[key]))
	for m := range l.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (l *Local) SIsMember(key, member string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.sets[key][member]
	return ok, nil
}

func (l *Local) SCard(key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sets[key]), nil
}

func (l *Local) SInter(keys ...string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(keys) == 0 {
		return nil, nil
	}
	base := l.sets[keys[0]]
	out := make([]string, 0)
	for m := range base {
		inAll := true
		for _, k := range keys[1:] {
			if _, ok := l.sets[k][m]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out = append(out, m)
		}
	}
	return out, nil
}

func (l *Local) HSet(key, field, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hashes[key] == nil {
		l.hashes[key] = make(map[string]string)
	}
	l.hashes[key][field] = value
	return nil
}

func (l *Local) HGet(key, field string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.hashes[key][field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (l *Local) HGetAll(key string) (map[string]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.hashes[key]))
	for f, v := range l.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (l *Local) HDel(key string, fields ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h, f)
		if ft, ok := l.hashTimers[key]; ok {
			if t, ok := ft[f]; ok {
				t.Stop()
				delete(ft, f)
			}
		}
	}
	if len(h) == 0 {
		delete(l.hashes, key)
	}
	return nil
}

func (l *Local) hincrby(key, field string, delta int64) int64 {
	if l.hashes[key] == nil {
		l.hashes[key] = make(map[string]string)
	}
	cur := parseInt64(l.hashes[key][field])
	next := cur + delta
	l.hashes[key][field] = formatInt64(next)
	return next
}

func (l *Local) HIncrBy(key, field string, delta int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hincrby(key, field, delta), nil
}

// HIncrByEx increments field and (re)arms a per-field TTL after which the
// field is deleted from the hash. This is the primitive the matchmaker
// uses as a fleet-wide create-slot counter (spec.md §4.5).
func (l *Local) HIncrByEx(key, field string, delta int64, ttl time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.hincrby(key, field, delta)
	if l.hashTimers[key] == nil {
		l.hashTimers[key] = make(map[string]*time.Timer)
	}
	if t, ok := l.hashTimers[key][field]; ok {
		t.Stop()
	}
	l.hashTimers[key][field] = time.AfterFunc(ttl, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, ok := l.hashes[key]; ok {
			delete(h, field)
			if len(h) == 0 {
				delete(l.hashes, key)
			}
		}
	})
	return next, nil
}

func (l *Local) HLen(key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hashes[key]), nil
}

func (l *Local) Incr(key string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := parseInt64(l.kv[key]) + 1
	l.kv[key] = formatInt64(next)
	return next, nil
}

func (l *Local) Decr(key string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := parseInt64(l.kv[key]) - 1
	l.kv[key] = formatInt64(next)
	return next, nil
}

func (l *Local) LPush(key string, values ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range values {
		l.lists[key] = append([]string{v}, l.lists[key]...)
	}
	return nil
}

func (l *Local) RPush(key string, values ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lists[key] = append(l.lists[key], values...)
	return nil
}

func (l *Local) LPop(key string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	vs := l.lists[key]
	if len(vs) == 0 {
		return "", ErrNotFound
	}
	v := vs[0]
	l.lists[key] = vs[1:]
	return v, nil
}

func (l *Local) RPop(key string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	vs := l.lists[key]
	if len(vs) == 0 {
		return "", ErrNotFound
	}
	v := vs[len(vs)-1]
	l.lists[key] = vs[:len(vs)-1]
	return v, nil
}

func (l *Local) LLen(key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lists[key]), nil
}

func (l *Local) BRPop(ctx context.Context, timeoutSec time.Duration, keys ...string) (string, string, error) {
	deadline := time.Now().Add(timeoutSec)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		l.mu.Lock()
		for _, k := range keys {
			vs := l.lists[k]
			if len(vs) > 0 {
				v := vs[len(vs)-1]
				l.lists[k] = vs[:len(vs)-1]
				l.mu.Unlock()
				return k, v, nil
			}
		}
		l.mu.Unlock()

		if timeoutSec > 0 && time.Now().After(deadline) {
			return "", "", ErrNotFound
		}
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Local) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, t := range l.timers {
		t.Stop()
	}
	for _, ft := range l.hashTimers {
		for _, t := range ft {
			t.Stop()
		}
	}
	if l.snapshot != nil {
		l.snapshot.save(l)
	}
	return nil
}
