package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATS is the Distributed Presence variant (spec.md §4.1): pub/sub on a
// shared NATS connection, with a JetStream KeyValue bucket standing in for
// the key/value, hash, set, and list primitives. Grounded on the
// presence-service pattern in the nats-chat-keycloak example (nats.Conn
// for fan-out, nats.KeyValue for shared state).
type NATS struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	kv     nats.KeyValue
	bucket string

	mu      sync.Mutex
	subs    map[string]map[string]*nats.Subscription
	closed  bool
	expires map[string]*time.Timer
}

// NATSConfig configures the Distributed presence backend.
type NATSConfig struct {
	URL    string
	Bucket string // JetStream KV bucket name, e.g. "roomserver_presence"
}

// NewNATS connects to a NATS server and opens (creating if needed) the
// JetStream KV bucket used for everything but pub/sub.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("roomserver-presence"), nats.MaxReconnects(-1), nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("presence: connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("presence: jetstream context: %w", err)
	}
	kv, err := js.KeyValue(cfg.Bucket)
	if err != nil {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: cfg.Bucket})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("presence: open kv bucket %q: %w", cfg.Bucket, err)
		}
	}
	log.Info().Str("module", "presence.nats").Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("connected")
	return &NATS{
		conn:    nc,
		js:      js,
		kv:      kv,
		bucket:  cfg.Bucket,
		subs:    make(map[string]map[string]*nats.Subscription),
		expires: make(map[string]*time.Timer),
	}, nil
}

func (n *NATS) Subscribe(topic string, handler MessageHandler) (string, error) {
	sub, err := n.conn.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return "", fmt.Errorf("presence: subscribe %q: %w", topic, err)
	}
	n.mu.Lock()
	if n.subs[topic] == nil {
		n.subs[topic] = make(map[string]*nats.Subscription)
	}
	id := fmt.Sprintf("%p", sub)
	n.subs[topic][id] = sub
	n.mu.Unlock()
	return id, nil
}

func (n *NATS) Unsubscribe(topic, subID string) error {
	n.mu.Lock()
	sub, ok := n.subs[topic][subID]
	if ok {
		delete(n.subs[topic], subID)
		if len(n.subs[topic]) == 0 {
			delete(n.subs, topic)
		}
	}
	n.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

func (n *NATS) Publish(topic string, data []byte) error {
	return n.conn.Publish(topic, data)
}

func (n *NATS) Channels(pattern string) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.subs))
	for topic := range n.subs {
		if matchPattern(pattern, topic) {
			out = append(out, topic)
		}
	}
	return out, nil
}

// --- key/value, built directly on the KV bucket ---

func (n *NATS) Set(key, value string) error {
	n.clearExpiry(key)
	_, err := n.kv.Put(key, []byte(value))
	return err
}

func (n *NATS) SetEx(key, value string, ttl time.Duration) error {
	if err := n.Set(key, value); err != nil {
		return err
	}
	n.armExpiry(key, ttl, func() { _ = n.kv.Delete(key) })
	return nil
}

func (n *NATS) Get(key string) (string, error) {
	e, err := n.kv.Get(key)
	if err == nats.ErrKeyNotFound {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(e.Value()), nil
}

func (n *NATS) Del(key string) error {
	n.clearExpiry(key)
	return n.kv.Delete(key)
}

func (n *NATS) Exists(key string) (bool, error) {
	_, err := n.kv.Get(key)
	if err == nats.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (n *NATS) Expire(key string, ttl time.Duration) error {
	if _, err := n.kv.Get(key); err != nil {
		if err == nats.ErrKeyNotFound {
			return ErrNotFound
		}
		return err
	}
	n.armExpiry(key, ttl, func() { _ = n.kv.Delete(key) })
	return nil
}

func (n *NATS) armExpiry(key string, ttl time.Duration, fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.expires[key]; ok {
		t.Stop()
	}
	n.expires[key] = time.AfterFunc(ttl, fn)
}

func (n *NATS) clearExpiry(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.expires[key]; ok {
		t.Stop()
		delete(n.expires, key)
	}
}

// --- sets, hashes, lists emulated as JSON blobs keyed by convention ---
//
// JetStream KV has no native collection types; each collection is stored
// as one JSON-encoded value under a composite key, mutated with
// kv.Update (optimistic CAS on revision) so concurrent callers retry
// instead of clobbering each other.

const casRetries = 10

func (n *NATS) mutateJSON(key string, mutate func(v map[string]any) error) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		e, err := n.kv.Get(key)
		var rev uint64
		m := map[string]any{}
		if err == nil {
			rev = e.Revision()
			_ = json.Unmarshal(e.Value(), &m)
		} else if err != nats.ErrKeyNotFound {
			return err
		}
		if err := mutate(m); err != nil {
			return err
		}
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if rev == 0 {
			if _, err := n.kv.Create(key, b); err == nil {
				return nil
			}
			continue // someone else created it first; retry as update
		}
		if _, err := n.kv.Update(key, b, rev); err == nil {
			return nil
		}
		// revision mismatch: another writer raced us, retry.
	}
	return fmt.Errorf("presence: exhausted CAS retries on %q", key)
}

func setKey(key string) string  { return "set:" + sanitize(key) }
func hashKey(key string) string { return "hash:" + sanitize(key) }
func listKey(key string) string { return "list:" + sanitize(key) }

// sanitize maps characters NATS subjects/keys disallow onto safe stand-ins.
func sanitize(key string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(key)
}

func (n *NATS) SAdd(key, member string) error {
	return n.mutateJSON(setKey(key), func(v map[string]any) error {
		v[member] = true
		return nil
	})
}

func (n *NATS) SRem(key, member string) error {
	return n.mutateJSON(setKey(key), func(v map[string]any) error {
		delete(v, member)
		return nil
	})
}

func (n *NATS) readSet(key string) (map[string]any, error) {
	e, err := n.kv.Get(setKey(key))
	if err == nats.ErrKeyNotFound {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	_ = json.Unmarshal(e.Value(), &m)
	return m, nil
}

func (n *NATS) SMembers(key string) ([]string, error) {
	m, err := n.readSet(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out, nil
}

func (n *NATS) SIsMember(key, member string) (bool, error) {
	m, err := n.readSet(key)
	if err != nil {
		return false, err
	}
	_, ok := m[member]
	return ok, nil
}

func (n *NATS) SCard(key string) (int, error) {
	m, err := n.readSet(key)
	if err != nil {
		return 0, err
	}
	return len(m), nil
}

func (n *NATS) SInter(keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	base, err := n.readSet(keys[0])
	if err != nil {
		return nil, err
	}
	out := make([]string, 0)
	for m := range base {
		inAll := true
		for _, k := range keys[1:] {
			other, err := n.readSet(k)
			if err != nil {
				return nil, err
			}
			if _, ok := other[m]; !ok {
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

func (n *NATS) HSet(key, field, value string) error {
	return n.mutateJSON(hashKey(key), func(v map[string]any) error {
		v[field] = value
		return nil
	})
}

func (n *NATS) readHash(key string) (map[string]any, error) {
	e, err := n.kv.Get(hashKey(key))
	if err == nats.ErrKeyNotFound {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	_ = json.Unmarshal(e.Value(), &m)
	return m, nil
}

func (n *NATS) HGet(key, field string) (string, error) {
	m, err := n.readHash(key)
	if err != nil {
		return "", err
	}
	v, ok := m[field]
	if !ok {
		return "", ErrNotFound
	}
	s, _ := v.(string)
	return s, nil
}

func (n *NATS) HGetAll(key string) (map[string]string, error) {
	m, err := n.readHash(key)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(m))
	for f, v := range m {
		if s, ok := v.(string); ok {
			out[f] = s
		}
	}
	return out, nil
}

func (n *NATS) HDel(key string, fields ...string) error {
	return n.mutateJSON(hashKey(key), func(v map[string]any) error {
		for _, f := range fields {
			delete(v, f)
		}
		return nil
	})
}

func (n *NATS) hincrby(key, field string, delta int64) (int64, error) {
	var result int64
	err := n.mutateJSON(hashKey(key), func(v map[string]any) error {
		cur := parseInt64(stringify(v[field]))
		result = cur + delta
		v[field] = formatInt64(result)
		return nil
	})
	return result, err
}

func (n *NATS) HIncrBy(key, field string, delta int64) (int64, error) {
	return n.hincrby(key, field, delta)
}

func (n *NATS) HIncrByEx(key, field string, delta int64, ttl time.Duration) (int64, error) {
	v, err := n.hincrby(key, field, delta)
	if err != nil {
		return 0, err
	}
	n.armExpiry(hashKey(key)+":"+field, ttl, func() {
		_ = n.mutateJSON(hashKey(key), func(m map[string]any) error {
			delete(m, field)
			return nil
		})
	})
	return v, nil
}

func (n *NATS) HLen(key string) (int, error) {
	m, err := n.readHash(key)
	if err != nil {
		return 0, err
	}
	return len(m), nil
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func (n *NATS) Incr(key string) (int64, error) {
	var result int64
	err := n.mutateJSON("counter:"+sanitize(key), func(v map[string]any) error {
		cur := parseInt64(stringify(v["v"]))
		result = cur + 1
		v["v"] = formatInt64(result)
		return nil
	})
	return result, err
}

func (n *NATS) Decr(key string) (int64, error) {
	var result int64
	err := n.mutateJSON("counter:"+sanitize(key), func(v map[string]any) error {
		cur := parseInt64(stringify(v["v"]))
		result = cur - 1
		v["v"] = formatInt64(result)
		return nil
	})
	return result, err
}

func (n *NATS) readList(key string) ([]any, error) {
	e, err := n.kv.Get(listKey(key))
	if err == nats.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var l []any
	_ = json.Unmarshal(e.Value(), &l)
	return l, nil
}

func (n *NATS) mutateList(key string, mutate func([]any) []any) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		e, err := n.kv.Get(listKey(key))
		var rev uint64
		var l []any
		if err == nil {
			rev = e.Revision()
			_ = json.Unmarshal(e.Value(), &l)
		} else if err != nats.ErrKeyNotFound {
			return err
		}
		l = mutate(l)
		b, err := json.Marshal(l)
		if err != nil {
			return err
		}
		if rev == 0 {
			if _, err := n.kv.Create(listKey(key), b); err == nil {
				return nil
			}
			continue
		}
		if _, err := n.kv.Update(listKey(key), b, rev); err == nil {
			return nil
		}
	}
	return fmt.Errorf("presence: exhausted CAS retries on list %q", key)
}

func (n *NATS) LPush(key string, values ...string) error {
	return n.mutateList(key, func(l []any) []any {
		for _, v := range values {
			l = append([]any{v}, l...)
		}
		return l
	})
}

func (n *NATS) RPush(key string, values ...string) error {
	return n.mutateList(key, func(l []any) []any {
		for _, v := range values {
			l = append(l, v)
		}
		return l
	})
}

func (n *NATS) LPop(key string) (string, error) {
	var out string
	var found bool
	err := n.mutateList(key, func(l []any) []any {
		if len(l) == 0 {
			return l
		}
		out = stringify(l[0])
		found = true
		return l[1:]
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNotFound
	}
	return out, nil
}

func (n *NATS) RPop(key string) (string, error) {
	var out string
	var found bool
	err := n.mutateList(key, func(l []any) []any {
		if len(l) == 0 {
			return l
		}
		out = stringify(l[len(l)-1])
		found = true
		return l[:len(l)-1]
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNotFound
	}
	return out, nil
}

func (n *NATS) LLen(key string) (int, error) {
	l, err := n.readList(key)
	if err != nil {
		return 0, err
	}
	return len(l), nil
}

func (n *NATS) BRPop(ctx context.Context, timeoutSec time.Duration, keys ...string) (string, string, error) {
	deadline := time.Now().Add(timeoutSec)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		for _, k := range keys {
			if v, err := n.RPop(k); err == nil {
				return k, v, nil
			} else if err != ErrNotFound {
				return "", "", err
			}
		}
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

func (n *NATS) Shutdown() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	for _, t := range n.expires {
		t.Stop()
	}
	for _, byID := range n.subs {
		for _, sub := range byID {
			_ = sub.Unsubscribe()
		}
	}
	n.mu.Unlock()
	n.conn.Close()
	return nil
}
