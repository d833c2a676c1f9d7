package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voidframe/roomserver/internal/presence"
)

// Handler services one IPC method. It receives the raw JSON args and
// returns a JSON-encodable result or an error. Handlers may suspend
// (spec.md §4.2: "asynchronous returns reply on completion").
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Dispatcher subscribes to one request topic (a process inbox "p:<pid>"
// or a room inbox "$<roomId>") and routes frames to registered handlers by
// method name, replying on the per-call channel named in the frame.
type Dispatcher struct {
	presence presence.Presence
	topic    string

	mu       sync.RWMutex
	handlers map[string]Handler
	subID    string
}

// NewDispatcher subscribes immediately; call Close to unsubscribe.
func NewDispatcher(p presence.Presence, topic string) (*Dispatcher, error) {
	d := &Dispatcher{
		presence: p,
		topic:    topic,
		handlers: make(map[string]Handler),
	}
	subID, err := p.Subscribe(topic, d.onMessage)
	if err != nil {
		return nil, fmt.Errorf("ipc: subscribe dispatcher topic %q: %w", topic, err)
	}
	d.subID = subID
	return d, nil
}

// Handle registers the handler invoked for method on this dispatcher's
// topic. Registering the same method twice replaces the prior handler.
func (d *Dispatcher) Handle(method string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = h
}

func (d *Dispatcher) onMessage(data []byte) {
	var frame requestFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Error().Str("module", "ipc").Str("topic", d.topic).Err(err).Msg("malformed request frame")
		return
	}

	d.mu.RLock()
	h, ok := d.handlers[frame.Method]
	d.mu.RUnlock()
	if !ok {
		d.reply(frame.RequestID, replyFrame{Code: CodeError, Message: fmt.Sprintf("no handler for method %q", frame.Method)})
		return
	}

	// Dispatch off the presence delivery goroutine so a suspending handler
	// never blocks other subscribers on the same topic.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("module", "ipc").Str("method", frame.Method).
					Interface("panic", r).Msg("ipc handler panicked")
				d.reply(frame.RequestID, replyFrame{Code: CodeError, Message: fmt.Sprintf("panic: %v", r)})
			}
		}()
		result, err := h(context.Background(), frame.Args)
		if err != nil {
			d.reply(frame.RequestID, replyFrame{Code: CodeError, Message: err.Error()})
			return
		}
		payload, err := json.Marshal(result)
		if err != nil {
			d.reply(frame.RequestID, replyFrame{Code: CodeError, Message: err.Error()})
			return
		}
		d.reply(frame.RequestID, replyFrame{Code: CodeSuccess, Payload: payload})
	}()
}

func (d *Dispatcher) reply(requestID string, rf replyFrame) {
	b, err := json.Marshal(rf)
	if err != nil {
		log.Error().Str("module", "ipc").Err(err).Msg("marshal reply frame")
		return
	}
	if err := d.presence.Publish("ipc:"+requestID, b); err != nil {
		log.Error().Str("module", "ipc").Err(err).Msg("publish reply")
	}
}

// Close unsubscribes this dispatcher from its topic.
func (d *Dispatcher) Close() error {
	return d.presence.Unsubscribe(d.topic, d.subID)
}
