// Package ipc implements the request/reply protocol carried over presence
// pub/sub that the matchmaker uses to invoke methods on rooms and
// processes owned by other fleet members (spec.md §4.2).
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voidframe/roomserver/internal/presence"
)

// ErrTimeout is returned by Call when no reply arrived within the deadline.
// A late reply racing in after this point is silently dropped by Call's
// caller-side unsubscribe.
var ErrTimeout = errors.New("ipc: timeout")

// Reply codes, carried as the first element of the reply frame.
const (
	CodeSuccess = "SUCCESS"
	CodeError   = "ERROR"
)

// Default timeout bounds (spec.md §5): short for health checks, long for
// create/reserve calls that may themselves suspend on user hooks.
const (
	ShortTimeout = time.Second
	LongTimeout  = 5 * time.Second
)

// requestFrame is the wire shape published on the request topic: a JSON
// object with "method", "requestId" and "args" fields, not a positional
// array.
type requestFrame struct {
	Method    string          `json:"method"`
	RequestID string          `json:"requestId"`
	Args      json.RawMessage `json:"args"`
}

// replyFrame is the wire shape published on ipc:<requestId>: a JSON
// object with a "code" field plus "payload" on success or "message" on
// error, not a positional array.
type replyFrame struct {
	Code    string          `json:"code"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Call invokes method on whatever is listening on topic, passing args
// (already JSON-encoded by the caller) and returns the raw JSON payload of
// a SUCCESS reply, or an error wrapping the remote ERROR message, or
// ErrTimeout.
func Call(ctx context.Context, p presence.Presence, topic, method string, args json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	requestID := uuid.NewString()
	replyTopic := "ipc:" + requestID

	resultCh := make(chan replyFrame, 1)
	subID, err := p.Subscribe(replyTopic, func(data []byte) {
		var rf replyFrame
		if err := json.Unmarshal(data, &rf); err != nil {
			log.Error().Str("module", "ipc").Err(err).Msg("malformed reply frame")
			return
		}
		select {
		case resultCh <- rf:
		default:
			// A reply arrived after we already gave up; drop it per
			// spec.md §4.2 ("replies after timeout must be silently
			// dropped").
		}
	})
	if err != nil {
		return nil, fmt.Errorf("ipc: subscribe reply topic: %w", err)
	}
	defer func() { _ = p.Unsubscribe(replyTopic, subID) }()

	frame := requestFrame{Method: method, RequestID: requestID, Args: args}
	b, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("ipc: marshal request: %w", err)
	}
	if err := p.Publish(topic, b); err != nil {
		return nil, fmt.Errorf("ipc: publish request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rf := <-resultCh:
		if rf.Code == CodeError {
			return nil, fmt.Errorf("ipc: remote error: %s", rf.Message)
		}
		return rf.Payload, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
