package room

import (
	"encoding/json"
	"fmt"

	"github.com/voidframe/roomserver/internal/protocol"
)

// wildcardMessageType is the fallback key matched when no exact handler
// is registered for an incoming message type (spec.md §4.6 dispatch
// order: exact, then "*").
const wildcardMessageType = "*"

// Validate optionally transforms or rejects an incoming payload before
// Callback runs; returning an error rejects the message.
type Validate func(payload json.RawMessage) (json.RawMessage, error)

// MessageHandler services one message type.
type MessageHandler struct {
	Validate Validate
	Callback func(r *Room, client *Client, payload json.RawMessage) error
}

// On registers the handler invoked for exact message type matches.
func (r *Room) On(messageType string, h MessageHandler) {
	r.mu.Lock()
	r.messageHandlers[messageType] = h
	r.mu.Unlock()
}

// OnAny registers the wildcard ("*") fallback handler.
func (r *Room) OnAny(h MessageHandler) {
	r.mu.Lock()
	r.wildcardHandler = h
	r.mu.Unlock()
}

// handleFrame implements _onMessage (spec.md §4.6): resolves a handler in
// exact/wildcard/default order, runs Validate then Callback under
// exception-wrapping, and drops the message silently if the client has
// already started leaving.
func (r *Room) handleFrame(sessionID string, frame []byte) {
	r.mu.Lock()
	var client *Client
	for _, c := range r.clients {
		if c.SessionID == sessionID {
			client = c
			break
		}
	}
	r.mu.Unlock()
	if client == nil {
		return
	}
	if client.State() == StateLeaving {
		return
	}

	code, body := protocol.Decode(frame)
	if code != protocol.CodeRoomData && code != protocol.CodeRoomDataBytes {
		r.rejectInvalidPayload(client, "unsupported frame code")
		return
	}

	var rd protocol.RoomDataPayload
	if err := json.Unmarshal(body, &rd); err != nil {
		r.rejectInvalidPayload(client, "malformed room data frame")
		return
	}

	messageType, err := canonicalMessageType(rd.Type)
	if err != nil {
		r.rejectInvalidPayload(client, "malformed message type")
		return
	}

	r.mu.Lock()
	handler, ok := r.messageHandlers[messageType]
	if !ok {
		handler, ok = r.wildcardHandler, r.wildcardHandler.Callback != nil
	}
	r.mu.Unlock()

	if !ok {
		r.rejectInvalidPayload(client, fmt.Sprintf("no handler for message type %q", messageType))
		return
	}

	payload := rd.Payload
	if handler.Validate != nil {
		var validated json.RawMessage
		verr := r.safeCall(MethodOnMessage, func() error {
			v, err := handler.Validate(payload)
			validated = v
			return err
		})
		if verr != nil {
			r.closeOnMessageException(client, verr)
			return
		}
		payload = validated
	}

	if err := r.safeCall(MethodOnMessage, func() error { return handler.Callback(r, client, payload) }); err != nil {
		r.closeOnMessageException(client, err)
	}
}

// rejectInvalidPayload implements the "__no_message_handler" default:
// devMode replies to the client, production closes the connection
// (spec.md §4.6).
func (r *Room) rejectInvalidPayload(client *Client, reason string) {
	r.mu.Lock()
	devMode := r.devMode
	r.mu.Unlock()
	if devMode {
		_ = client.Send(mustEncodeError(4400, reason))
		return
	}
	client.Close(errorCloseCode, reason)
	r.leave(client, false)
}

func (r *Room) closeOnMessageException(client *Client, cause error) {
	_ = client.Send(mustEncodeError(4500, cause.Error()))
	client.Close(errorCloseCode, cause.Error())
	r.leave(client, false)
}

// canonicalMessageType normalizes a RoomDataPayload.Type (string or
// number, per spec.md §4.6) into a single string lookup key.
func canonicalMessageType(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return fmt.Sprintf("%v", n), nil
	}
	return "", fmt.Errorf("room: message type must be string or number, got %q", raw)
}
