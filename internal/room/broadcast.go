package room

import (
	"encoding/json"

	"github.com/voidframe/roomserver/internal/protocol"
)

// BroadcastOptions controls fan-out (spec.md §4.6 "Broadcast").
type BroadcastOptions struct {
	Except         []*Client
	AfterNextPatch bool
}

// Broadcast implements broadcast(type, payload, opts): encodes once,
// sends to every JOINED/RECONNECTED client minus Except.
func (r *Room) Broadcast(msgType, payload json.RawMessage, opts BroadcastOptions) error {
	frame, err := protocol.EncodeRoomData(msgType, payload)
	if err != nil {
		return err
	}
	r.fanOut(frame, opts)
	return nil
}

// BroadcastBytes implements broadcastBytes(type, bytes, opts): skips the
// JSON envelope entirely.
func (r *Room) BroadcastBytes(msgType byte, raw []byte, opts BroadcastOptions) {
	frame := protocol.EncodeRoomDataBytes(msgType, raw)
	r.fanOut(frame, opts)
}

func (r *Room) fanOut(frame []byte, opts BroadcastOptions) {
	except := make(map[*Client]bool, len(opts.Except))
	for _, c := range opts.Except {
		except[c] = true
	}

	r.mu.Lock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if except[c] {
			continue
		}
		switch c.State() {
		case StateJoined, StateReconnected:
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	if opts.AfterNextPatch {
		r.mu.Lock()
		r.afterNextPatch = append(r.afterNextPatch, func() { deliverAll(targets, frame) })
		r.mu.Unlock()
		return
	}
	deliverAll(targets, frame)
}

func deliverAll(targets []*Client, frame []byte) {
	for _, c := range targets {
		_ = c.Send(frame)
	}
}

// SendTo implements the targeted single-client delivery variant of
// broadcast (spec.md §4.6 "A similar send(client, …) exists").
func (r *Room) SendTo(client *Client, msgType, payload json.RawMessage) error {
	frame, err := protocol.EncodeRoomData(msgType, payload)
	if err != nil {
		return err
	}
	return client.Send(frame)
}
