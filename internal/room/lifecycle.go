package room

import (
	"github.com/google/uuid"

	"github.com/voidframe/roomserver/internal/protocol"
	"github.com/voidframe/roomserver/internal/transport"
)

// clientReceiver adapts a single client's transport.Conn to
// transport.Receiver, routing frames and close events back into the
// owning Room without the transport layer knowing about rooms.
type clientReceiver struct {
	room      *Room
	sessionID string
}

func (cr *clientReceiver) OnFrame(_ transport.Conn, frame []byte) {
	cr.room.handleFrame(cr.sessionID, frame)
}

func (cr *clientReceiver) OnClose(_ transport.Conn) {
	cr.room.onClientDisconnected(cr.sessionID, false)
}

// NewClientReceiver exposes the per-client transport.Receiver so an
// adapter (e.g. an HTTP upgrade handler) can pass it to transport.Accept
// before calling Attach.
func (r *Room) NewClientReceiver(sessionID string) transport.Receiver {
	return &clientReceiver{room: r, sessionID: sessionID}
}

// Attach implements _onJoin (spec.md §4.6): consumes the reserved seat,
// runs onAuth, appends the client, sends JOIN_ROOM plus full state, and
// runs onJoin. Returns the joined Client on success.
func (r *Room) Attach(sessionID string, conn transport.Conn) (*Client, error) {
	seat, err := r.consumeSeat(sessionID)
	if err != nil {
		return nil, err
	}

	client := newClient(sessionID, conn, seat.auth)
	client.ReconnectionToken = uuid.NewString()

	authResult, authErr := r.runOnAuth(client, seat.options)
	if authErr != nil {
		r.leave(client, true)
		_ = client.Send(mustEncodeError(4001, authErr.Error()))
		client.Close(errorCloseCode, authErr.Error())
		return nil, authErr
	}
	client.Auth = authResult

	r.mu.Lock()
	r.clients = append(r.clients, client)
	client.setState(StateJoined)
	r.mu.Unlock()
	r.autoLockIfFull()

	joinFrame, ferr := protocol.EncodeJoinRoom(protocol.JoinRoomPayload{
		ReconnectionToken: client.ReconnectionToken,
		SerializerID:      r.serializerID(),
	})
	if ferr == nil {
		_ = client.Send(joinFrame)
	}
	r.sendFullState(client)

	if r.Hooks.OnJoin != nil {
		_ = r.safeCall(MethodOnJoin, func() error { return r.Hooks.OnJoin(r, client, seat.options, client.Auth) })
	}
	if r.JoinStatHook != nil {
		r.JoinStatHook(r)
	}
	return client, nil
}

func (r *Room) runOnAuth(client *Client, options map[string]any) (any, error) {
	if r.Hooks.OnAuth == nil {
		return defaultOnAuth(r, client, options, nil)
	}
	var result any
	err := r.safeCall(MethodOnAuth, func() error {
		v, err := r.Hooks.OnAuth(r, client, options, nil)
		result = v
		return err
	})
	return result, err
}

func (r *Room) serializerID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.serializer.ID()
}

func (r *Room) sendFullState(client *Client) {
	r.mu.Lock()
	state := r.roomState
	s := r.serializer
	r.mu.Unlock()
	if state == nil {
		return
	}
	full, err := s.GetFullState(state)
	if err != nil || full == nil {
		return
	}
	_ = client.Send(protocol.EncodeRoomState(full))
}

// onClientDisconnected handles a transport-level close, treating anything
// other than an explicit consented leave as non-consented.
func (r *Room) onClientDisconnected(sessionID string, consented bool) {
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
	r.leave(client, consented)
}

// leave implements _onLeave (spec.md §4.6): marks LEAVING, removes from
// clients, runs onLeave under the leave-concurrency counter, and defers
// disposal if a reconnection hold is pending.
func (r *Room) leave(client *Client, consented bool) {
	client.setState(StateLeaving)

	r.mu.Lock()
	for i, c := range r.clients {
		if c == client {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			break
		}
	}
	r.leaveInFlight++
	r.serializer.ForgetClient(client.SessionID)
	r.mu.Unlock()
	r.autoLockIfFull()

	if r.Hooks.OnLeave != nil {
		_ = r.safeCall(MethodOnLeave, func() error { return r.Hooks.OnLeave(r, client, consented) })
	}
	if r.LeaveStatHook != nil {
		r.LeaveStatHook(r)
	}

	r.mu.Lock()
	r.leaveInFlight--
	stillReconnecting := r.reconnections[client.ReconnectionToken] != nil
	r.mu.Unlock()

	if stillReconnecting {
		return
	}
	r.afterLeave(client)
}

func (r *Room) afterLeave(client *Client) {
	_ = r.updateCacheAfterSeatChange(-1)
	r.mu.Lock()
	delete(r.reservedSeats, client.SessionID)
	r.mu.Unlock()
	r.disposeIfEmpty()
}

// DisconnectAll force-closes every joined client, e.g. from
// onBeforeShutdown or lock+shutdown sequences (spec.md §4.8).
func (r *Room) DisconnectAll(code uint16, reason string) {
	r.mu.Lock()
	clients := make([]*Client, len(r.clients))
	copy(clients, r.clients)
	r.mu.Unlock()
	for _, c := range clients {
		c.Close(code, reason)
		r.leave(c, code == consentedCloseCode)
	}
}

func mustEncodeError(code int, message string) []byte {
	frame, err := protocol.EncodeError(code, message)
	if err != nil {
		return protocol.Encode(protocol.CodeError, nil)
	}
	return frame
}
