package room

import (
	"time"

	"github.com/voidframe/roomserver/internal/transport"
)

// ReconnectionFuture is the Deferred<Client> returned by AllowReconnection
// (spec.md §4.6 "Reconnection"): resolved when the client reconnects
// within the window, rejected on timeout or manual Reject.
type ReconnectionFuture struct {
	room  *Room
	token string
	done  chan *Client
}

// Wait blocks until the reconnection resolves or is rejected. Intended to
// be awaited from within an onLeave hook, which spec.md §5 lists as a
// suspension point.
func (f *ReconnectionFuture) Wait() (*Client, error) {
	client, ok := <-f.done
	if !ok || client == nil {
		return nil, ErrReconnectExpired
	}
	return client, nil
}

// Reject manually rejects a pending reconnection before its timeout, used
// when seconds was 0 ("manual" mode in spec.md's vocabulary).
func (f *ReconnectionFuture) Reject() {
	f.room.expireReconnection(f.token)
}

// AllowReconnection implements allowReconnection (spec.md §4.6): holds the
// client's seat under its reconnectionToken for up to seconds (0 means
// manual, no automatic timeout), returning a future resolved on
// Reconnect.
func (r *Room) AllowReconnection(client *Client, seconds int) (*ReconnectionFuture, error) {
	r.mu.Lock()
	if r.state == StateDisposing {
		r.mu.Unlock()
		return nil, ErrDisposing
	}
	token := client.ReconnectionToken
	if token == "" {
		r.mu.Unlock()
		return nil, ErrReconnectUnknown
	}
	pr := &pendingReconnect{sessionID: client.SessionID, client: client, done: make(chan *Client, 1)}
	r.reconnections[token] = pr
	// Seat is kept alive (consumed, so it counts toward maxClients but
	// isn't reaped by the seat TTL machinery) for the duration of the
	// hold.
	r.reservedSeats[client.SessionID] = &reservedSeat{consumed: true, reconnect: true}
	if seconds > 0 {
		pr.timerID = r.clock.SetTimeout(func() { r.expireReconnection(token) }, time.Duration(seconds)*time.Second)
	}
	r.mu.Unlock()

	return &ReconnectionFuture{room: r, token: token, done: pr.done}, nil
}

// expireReconnection rejects a pending reconnection hold, reaping its
// held seat and resuming the deferred dispose path.
func (r *Room) expireReconnection(token string) {
	r.mu.Lock()
	pr, ok := r.reconnections[token]
	if !ok || pr.resolved {
		r.mu.Unlock()
		return
	}
	pr.resolved = true
	delete(r.reconnections, token)
	delete(r.reservedSeats, pr.sessionID)
	r.mu.Unlock()

	close(pr.done)
	_ = r.updateCacheAfterSeatChange(-1)
	r.disposeIfEmpty()
}

// Reconnect implements the client-reconnects-within-window path: resolves
// the pending future with a Client bound to the new transport connection,
// marked RECONNECTED per spec.md §4.6.
func (r *Room) Reconnect(token string, conn transport.Conn) (*Client, error) {
	r.mu.Lock()
	pr, ok := r.reconnections[token]
	if !ok {
		r.mu.Unlock()
		return nil, ErrReconnectUnknown
	}
	if pr.resolved {
		r.mu.Unlock()
		return nil, ErrReconnectExpired
	}
	pr.resolved = true
	delete(r.reconnections, token)
	delete(r.reservedSeats, pr.sessionID)
	r.clock.ClearTimeout(pr.timerID)
	client := pr.client
	r.mu.Unlock()

	client.mu.Lock()
	client.conn = conn
	client.mu.Unlock()
	client.setState(StateReconnected)

	r.mu.Lock()
	r.clients = append(r.clients, client)
	r.mu.Unlock()
	r.autoLockIfFull()

	pr.done <- client
	close(pr.done)
	return client, nil
}
