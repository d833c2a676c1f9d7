package room

import (
	"sync"

	"github.com/voidframe/roomserver/internal/transport"
)

// ClientState tracks a Client's position in the join/leave lifecycle
// (spec.md §3).
type ClientState int

const (
	StateJoining ClientState = iota
	StateJoined
	StateReconnected
	StateLeaving
)

func (s ClientState) String() string {
	switch s {
	case StateJoining:
		return "JOINING"
	case StateJoined:
		return "JOINED"
	case StateReconnected:
		return "RECONNECTED"
	case StateLeaving:
		return "LEAVING"
	default:
		return "UNKNOWN"
	}
}

// Client is one joined session bound to exactly one Room (spec.md §3).
type Client struct {
	SessionID         string
	ReconnectionToken string
	Auth              any
	UserData          any

	mu    sync.Mutex
	state ClientState
	conn  transport.Conn
}

func newClient(sessionID string, conn transport.Conn, auth any) *Client {
	return &Client{
		SessionID: sessionID,
		Auth:      auth,
		conn:      conn,
		state:     StateJoining,
	}
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Send writes a fully encoded frame to the client's transport connection.
func (c *Client) Send(frame []byte) error {
	return c.conn.Send(frame)
}

// Close terminates the client's transport connection.
func (c *Client) Close(code uint16, reason string) {
	c.conn.Close(code, reason)
}
