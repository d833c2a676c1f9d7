package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// sendBufferSize bounds how many outbound frames queue before Send starts
// reporting backpressure to the caller.
const sendBufferSize = 32

// writeDeadline bounds a single frame write.
const writeDeadline = 5 * time.Second

// ErrBackpressure is returned by WSConn.Send when the outbound buffer is
// full; the caller (room runtime) decides whether to drop the client.
var ErrBackpressure = websocketBackpressureError("transport: send buffer full")

type websocketBackpressureError string

func (e websocketBackpressureError) Error() string { return string(e) }

// Receiver is bound to a WSConn at accept time and driven by its read
// pump; this is how frames reach the room runtime without WSConn needing
// to know about rooms.
type Receiver interface {
	OnFrame(conn Conn, frame []byte)
	OnClose(conn Conn)
}

// Upgrader wraps websocket.Upgrader with the permissive CheckOrigin the
// teacher's controller uses; callers needing a stricter policy can build
// their own websocket.Upgrader and call Accept directly.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSConn is the reference transport.Conn over gorilla/websocket: a
// buffered send channel drained by a write pump, a read pump forwarding
// frames to the bound Receiver, and a sync.Once-guarded close so both
// pumps can independently observe connection teardown.
type WSConn struct {
	conn     *websocket.Conn
	send     chan []byte
	once     sync.Once
	closed   chan struct{}
	remoteAddr string
}

// Accept upgrades an HTTP request to a WSConn and starts its read/write
// pumps, delivering frames to recv until the connection closes.
func Accept(w http.ResponseWriter, r *http.Request, recv Receiver) (*WSConn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	c := &WSConn{
		conn:       ws,
		send:       make(chan []byte, sendBufferSize),
		closed:     make(chan struct{}),
		remoteAddr: ws.RemoteAddr().String(),
	}
	go c.writePump()
	go c.readPump(recv)
	return c, nil
}

func (c *WSConn) Send(frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	case <-c.closed:
		return ErrBackpressure
	default:
		return ErrBackpressure
	}
}

func (c *WSConn) Close(code uint16, reason string) {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(int(code), reason), deadline)
		_ = c.conn.Close()
	})
}

func (c *WSConn) RemoteAddr() string { return c.remoteAddr }

// writePump drains c.send until Close signals c.closed. It never closes
// c.send itself, since Send may still be racing a concurrent Close; the
// buffered frames left unsent at that point are simply dropped.
func (c *WSConn) writePump() {
	for {
		select {
		case frame := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Str("module", "transport").Str("remote", c.remoteAddr).Err(err).Msg("set write deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				log.Error().Str("module", "transport").Str("remote", c.remoteAddr).Err(err).Msg("write frame")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *WSConn) readPump(recv Receiver) {
	defer func() {
		recv.OnClose(c)
		c.Close(1000, "")
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		recv.OnFrame(c, data)
	}
}
