package room

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/voidframe/roomserver/internal/driver"
	"github.com/voidframe/roomserver/internal/protocol"
	"github.com/voidframe/roomserver/internal/serializer"
)

// fakeConn is a minimal transport.Conn recording every sent frame.
type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	closeCode uint16
}

func (f *fakeConn) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Close(code uint16, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
}

func (f *fakeConn) RemoteAddr() string { return "fake" }

func (f *fakeConn) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func newTestRoom(maxClients int) (*Room, *driver.Local, driver.Handle) {
	d := driver.NewLocal()
	r := New()
	r.RoomID = "r1"
	r.RoomName = "arena"
	r.ProcessID = "p1"
	r.MaxClients = maxClients
	h, _ := d.CreateInstance(driver.RoomCache{RoomID: r.RoomID, Name: r.RoomName, ProcessID: r.ProcessID, MaxClients: maxClients})
	r.SetDriverHandle(h)
	_ = r.Create(nil)
	return r, d, h
}

func TestSeatReservationRejectedWhenFull(t *testing.T) {
	r, _, _ := newTestRoom(1)
	defer r.dispose()

	if err := r.ReserveSeat("s1", nil, nil, false); err != nil {
		t.Fatalf("first reservation: %v", err)
	}
	if err := r.ReserveSeat("s2", nil, nil, false); err != ErrSeatReservation {
		t.Fatalf("expected ErrSeatReservation, got %v", err)
	}
}

func TestAttachConsumesSeatAndSendsJoinFrame(t *testing.T) {
	r, _, _ := newTestRoom(2)
	defer r.dispose()

	if err := r.ReserveSeat("s1", map[string]any{"x": 1}, nil, false); err != nil {
		t.Fatalf("ReserveSeat: %v", err)
	}
	conn := &fakeConn{}
	client, err := r.Attach("s1", conn)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if client.State() != StateJoined {
		t.Fatalf("got state %v, want JOINED", client.State())
	}
	if conn.frameCount() == 0 {
		t.Fatal("expected at least a JOIN_ROOM frame sent")
	}
	code, _ := protocol.Decode(conn.frames[0])
	if code != protocol.CodeJoinRoom {
		t.Fatalf("got first frame code %v, want CodeJoinRoom", code)
	}
}

func TestAttachWithoutReservedSeatFails(t *testing.T) {
	r, _, _ := newTestRoom(2)
	defer r.dispose()
	_, err := r.Attach("ghost", &fakeConn{})
	if err != ErrNoReservedSeat {
		t.Fatalf("expected ErrNoReservedSeat, got %v", err)
	}
}

func TestOnAuthRejectionClosesClientAndFreesSeat(t *testing.T) {
	r, _, _ := newTestRoom(1)
	defer r.dispose()
	r.Hooks.OnAuth = func(room *Room, client *Client, options map[string]any, ctx any) (any, error) {
		return nil, ErrSeatReservation
	}

	if err := r.ReserveSeat("s1", nil, nil, false); err != nil {
		t.Fatalf("ReserveSeat: %v", err)
	}
	conn := &fakeConn{}
	_, err := r.Attach("s1", conn)
	if err == nil {
		t.Fatal("expected Attach to fail when onAuth rejects")
	}
	if !conn.closed {
		t.Fatal("expected client connection to be closed on auth rejection")
	}
	// Seat must be released so a subsequent reservation succeeds again.
	if err := r.ReserveSeat("s2", nil, nil, false); err != nil {
		t.Fatalf("expected seat to be free after auth rejection, got %v", err)
	}
}

func TestAutoDisposeFiresWhenEmptyAfterLeave(t *testing.T) {
	r, _, _ := newTestRoom(1)
	if err := r.ReserveSeat("s1", nil, nil, false); err != nil {
		t.Fatalf("ReserveSeat: %v", err)
	}
	conn := &fakeConn{}
	client, err := r.Attach("s1", conn)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	r.onClientDisconnected(client.SessionID, true)

	select {
	case <-r.Disposed():
	case <-time.After(time.Second):
		t.Fatal("expected room to auto-dispose once empty")
	}
	if r.Status() != StateDisposing {
		t.Fatalf("got status %v, want DISPOSING", r.Status())
	}
}

func TestRoomCacheRemovedOnDispose(t *testing.T) {
	r, d, _ := newTestRoom(0)
	r.dispose()
	if ok, _ := d.Has(r.RoomID); ok {
		t.Fatal("expected RoomCache removed after dispose")
	}
}

func TestMessageDispatchDropsForLeavingClient(t *testing.T) {
	r, _, _ := newTestRoom(2)
	defer r.dispose()

	called := false
	r.On("ping", MessageHandler{Callback: func(room *Room, c *Client, payload json.RawMessage) error {
		called = true
		return nil
	}})

	if err := r.ReserveSeat("s1", nil, nil, false); err != nil {
		t.Fatalf("ReserveSeat: %v", err)
	}
	client, err := r.Attach("s1", &fakeConn{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	client.setState(StateLeaving)

	msgType, _ := json.Marshal("ping")
	body, _ := json.Marshal(protocol.RoomDataPayload{Type: msgType})
	frame := protocol.Encode(protocol.CodeRoomData, body)
	r.handleFrame(client.SessionID, frame)

	if called {
		t.Fatal("expected message to be dropped for a LEAVING client")
	}
}

func TestMessageDispatchResolvesExactThenWildcard(t *testing.T) {
	r, _, _ := newTestRoom(2)
	defer r.dispose()

	var got string
	r.OnAny(MessageHandler{Callback: func(room *Room, c *Client, payload json.RawMessage) error {
		got = "wildcard"
		return nil
	}})
	r.On("move", MessageHandler{Callback: func(room *Room, c *Client, payload json.RawMessage) error {
		got = "move"
		return nil
	}})

	if err := r.ReserveSeat("s1", nil, nil, false); err != nil {
		t.Fatalf("ReserveSeat: %v", err)
	}
	client, err := r.Attach("s1", &fakeConn{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	sendMessage := func(msgType string) {
		mt, _ := json.Marshal(msgType)
		body, _ := json.Marshal(protocol.RoomDataPayload{Type: mt})
		frame := protocol.Encode(protocol.CodeRoomData, body)
		r.handleFrame(client.SessionID, frame)
	}

	sendMessage("move")
	if got != "move" {
		t.Fatalf("got %q, want move (exact handler)", got)
	}
	sendMessage("unregistered")
	if got != "wildcard" {
		t.Fatalf("got %q, want wildcard fallback", got)
	}
}

func TestBroadcastExcludesSpecifiedClient(t *testing.T) {
	r, _, _ := newTestRoom(2)
	defer r.dispose()

	if err := r.ReserveSeat("s1", nil, nil, false); err != nil {
		t.Fatalf("ReserveSeat: %v", err)
	}
	if err := r.ReserveSeat("s2", nil, nil, false); err != nil {
		t.Fatalf("ReserveSeat: %v", err)
	}
	conn1, conn2 := &fakeConn{}, &fakeConn{}
	c1, err := r.Attach("s1", conn1)
	if err != nil {
		t.Fatalf("Attach s1: %v", err)
	}
	if _, err := r.Attach("s2", conn2); err != nil {
		t.Fatalf("Attach s2: %v", err)
	}

	before1, before2 := conn1.frameCount(), conn2.frameCount()
	payload, _ := json.Marshal("hello")
	msgType, _ := json.Marshal("chat")
	if err := r.Broadcast(msgType, payload, BroadcastOptions{Except: []*Client{c1}}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	if conn1.frameCount() != before1 {
		t.Fatal("expected excluded client to receive no broadcast frame")
	}
	if conn2.frameCount() != before2+1 {
		t.Fatal("expected non-excluded client to receive the broadcast frame")
	}
}

func TestReconnectionHoldsSeatAndResolvesOnReconnect(t *testing.T) {
	r, _, _ := newTestRoom(1)
	defer r.dispose()

	if err := r.ReserveSeat("s1", nil, nil, false); err != nil {
		t.Fatalf("ReserveSeat: %v", err)
	}
	client, err := r.Attach("s1", &fakeConn{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	token := client.ReconnectionToken

	future, err := r.AllowReconnection(client, 5)
	if err != nil {
		t.Fatalf("AllowReconnection: %v", err)
	}

	r.onClientDisconnected(client.SessionID, false)

	// A full room still rejects a fresh reservation while the seat is held.
	if err := r.ReserveSeat("s2", nil, nil, false); err != ErrSeatReservation {
		t.Fatalf("expected seat held during reconnection window, got %v", err)
	}

	newConn := &fakeConn{}
	reconnected, err := r.Reconnect(token, newConn)
	if err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if reconnected.State() != StateReconnected {
		t.Fatalf("got state %v, want RECONNECTED", reconnected.State())
	}

	got, ferr := future.Wait()
	if ferr != nil {
		t.Fatalf("future.Wait: %v", ferr)
	}
	if got != reconnected {
		t.Fatal("expected future to resolve with the reconnected client")
	}
}

func TestReconnectionExpiryReleasesSeatAndDisposes(t *testing.T) {
	r, _, _ := newTestRoom(1)

	if err := r.ReserveSeat("s1", nil, nil, false); err != nil {
		t.Fatalf("ReserveSeat: %v", err)
	}
	client, err := r.Attach("s1", &fakeConn{})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	future, err := r.AllowReconnection(client, 0)
	if err != nil {
		t.Fatalf("AllowReconnection: %v", err)
	}
	r.onClientDisconnected(client.SessionID, false)

	future.Reject()

	if _, err := future.Wait(); err != ErrReconnectExpired {
		t.Fatalf("expected ErrReconnectExpired, got %v", err)
	}

	select {
	case <-r.Disposed():
	case <-time.After(time.Second):
		t.Fatal("expected room to dispose after reconnection window closes with no seats/clients")
	}
}

func TestPatchLoopDeliversDeltaAfterStateChange(t *testing.T) {
	r, _, _ := newTestRoom(1)
	defer r.dispose()
	r.PatchRateMS = 1
	r.SetSerializer(serializer.NewJSONDelta())
	r.SetState(map[string]any{"x": 0})

	if err := r.ReserveSeat("s1", nil, nil, false); err != nil {
		t.Fatalf("ReserveSeat: %v", err)
	}
	conn := &fakeConn{}
	if _, err := r.Attach("s1", conn); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && conn.frameCount() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	baseline := conn.frameCount()
	if baseline < 2 {
		t.Fatalf("expected JOIN_ROOM + full state frames, got %d", baseline)
	}

	r.SetState(map[string]any{"x": 1})
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && conn.frameCount() <= baseline {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.frameCount() <= baseline {
		t.Fatal("expected a patch frame after state change")
	}
}
