package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordingReceiver struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	done   chan struct{}
}

func newRecordingReceiver() *recordingReceiver {
	return &recordingReceiver{done: make(chan struct{})}
}

func (r *recordingReceiver) OnFrame(conn Conn, frame []byte) {
	r.mu.Lock()
	r.frames = append(r.frames, frame)
	r.mu.Unlock()
}

func (r *recordingReceiver) OnClose(conn Conn) {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	close(r.done)
}

func TestWSConnRoundTrip(t *testing.T) {
	recv := newRecordingReceiver()
	var serverConn *WSConn
	connReady := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Accept(w, r, recv)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		serverConn = c
		close(connReady)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.WriteMessage(websocket.BinaryMessage, []byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	select {
	case <-connReady:
	case <-time.After(time.Second):
		t.Fatal("server never accepted connection")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		recv.mu.Lock()
		n := len(recv.frames)
		recv.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	recv.mu.Lock()
	got := len(recv.frames)
	recv.mu.Unlock()
	if got != 1 {
		t.Fatalf("got %d frames, want 1", got)
	}

	if err := serverConn.Send([]byte("world")); err != nil {
		t.Fatalf("server Send: %v", err)
	}
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(data) != "world" {
		t.Fatalf("got %q, want world", data)
	}

	serverConn.Close(1000, "done")
	select {
	case <-recv.done:
	case <-time.After(time.Second):
		t.Fatal("receiver never observed close")
	}
}
