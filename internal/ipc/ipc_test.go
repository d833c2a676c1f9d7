package ipc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/voidframe/roomserver/internal/presence"
)

func TestCallRoundTrip(t *testing.T) {
	p := presence.NewLocal()
	defer p.Shutdown()

	d, err := NewDispatcher(p, "p:node-1")
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	defer d.Close()

	d.Handle("echo", func(ctx context.Context, args json.RawMessage) (any, error) {
		var s string
		_ = json.Unmarshal(args, &s)
		return s + "-pong", nil
	})

	args, _ := json.Marshal("ping")
	payload, err := Call(context.Background(), p, "p:node-1", "echo", args, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	var got string
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got != "ping-pong" {
		t.Fatalf("got %q, want %q", got, "ping-pong")
	}
}

func TestCallSurfacesRemoteError(t *testing.T) {
	p := presence.NewLocal()
	defer p.Shutdown()

	d, _ := NewDispatcher(p, "p:node-1")
	defer d.Close()
	d.Handle("boom", func(ctx context.Context, args json.RawMessage) (any, error) {
		return nil, errBoom
	})

	_, err := Call(context.Background(), p, "p:node-1", "boom", nil, time.Second)
	if err == nil {
		t.Fatal("expected error from remote handler")
	}
}

func TestCallTimesOutWithNoHandler(t *testing.T) {
	p := presence.NewLocal()
	defer p.Shutdown()

	_, err := Call(context.Background(), p, "p:ghost", "anything", nil, 20*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

type boomErr string

func (e boomErr) Error() string { return string(e) }

var errBoom = boomErr("kaboom")
