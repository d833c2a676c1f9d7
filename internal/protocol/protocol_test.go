package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := EncodeError(404, "room not found")
	if err != nil {
		t.Fatalf("EncodeError: %v", err)
	}
	code, payload := Decode(frame)
	if code != CodeError {
		t.Fatalf("got code %v, want CodeError", code)
	}
	var p ErrorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Code != 404 || p.Message != "room not found" {
		t.Fatalf("got %+v", p)
	}
}

func TestEncodeRoomDataBytesPreservesRawPayload(t *testing.T) {
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	frame := EncodeRoomDataBytes(7, raw)
	code, payload := Decode(frame)
	if code != CodeRoomDataBytes {
		t.Fatalf("got code %v, want CodeRoomDataBytes", code)
	}
	if payload[0] != 7 {
		t.Fatalf("got type byte %d, want 7", payload[0])
	}
	if !bytes.Equal(payload[1:], raw) {
		t.Fatalf("got %x, want %x", payload[1:], raw)
	}
}

func TestDecodeEmptyFrame(t *testing.T) {
	code, payload := Decode(nil)
	if code != 0 || payload != nil {
		t.Fatalf("got (%v, %v), want (0, nil)", code, payload)
	}
}
