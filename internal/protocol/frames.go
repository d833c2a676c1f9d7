package protocol

import "encoding/json"

// JoinRoomPayload is the JSON body of a JOIN_ROOM frame.
type JoinRoomPayload struct {
	ReconnectionToken string          `json:"reconnectionToken"`
	SerializerID      string          `json:"serializerId"`
	Handshake         json.RawMessage `json:"handshake,omitempty"`
}

// ErrorPayload is the JSON body of an ERROR frame.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RoomDataPayload is the JSON body of a ROOM_DATA frame (message type plus
// an arbitrary application payload).
type RoomDataPayload struct {
	Type    json.RawMessage `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeJoinRoom builds a JOIN_ROOM frame.
func EncodeJoinRoom(p JoinRoomPayload) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return Encode(CodeJoinRoom, b), nil
}

// EncodeError builds an ERROR frame.
func EncodeError(code int, message string) ([]byte, error) {
	b, err := json.Marshal(ErrorPayload{Code: code, Message: message})
	if err != nil {
		return nil, err
	}
	return Encode(CodeError, b), nil
}

// EncodeRoomData builds a ROOM_DATA frame.
func EncodeRoomData(msgType, payload json.RawMessage) ([]byte, error) {
	b, err := json.Marshal(RoomDataPayload{Type: msgType, Payload: payload})
	if err != nil {
		return nil, err
	}
	return Encode(CodeRoomData, b), nil
}

// EncodeRoomDataBytes builds a ROOM_DATA_BYTES frame: the message type tag
// followed directly by raw application bytes, with no JSON envelope.
func EncodeRoomDataBytes(msgType byte, raw []byte) []byte {
	payload := make([]byte, 1+len(raw))
	payload[0] = msgType
	copy(payload[1:], raw)
	return Encode(CodeRoomDataBytes, payload)
}

// EncodeRoomState builds a ROOM_STATE frame from a full serialized state.
func EncodeRoomState(state []byte) []byte {
	return Encode(CodeRoomState, state)
}

// EncodeRoomStatePatch builds a ROOM_STATE_PATCH frame from a delta.
func EncodeRoomStatePatch(patch []byte) []byte {
	return Encode(CodeRoomStatePatch, patch)
}

// EncodeLeaveRoom builds a bare LEAVE_ROOM frame.
func EncodeLeaveRoom() []byte {
	return Encode(CodeLeaveRoom, nil)
}
