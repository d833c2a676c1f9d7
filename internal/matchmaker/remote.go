package matchmaker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voidframe/roomserver/internal/ipc"
	"github.com/voidframe/roomserver/internal/room"
)

// reserveSeatArgs is the wire shape for the "_reserveSeat" remote room
// method (spec.md §4.6 _reserveSeat).
type reserveSeatArgs struct {
	SessionID string         `json:"sessionId"`
	Options   map[string]any `json:"options"`
	Auth      any            `json:"auth"`
	Reconnect bool           `json:"reconnect"`
}

type setPrivateArgs struct {
	Private bool `json:"private"`
}

type disconnectArgs struct {
	Code   uint16 `json:"code"`
	Reason string `json:"reason"`
}

// roomRemoteMethods is the whitelisted set of methods callable on a room
// through RemoteRoomCall, whether invoked locally or over IPC (spec.md §9
// design notes: "a safe reimplementation exposes a whitelisted method
// dispatcher per room (switch on string) rather than reflective member
// access"). Every room answers the same set on its own topic.
var roomRemoteMethods = map[string]func(r *room.Room, args json.RawMessage) (any, error){
	"_reserveSeat": func(r *room.Room, args json.RawMessage) (any, error) {
		var a reserveSeatArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		if err := r.ReserveSeat(a.SessionID, a.Options, a.Auth, a.Reconnect); err != nil {
			return nil, err
		}
		return true, nil
	},
	"lock": func(r *room.Room, _ json.RawMessage) (any, error) {
		r.Lock()
		return true, nil
	},
	"unlock": func(r *room.Room, _ json.RawMessage) (any, error) {
		r.Unlock()
		return true, nil
	},
	"setPrivate": func(r *room.Room, args json.RawMessage) (any, error) {
		var a setPrivateArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		r.SetPrivate(a.Private)
		return true, nil
	},
	"disconnect": func(r *room.Room, args json.RawMessage) (any, error) {
		var a disconnectArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		r.Disconnect(a.Code, a.Reason)
		return true, nil
	},
}

// bindRoomRemoteMethods registers every whitelisted method on the room's
// own IPC dispatcher, so any process in the fleet can reach this room
// through $<roomId> once it's no longer hosted locally for the caller.
func bindRoomRemoteMethods(d *ipc.Dispatcher, r *room.Room) {
	for method, call := range roomRemoteMethods {
		call := call
		d.Handle(method, func(ctx context.Context, args json.RawMessage) (any, error) {
			return call(r, args)
		})
	}
}

// RemoteRoomCall implements spec.md §4.5's remoteRoomCall: if roomID is
// hosted by this process, invoke method directly against the whitelist;
// otherwise route the call through IPC on the room's own topic $<roomId>.
func (m *Matchmaker) RemoteRoomCall(ctx context.Context, roomID, method string, args json.RawMessage) (json.RawMessage, error) {
	if r, ok := m.localRoom(roomID); ok {
		call, known := roomRemoteMethods[method]
		if !known {
			return nil, fmt.Errorf("matchmaker: unknown remote room method %q", method)
		}
		result, err := call(r, args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}

	payload, err := ipc.Call(ctx, m.Presence, roomTopic(roomID), method, args, ipc.LongTimeout)
	if err == ipc.ErrTimeout {
		return nil, fmt.Errorf("%w: room %s", ErrIpcTimeout, roomID)
	}
	return payload, err
}

// reserveSeat reserves a seat on roomID via RemoteRoomCall, the join path's
// entry point into the "_reserveSeat" remote method (spec.md §4.5 join
// path, §4.6 _reserveSeat).
func (m *Matchmaker) reserveSeat(ctx context.Context, roomID string, sessionID string, options map[string]any, auth any, reconnect bool) error {
	args, err := json.Marshal(reserveSeatArgs{SessionID: sessionID, Options: options, Auth: auth, Reconnect: reconnect})
	if err != nil {
		return err
	}
	_, err = m.RemoteRoomCall(ctx, roomID, "_reserveSeat", args)
	return err
}
