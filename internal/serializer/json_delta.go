package serializer

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// JSONDelta treats room state as a map[string]any. GetFullState encodes
// the whole map; ApplyPatches diffs the current map against the last
// snapshot sent to a given client (shallow, top-level keys only) and
// returns the changed subset, matching the common "implicit JSON-patch"
// shape simple room servers use. This is not a byte-level schema codec —
// that remains out of scope — but it is a real, testable Serializer.
type JSONDelta struct {
	mu   sync.Mutex
	last map[string]map[string]any
}

func NewJSONDelta() *JSONDelta {
	return &JSONDelta{last: make(map[string]map[string]any)}
}

func (s *JSONDelta) GetFullState(state any) ([]byte, error) {
	m, err := asMap(state)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (s *JSONDelta) ApplyPatches(clientID string, state any) ([]byte, bool, error) {
	m, err := asMap(state)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	prev, seen := s.last[clientID]
	changed := make(map[string]any)
	for k, v := range m {
		if !seen || !reflect.DeepEqual(prev[k], v) {
			changed[k] = v
		}
	}
	snapshot := make(map[string]any, len(m))
	for k, v := range m {
		snapshot[k] = v
	}
	s.last[clientID] = snapshot
	s.mu.Unlock()

	if len(changed) == 0 {
		return nil, false, nil
	}
	b, err := json.Marshal(changed)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *JSONDelta) ForgetClient(clientID string) {
	s.mu.Lock()
	delete(s.last, clientID)
	s.mu.Unlock()
}

func (s *JSONDelta) ID() string { return "json-delta" }

func asMap(state any) (map[string]any, error) {
	if m, ok := state.(map[string]any); ok {
		return m, nil
	}
	return nil, fmt.Errorf("serializer: JSONDelta requires map[string]any state, got %T", state)
}
