package serializer

import (
	"encoding/json"
	"testing"
)

func TestNoneNeverSendsPatches(t *testing.T) {
	var s None
	full, err := s.GetFullState(map[string]any{"x": 1})
	if err != nil || full != nil {
		t.Fatalf("GetFullState: %v, %v", full, err)
	}
	patch, ok, err := s.ApplyPatches("c1", map[string]any{"x": 2})
	if err != nil || ok || patch != nil {
		t.Fatalf("ApplyPatches: %v, %v, %v", patch, ok, err)
	}
}

func TestJSONDeltaFirstCallReturnsEverything(t *testing.T) {
	s := NewJSONDelta()
	patch, ok, err := s.ApplyPatches("c1", map[string]any{"x": 1, "y": 2})
	if err != nil {
		t.Fatalf("ApplyPatches: %v", err)
	}
	if !ok {
		t.Fatal("expected first patch to report changes")
	}
	var m map[string]any
	if err := json.Unmarshal(patch, &m); err != nil {
		t.Fatalf("unmarshal patch: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("got %d keys, want 2", len(m))
	}
}

func TestJSONDeltaOnlyReportsChangedKeys(t *testing.T) {
	s := NewJSONDelta()
	if _, _, err := s.ApplyPatches("c1", map[string]any{"x": 1, "y": 2}); err != nil {
		t.Fatalf("ApplyPatches: %v", err)
	}

	patch, ok, err := s.ApplyPatches("c1", map[string]any{"x": 1, "y": 3})
	if err != nil {
		t.Fatalf("ApplyPatches: %v", err)
	}
	if !ok {
		t.Fatal("expected a patch when y changed")
	}
	var m map[string]any
	if err := json.Unmarshal(patch, &m); err != nil {
		t.Fatalf("unmarshal patch: %v", err)
	}
	if len(m) != 1 {
		t.Fatalf("got %d changed keys, want 1 (y only): %+v", len(m), m)
	}
	if _, ok := m["y"]; !ok {
		t.Fatalf("expected changed key y, got %+v", m)
	}
}

func TestJSONDeltaNoChangeReturnsFalse(t *testing.T) {
	s := NewJSONDelta()
	if _, _, err := s.ApplyPatches("c1", map[string]any{"x": 1}); err != nil {
		t.Fatalf("ApplyPatches: %v", err)
	}
	_, ok, err := s.ApplyPatches("c1", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("ApplyPatches: %v", err)
	}
	if ok {
		t.Fatal("expected no patch when nothing changed")
	}
}

func TestJSONDeltaForgetClientResetsBaseline(t *testing.T) {
	s := NewJSONDelta()
	if _, _, err := s.ApplyPatches("c1", map[string]any{"x": 1}); err != nil {
		t.Fatalf("ApplyPatches: %v", err)
	}
	s.ForgetClient("c1")

	_, ok, err := s.ApplyPatches("c1", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("ApplyPatches: %v", err)
	}
	if !ok {
		t.Fatal("expected patch after forgetting client, same state treated as new baseline")
	}
}
