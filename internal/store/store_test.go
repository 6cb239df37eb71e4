package store

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMemoryStoreLoadUnknownSurface(t *testing.T) {
	s := NewMemoryStore()

	records, err := s.Load(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Load() unknown surface = %d records, want 0", len(records))
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	in := []json.RawMessage{
		json.RawMessage(`{"loop_id":"loop-1"}`),
		json.RawMessage(`{"loop_id":"loop-2"}`),
	}
	if err := s.AppendOrReplace(ctx, SurfaceRerouteLog, in); err != nil {
		t.Fatalf("AppendOrReplace() error = %v", err)
	}

	out, err := s.Load(ctx, SurfaceRerouteLog)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Load() = %d records, want 2", len(out))
	}
}

func TestMemoryStoreIsolatesCallers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	in := []json.RawMessage{json.RawMessage(`{"a":1}`)}
	s.AppendOrReplace(ctx, "surface", in)

	out, _ := s.Load(ctx, "surface")
	out[0] = json.RawMessage(`{"tampered":true}`)

	again, _ := s.Load(ctx, "surface")
	if string(again[0]) != `{"a":1}` {
		t.Error("Load() returned a slice aliasing internal state")
	}
}

func TestAppendHelper(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	type rec struct {
		LoopID string `json:"loop_id"`
	}

	if err := Append(ctx, s, SurfaceFreezeHistory, rec{LoopID: "loop-1"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := Append(ctx, s, SurfaceFreezeHistory, rec{LoopID: "loop-2"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	out, err := s.Load(ctx, SurfaceFreezeHistory)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("surface holds %d records, want 2", len(out))
	}

	var first rec
	if err := json.Unmarshal(out[0], &first); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if first.LoopID != "loop-1" {
		t.Errorf("first record = %q, want loop-1 (insertion order)", first.LoopID)
	}
}

func TestReplaceHelper(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := Replace(ctx, s, SurfaceThresholds, []interface{}{
		map[string]float64{"min_confidence": 0.6},
	}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	out, _ := s.Load(ctx, SurfaceThresholds)
	if len(out) != 1 {
		t.Fatalf("surface holds %d records, want 1", len(out))
	}
}
