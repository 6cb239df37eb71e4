package hotreload

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/internal/thresholds"
)

func TestApplyOverrides(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "thresholds.yaml")
	content := []byte("default:\n  min_confidence: 0.8\nproj-a:\n  max_drift: 0.6\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	ts := thresholds.New(store.NewMemoryStore())
	w, err := New(path, ts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Stop()

	if err := w.Apply(ctx); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if got := ts.Get(thresholds.DefaultProject).Value(thresholds.MinConfidence, 0); got != 0.8 {
		t.Errorf("default min_confidence = %v, want 0.8", got)
	}
	set := ts.Get("proj-a")
	if got := set.Value(thresholds.MaxDrift, 0); got != 0.6 {
		t.Errorf("proj-a max_drift = %v, want 0.6", got)
	}
	// Project overrides inherit the rest of the default set.
	if got := set.Value(thresholds.MinConfidence, 0); got != 0.8 {
		t.Errorf("proj-a min_confidence = %v, want inherited 0.8", got)
	}
}

func TestApplyMissingFile(t *testing.T) {
	dir := t.TempDir()
	ts := thresholds.New(store.NewMemoryStore())
	w, err := New(filepath.Join(dir, "absent.yaml"), ts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Stop()

	if err := w.Apply(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thresholds.yaml")
	if err := os.WriteFile(path, []byte("not: [valid"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	ts := thresholds.New(store.NewMemoryStore())
	w, err := New(path, ts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Stop()

	if err := w.Apply(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}
