package drift

import (
	"context"
	"errors"
	"testing"

	"github.com/jordanhubbard/sentinel/internal/eventbus"
	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

// fixedSimilarity always returns the same score.
func fixedSimilarity(score float64) Similarity {
	return SimilarityFunc(func(_ context.Context, _, _ string) (float64, error) {
		return score, nil
	})
}

func TestTokenOverlap(t *testing.T) {
	sim := TokenOverlap()
	cases := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "the sky is blue", "the sky is blue", 1.0},
		{"half overlap", "alpha beta", "alpha gamma", 0.5},
		{"disjoint", "alpha beta", "gamma delta", 0},
		{"empty", "", "anything", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := sim.Similarity(context.Background(), tc.a, tc.b)
			if err != nil {
				t.Fatalf("Similarity failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("Similarity(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestCheckContentViolations(t *testing.T) {
	ctx := context.Background()
	perAnchor := 0.1
	anchors := []types.BeliefAnchor{
		{ID: "b1", Content: "anchor one"},
		{ID: "b2", Content: "anchor two", DriftThreshold: &perAnchor, Critical: true},
		{ID: "b3", Content: "anchor three", Deprecated: true},
		{ID: "b4"},
	}

	// Similarity 0.7 gives drift 0.3: below the 0.4 global threshold,
	// above b2's 0.1 override.
	result, err := CheckContent(ctx, fixedSimilarity(0.7), "some output", anchors, 0.4)
	if err != nil {
		t.Fatalf("CheckContent failed: %v", err)
	}
	if result.Passed {
		t.Fatal("expected violation against b2")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(result.Violations))
	}
	v := result.Violations[0]
	if v.BeliefID != "b2" || !v.Critical || v.Threshold != 0.1 {
		t.Errorf("unexpected violation: %+v", v)
	}
	if v.DriftScore < 0.29 || v.DriftScore > 0.31 {
		t.Errorf("drift score = %v, want 0.3", v.DriftScore)
	}
}

func TestCheckContentEmptyContentPasses(t *testing.T) {
	result, err := CheckContent(context.Background(), fixedSimilarity(0), "", []types.BeliefAnchor{{ID: "b1", Content: "x"}}, 0.4)
	if err != nil {
		t.Fatalf("CheckContent failed: %v", err)
	}
	if !result.Passed {
		t.Error("empty content must pass")
	}
}

func TestCheckContentSimilarityError(t *testing.T) {
	sim := SimilarityFunc(func(_ context.Context, _, _ string) (float64, error) {
		return 0, errors.New("model unavailable")
	})
	_, err := CheckContent(context.Background(), sim, "text", []types.BeliefAnchor{{ID: "b1", Content: "x"}}, 0.4)
	if err == nil {
		t.Fatal("expected error from similarity collaborator")
	}
}

func TestMonitorStartStop(t *testing.T) {
	bus := eventbus.New(16)
	m := NewMonitor(fixedSimilarity(1), nil, nil, bus, nil)

	if m.Running() {
		t.Fatal("monitor should start stopped")
	}
	m.Start()
	if !m.Running() {
		t.Fatal("monitor should be running")
	}
	if bus.SubscriberCount() != 1 {
		t.Errorf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}
	m.Start() // idempotent
	if bus.SubscriberCount() != 1 {
		t.Errorf("double Start added a subscriber")
	}

	m.Stop()
	if m.Running() {
		t.Fatal("monitor should be stopped")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after Stop, got %d", bus.SubscriberCount())
	}
	m.Stop() // idempotent
}

func TestMonitorDetectsViolationFromEvent(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryStore()
	bus := eventbus.New(16)
	m := NewMonitor(TokenOverlap(), nil, backend, bus, nil)
	m.SetAnchor(types.BeliefAnchor{ID: "b1", Content: "deploys must pass review", Critical: true})

	var callbacks []types.BeliefViolation
	m.OnViolation(func(v types.BeliefViolation) {
		callbacks = append(callbacks, v)
	})

	var published []*eventbus.Event
	bus.Subscribe(func(ev *eventbus.Event) {
		published = append(published, ev)
	}, eventbus.EventDriftViolation)

	m.Start()
	defer m.Stop()

	bus.Publish(&eventbus.Event{
		Type:    eventbus.EventAgentStatement,
		LoopID:  "loop-1",
		AgentID: "agent-a",
		Text:    "ship it immediately without checks",
	})

	violations := m.Violations()
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(violations))
	}
	if violations[0].LoopID != "loop-1" || violations[0].AgentID != "agent-a" {
		t.Errorf("violation missing attribution: %+v", violations[0])
	}
	if len(callbacks) != 1 {
		t.Errorf("expected 1 callback, got %d", len(callbacks))
	}
	if len(published) != 1 {
		t.Errorf("expected 1 violation event, got %d", len(published))
	}

	persisted, err := backend.Load(ctx, store.SurfaceDriftViolations)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(persisted) != 1 {
		t.Errorf("expected 1 persisted violation, got %d", len(persisted))
	}
}

func TestMonitorSkipsEmptyEventText(t *testing.T) {
	bus := eventbus.New(16)
	m := NewMonitor(fixedSimilarity(0), nil, nil, bus, nil)
	m.SetAnchor(types.BeliefAnchor{ID: "b1", Content: "anything"})
	m.Start()
	defer m.Stop()

	bus.Publish(&eventbus.Event{Type: eventbus.EventLoopCompleted, LoopID: "loop-1"})
	if len(m.Violations()) != 0 {
		t.Errorf("empty text should be skipped, got %+v", m.Violations())
	}
}

func TestAnchorManagement(t *testing.T) {
	m := NewMonitor(nil, nil, nil, nil, nil)
	m.SetAnchor(types.BeliefAnchor{ID: "b1", Content: "one"})
	m.SetAnchor(types.BeliefAnchor{ID: "b2", Content: "two"})
	if len(m.Anchors()) != 2 {
		t.Fatalf("expected 2 anchors, got %d", len(m.Anchors()))
	}
	m.RemoveAnchor("b1")
	anchors := m.Anchors()
	if len(anchors) != 1 || anchors[0].ID != "b2" {
		t.Errorf("unexpected anchors: %+v", anchors)
	}
}
