package replan

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

type stubPlanner struct {
	err   error
	calls []types.PlanRequest
}

func (p *stubPlanner) CreatePlan(_ context.Context, req types.PlanRequest) (*types.Plan, error) {
	p.calls = append(p.calls, req)
	if p.err != nil {
		return nil, p.err
	}
	return &types.Plan{LoopID: req.LoopID, AgentID: req.AgentID, Body: "revised plan"}, nil
}

func loadRevisions(t *testing.T, backend store.Store) []types.RevisionRecord {
	t.Helper()
	raw, err := backend.Load(context.Background(), store.SurfaceRevisionLog)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	out := make([]types.RevisionRecord, 0, len(raw))
	for _, r := range raw {
		var rec types.RevisionRecord
		if err := json.Unmarshal(r, &rec); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		out = append(out, rec)
	}
	return out
}

func TestSagaCompletes(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryStore()
	planner := &stubPlanner{}
	saga := NewSaga(backend, planner, nil, nil)

	var transitions []Status
	result, err := saga.Run(ctx, Request{
		OriginalLoopID:    "loop-orig",
		AgentID:           "agent-a",
		Reason:            "stale assumptions",
		RevisedReflection: "the deploy target changed",
	}, func(status Status, _ string, _ error) {
		transitions = append(transitions, status)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.NewLoopID == "" {
		t.Error("expected a generated loop id")
	}
	if result.Plan == nil || result.Plan.Body != "revised plan" {
		t.Errorf("unexpected plan: %+v", result.Plan)
	}
	if transitions[len(transitions)-1] != StatusCompleted {
		t.Errorf("last transition should be completed, got %v", transitions)
	}

	revisions := loadRevisions(t, backend)
	if len(revisions) != 1 {
		t.Fatalf("expected 1 revision record, got %d", len(revisions))
	}
	if revisions[0].Status != types.RevisionReplanned {
		t.Errorf("revision status = %s, want replanned", revisions[0].Status)
	}
	if revisions[0].RevisedFromLoopID != "loop-orig" {
		t.Errorf("unexpected revision: %+v", revisions[0])
	}

	memory, err := backend.Load(ctx, store.SurfaceMemory)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(memory) != 1 {
		t.Fatalf("expected 1 memory entry, got %d", len(memory))
	}
	var entry memoryEntry
	if err := json.Unmarshal(memory[0], &entry); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if entry.LoopID != "loop-orig" || entry.RevisedTo != result.NewLoopID {
		t.Errorf("memory entry not linked: %+v", entry)
	}
}

func TestSagaPlanFailureKeepsPriorSteps(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryStore()
	planner := &stubPlanner{err: errors.New("planner offline")}
	saga := NewSaga(backend, planner, nil, nil)

	var failedStep string
	result, err := saga.Run(ctx, Request{
		OriginalLoopID: "loop-orig",
		NewLoopID:      "loop-new",
		AgentID:        "agent-a",
	}, func(status Status, step string, _ error) {
		if status == StatusFailed {
			failedStep = step
		}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if failedStep != StepCreatePlan {
		t.Errorf("expected failure at create_plan, got %s", failedStep)
	}

	// Steps 1 and 2 stay recorded, no rollback; the revision is marked
	// failed so operators can tell it from an in-flight saga.
	revisions := loadRevisions(t, backend)
	if len(revisions) != 1 {
		t.Fatalf("revision record must remain, got %+v", revisions)
	}
	if revisions[0].Status != types.RevisionFailed {
		t.Errorf("revision status = %s, want failed", revisions[0].Status)
	}
	if revisions[0].Error == "" {
		t.Error("failed revision must carry the cause")
	}
	if result.Revision.Status != types.RevisionFailed {
		t.Errorf("result revision status = %s, want failed", result.Revision.Status)
	}
	memory, _ := backend.Load(ctx, store.SurfaceMemory)
	if len(memory) != 1 {
		t.Errorf("memory update must remain, got %d entries", len(memory))
	}
}

func TestSagaCancellationLeavesPendingRecord(t *testing.T) {
	backend := store.NewMemoryStore()
	saga := NewSaga(backend, &stubPlanner{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := saga.Run(ctx, Request{
		OriginalLoopID: "loop-orig",
		NewLoopID:      "loop-new",
		AgentID:        "agent-a",
	}, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	// MemoryStore writes ignore the context, so step 1 lands before
	// the cancellation check and must stay for operator cleanup.
	revisions := loadRevisions(t, backend)
	if len(revisions) != 1 || revisions[0].Status != types.RevisionPending {
		t.Errorf("pending revision must remain after cancellation, got %+v", revisions)
	}
}

func TestSagaGeneratedLoopIDsDiffer(t *testing.T) {
	backend := store.NewMemoryStore()
	saga := NewSaga(backend, &stubPlanner{}, nil, nil)

	first, err := saga.Run(context.Background(), Request{OriginalLoopID: "loop-a", AgentID: "agent-a"}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	second, err := saga.Run(context.Background(), Request{OriginalLoopID: "loop-b", AgentID: "agent-a"}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if first.NewLoopID == second.NewLoopID {
		t.Errorf("generated loop ids must differ: %s", first.NewLoopID)
	}
}
