package replan

import (
	"errors"
	"testing"

	"go.temporal.io/sdk/testsuite"

	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

func newWorkflowEnv(t *testing.T, backend store.Store, planner Planner) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(Workflow)
	env.RegisterActivity(&Activities{Backend: backend, Planner: planner})
	return env
}

func TestWorkflowCompletes(t *testing.T) {
	backend := store.NewMemoryStore()
	env := newWorkflowEnv(t, backend, &stubPlanner{})

	env.ExecuteWorkflow(Workflow, Request{
		OriginalLoopID:    "loop-orig",
		NewLoopID:         "loop-new",
		AgentID:           "agent-a",
		RevisedReflection: "the deploy target changed",
	})
	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}

	var result Result
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("GetWorkflowResult failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", result.Status)
	}
	revisions := loadRevisions(t, backend)
	if len(revisions) != 1 || revisions[0].Status != types.RevisionReplanned {
		t.Errorf("unexpected revisions: %+v", revisions)
	}
}

func TestWorkflowGeneratedLoopIDMatchesLoggedRevision(t *testing.T) {
	backend := store.NewMemoryStore()
	env := newWorkflowEnv(t, backend, &stubPlanner{})

	// No NewLoopID supplied; the workflow must record one id and use
	// it consistently across every activity.
	env.ExecuteWorkflow(Workflow, Request{
		OriginalLoopID: "loop-orig",
		AgentID:        "agent-a",
	})
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}

	var result Result
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("GetWorkflowResult failed: %v", err)
	}
	if result.NewLoopID == "" {
		t.Fatal("expected a generated loop id")
	}

	revisions := loadRevisions(t, backend)
	if len(revisions) != 1 {
		t.Fatalf("expected 1 revision record, got %d", len(revisions))
	}
	if revisions[0].LoopID != result.NewLoopID {
		t.Errorf("logged revision id %s does not match result id %s",
			revisions[0].LoopID, result.NewLoopID)
	}
	if revisions[0].Status != types.RevisionReplanned {
		t.Errorf("revision status = %s, want replanned", revisions[0].Status)
	}
}

func TestWorkflowPlanFailureMarksRevisionFailed(t *testing.T) {
	backend := store.NewMemoryStore()
	env := newWorkflowEnv(t, backend, &stubPlanner{err: errors.New("planner offline")})

	env.ExecuteWorkflow(Workflow, Request{
		OriginalLoopID: "loop-orig",
		NewLoopID:      "loop-new",
		AgentID:        "agent-a",
	})
	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err == nil {
		t.Fatal("expected workflow error")
	}

	revisions := loadRevisions(t, backend)
	if len(revisions) != 1 {
		t.Fatalf("expected 1 revision record, got %d", len(revisions))
	}
	if revisions[0].Status != types.RevisionFailed {
		t.Errorf("revision status = %s, want failed", revisions[0].Status)
	}
	if revisions[0].Error == "" {
		t.Error("failed revision must carry the cause")
	}
}
