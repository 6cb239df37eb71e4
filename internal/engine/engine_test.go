package engine

import (
	"context"
	"testing"
	"time"

	"github.com/jordanhubbard/sentinel/internal/drift"
	"github.com/jordanhubbard/sentinel/internal/feed"
	"github.com/jordanhubbard/sentinel/internal/notify"
	"github.com/jordanhubbard/sentinel/internal/replan"
	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/pkg/config"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

type okPlanner struct{}

func (okPlanner) CreatePlan(_ context.Context, req types.PlanRequest) (*types.Plan, error) {
	return &types.Plan{LoopID: req.LoopID, AgentID: req.AgentID, Body: "plan"}, nil
}

func newTestEngine() *Engine {
	cfg := config.DefaultConfig()
	cfg.Governance.DecayInterval = 10 * time.Millisecond
	cfg.Governance.DriftSweepInterval = 10 * time.Millisecond
	cfg.Governance.RerouteScanInterval = 10 * time.Millisecond

	return New(cfg, Deps{
		Backend:    store.NewMemoryStore(),
		Scorecards: feed.NewStaticSource(),
		Notifier:   notify.NewLogNotifier(),
		Planner:    okPlanner{},
		Similarity: drift.TokenOverlap(),
	})
}

func TestEngineStartStop(t *testing.T) {
	e := newTestEngine()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !e.Monitor().Running() {
		t.Error("drift monitor should be running")
	}
	time.Sleep(30 * time.Millisecond)
	e.Stop()
	if e.Monitor().Running() {
		t.Error("drift monitor should be stopped")
	}
}

func TestEngineStartSurvivesZeroIntervals(t *testing.T) {
	// Zero intervals would panic time.NewTicker; the tickers fall back
	// to their defaults instead of killing the process.
	e := newTestEngine()
	e.cfg.Governance.DecayInterval = 0
	e.cfg.Governance.DriftSweepInterval = -1 * time.Second

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	e.Stop()
}

func TestEngineGovernsLoop(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	healthy := types.LoopState{
		LoopID:          "loop-1",
		AgentID:         "agent-a",
		ConfidenceScore: 0.9,
		ManualOverride:  true,
	}
	result, err := e.CanExecute(ctx, "loop-1", healthy)
	if err != nil {
		t.Fatalf("CanExecute failed: %v", err)
	}
	if !result.CanExecute {
		t.Fatalf("healthy loop should run, got %+v", result.Event)
	}

	shaky := healthy
	shaky.ConfidenceScore = 0.2
	outcome, err := e.ProcessLoop(ctx, "loop-1", shaky)
	if err != nil {
		t.Fatalf("ProcessLoop failed: %v", err)
	}
	if outcome.Action != "reflect" {
		t.Fatalf("expected reflect, got %s", outcome.Action)
	}

	// The in-flight reflection now blocks execution once thresholds
	// treat any contradiction as fatal.
	if err := e.Thresholds().Update(ctx, "default", types.ThresholdSet{"max_contradictions": 0}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	result, err = e.CanExecute(ctx, "loop-1", healthy)
	if err != nil {
		t.Fatalf("CanExecute failed: %v", err)
	}
	if result.CanExecute {
		t.Fatal("expected freeze while reflection is active")
	}
}

func TestEngineReplan(t *testing.T) {
	e := newTestEngine()
	result, err := e.Replan(context.Background(), replan.Request{
		OriginalLoopID:    "loop-1",
		AgentID:           "agent-a",
		Reason:            "plan drifted",
		RevisedReflection: "new approach",
	}, nil)
	if err != nil {
		t.Fatalf("Replan failed: %v", err)
	}
	if result.Status != replan.StatusCompleted || result.Plan == nil {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestEngineDemotionPinsFallback(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()

	bad := types.TrustMetrics{
		types.MetricSummaryRealism:         0,
		types.MetricLoopSuccess:            0,
		types.MetricReflectionClarity:      0,
		types.MetricContradictionFrequency: 1,
		types.MetricRevisionRate:           1,
		types.MetricOperatorOverride:       1,
	}
	if _, err := e.Ledger().Evaluate(ctx, "agent-a", bad, "loop-1"); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !e.Ledger().IsDemoted("agent-a") {
		t.Fatal("expected demotion")
	}
	if got := e.Ledger().Fallback("agent-a"); got != "SAGE" {
		t.Errorf("fallback = %q, want SAGE", got)
	}
	if got := e.Rerouter().EffectiveAgent("agent-a"); got != "SAGE" {
		t.Errorf("EffectiveAgent = %q, want SAGE", got)
	}
}
