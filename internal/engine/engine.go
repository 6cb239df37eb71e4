// Package engine wires the governance components together and owns
// their background tasks.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jordanhubbard/sentinel/internal/drift"
	"github.com/jordanhubbard/sentinel/internal/eventbus"
	"github.com/jordanhubbard/sentinel/internal/freeze"
	"github.com/jordanhubbard/sentinel/internal/metrics"
	"github.com/jordanhubbard/sentinel/internal/reflection"
	"github.com/jordanhubbard/sentinel/internal/replan"
	"github.com/jordanhubbard/sentinel/internal/reroute"
	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/internal/thresholds"
	"github.com/jordanhubbard/sentinel/internal/trust"
	"github.com/jordanhubbard/sentinel/pkg/config"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

// Deps are the external collaborators the engine cannot build itself.
type Deps struct {
	Backend    store.Store
	Scorecards reroute.ScorecardSource
	Notifier   reroute.Notifier
	Planner    replan.Planner
	Similarity drift.Similarity
	Metrics    *metrics.Metrics
}

// Engine is the assembled governance core.
type Engine struct {
	cfg *config.Config

	bus         *eventbus.Bus
	backend     store.Store
	thresholds  *thresholds.Store
	ledger      *trust.Ledger
	reflections *reflection.Coordinator
	gate        *freeze.Gate
	monitor     *drift.Monitor
	rerouter    *reroute.Rerouter
	saga        *replan.Saga

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the governance components.
func New(cfg *config.Config, deps Deps) *Engine {
	bus := eventbus.New(256)
	ts := thresholds.New(deps.Backend)
	ledger := trust.NewLedger(ts, deps.Backend, bus, trust.WithMetrics(deps.Metrics))
	reflections := reflection.NewCoordinator(ledger, ts, deps.Backend, bus, deps.Metrics)
	gate := freeze.NewGate(reflections, ledger, ts, deps.Backend, bus, deps.Metrics)
	monitor := drift.NewMonitor(deps.Similarity, ts, deps.Backend, bus, deps.Metrics)
	rerouter := reroute.New(deps.Scorecards, ledger, deps.Backend, bus, deps.Notifier, deps.Metrics, reroute.Config{
		DefaultAgent:   cfg.Governance.DefaultFallbackAgent,
		Fallbacks:      cfg.Governance.FallbackMap,
		ScanInterval:   cfg.Governance.RerouteScanInterval,
		NotifyDebounce: cfg.Governance.NotifyDebounce,
	})
	saga := replan.NewSaga(deps.Backend, deps.Planner, bus, deps.Metrics)

	// A demotion immediately pins the agent's fallback so chain
	// resolution has something to follow.
	ledger.OnDemotion(func(sig types.DemotionSignal) {
		if ledger.Fallback(sig.AgentID) != "" {
			return
		}
		fb, ok := cfg.Governance.FallbackMap[sig.AgentID]
		if !ok || fb == "" {
			fb = cfg.Governance.DefaultFallbackAgent
		}
		ledger.SetFallback(sig.AgentID, fb)
	})

	return &Engine{
		cfg:         cfg,
		bus:         bus,
		backend:     deps.Backend,
		thresholds:  ts,
		ledger:      ledger,
		reflections: reflections,
		gate:        gate,
		monitor:     monitor,
		rerouter:    rerouter,
		saga:        saga,
	}
}

// Start loads persisted state and launches the background tasks:
// trust decay, drift heartbeat, reroute scan.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.thresholds.Load(ctx); err != nil {
		return fmt.Errorf("failed to load thresholds: %w", err)
	}
	if err := e.ledger.Load(ctx); err != nil {
		return fmt.Errorf("failed to load trust ledger: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.monitor.Start()

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		runTicker(runCtx, "trust decay", e.cfg.Governance.DecayInterval, 60*time.Second, func(context.Context) {
			e.ledger.Decay()
		})
	}()
	go func() {
		defer e.wg.Done()
		runTicker(runCtx, "drift heartbeat", e.cfg.Governance.DriftSweepInterval, 30*time.Second, e.monitor.Sweep)
	}()
	go func() {
		defer e.wg.Done()
		e.rerouter.Run(runCtx)
	}()

	log.Printf("[Engine] Started")
	return nil
}

// Stop cancels the background tasks and waits for them.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.monitor.Stop()
	e.wg.Wait()
	log.Printf("[Engine] Stopped")
}

// runTicker runs fn on every tick until ctx is cancelled. Non-positive
// intervals fall back to fallback; time.NewTicker panics on them.
func runTicker(ctx context.Context, name string, interval, fallback time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		log.Printf("[Engine] %s interval %s invalid, using %s", name, interval, fallback)
		interval = fallback
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[Engine] %s task running every %s", name, interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Engine] %s task stopped", name)
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// CanExecute asks the freeze gate whether a loop may run.
func (e *Engine) CanExecute(ctx context.Context, loopID string, state types.LoopState) (freeze.Result, error) {
	return e.gate.CanExecute(ctx, loopID, state)
}

// ProcessLoop runs the reflection decision for a loop.
func (e *Engine) ProcessLoop(ctx context.Context, loopID string, state types.LoopState) (reflection.Outcome, error) {
	return e.reflections.Process(ctx, loopID, state)
}

// Replan runs the replan saga for a loop.
func (e *Engine) Replan(ctx context.Context, req replan.Request, onStatus replan.StatusCallback) (replan.Result, error) {
	return e.saga.Run(ctx, req, onStatus)
}

// Component accessors for the API layer.

func (e *Engine) Bus() *eventbus.Bus                   { return e.bus }
func (e *Engine) Thresholds() *thresholds.Store        { return e.thresholds }
func (e *Engine) Ledger() *trust.Ledger                { return e.ledger }
func (e *Engine) Reflections() *reflection.Coordinator { return e.reflections }
func (e *Engine) Gate() *freeze.Gate                   { return e.gate }
func (e *Engine) Monitor() *drift.Monitor              { return e.monitor }
func (e *Engine) Rerouter() *reroute.Rerouter          { return e.rerouter }
func (e *Engine) Saga() *replan.Saga                   { return e.saga }
