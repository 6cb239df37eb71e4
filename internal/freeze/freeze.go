package freeze

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/sentinel/internal/eventbus"
	"github.com/jordanhubbard/sentinel/internal/metrics"
	"github.com/jordanhubbard/sentinel/internal/reflection"
	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/internal/thresholds"
	"github.com/jordanhubbard/sentinel/internal/trust"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

// Decision is the result of the pure freeze check. Unlike reflection,
// every applicable reason is accumulated.
type Decision struct {
	Should         bool                 `json:"should"`
	Reasons        []types.FreezeReason `json:"reasons"`
	RequiredAction types.RequiredAction `json:"required_action"`
}

// Result is the outcome of a gate check for one loop.
type Result struct {
	CanExecute bool               `json:"can_execute"`
	Event      *types.FreezeEvent `json:"event,omitempty"`
}

// ShouldFreeze accumulates all applicable freeze reasons for a loop.
// RequiredAction is re-reflect when confidence or contradiction
// reasons are present, operator_override when any other reason is,
// and none otherwise.
func ShouldFreeze(state types.LoopState, set types.ThresholdSet) Decision {
	minConfidence := set.Value(thresholds.MinConfidence, 0.6)
	minTrustScore := set.Value(thresholds.MinTrustScore, 0.5)
	maxContradictions := int(set.Value(thresholds.MaxContradictions, 2))
	requireOverride := set.Value(thresholds.RequireOverride, 0) != 0

	var reasons []types.FreezeReason
	if state.ConfidenceScore < minConfidence {
		reasons = append(reasons, types.FreezeLowConfidence)
	}
	if state.TrustScore < minTrustScore {
		reasons = append(reasons, types.FreezeLowTrust)
	}
	if state.ContradictionCount > maxContradictions {
		reasons = append(reasons, types.FreezeContradictions)
	}
	if requireOverride && !state.ManualOverride {
		reasons = append(reasons, types.FreezeNoManualOverride)
	}

	decision := Decision{Should: len(reasons) > 0, Reasons: reasons}
	switch {
	case containsReason(reasons, types.FreezeLowConfidence) || containsReason(reasons, types.FreezeContradictions):
		decision.RequiredAction = types.ActionReReflect
	case len(reasons) > 0:
		decision.RequiredAction = types.ActionOperatorOverride
	default:
		decision.RequiredAction = types.ActionNone
	}
	return decision
}

func containsReason(reasons []types.FreezeReason, r types.FreezeReason) bool {
	for _, have := range reasons {
		if have == r {
			return true
		}
	}
	return false
}

// Gate decides whether a loop may execute at all. It holds the active
// freeze per loop and consults the reflection coordinator: an
// in-flight reflection always counts as an unresolved contradiction.
type Gate struct {
	mu      sync.RWMutex
	active  map[string]*types.FreezeEvent
	history []types.FreezeEvent

	reflections *reflection.Coordinator
	ledger      *trust.Ledger
	thresholds  *thresholds.Store
	backend     store.Store
	bus         *eventbus.Bus
	metrics     *metrics.Metrics
}

// NewGate creates a freeze gate.
func NewGate(refl *reflection.Coordinator, ledger *trust.Ledger, ts *thresholds.Store, backend store.Store, bus *eventbus.Bus, m *metrics.Metrics) *Gate {
	return &Gate{
		active:      make(map[string]*types.FreezeEvent),
		reflections: refl,
		ledger:      ledger,
		thresholds:  ts,
		backend:     backend,
		bus:         bus,
		metrics:     m,
	}
}

// CanExecute reports whether a loop may run. An already-frozen loop
// returns its existing event; otherwise the decision is recomputed
// from scratch on every call.
func (g *Gate) CanExecute(ctx context.Context, loopID string, state types.LoopState) (Result, error) {
	g.mu.RLock()
	if existing, ok := g.active[loopID]; ok {
		ev := *existing
		g.mu.RUnlock()
		return Result{CanExecute: false, Event: &ev}, nil
	}
	g.mu.RUnlock()

	if state.LoopID == "" {
		state.LoopID = loopID
	}
	if g.ledger != nil && state.AgentID != "" {
		state.TrustScore = g.ledger.Score(state.AgentID)
	}
	// An in-flight reflection is an unresolved contradiction as far as
	// execution gating is concerned.
	if g.reflections != nil && g.reflections.HasActive(loopID) && state.ContradictionCount < 1 {
		state.ContradictionCount = 1
	}

	set := types.ThresholdSet{}
	if g.thresholds != nil {
		set = g.thresholds.Get(state.ProjectID)
	}

	decision := ShouldFreeze(state, set)
	if !decision.Should {
		if g.metrics != nil {
			g.metrics.FreezeDecisions.WithLabelValues("allowed").Inc()
		}
		return Result{CanExecute: true}, nil
	}

	event := &types.FreezeEvent{
		ID:             uuid.NewString(),
		LoopID:         loopID,
		Status:         types.FreezeFrozen,
		Reasons:        decision.Reasons,
		RequiredAction: decision.RequiredAction,
		Snapshot:       state,
		CreatedAt:      time.Now(),
	}

	g.mu.Lock()
	// Racing caller may have frozen the loop while we evaluated.
	if existing, ok := g.active[loopID]; ok {
		ev := *existing
		g.mu.Unlock()
		return Result{CanExecute: false, Event: &ev}, nil
	}
	g.active[loopID] = event
	g.history = append(g.history, *event)
	activeCount := len(g.active)
	g.mu.Unlock()

	log.Printf("[FreezeGate] Loop %s frozen (%v), required action: %s", loopID, event.Reasons, event.RequiredAction)

	if g.metrics != nil {
		g.metrics.FreezeDecisions.WithLabelValues("frozen").Inc()
		g.metrics.ActiveFreezes.Set(float64(activeCount))
	}
	if g.bus != nil {
		g.bus.Publish(&eventbus.Event{
			Type:      eventbus.EventLoopFrozen,
			Source:    "freeze-gate",
			LoopID:    loopID,
			AgentID:   state.AgentID,
			ProjectID: state.ProjectID,
			Data: map[string]interface{}{
				"reasons":         event.Reasons,
				"required_action": string(event.RequiredAction),
			},
		})
	}

	if g.backend != nil {
		if err := store.Append(ctx, g.backend, store.SurfaceFreezeHistory, event); err != nil {
			return Result{CanExecute: false, Event: event},
				fmt.Errorf("failed to persist freeze event: %w", err)
		}
	}
	return Result{CanExecute: false, Event: event}, nil
}

// Unfreeze clears the loop's active freeze and appends the closed
// record to history. Unfreezing a non-frozen loop is a no-op with a
// warning.
func (g *Gate) Unfreeze(ctx context.Context, loopID, reason string, manual bool) error {
	g.mu.Lock()
	event, ok := g.active[loopID]
	if !ok {
		g.mu.Unlock()
		log.Printf("[FreezeGate] Loop %s is not frozen, ignoring unfreeze", loopID)
		return nil
	}

	now := time.Now()
	event.Status = types.FreezeUnfrozen
	event.UnfrozenAt = &now
	event.UnfreezeReason = reason
	event.Manual = manual
	delete(g.active, loopID)
	for i := range g.history {
		if g.history[i].ID == event.ID {
			g.history[i] = *event
		}
	}
	activeCount := len(g.active)
	closed := *event
	g.mu.Unlock()

	log.Printf("[FreezeGate] Loop %s unfrozen (manual=%v): %s", loopID, manual, reason)

	if g.metrics != nil {
		g.metrics.ActiveFreezes.Set(float64(activeCount))
	}
	if g.bus != nil {
		g.bus.Publish(&eventbus.Event{
			Type:   eventbus.EventLoopUnfrozen,
			Source: "freeze-gate",
			LoopID: loopID,
			Data:   map[string]interface{}{"reason": reason, "manual": manual},
		})
	}

	if g.backend != nil {
		if err := store.Append(ctx, g.backend, store.SurfaceFreezeHistory, closed); err != nil {
			return fmt.Errorf("failed to persist unfreeze: %w", err)
		}
	}
	return nil
}

// Override is operator sugar for a manual unfreeze.
func (g *Gate) Override(ctx context.Context, loopID, reason string) error {
	return g.Unfreeze(ctx, loopID, reason, true)
}

// IsFrozen reports whether the loop currently has an active freeze.
func (g *Gate) IsFrozen(loopID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.active[loopID]
	return ok
}

// Active returns the loop's active freeze event, nil when none.
func (g *Gate) Active(loopID string) *types.FreezeEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if event, ok := g.active[loopID]; ok {
		ev := *event
		return &ev
	}
	return nil
}

// ActiveFreezes returns a snapshot of all currently frozen loops.
func (g *Gate) ActiveFreezes() []types.FreezeEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]types.FreezeEvent, 0, len(g.active))
	for _, event := range g.active {
		out = append(out, *event)
	}
	return out
}

// History returns a copy of all freeze events seen so far.
func (g *Gate) History() []types.FreezeEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]types.FreezeEvent, len(g.history))
	copy(out, g.history)
	return out
}
