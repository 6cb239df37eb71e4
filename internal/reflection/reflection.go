package reflection

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/sentinel/internal/eventbus"
	"github.com/jordanhubbard/sentinel/internal/metrics"
	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/internal/thresholds"
	"github.com/jordanhubbard/sentinel/internal/trust"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

// borderlineMargin is the ± band around min_confidence and max_drift
// that triggers reflection when no manual override is present. A
// heuristic carried over from operations; tunable, not load-bearing.
const borderlineMargin = 0.1

// Action is the coordinator's verdict for a processed loop.
type Action string

const (
	ActionReflect Action = "reflect"
	ActionProceed Action = "proceed"
	ActionWait    Action = "wait"
)

// Decision is the result of the pure reflection check.
type Decision struct {
	Should  bool                   `json:"should"`
	Reason  types.ReflectionReason `json:"reason"`
	Details map[string]float64     `json:"details,omitempty"`
}

// Outcome is the result of stateful processing for one loop.
type Outcome struct {
	Action Action                 `json:"action"`
	Reason types.ReflectionReason `json:"reason,omitempty"`
	Event  *types.ReflectionEvent `json:"event,omitempty"`
}

// ShouldReflect evaluates the reflection conditions in strict priority
// order; the first matching condition wins. The depth ceiling is an
// absolute override: nothing forces reflection past it.
func ShouldReflect(state types.LoopState, set types.ThresholdSet) Decision {
	minConfidence := set.Value(thresholds.MinConfidence, 0.6)
	minTrustScore := set.Value(thresholds.MinTrustScore, 0.5)
	minTrustDelta := set.Value(thresholds.MinTrustDelta, -0.2)
	maxDrift := set.Value(thresholds.MaxDrift, 0.4)
	maxDepth := int(set.Value(thresholds.MaxReflectionDepth, 3))

	details := map[string]float64{
		"confidence_score": state.ConfidenceScore,
		"trust_score":      state.TrustScore,
		"trust_delta":      state.TrustDelta,
		"drift_score":      state.DriftScore,
		"reflection_depth": float64(state.ReflectionDepth),
	}

	switch {
	case state.ReflectionDepth >= maxDepth:
		return Decision{Should: false, Reason: types.ReflectMaxDepthReached, Details: details}
	case state.ConfidenceScore < minConfidence:
		return Decision{Should: true, Reason: types.ReflectLowConfidence, Details: details}
	case state.TrustDelta < minTrustDelta:
		return Decision{Should: true, Reason: types.ReflectTrustDecay, Details: details}
	case state.TrustScore < minTrustScore:
		return Decision{Should: true, Reason: types.ReflectLowTrust, Details: details}
	case state.ContradictionUnresolved:
		return Decision{Should: true, Reason: types.ReflectUnresolvedContradiction, Details: details}
	case state.DriftScore > maxDrift:
		return Decision{Should: true, Reason: types.ReflectHighDrift, Details: details}
	case !state.ManualOverride &&
		(math.Abs(state.ConfidenceScore-minConfidence) <= borderlineMargin ||
			math.Abs(state.DriftScore-maxDrift) <= borderlineMargin):
		return Decision{Should: true, Reason: types.ReflectNoManualOverride, Details: details}
	default:
		return Decision{Should: false, Reason: types.ReflectAllThresholdsMet, Details: details}
	}
}

// Coordinator decides whether loops need another reflection pass and
// tracks the single active reflection allowed per loop.
type Coordinator struct {
	mu      sync.RWMutex
	active  map[string]*types.ReflectionEvent
	history []types.ReflectionEvent

	ledger     *trust.Ledger
	thresholds *thresholds.Store
	backend    store.Store
	bus        *eventbus.Bus
	metrics    *metrics.Metrics
}

// NewCoordinator creates a reflection coordinator.
func NewCoordinator(ledger *trust.Ledger, ts *thresholds.Store, backend store.Store, bus *eventbus.Bus, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		active:     make(map[string]*types.ReflectionEvent),
		ledger:     ledger,
		thresholds: ts,
		backend:    backend,
		bus:        bus,
		metrics:    m,
	}
}

// Process evaluates a loop. Trust score and delta come from the
// ledger, thresholds from project config merged over default. When a
// reflection is already active for the loop, processing short-circuits
// to wait; re-entry is idempotent.
func (c *Coordinator) Process(ctx context.Context, loopID string, state types.LoopState) (Outcome, error) {
	if state.LoopID == "" {
		state.LoopID = loopID
	}
	if c.ledger != nil && state.AgentID != "" {
		state.TrustScore = c.ledger.Score(state.AgentID)
		state.TrustDelta = c.ledger.Delta(state.AgentID)
	}

	set := types.ThresholdSet{}
	if c.thresholds != nil {
		set = c.thresholds.Get(state.ProjectID)
	}

	c.mu.Lock()
	if existing, ok := c.active[loopID]; ok {
		ev := *existing
		c.mu.Unlock()
		log.Printf("[Reflection] Loop %s already has an active reflection, waiting", loopID)
		return Outcome{Action: ActionWait, Reason: ev.Reason, Event: &ev}, nil
	}

	decision := ShouldReflect(state, set)
	if c.metrics != nil {
		action := ActionProceed
		if decision.Should {
			action = ActionReflect
		}
		c.metrics.ReflectionDecisions.WithLabelValues(string(action), string(decision.Reason)).Inc()
	}

	if !decision.Should {
		c.mu.Unlock()
		return Outcome{Action: ActionProceed, Reason: decision.Reason}, nil
	}

	event := &types.ReflectionEvent{
		ID:        uuid.NewString(),
		LoopID:    loopID,
		AgentID:   state.AgentID,
		ProjectID: state.ProjectID,
		Reason:    decision.Reason,
		Depth:     state.ReflectionDepth + 1,
		Status:    types.ReflectionActive,
		Snapshot:  state,
		CreatedAt: time.Now(),
	}
	c.active[loopID] = event
	c.history = append(c.history, *event)
	activeCount := len(c.active)
	c.mu.Unlock()

	log.Printf("[Reflection] Loop %s requires reflection (depth %d): %s", loopID, event.Depth, event.Reason)

	if c.metrics != nil {
		c.metrics.ActiveReflections.Set(float64(activeCount))
	}
	if c.bus != nil {
		c.bus.Publish(&eventbus.Event{
			Type:      eventbus.EventReflectionRequested,
			Source:    "reflection",
			LoopID:    loopID,
			AgentID:   state.AgentID,
			ProjectID: state.ProjectID,
			Data:      map[string]interface{}{"reason": string(event.Reason), "depth": event.Depth},
		})
	}

	if c.backend != nil {
		if err := store.Append(ctx, c.backend, store.SurfaceReflectionHistory, event); err != nil {
			return Outcome{Action: ActionReflect, Reason: event.Reason, Event: event},
				fmt.Errorf("failed to persist reflection event: %w", err)
		}
	}
	return Outcome{Action: ActionReflect, Reason: event.Reason, Event: event}, nil
}

// Complete transitions the loop's active reflection to completed and
// records the result confidence. Completing a loop with no active
// reflection is a no-op with a warning.
func (c *Coordinator) Complete(ctx context.Context, loopID string, resultConfidence float64) error {
	return c.resolve(ctx, loopID, types.ReflectionCompleted, &resultConfidence, "")
}

// Cancel transitions the loop's active reflection to cancelled.
// Cancelling a loop with no active reflection is a no-op with a warning.
func (c *Coordinator) Cancel(ctx context.Context, loopID, reason string) error {
	return c.resolve(ctx, loopID, types.ReflectionCancelled, nil, reason)
}

func (c *Coordinator) resolve(ctx context.Context, loopID string, status types.ReflectionStatus, confidence *float64, note string) error {
	c.mu.Lock()
	event, ok := c.active[loopID]
	if !ok {
		c.mu.Unlock()
		log.Printf("[Reflection] No active reflection for loop %s, ignoring %s", loopID, status)
		return nil
	}

	now := time.Now()
	event.Status = status
	event.ResolvedAt = &now
	if confidence != nil {
		v := types.Clamp01(*confidence)
		event.ResultConfidence = &v
	}
	delete(c.active, loopID)
	for i := range c.history {
		if c.history[i].ID == event.ID {
			c.history[i] = *event
		}
	}
	activeCount := len(c.active)
	resolved := *event
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ActiveReflections.Set(float64(activeCount))
	}
	if c.bus != nil {
		evType := eventbus.EventReflectionCompleted
		if status == types.ReflectionCancelled {
			evType = eventbus.EventReflectionCancelled
		}
		c.bus.Publish(&eventbus.Event{
			Type:    evType,
			Source:  "reflection",
			LoopID:  loopID,
			AgentID: resolved.AgentID,
			Data:    map[string]interface{}{"note": note},
		})
	}

	if c.backend != nil {
		if err := store.Append(ctx, c.backend, store.SurfaceReflectionHistory, resolved); err != nil {
			return fmt.Errorf("failed to persist reflection resolution: %w", err)
		}
	}
	return nil
}

// Active returns the loop's active reflection event, nil when none.
func (c *Coordinator) Active(loopID string) *types.ReflectionEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if event, ok := c.active[loopID]; ok {
		ev := *event
		return &ev
	}
	return nil
}

// HasActive reports whether the loop currently has an active reflection.
func (c *Coordinator) HasActive(loopID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.active[loopID]
	return ok
}

// History returns a copy of all reflection events seen so far.
func (c *Coordinator) History() []types.ReflectionEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.ReflectionEvent, len(c.history))
	copy(out, c.history)
	return out
}
