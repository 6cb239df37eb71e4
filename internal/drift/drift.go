package drift

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jordanhubbard/sentinel/internal/eventbus"
	"github.com/jordanhubbard/sentinel/internal/metrics"
	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/internal/thresholds"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

// Similarity scores how close produced content is to an anchored
// belief, in [0,1]. Implementations are external; the monitor only
// needs the score.
type Similarity interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// SimilarityFunc adapts a plain function to the Similarity interface.
type SimilarityFunc func(ctx context.Context, a, b string) (float64, error)

func (f SimilarityFunc) Similarity(ctx context.Context, a, b string) (float64, error) {
	return f(ctx, a, b)
}

// TokenOverlap is a deterministic similarity stub: the fraction of
// distinct tokens in b that also appear in a. Good enough for tests
// and development, not for production scoring.
func TokenOverlap() Similarity {
	return SimilarityFunc(func(_ context.Context, a, b string) (float64, error) {
		want := make(map[string]bool)
		for _, tok := range strings.Fields(strings.ToLower(a)) {
			want[tok] = true
		}
		toks := strings.Fields(strings.ToLower(b))
		if len(want) == 0 || len(toks) == 0 {
			return 0, nil
		}
		seen := make(map[string]bool)
		hits := 0
		for _, tok := range toks {
			if seen[tok] {
				continue
			}
			seen[tok] = true
			if want[tok] {
				hits++
			}
		}
		return float64(hits) / float64(len(want)), nil
	})
}

// ViolationHandler receives each detected violation exactly once.
type ViolationHandler func(types.BeliefViolation)

// CheckResult is the outcome of scoring one piece of content against a
// set of anchors.
type CheckResult struct {
	Passed     bool                    `json:"passed"`
	Violations []types.BeliefViolation `json:"violations"`
}

// Monitor watches produced content for drift away from anchored
// beliefs. It runs as an event bus consumer, stopped until started.
type Monitor struct {
	mu         sync.RWMutex
	running    bool
	subID      string
	anchors    map[string]types.BeliefAnchor
	violations []types.BeliefViolation
	onViolate  ViolationHandler

	similarity Similarity
	thresholds *thresholds.Store
	backend    store.Store
	bus        *eventbus.Bus
	metrics    *metrics.Metrics
}

// NewMonitor creates a drift monitor in the stopped state.
func NewMonitor(sim Similarity, ts *thresholds.Store, backend store.Store, bus *eventbus.Bus, m *metrics.Metrics) *Monitor {
	return &Monitor{
		anchors:    make(map[string]types.BeliefAnchor),
		similarity: sim,
		thresholds: ts,
		backend:    backend,
		bus:        bus,
		metrics:    m,
	}
}

// OnViolation registers the violation callback. At most one; later
// calls replace earlier ones.
func (m *Monitor) OnViolation(h ViolationHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onViolate = h
}

// SetAnchor adds or replaces a belief anchor.
func (m *Monitor) SetAnchor(anchor types.BeliefAnchor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchors[anchor.ID] = anchor
}

// RemoveAnchor deletes a belief anchor.
func (m *Monitor) RemoveAnchor(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.anchors, id)
}

// Anchors returns a snapshot of all anchors.
func (m *Monitor) Anchors() []types.BeliefAnchor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.BeliefAnchor, 0, len(m.anchors))
	for _, a := range m.anchors {
		out = append(out, a)
	}
	return out
}

// Start subscribes the monitor to content-producing events. Starting a
// running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	if m.bus != nil {
		m.subID = m.bus.Subscribe(m.handleEvent,
			eventbus.EventLoopCompleted,
			eventbus.EventAgentStatement,
			eventbus.EventBeliefUpdated,
		)
	}
	log.Printf("[DriftMonitor] Started")
}

// Stop unsubscribes the monitor. Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	if m.bus != nil && m.subID != "" {
		m.bus.Unsubscribe(m.subID)
		m.subID = ""
	}
	log.Printf("[DriftMonitor] Stopped")
}

// Running reports whether the monitor is consuming events.
func (m *Monitor) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Monitor) handleEvent(ev *eventbus.Event) {
	if ev.Text == "" {
		log.Printf("[DriftMonitor] Event %s carries no content, skipping", ev.Type)
		return
	}
	if _, err := m.Check(context.Background(), ev.Text, ev.AgentID, ev.LoopID); err != nil {
		log.Printf("[DriftMonitor] Check failed for loop %s: %v", ev.LoopID, err)
	}
}

// Check scores content against all registered anchors, records and
// publishes any violations, and returns the result.
func (m *Monitor) Check(ctx context.Context, content, agentID, loopID string) (CheckResult, error) {
	if m.metrics != nil {
		m.metrics.DriftChecks.Inc()
	}

	result, err := CheckContent(ctx, m.similarity, content, m.Anchors(), m.globalThreshold())
	if err != nil {
		return result, err
	}
	for i := range result.Violations {
		result.Violations[i].AgentID = agentID
		result.Violations[i].LoopID = loopID
		m.recordViolation(ctx, result.Violations[i])
	}
	return result, nil
}

func (m *Monitor) globalThreshold() float64 {
	set := types.ThresholdSet{}
	if m.thresholds != nil {
		set = m.thresholds.Get(thresholds.DefaultProject)
	}
	return set.Value(thresholds.MaxDrift, 0.4)
}

func (m *Monitor) recordViolation(ctx context.Context, v types.BeliefViolation) {
	m.mu.Lock()
	m.violations = append(m.violations, v)
	handler := m.onViolate
	m.mu.Unlock()

	log.Printf("[DriftMonitor] Belief %s violated by loop %s: drift %.2f > %.2f", v.BeliefID, v.LoopID, v.DriftScore, v.Threshold)

	if m.metrics != nil {
		m.metrics.DriftViolations.WithLabelValues(v.BeliefID, fmt.Sprintf("%v", v.Critical)).Inc()
	}
	if handler != nil {
		handler(v)
	}
	if m.bus != nil {
		m.bus.Publish(&eventbus.Event{
			Type:    eventbus.EventDriftViolation,
			Source:  "drift-monitor",
			LoopID:  v.LoopID,
			AgentID: v.AgentID,
			Data: map[string]interface{}{
				"belief_id":   v.BeliefID,
				"drift_score": v.DriftScore,
				"threshold":   v.Threshold,
				"critical":    v.Critical,
			},
		})
	}
	if m.backend != nil {
		if err := store.Append(ctx, m.backend, store.SurfaceDriftViolations, v); err != nil {
			log.Printf("[DriftMonitor] Failed to persist violation: %v", err)
		}
	}
}

// Violations returns a copy of the violation log.
func (m *Monitor) Violations() []types.BeliefViolation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.BeliefViolation, len(m.violations))
	copy(out, m.violations)
	return out
}

// Sweep is the periodic heartbeat. It does no reconciliation yet;
// the engine ticks it so the monitor's liveness shows up in logs.
func (m *Monitor) Sweep(_ context.Context) {
	m.mu.RLock()
	anchors := len(m.anchors)
	violations := len(m.violations)
	m.mu.RUnlock()
	log.Printf("[DriftMonitor] Heartbeat: %d anchors, %d violations", anchors, violations)
}

// CheckContent scores content against anchors without a running
// monitor. Deprecated anchors are skipped; per-anchor thresholds
// override the global one. Empty content passes with a warning.
func CheckContent(ctx context.Context, sim Similarity, content string, anchors []types.BeliefAnchor, globalThreshold float64) (CheckResult, error) {
	if content == "" {
		log.Printf("[DriftMonitor] Empty content, skipping drift check")
		return CheckResult{Passed: true}, nil
	}
	if sim == nil {
		return CheckResult{Passed: true}, nil
	}

	var violations []types.BeliefViolation
	for _, anchor := range anchors {
		if anchor.Deprecated || anchor.Content == "" {
			continue
		}
		score, err := sim.Similarity(ctx, anchor.Content, content)
		if err != nil {
			return CheckResult{}, fmt.Errorf("similarity failed for belief %s: %w", anchor.ID, err)
		}
		drift := types.Clamp01(1 - score)

		threshold := globalThreshold
		if anchor.DriftThreshold != nil {
			threshold = *anchor.DriftThreshold
		}
		if drift > threshold {
			violations = append(violations, types.BeliefViolation{
				BeliefID:   anchor.ID,
				DriftScore: drift,
				Threshold:  threshold,
				Critical:   anchor.Critical,
				Content:    content,
				Timestamp:  time.Now(),
			})
		}
	}
	return CheckResult{Passed: len(violations) == 0, Violations: violations}, nil
}
