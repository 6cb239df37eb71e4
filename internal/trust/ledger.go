package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/sentinel/internal/eventbus"
	"github.com/jordanhubbard/sentinel/internal/metrics"
	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/internal/thresholds"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

// BaselineTrust is the score assumed for a never-seen agent.
const BaselineTrust = 0.7

// DecayFloor is the score no agent decays below.
const DecayFloor = 0.3

// positiveMetrics contribute directly; missing values default to 0.5.
var positiveMetrics = []string{
	types.MetricSummaryRealism,
	types.MetricLoopSuccess,
	types.MetricReflectionClarity,
}

// negativeMetrics are inverted (1-v) before weighting so higher raw
// values reduce trust; missing values default to 0.
var negativeMetrics = []string{
	types.MetricContradictionFrequency,
	types.MetricRevisionRate,
	types.MetricOperatorOverride,
}

// defaultWeights sum to 1.0. Positive weights total 0.6 so that a
// fully-neutral metric set lands exactly on the 0.7 baseline.
var defaultWeights = map[string]float64{
	types.MetricSummaryRealism:         0.20,
	types.MetricLoopSuccess:            0.25,
	types.MetricReflectionClarity:      0.15,
	types.MetricContradictionFrequency: 0.15,
	types.MetricRevisionRate:           0.15,
	types.MetricOperatorOverride:       0.10,
}

// concernLabels name each metric's contribution to a trust reason.
var concernLabels = map[string]string{
	types.MetricSummaryRealism:         "unrealistic summaries",
	types.MetricLoopSuccess:            "loop failures",
	types.MetricReflectionClarity:      "unclear reflections",
	types.MetricContradictionFrequency: "frequent contradictions",
	types.MetricRevisionRate:           "high revision rate",
	types.MetricOperatorOverride:       "operator overrides",
}

// DemotionObserver is notified when the ledger demotes an agent.
type DemotionObserver func(types.DemotionSignal)

// Ledger computes, decays, and stores trust scores per agent, and
// raises demotion/promotion signals. All state is guarded by one
// mutex; reads are snapshot reads against the current value.
type Ledger struct {
	mu      sync.RWMutex
	agents  map[string]*types.Agent
	history map[string][]types.TrustEvent

	thresholds *thresholds.Store
	backend    store.Store
	bus        *eventbus.Bus
	metrics    *metrics.Metrics
	weights    map[string]float64
	observers  []DemotionObserver
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithWeights overrides the default metric weights. Weight sets are
// normalized to sum 1.0 at evaluation time, so partial or
// over-weighted sets are accepted.
func WithWeights(w map[string]float64) Option {
	return func(l *Ledger) {
		if len(w) > 0 {
			l.weights = w
		}
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// NewLedger creates a trust ledger.
func NewLedger(ts *thresholds.Store, backend store.Store, bus *eventbus.Bus, opts ...Option) *Ledger {
	l := &Ledger{
		agents:     make(map[string]*types.Agent),
		history:    make(map[string][]types.TrustEvent),
		thresholds: ts,
		backend:    backend,
		bus:        bus,
		weights:    defaultWeights,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnDemotion registers an observer for demotion signals. Observers
// run synchronously after the ledger state is updated.
func (l *Ledger) OnDemotion(obs DemotionObserver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, obs)
}

// Load hydrates agents and history from the trust_history surface.
func (l *Ledger) Load(ctx context.Context) error {
	if l.backend == nil {
		return nil
	}

	records, err := l.backend.Load(ctx, store.SurfaceTrustHistory)
	if err != nil {
		return fmt.Errorf("failed to load trust history: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, raw := range records {
		var ev types.TrustEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("[TrustLedger] Skipping malformed trust event: %v", err)
			continue
		}
		l.history[ev.AgentID] = append(l.history[ev.AgentID], ev)
		agent := l.agents[ev.AgentID]
		if agent == nil {
			agent = &types.Agent{ID: ev.AgentID, FirstSeen: ev.Timestamp}
			l.agents[ev.AgentID] = agent
		}
		agent.TrustScore = ev.Score
		agent.Demoted = ev.Status == types.AgentStatusDemoted
		ts := ev.Timestamp
		agent.LastEvaluated = &ts
	}
	return nil
}

// Evaluate computes a weighted trust score for an agent from the
// supplied metrics and appends the resulting event to the agent's
// history. Malformed metric values are clamped, never rejected. The
// returned error reports persistence failures only; the in-memory
// ledger is already updated when one is returned.
func (l *Ledger) Evaluate(ctx context.Context, agentID string, m types.TrustMetrics, loopID string) (types.TrustEvent, error) {
	score := l.computeScore(m)

	set := l.currentThresholds()
	demotionAt := set.Value(thresholds.Demotion, 0.3)
	promotionAt := set.Value(thresholds.Promotion, 0.75)

	l.mu.Lock()

	agent := l.agents[agentID]
	if agent == nil {
		agent = &types.Agent{ID: agentID, TrustScore: BaselineTrust, FirstSeen: time.Now()}
		l.agents[agentID] = agent
	}

	previous := agent.TrustScore
	delta := score - previous
	reason := deriveReason(m, delta)

	now := time.Now()
	event := types.TrustEvent{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		LoopID:    loopID,
		Score:     score,
		Delta:     delta,
		Reason:    reason,
		Status:    types.AgentStatusActive,
		Timestamp: now,
	}

	agent.TrustScore = score
	agent.LastEvaluated = &now

	var demotion *types.DemotionSignal
	var promoted bool

	switch {
	case score < demotionAt && !agent.Demoted:
		agent.Demoted = true
		agent.DemotionEventID = event.ID
		event.Status = types.AgentStatusDemoted
		demotion = &types.DemotionSignal{
			AgentID: agentID,
			LoopID:  loopID,
			Score:   score,
			Reason:  reason,
		}
	case score > promotionAt && agent.Demoted:
		agent.Demoted = false
		agent.DemotionEventID = ""
		promoted = true
	case agent.Demoted:
		event.Status = types.AgentStatusDemoted
	}

	l.history[agentID] = append(l.history[agentID], event)
	observers := append([]DemotionObserver(nil), l.observers...)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.TrustScore.WithLabelValues(agentID).Set(score)
		l.metrics.TrustEvaluations.WithLabelValues(agentID).Inc()
	}

	if l.bus != nil {
		l.bus.Publish(&eventbus.Event{
			Type:    eventbus.EventTrustUpdated,
			Source:  "trust-ledger",
			AgentID: agentID,
			LoopID:  loopID,
			Data: map[string]interface{}{
				"score":  score,
				"delta":  delta,
				"reason": reason,
			},
		})
	}

	if demotion != nil {
		log.Printf("[TrustLedger] Agent %s demoted (score %.3f): %s", agentID, score, reason)
		if l.metrics != nil {
			l.metrics.AgentDemotions.WithLabelValues(agentID).Inc()
		}
		if l.bus != nil {
			l.bus.Publish(&eventbus.Event{
				Type:    eventbus.EventAgentDemoted,
				Source:  "trust-ledger",
				AgentID: agentID,
				LoopID:  loopID,
				Data:    map[string]interface{}{"score": score, "reason": reason},
			})
		}
		for _, obs := range observers {
			obs(*demotion)
		}
	}

	if promoted {
		log.Printf("[TrustLedger] Agent %s promoted (score %.3f)", agentID, score)
		if l.metrics != nil {
			l.metrics.AgentPromotions.WithLabelValues(agentID).Inc()
		}
		if l.bus != nil {
			l.bus.Publish(&eventbus.Event{
				Type:    eventbus.EventAgentPromoted,
				Source:  "trust-ledger",
				AgentID: agentID,
				Data:    map[string]interface{}{"score": score},
			})
		}
	}

	if l.backend != nil {
		if err := store.Append(ctx, l.backend, store.SurfaceTrustHistory, event); err != nil {
			return event, fmt.Errorf("failed to persist trust event: %w", err)
		}
	}
	return event, nil
}

// computeScore applies normalized weights to the sanitized metrics.
func (l *Ledger) computeScore(m types.TrustMetrics) float64 {
	weights := l.normalizedWeights()

	var score float64
	for _, name := range positiveMetrics {
		v, ok := m[name]
		if !ok {
			v = 0.5
		}
		score += types.Clamp01(v) * weights[name]
	}
	for _, name := range negativeMetrics {
		v, ok := m[name]
		if !ok {
			v = 0
		}
		score += (1 - types.Clamp01(v)) * weights[name]
	}
	return types.Clamp01(score)
}

// normalizedWeights scales the configured weights to sum 1.0, filling
// unspecified metrics with the default weight before scaling.
func (l *Ledger) normalizedWeights() map[string]float64 {
	raw := make(map[string]float64, len(defaultWeights))
	var sum float64
	for name, dw := range defaultWeights {
		w := dw
		if custom, ok := l.weights[name]; ok {
			w = custom
		}
		if w < 0 {
			w = 0
		}
		raw[name] = w
		sum += w
	}
	if sum <= 0 {
		return defaultWeights
	}
	for name := range raw {
		raw[name] /= sum
	}
	return raw
}

// deriveReason builds the human-readable reason for a trust event.
// Metrics inside the concern band contribute labels; otherwise the
// reason reflects the direction of the delta.
func deriveReason(m types.TrustMetrics, delta float64) string {
	var parts []string

	for _, name := range positiveMetrics {
		if v, ok := m[name]; ok && types.Clamp01(v) < 0.4 {
			parts = append(parts, concernLabels[name])
		}
	}
	for _, name := range negativeMetrics {
		if v, ok := m[name]; ok && types.Clamp01(v) > 0.3 {
			parts = append(parts, concernLabels[name])
		}
	}

	if len(parts) > 0 {
		return joinReasons(parts)
	}
	if delta > -0.01 && delta < 0.01 {
		return "no significant change"
	}
	if delta >= 0 {
		return "consistent performance"
	}
	return "performance decay"
}

func joinReasons(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += " + " + p
	}
	return out
}

// Decay subtracts the configured decay rate from every known agent's
// score, floored at DecayFloor. Demotion checks do not run here;
// decay is pressure, not evidence.
func (l *Ledger) Decay() {
	rate := l.currentThresholds().Value(thresholds.DecayRate, 0.05)

	l.mu.Lock()
	for _, agent := range l.agents {
		agent.TrustScore -= rate
		if agent.TrustScore < DecayFloor {
			agent.TrustScore = DecayFloor
		}
		if l.metrics != nil {
			l.metrics.TrustScore.WithLabelValues(agent.ID).Set(agent.TrustScore)
		}
	}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.DecayRuns.Inc()
	}
}

// Score returns an agent's current trust score, BaselineTrust for
// unknown agents.
func (l *Ledger) Score(agentID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if agent, ok := l.agents[agentID]; ok {
		return agent.TrustScore
	}
	return BaselineTrust
}

// Delta returns the difference between the agent's two most recent
// trust events, 0 when fewer than two exist.
func (l *Ledger) Delta(agentID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	h := l.history[agentID]
	if len(h) < 2 {
		return 0
	}
	return h[len(h)-1].Score - h[len(h)-2].Score
}

// History returns a copy of the agent's ordered trust event history.
func (l *Ledger) History(agentID string) []types.TrustEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	h := l.history[agentID]
	out := make([]types.TrustEvent, len(h))
	copy(out, h)
	return out
}

// IsDemoted reports whether an agent is currently demoted. Unknown
// agents are not demoted.
func (l *Ledger) IsDemoted(agentID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if agent, ok := l.agents[agentID]; ok {
		return agent.Demoted
	}
	return false
}

// Status classifies an agent as active, warning, or demoted.
func (l *Ledger) Status(agentID string) types.AgentStatus {
	warningAt := l.currentThresholds().Value(thresholds.Warning, 0.5)

	l.mu.RLock()
	defer l.mu.RUnlock()

	agent, ok := l.agents[agentID]
	if !ok {
		return types.AgentStatusActive
	}
	if agent.Demoted {
		return types.AgentStatusDemoted
	}
	if agent.TrustScore < warningAt {
		return types.AgentStatusWarning
	}
	return types.AgentStatusActive
}

// SetFallback records the fallback agent used when agentID is demoted.
func (l *Ledger) SetFallback(agentID, fallback string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	agent := l.agents[agentID]
	if agent == nil {
		agent = &types.Agent{ID: agentID, TrustScore: BaselineTrust, FirstSeen: time.Now()}
		l.agents[agentID] = agent
	}
	agent.FallbackAgent = fallback
}

// Fallback returns the agent's configured fallback, "" when none.
func (l *Ledger) Fallback(agentID string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if agent, ok := l.agents[agentID]; ok {
		return agent.FallbackAgent
	}
	return ""
}

// Agents returns a snapshot of all known agents.
func (l *Ledger) Agents() []types.Agent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.Agent, 0, len(l.agents))
	for _, agent := range l.agents {
		out = append(out, *agent)
	}
	return out
}

func (l *Ledger) currentThresholds() types.ThresholdSet {
	if l.thresholds == nil {
		return types.ThresholdSet{}
	}
	return l.thresholds.Get(thresholds.DefaultProject)
}
