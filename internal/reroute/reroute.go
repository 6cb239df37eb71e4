package reroute

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jordanhubbard/sentinel/internal/eventbus"
	"github.com/jordanhubbard/sentinel/internal/metrics"
	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/internal/trust"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

// Trigger thresholds for automatic rerouting.
const (
	trustDeltaTrigger = -0.5
	driftTrigger      = 0.7
	failureTrigger    = 3
)

// ScorecardSource supplies recent loop scorecards. Scorecards are
// pulled on the scan interval, never pushed.
type ScorecardSource interface {
	FetchRecentScorecards(ctx context.Context) ([]types.Scorecard, error)
}

// Notifier delivers operator notifications. Best effort only.
type Notifier interface {
	Notify(ctx context.Context, message, severity string) error
}

// Config holds the rerouter's tunables.
type Config struct {
	DefaultAgent   string
	Fallbacks      map[string]string
	ScanInterval   time.Duration
	NotifyDebounce time.Duration
}

// NeedsReroute reports whether a scorecard requires swapping the
// acting agent, given the current per-agent failure counts.
func NeedsReroute(sc types.Scorecard, failureCounts map[string]int) bool {
	return sc.TrustDelta < trustDeltaTrigger ||
		sc.DriftScore > driftTrigger ||
		failureCounts[sc.AgentID] >= failureTrigger
}

// Rerouter swaps failing agents for their fallbacks based on the
// scorecard feed, and resolves demoted-agent fallback chains.
type Rerouter struct {
	mu         sync.Mutex
	failures   map[string]int
	rerouted   map[string]bool
	records    []types.RerouteRecord
	lastNotify time.Time

	source   ScorecardSource
	ledger   *trust.Ledger
	backend  store.Store
	bus      *eventbus.Bus
	notifier Notifier
	metrics  *metrics.Metrics
	cfg      Config
}

// New creates a rerouter. Zero config fields fall back to defaults.
func New(source ScorecardSource, ledger *trust.Ledger, backend store.Store, bus *eventbus.Bus, notifier Notifier, m *metrics.Metrics, cfg Config) *Rerouter {
	if cfg.DefaultAgent == "" {
		cfg.DefaultAgent = "SAGE"
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 10 * time.Second
	}
	if cfg.NotifyDebounce <= 0 {
		cfg.NotifyDebounce = 5 * time.Second
	}
	return &Rerouter{
		failures: make(map[string]int),
		rerouted: make(map[string]bool),
		source:   source,
		ledger:   ledger,
		backend:  backend,
		bus:      bus,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
	}
}

// Run polls the scorecard feed until the context is cancelled.
func (r *Rerouter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()

	log.Printf("[Rerouter] Scanning scorecards every %s", r.cfg.ScanInterval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Rerouter] Scan loop stopped")
			return
		case <-ticker.C:
			if err := r.Scan(ctx); err != nil {
				log.Printf("[Rerouter] Scan failed: %v", err)
			}
		}
	}
}

// Scan fetches recent scorecards and reroutes any loop whose agent
// crossed a trigger. Loops already rerouted are skipped.
func (r *Rerouter) Scan(ctx context.Context) error {
	if r.source == nil {
		return nil
	}
	cards, err := r.source.FetchRecentScorecards(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ScorecardScan.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("failed to fetch scorecards: %w", err)
	}
	if r.metrics != nil {
		r.metrics.ScorecardScan.WithLabelValues("ok").Inc()
	}

	for _, sc := range cards {
		r.mu.Lock()
		if r.rerouted[sc.LoopID] {
			r.mu.Unlock()
			continue
		}
		if sc.Status == types.ScorecardFailed {
			r.failures[sc.AgentID]++
		}
		counts := map[string]int{sc.AgentID: r.failures[sc.AgentID]}
		r.mu.Unlock()

		if !NeedsReroute(sc, counts) {
			continue
		}
		if err := r.reroute(ctx, sc.LoopID, sc.AgentID, triggerReason(sc, counts[sc.AgentID]), false); err != nil {
			log.Printf("[Rerouter] Failed to reroute loop %s: %v", sc.LoopID, err)
		}
	}
	return nil
}

func triggerReason(sc types.Scorecard, failures int) string {
	switch {
	case sc.TrustDelta < trustDeltaTrigger:
		return fmt.Sprintf("trust delta %.2f below %.2f", sc.TrustDelta, trustDeltaTrigger)
	case sc.DriftScore > driftTrigger:
		return fmt.Sprintf("drift score %.2f above %.2f", sc.DriftScore, driftTrigger)
	default:
		return fmt.Sprintf("%d consecutive failures", failures)
	}
}

// ManualReroute swaps a loop's agent unconditionally.
func (r *Rerouter) ManualReroute(ctx context.Context, loopID, fromAgent, toAgent, reason string) error {
	if toAgent == "" {
		toAgent = r.fallbackFor(fromAgent)
	}
	return r.record(ctx, loopID, fromAgent, toAgent, reason, true)
}

func (r *Rerouter) reroute(ctx context.Context, loopID, agentID, reason string, manual bool) error {
	return r.record(ctx, loopID, agentID, r.fallbackFor(agentID), reason, manual)
}

func (r *Rerouter) record(ctx context.Context, loopID, fromAgent, toAgent, reason string, manual bool) error {
	rec := types.RerouteRecord{
		LoopID:        loopID,
		OriginalAgent: fromAgent,
		FallbackAgent: toAgent,
		Reason:        reason,
		Manual:        manual,
		Timestamp:     time.Now(),
	}

	if r.backend != nil {
		if err := store.Append(ctx, r.backend, store.SurfaceRerouteLog, rec); err != nil {
			return fmt.Errorf("failed to persist reroute record: %w", err)
		}
	}

	r.mu.Lock()
	r.rerouted[loopID] = true
	delete(r.failures, fromAgent)
	r.records = append(r.records, rec)
	r.mu.Unlock()

	log.Printf("[Rerouter] Loop %s rerouted %s -> %s (manual=%v): %s", loopID, fromAgent, toAgent, manual, reason)

	if r.metrics != nil {
		r.metrics.Reroutes.WithLabelValues(fmt.Sprintf("%v", manual)).Inc()
	}
	if r.bus != nil {
		r.bus.Publish(&eventbus.Event{
			Type:    eventbus.EventLoopRerouted,
			Source:  "rerouter",
			LoopID:  loopID,
			AgentID: fromAgent,
			Data: map[string]interface{}{
				"fallback_agent": toAgent,
				"reason":         reason,
				"manual":         manual,
			},
		})
	}

	r.notify(ctx, fmt.Sprintf("Loop %s rerouted from %s to %s: %s", loopID, fromAgent, toAgent, reason))
	return nil
}

func (r *Rerouter) fallbackFor(agentID string) string {
	if fb, ok := r.cfg.Fallbacks[agentID]; ok && fb != "" {
		return fb
	}
	return r.cfg.DefaultAgent
}

// notify delivers a debounced best-effort notification. Duplicates
// within the debounce window are suppressed.
func (r *Rerouter) notify(ctx context.Context, message string) {
	if r.notifier == nil {
		return
	}
	r.mu.Lock()
	if time.Since(r.lastNotify) < r.cfg.NotifyDebounce {
		r.mu.Unlock()
		log.Printf("[Rerouter] Notification suppressed (debounce): %s", message)
		if r.metrics != nil {
			r.metrics.NotificationsSent.WithLabelValues("warning", "suppressed").Inc()
		}
		return
	}
	r.lastNotify = time.Now()
	r.mu.Unlock()

	result := "ok"
	if err := r.notifier.Notify(ctx, message, "warning"); err != nil {
		log.Printf("[Rerouter] Notification failed: %v", err)
		result = "error"
	}
	if r.metrics != nil {
		r.metrics.NotificationsSent.WithLabelValues("warning", result).Inc()
	}
}

// EffectiveAgent resolves the agent that should actually act when the
// requested one may be demoted. Chains of demoted fallbacks are
// followed; a cycle resolves to the configured default agent.
func (r *Rerouter) EffectiveAgent(requested string) string {
	if r.ledger == nil {
		return requested
	}

	seen := make(map[string]bool)
	agent := requested
	for r.ledger.IsDemoted(agent) {
		if seen[agent] {
			log.Printf("[Rerouter] Fallback cycle at %s, using default agent %s", agent, r.cfg.DefaultAgent)
			return r.cfg.DefaultAgent
		}
		seen[agent] = true

		fb := r.ledger.Fallback(agent)
		if fb == "" {
			fb = r.fallbackFor(agent)
		}
		if fb == agent {
			return agent
		}
		agent = fb
	}
	return agent
}

// FailureCount returns the agent's current consecutive failure count.
func (r *Rerouter) FailureCount(agentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[agentID]
}

// Records returns a copy of all reroute records issued so far.
func (r *Rerouter) Records() []types.RerouteRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.RerouteRecord, len(r.records))
	copy(out, r.records)
	return out
}
