package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Agent is an autonomous agent known to the governance engine.
// Agents are created on first observation; trust is mutated by the
// trust ledger and demotion state by the ledger or operators.
type Agent struct {
	ID              string     `json:"id"`
	TrustScore      float64    `json:"trust_score"`
	FallbackAgent   string     `json:"fallback_agent,omitempty"`
	Demoted         bool       `json:"demoted"`
	DemotionEventID string     `json:"demotion_event_id,omitempty"`
	FirstSeen       time.Time  `json:"first_seen"`
	LastEvaluated   *time.Time `json:"last_evaluated,omitempty"`
}

// AgentStatus summarizes an agent's standing with the trust ledger.
type AgentStatus string

const (
	AgentStatusActive  AgentStatus = "active"
	AgentStatusWarning AgentStatus = "warning"
	AgentStatusDemoted AgentStatus = "demoted"
)

// TrustEvent records one trust evaluation for an agent. Events are
// immutable once created and appended to a per-agent ordered history;
// insertion order matters for delta computation.
type TrustEvent struct {
	ID        string      `json:"id"`
	AgentID   string      `json:"agent_id"`
	LoopID    string      `json:"loop_id"`
	Score     float64     `json:"score"`
	Delta     float64     `json:"delta"`
	Reason    string      `json:"reason"`
	Status    AgentStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

// TrustMetrics is the raw metric set supplied to a trust evaluation.
// Unknown keys are ignored; missing metrics take documented defaults.
type TrustMetrics map[string]float64

// Well-known trust metric names.
const (
	MetricSummaryRealism         = "summary_realism"
	MetricLoopSuccess            = "loop_success"
	MetricReflectionClarity      = "reflection_clarity"
	MetricContradictionFrequency = "contradiction_frequency"
	MetricRevisionRate           = "revision_rate"
	MetricOperatorOverride       = "operator_override"
)

// LoopState is a snapshot of one execution unit (loop) as seen by the
// governance gates. Callers populate what they know; missing fields
// fall back to gate defaults.
type LoopState struct {
	LoopID                  string  `json:"loop_id"`
	AgentID                 string  `json:"agent_id"`
	ProjectID               string  `json:"project_id,omitempty"`
	ConfidenceScore         float64 `json:"confidence_score"`
	TrustScore              float64 `json:"trust_score"`
	TrustDelta              float64 `json:"trust_delta"`
	DriftScore              float64 `json:"drift_score"`
	ReflectionDepth         int     `json:"reflection_depth"`
	ContradictionCount      int     `json:"contradiction_count"`
	ContradictionUnresolved bool    `json:"contradiction_unresolved"`
	ManualOverride          bool    `json:"manual_override"`
	Summary                 string  `json:"summary,omitempty"`
}

// ReflectionReason identifies why a reflection decision was made.
type ReflectionReason string

const (
	ReflectMaxDepthReached         ReflectionReason = "max_depth_reached"
	ReflectLowConfidence           ReflectionReason = "low_confidence"
	ReflectTrustDecay              ReflectionReason = "trust_decay"
	ReflectLowTrust                ReflectionReason = "low_trust"
	ReflectUnresolvedContradiction ReflectionReason = "unresolved_contradiction"
	ReflectHighDrift               ReflectionReason = "high_drift"
	ReflectNoManualOverride        ReflectionReason = "no_manual_override"
	ReflectAllThresholdsMet        ReflectionReason = "all_thresholds_met"
)

// ReflectionStatus is the lifecycle state of a reflection event.
type ReflectionStatus string

const (
	ReflectionActive    ReflectionStatus = "active"
	ReflectionCompleted ReflectionStatus = "completed"
	ReflectionCancelled ReflectionStatus = "cancelled"
)

// ReflectionEvent records one requested reflection pass for a loop.
// At most one active event exists per loop id at a time.
type ReflectionEvent struct {
	ID               string           `json:"id"`
	LoopID           string           `json:"loop_id"`
	AgentID          string           `json:"agent_id"`
	ProjectID        string           `json:"project_id,omitempty"`
	Reason           ReflectionReason `json:"reason"`
	Depth            int              `json:"depth"`
	Status           ReflectionStatus `json:"status"`
	Snapshot         LoopState        `json:"snapshot"`
	ResultConfidence *float64         `json:"result_confidence,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
}

// FreezeReason identifies one condition contributing to a freeze.
type FreezeReason string

const (
	FreezeLowConfidence     FreezeReason = "low_confidence"
	FreezeLowTrust          FreezeReason = "low_trust"
	FreezeContradictions    FreezeReason = "unresolved_contradictions"
	FreezeNoManualOverride  FreezeReason = "no_manual_override"
	FreezeOperatorInitiated FreezeReason = "operator_initiated"
)

// RequiredAction is what must happen before a frozen loop may run.
type RequiredAction string

const (
	ActionNone             RequiredAction = "none"
	ActionReReflect        RequiredAction = "re-reflect"
	ActionOperatorOverride RequiredAction = "operator_override"
)

// FreezeStatus is the lifecycle state of a freeze event.
type FreezeStatus string

const (
	FreezeFrozen   FreezeStatus = "frozen"
	FreezeUnfrozen FreezeStatus = "unfrozen"
)

// FreezeEvent records one freeze of a loop. Reasons is non-empty while
// the loop is frozen. At most one active event exists per loop id.
type FreezeEvent struct {
	ID             string         `json:"id"`
	LoopID         string         `json:"loop_id"`
	Status         FreezeStatus   `json:"status"`
	Reasons        []FreezeReason `json:"reasons"`
	RequiredAction RequiredAction `json:"required_action"`
	Snapshot       LoopState      `json:"snapshot"`
	CreatedAt      time.Time      `json:"created_at"`
	UnfrozenAt     *time.Time     `json:"unfrozen_at,omitempty"`
	UnfreezeReason string         `json:"unfreeze_reason,omitempty"`
	Manual         bool           `json:"manual"`
}

// BeliefAnchor is an anchored belief that produced content is scored
// against. Deprecated anchors are skipped during drift checks.
type BeliefAnchor struct {
	ID             string   `json:"id"`
	Content        string   `json:"content"`
	DriftThreshold *float64 `json:"drift_threshold,omitempty"`
	Critical       bool     `json:"critical"`
	Deprecated     bool     `json:"deprecated"`
}

// BeliefViolation records content drifting past an anchor's threshold.
// Violations are produced once and never mutated.
type BeliefViolation struct {
	BeliefID   string    `json:"belief_id"`
	DriftScore float64   `json:"drift_score"`
	Threshold  float64   `json:"threshold"`
	Critical   bool      `json:"critical"`
	AgentID    string    `json:"agent_id,omitempty"`
	LoopID     string    `json:"loop_id,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// RerouteRecord records one agent swap for a loop. Append-only.
type RerouteRecord struct {
	LoopID        string    `json:"loop_id"`
	OriginalAgent string    `json:"original_agent"`
	FallbackAgent string    `json:"fallback_agent"`
	Reason        string    `json:"reason"`
	Manual        bool      `json:"manual"`
	Timestamp     time.Time `json:"timestamp"`
}

// RevisionStatus is the lifecycle state of a revision record.
type RevisionStatus string

const (
	RevisionPending   RevisionStatus = "pending"
	RevisionReplanned RevisionStatus = "replanned"
	RevisionFailed    RevisionStatus = "failed"
)

// RevisionRecord tracks one replan of a rejected or frozen loop.
type RevisionRecord struct {
	LoopID            string         `json:"loop_id"`
	RevisedFromLoopID string         `json:"revised_from_loop_id"`
	AgentID           string         `json:"agent_id"`
	Reason            string         `json:"reason"`
	RevisedReflection string         `json:"revised_reflection"`
	ProjectID         string         `json:"project_id,omitempty"`
	Status            RevisionStatus `json:"status"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// ScorecardStatus is the reported outcome of a scored loop.
type ScorecardStatus string

const (
	ScorecardCompleted ScorecardStatus = "completed"
	ScorecardFailed    ScorecardStatus = "failed"
)

// Scorecard is one loop outcome pulled from the external scorecard
// feed; the rerouter consumes these on its scan interval.
type Scorecard struct {
	LoopID     string          `json:"loop_id"`
	AgentID    string          `json:"agent_id"`
	TrustDelta float64         `json:"trust_delta"`
	DriftScore float64         `json:"drift_score"`
	Status     ScorecardStatus `json:"status"`
}

// ThresholdSet maps threshold names to numeric values for one project.
type ThresholdSet map[string]float64

// Clone returns an independent copy of the set.
func (t ThresholdSet) Clone() ThresholdSet {
	out := make(ThresholdSet, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Value returns the named threshold, or fallback when absent.
func (t ThresholdSet) Value(name string, fallback float64) float64 {
	if v, ok := t[name]; ok {
		return v
	}
	return fallback
}

// Plan is the product of the external planning collaborator.
type Plan struct {
	LoopID    string    `json:"loop_id"`
	AgentID   string    `json:"agent_id"`
	ProjectID string    `json:"project_id,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// PlanRequest carries the revision context handed to the planner.
type PlanRequest struct {
	LoopID            string `json:"loop_id"`
	AgentID           string `json:"agent_id"`
	RevisedFrom       string `json:"revised_from"`
	RevisedReflection string `json:"revised_reflection"`
	ProjectID         string `json:"project_id,omitempty"`
}

// DemotionSignal is emitted when the trust ledger demotes an agent.
type DemotionSignal struct {
	AgentID string  `json:"agent_id"`
	LoopID  string  `json:"loop_id"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason"`
}

// NewLoopID generates a loop id for a replanned loop when the caller
// does not supply one: timestamp plus a random suffix so ids sort
// roughly by creation time while staying unique.
func NewLoopID() string {
	return fmt.Sprintf("loop-%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// Clamp01 bounds v to [0,1]. Malformed scores are tolerated by
// clamping rather than raising.
func Clamp01(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
