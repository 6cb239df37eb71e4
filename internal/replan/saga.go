// Package replan revises a loop's plan through a four-step saga:
// log the revision, update the original loop's memory, create the new
// plan, mark the revision replanned. There is no rollback; a failed
// saga leaves its completed steps recorded for operator cleanup.
package replan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jordanhubbard/sentinel/internal/eventbus"
	"github.com/jordanhubbard/sentinel/internal/metrics"
	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/internal/telemetry"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

// Planner creates a new plan from revision context.
type Planner interface {
	CreatePlan(ctx context.Context, req types.PlanRequest) (*types.Plan, error)
}

// Status is the saga's externally visible state.
type Status string

const (
	StatusReplanning Status = "replanning"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Step names reported through the status callback.
const (
	StepLogRevision   = "log_revision"
	StepUpdateMemory  = "update_memory"
	StepCreatePlan    = "create_plan"
	StepMarkReplanned = "mark_replanned"
)

// StatusCallback is invoked after every status transition so callers
// can render progress without polling.
type StatusCallback func(status Status, step string, err error)

// Request describes one replan.
type Request struct {
	OriginalLoopID    string `json:"original_loop_id"`
	NewLoopID         string `json:"new_loop_id,omitempty"`
	AgentID           string `json:"agent_id"`
	ProjectID         string `json:"project_id,omitempty"`
	Reason            string `json:"reason"`
	RevisedReflection string `json:"revised_reflection"`
}

// Result is the saga's terminal outcome.
type Result struct {
	Status    Status               `json:"status"`
	NewLoopID string               `json:"new_loop_id"`
	Plan      *types.Plan          `json:"plan,omitempty"`
	Revision  types.RevisionRecord `json:"revision"`
	Error     string               `json:"error,omitempty"`
}

// memoryEntry is the memory-surface record linking the original loop
// to its revision.
type memoryEntry struct {
	LoopID            string    `json:"loop_id"`
	RevisedReflection string    `json:"revised_reflection"`
	RevisedTo         string    `json:"revised_to"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Saga executes replans.
type Saga struct {
	backend store.Store
	planner Planner
	bus     *eventbus.Bus
	metrics *metrics.Metrics
}

// NewSaga creates a replan saga executor.
func NewSaga(backend store.Store, planner Planner, bus *eventbus.Bus, m *metrics.Metrics) *Saga {
	return &Saga{backend: backend, planner: planner, bus: bus, metrics: m}
}

// Run executes the four steps in order. Cancellation stops the saga at
// the next step boundary; completed steps stay recorded.
func (s *Saga) Run(ctx context.Context, req Request, onStatus StatusCallback) (Result, error) {
	start := time.Now()
	if req.NewLoopID == "" {
		req.NewLoopID = types.NewLoopID()
	}
	ctx, span := telemetry.Span(ctx, "replan.saga",
		attribute.String("loop.original", req.OriginalLoopID),
		attribute.String("loop.new", req.NewLoopID),
	)
	defer span.End()
	report := func(status Status, step string, err error) {
		if onStatus != nil {
			onStatus(status, step, err)
		}
		s.publishStatus(req, status, step, err)
	}

	now := time.Now()
	revision := types.RevisionRecord{
		LoopID:            req.NewLoopID,
		RevisedFromLoopID: req.OriginalLoopID,
		AgentID:           req.AgentID,
		Reason:            req.Reason,
		RevisedReflection: req.RevisedReflection,
		ProjectID:         req.ProjectID,
		Status:            types.RevisionPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	result := Result{Status: StatusReplanning, NewLoopID: req.NewLoopID, Revision: revision}

	log.Printf("[ReplanSaga] Replanning loop %s as %s: %s", req.OriginalLoopID, req.NewLoopID, req.Reason)
	report(StatusReplanning, StepLogRevision, nil)

	// Step 1: log the revision intent.
	if err := store.Append(ctx, s.backend, store.SurfaceRevisionLog, revision); err != nil {
		return s.fail(ctx, nil, result, StepLogRevision, fmt.Errorf("failed to log revision: %w", err), report, start)
	}

	// Cancellation past this point leaves the pending record in place
	// for operator cleanup.
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, &revision, result, StepUpdateMemory, err, report, start)
	}
	report(StatusReplanning, StepUpdateMemory, nil)

	// Step 2: link the original loop's memory to the revision.
	if err := s.updateMemory(ctx, req); err != nil {
		return s.fail(ctx, &revision, result, StepUpdateMemory, err, report, start)
	}

	if err := ctx.Err(); err != nil {
		return s.fail(ctx, &revision, result, StepCreatePlan, err, report, start)
	}
	report(StatusReplanning, StepCreatePlan, nil)

	// Step 3: request the new plan.
	plan, err := s.planner.CreatePlan(ctx, types.PlanRequest{
		LoopID:            req.NewLoopID,
		AgentID:           req.AgentID,
		RevisedFrom:       req.OriginalLoopID,
		RevisedReflection: req.RevisedReflection,
		ProjectID:         req.ProjectID,
	})
	if err != nil {
		return s.fail(ctx, &revision, result, StepCreatePlan, fmt.Errorf("failed to create plan: %w", err), report, start)
	}
	result.Plan = plan

	if err := ctx.Err(); err != nil {
		return s.fail(ctx, &revision, result, StepMarkReplanned, err, report, start)
	}
	report(StatusReplanning, StepMarkReplanned, nil)

	// Step 4: mark the revision replanned.
	revision.Status = types.RevisionReplanned
	revision.UpdatedAt = time.Now()
	if err := s.updateRevision(ctx, revision); err != nil {
		return s.fail(ctx, &revision, result, StepMarkReplanned, err, report, start)
	}
	result.Revision = revision
	result.Status = StatusCompleted

	log.Printf("[ReplanSaga] Loop %s replanned as %s", req.OriginalLoopID, req.NewLoopID)
	report(StatusCompleted, StepMarkReplanned, nil)
	s.observe(StatusCompleted, start)
	return result, nil
}

// fail reports a terminal failure. When the revision was already
// logged (step 1 succeeded) and the failure is not a cancellation, the
// stored record is marked failed so operators can tell it apart from
// an in-flight saga; cancellation leaves it pending for cleanup.
func (s *Saga) fail(ctx context.Context, revision *types.RevisionRecord, result Result, step string, err error, report StatusCallback, start time.Time) (Result, error) {
	result.Status = StatusFailed
	result.Error = err.Error()
	if revision != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		failed := *revision
		failed.Status = types.RevisionFailed
		failed.Error = err.Error()
		failed.UpdatedAt = time.Now()
		if uerr := s.updateRevision(ctx, failed); uerr != nil {
			log.Printf("[ReplanSaga] Failed to mark revision %s failed: %v", failed.LoopID, uerr)
		} else {
			result.Revision = failed
		}
	}
	log.Printf("[ReplanSaga] Step %s failed for loop %s: %v", step, result.NewLoopID, err)
	report(StatusFailed, step, err)
	s.observe(StatusFailed, start)
	return result, err
}

func (s *Saga) observe(status Status, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ReplanSagas.WithLabelValues(string(status)).Inc()
	s.metrics.ReplanDuration.Observe(time.Since(start).Seconds())
}

func (s *Saga) publishStatus(req Request, status Status, step string, err error) {
	if s.bus == nil {
		return
	}
	data := map[string]interface{}{
		"status":       string(status),
		"step":         step,
		"new_loop_id":  req.NewLoopID,
		"revised_from": req.OriginalLoopID,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	s.bus.Publish(&eventbus.Event{
		Type:    eventbus.EventReplanStatus,
		Source:  "replan-saga",
		LoopID:  req.OriginalLoopID,
		AgentID: req.AgentID,
		Data:    data,
	})
}

// updateMemory merges the revision link into the memory surface,
// replacing any existing entry for the original loop.
func (s *Saga) updateMemory(ctx context.Context, req Request) error {
	records, err := s.backend.Load(ctx, store.SurfaceMemory)
	if err != nil {
		return fmt.Errorf("failed to load memory surface: %w", err)
	}

	entry, err := json.Marshal(memoryEntry{
		LoopID:            req.OriginalLoopID,
		RevisedReflection: req.RevisedReflection,
		RevisedTo:         req.NewLoopID,
		UpdatedAt:         time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal memory entry: %w", err)
	}

	replaced := false
	for i, raw := range records {
		var existing memoryEntry
		if json.Unmarshal(raw, &existing) == nil && existing.LoopID == req.OriginalLoopID {
			records[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, entry)
	}

	if err := s.backend.AppendOrReplace(ctx, store.SurfaceMemory, records); err != nil {
		return fmt.Errorf("failed to update memory surface: %w", err)
	}
	return nil
}

// updateRevision replaces the revision's record in the revision log.
func (s *Saga) updateRevision(ctx context.Context, revision types.RevisionRecord) error {
	records, err := s.backend.Load(ctx, store.SurfaceRevisionLog)
	if err != nil {
		return fmt.Errorf("failed to load revision log: %w", err)
	}

	updated, err := json.Marshal(revision)
	if err != nil {
		return fmt.Errorf("failed to marshal revision: %w", err)
	}

	replaced := false
	for i, raw := range records {
		var existing types.RevisionRecord
		if json.Unmarshal(raw, &existing) == nil && existing.LoopID == revision.LoopID {
			records[i] = updated
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, updated)
	}

	if err := s.backend.AppendOrReplace(ctx, store.SurfaceRevisionLog, records); err != nil {
		return fmt.Errorf("failed to update revision log: %w", err)
	}
	return nil
}
