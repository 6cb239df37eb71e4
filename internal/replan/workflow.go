package replan

import (
	"context"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/jordanhubbard/sentinel/internal/store"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

// DefaultTaskQueue is the task queue replan workflows run on.
const DefaultTaskQueue = "sentinel-replan"

// Activities holds the saga steps as Temporal activities. Transient
// store errors are retried by the activity retry policy; there is no
// compensation, matching the context-based saga.
type Activities struct {
	Backend store.Store
	Planner Planner
}

// LogRevisionActivity appends the pending revision record.
func (a *Activities) LogRevisionActivity(ctx context.Context, revision types.RevisionRecord) error {
	return store.Append(ctx, a.Backend, store.SurfaceRevisionLog, revision)
}

// UpdateMemoryActivity links the original loop's memory to the revision.
func (a *Activities) UpdateMemoryActivity(ctx context.Context, req Request) error {
	saga := &Saga{backend: a.Backend}
	return saga.updateMemory(ctx, req)
}

// CreatePlanActivity requests the new plan.
func (a *Activities) CreatePlanActivity(ctx context.Context, req types.PlanRequest) (*types.Plan, error) {
	return a.Planner.CreatePlan(ctx, req)
}

// UpdateRevisionActivity writes the revision's terminal status to the log.
func (a *Activities) UpdateRevisionActivity(ctx context.Context, revision types.RevisionRecord) error {
	saga := &Saga{backend: a.Backend}
	return saga.updateRevision(ctx, revision)
}

// Workflow is the durable-execution form of the saga. Semantics match
// Saga.Run: four ordered steps, terminal failed status on any error,
// no rollback of completed steps.
func Workflow(ctx workflow.Context, req Request) (Result, error) {
	logger := workflow.GetLogger(ctx)
	if req.NewLoopID == "" {
		// Id generation is non-deterministic and must not re-run on
		// replay; SideEffect records it in workflow history.
		var newLoopID string
		enc := workflow.SideEffect(ctx, func(workflow.Context) interface{} {
			return types.NewLoopID()
		})
		if err := enc.Get(&newLoopID); err != nil {
			return Result{Status: StatusFailed, Error: err.Error()}, err
		}
		req.NewLoopID = newLoopID
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	now := workflow.Now(ctx)
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

	logger.Info("Replanning loop", "originalLoopID", req.OriginalLoopID, "newLoopID", req.NewLoopID)

	// Once the revision is logged, any later failure marks it failed so
	// the record is not mistaken for an in-flight saga. Best effort.
	markFailed := func(cause error) {
		failed := revision
		failed.Status = types.RevisionFailed
		failed.Error = cause.Error()
		failed.UpdatedAt = workflow.Now(ctx)
		if err := workflow.ExecuteActivity(ctx, "UpdateRevisionActivity", failed).Get(ctx, nil); err != nil {
			logger.Warn("Failed to mark revision failed", "loopID", failed.LoopID, "error", err)
		} else {
			result.Revision = failed
		}
	}

	if err := workflow.ExecuteActivity(ctx, "LogRevisionActivity", revision).Get(ctx, nil); err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		return result, err
	}
	if err := workflow.ExecuteActivity(ctx, "UpdateMemoryActivity", req).Get(ctx, nil); err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		markFailed(err)
		return result, err
	}

	var plan types.Plan
	planReq := types.PlanRequest{
		LoopID:            req.NewLoopID,
		AgentID:           req.AgentID,
		RevisedFrom:       req.OriginalLoopID,
		RevisedReflection: req.RevisedReflection,
		ProjectID:         req.ProjectID,
	}
	if err := workflow.ExecuteActivity(ctx, "CreatePlanActivity", planReq).Get(ctx, &plan); err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		markFailed(err)
		return result, err
	}
	result.Plan = &plan

	replanned := revision
	replanned.Status = types.RevisionReplanned
	replanned.UpdatedAt = workflow.Now(ctx)
	if err := workflow.ExecuteActivity(ctx, "UpdateRevisionActivity", replanned).Get(ctx, nil); err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		markFailed(err)
		return result, err
	}
	result.Revision = replanned
	result.Status = StatusCompleted

	logger.Info("Loop replanned", "newLoopID", req.NewLoopID)
	return result, nil
}

// NewWorker registers the replan workflow and its activities on the
// given task queue. The caller runs and stops the worker.
func NewWorker(c client.Client, taskQueue string, backend store.Store, planner Planner) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(Workflow)
	w.RegisterActivity(&Activities{Backend: backend, Planner: planner})
	return w
}
