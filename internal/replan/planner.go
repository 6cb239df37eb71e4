package replan

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jordanhubbard/sentinel/pkg/types"
)

// EchoPlanner produces a plan directly from the revision context. It is
// the development fallback when no external planning service is wired.
type EchoPlanner struct{}

func (EchoPlanner) CreatePlan(_ context.Context, req types.PlanRequest) (*types.Plan, error) {
	return &types.Plan{
		LoopID:    req.LoopID,
		AgentID:   req.AgentID,
		ProjectID: req.ProjectID,
		Body:      req.RevisedReflection,
		CreatedAt: time.Now(),
	}, nil
}

// NatsPlanner requests plans from an external planning service over
// NATS request/reply.
type NatsPlanner struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

// NatsPlannerConfig holds the NATS connection settings for the planner.
type NatsPlannerConfig struct {
	URL     string
	Subject string
	Timeout time.Duration
}

// NewNatsPlanner connects to NATS and returns a request/reply planner.
func NewNatsPlanner(cfg NatsPlannerConfig) (*NatsPlanner, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.Subject == "" {
		cfg.Subject = "sentinel.plan.request"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[Planner] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Planner] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NatsPlanner{conn: nc, subject: cfg.Subject, timeout: cfg.Timeout}, nil
}

func (p *NatsPlanner) CreatePlan(ctx context.Context, req types.PlanRequest) (*types.Plan, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plan request: %w", err)
	}

	timeout := p.timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}

	msg, err := p.conn.Request(p.subject, payload, timeout)
	if err != nil {
		return nil, fmt.Errorf("plan request to %s failed: %w", p.subject, err)
	}

	var plan types.Plan
	if err := json.Unmarshal(msg.Data, &plan); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return &plan, nil
}

// Close shuts down the NATS connection.
func (p *NatsPlanner) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
