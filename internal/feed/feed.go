// Package feed supplies recent loop scorecards to the rerouter.
// Scorecards are pulled on demand, never pushed.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jordanhubbard/sentinel/pkg/types"
)

// StaticSource serves a fixed, swappable set of scorecards. Used in
// tests and development.
type StaticSource struct {
	mu    sync.Mutex
	cards []types.Scorecard
}

// NewStaticSource creates a source preloaded with cards.
func NewStaticSource(cards ...types.Scorecard) *StaticSource {
	return &StaticSource{cards: cards}
}

// Set replaces the served scorecards.
func (s *StaticSource) Set(cards ...types.Scorecard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = cards
}

func (s *StaticSource) FetchRecentScorecards(_ context.Context) ([]types.Scorecard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Scorecard, len(s.cards))
	copy(out, s.cards)
	return out, nil
}

// NatsSource fetches scorecards over NATS request/reply. The reply
// payload is a JSON array of scorecards.
type NatsSource struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

// NatsConfig holds the NATS connection settings for the feed.
type NatsConfig struct {
	URL     string
	Subject string
	Timeout time.Duration
}

// NewNatsSource connects to NATS and returns a request/reply source.
func NewNatsSource(cfg NatsConfig) (*NatsSource, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.Subject == "" {
		cfg.Subject = "sentinel.scorecards.recent"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[ScorecardFeed] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[ScorecardFeed] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NatsSource{conn: nc, subject: cfg.Subject, timeout: cfg.Timeout}, nil
}

func (s *NatsSource) FetchRecentScorecards(ctx context.Context) ([]types.Scorecard, error) {
	timeout := s.timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}

	msg, err := s.conn.Request(s.subject, nil, timeout)
	if err != nil {
		return nil, fmt.Errorf("scorecard request to %s failed: %w", s.subject, err)
	}

	var cards []types.Scorecard
	if err := json.Unmarshal(msg.Data, &cards); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scorecards: %w", err)
	}
	return cards, nil
}

// Close shuts down the NATS connection.
func (s *NatsSource) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
