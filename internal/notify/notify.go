// Package notify delivers best-effort operator notifications. Callers
// never fail a governing decision because a notification did not land.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Severity levels used across notifiers.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// LogNotifier writes notifications to the process log. The default
// when no external channel is configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Notify(_ context.Context, message, severity string) error {
	log.Printf("[Notify] %s: %s", severity, message)
	return nil
}

// Message is the wire format published to NATS.
type Message struct {
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// NatsNotifier publishes notifications to sentinel.notify.<severity>.
type NatsNotifier struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NatsConfig holds the NATS connection settings for the notifier.
type NatsConfig struct {
	URL           string
	SubjectPrefix string
	Timeout       time.Duration
}

// NewNatsNotifier connects to NATS and returns a publishing notifier.
func NewNatsNotifier(cfg NatsConfig) (*NatsNotifier, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "sentinel.notify"
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
				log.Printf("[Notify] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Notify] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NatsNotifier{conn: nc, subjectPrefix: cfg.SubjectPrefix}, nil
}

func (n *NatsNotifier) Notify(_ context.Context, message, severity string) error {
	if severity == "" {
		severity = SeverityInfo
	}
	payload, err := json.Marshal(Message{
		Message:   message,
		Severity:  severity,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", n.subjectPrefix, severity)
	if err := n.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish notification to %s: %w", subject, err)
	}
	return nil
}

// Close shuts down the NATS connection.
func (n *NatsNotifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
