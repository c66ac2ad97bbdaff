// Package kafka publishes clinicAuth notifications to a Kafka topic for an
// out-of-process mail worker.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	clinicAuth "github.com/MrEthical07/clinicAuth"
)

// Config holds the writer settings.
type Config struct {
	Brokers      []string
	Topic        string
	Source       string
	BatchTimeout time.Duration
}

// DefaultConfig publishes to "clinicauth.notifications" with a short batch
// window so OTP mail is not held back.
func DefaultConfig(brokers []string) Config {
	return Config{
		Brokers:      brokers,
		Topic:        "clinicauth.notifications",
		Source:       "clinicauth",
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Envelope is the message value the mail worker consumes.
type Envelope struct {
	EventID   string                  `json:"event_id"`
	EventType string                  `json:"event_type"`
	Timestamp time.Time               `json:"timestamp"`
	Source    string                  `json:"source"`
	Data      clinicAuth.Notification `json:"data"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is a clinicAuth.Mailer backed by a kafka-go writer.
type Publisher struct {
	writer  messageWriter
	topic   string
	source  string
	brokers []string
	logger  *slog.Logger
	now     func() time.Time
}

// NewPublisher creates a synchronous, all-acks writer for cfg.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	p := newPublisher(w, cfg, logger)
	p.brokers = cfg.Brokers
	return p, nil
}

func newPublisher(w messageWriter, cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		writer: w,
		topic:  cfg.Topic,
		source: cfg.Source,
		logger: logger,
		now:    time.Now,
	}
}

// Send publishes n keyed by recipient, so one address's messages stay in
// order on a single partition.
func (p *Publisher) Send(ctx context.Context, n clinicAuth.Notification) error {
	env := Envelope{
		EventID:   uuid.NewString(),
		EventType: "clinicauth.notification." + string(n.Kind),
		Timestamp: p.now().UTC(),
		Source:    p.source,
		Data:      n,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(n.To),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "source", Value: []byte(p.source)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish notification",
			slog.String("topic", p.topic),
			slog.String("kind", string(n.Kind)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish notification to %s: %w", p.topic, err)
	}

	p.logger.DebugContext(ctx, "notification published",
		slog.String("topic", p.topic),
		slog.String("event_id", env.EventID),
	)
	return nil
}

// Ping dials the brokers and succeeds when one answers a metadata request.
func (p *Publisher) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	var lastErr error
	for _, addr := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("kafka ping: all brokers unreachable: %w", lastErr)
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
