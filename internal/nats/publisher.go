// Package nats publisher sends batch results.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/jvolcy/autograder/internal/report"
)

// Publisher handles publishing messages to NATS.
type Publisher struct {
	client *Client
	logger *slog.Logger
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(client *Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger.With(slog.String("component", "nats-publisher")),
	}
}

// CompletedSubject is the subject batch results are published on.
func CompletedSubject(base string) string {
	return base + ".completed"
}

// PublishBatch publishes a finished batch. JetStream is tried first; a
// subject no stream captures falls back to core NATS.
func (p *Publisher) PublishBatch(ctx context.Context, s *report.Summary) error {
	msg, err := envelope(TypeBatchCompleted, NewBatchCompleted(s))
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	subject := CompletedSubject(p.client.Subject())

	err = p.publishJetStream(ctx, subject, data)
	if errors.Is(err, jetstream.ErrNoStreamResponse) || errors.Is(err, nats.ErrNoResponders) {
		p.logger.Debug("no stream captures subject, using core NATS", slog.String("subject", subject))
		err = p.publish(subject, data)
	}
	if err != nil {
		return err
	}

	p.logger.Info("batch published",
		slog.String("subject", subject),
		slog.String("batch_id", s.ID),
	)
	return nil
}

func envelope(typ string, payload any) (MessageEnvelope, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return MessageEnvelope{}, fmt.Errorf("marshal payload: %w", err)
	}
	return MessageEnvelope{
		Type:      typ,
		Payload:   payloadBytes,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// publish sends a message via core NATS and flushes it.
func (p *Publisher) publish(subject string, data []byte) error {
	nc := p.client.Connection()
	if nc == nil {
		return ErrNotConnected
	}
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := nc.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// publishJetStream sends a message via JetStream for durability.
func (p *Publisher) publishJetStream(ctx context.Context, subject string, data []byte) error {
	js := p.client.JetStream()
	if js == nil {
		return ErrNotConnected
	}

	ack, err := js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	p.logger.Debug("published message to JetStream",
		slog.String("subject", subject),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
	)
	return nil
}
