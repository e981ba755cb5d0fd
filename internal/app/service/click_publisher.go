package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/ClickURL/internal/app/model"
	"github.com/sifan077/ClickURL/internal/infra/prometheus"
)

// ClickPublisher publishes committed visits to NATS JetStream.
type ClickPublisher struct {
	js nats.JetStreamContext
}

// NewClickPublisher creates a new click notification publisher.
func NewClickPublisher(js nats.JetStreamContext) *ClickPublisher {
	return &ClickPublisher{js: js}
}

// Publish sends n to the click stream. The click id doubles as the message
// id so the stream drops duplicates.
func (p *ClickPublisher) Publish(ctx context.Context, n model.ClickNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode click notification: %w", err)
	}

	if _, err := p.js.Publish(model.ClickStreamSubject, data, nats.Context(ctx), nats.MsgId(n.ID)); err != nil {
		prometheus.ClickEventsPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("publish click notification: %w", err)
	}
	prometheus.ClickEventsPublishedTotal.WithLabelValues("ok").Inc()
	return nil
}
