package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/ClickURL/internal/app/model"
	"github.com/sifan077/ClickURL/internal/infra/prometheus"
	"go.uber.org/zap"
)

const (
	consumerBatch   = 20
	consumerMaxWait = 5 * time.Second
)

// ClickConsumer reads click notifications back from JetStream and turns
// them into audit logs and metrics.
type ClickConsumer struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	done   chan struct{}
}

// NewClickConsumer creates a new click notification consumer.
func NewClickConsumer(js nats.JetStreamContext, logger *zap.Logger) *ClickConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickConsumer{js: js, logger: logger, done: make(chan struct{})}
}

// Start binds the durable consumer and processes messages until ctx is done.
func (c *ClickConsumer) Start(ctx context.Context) error {
	if _, err := c.js.ConsumerInfo(model.ClickStreamName, model.ClickConsumerName); err != nil {
		if !errors.Is(err, nats.ErrConsumerNotFound) {
			return fmt.Errorf("consumer info: %w", err)
		}
		if _, err := c.js.AddConsumer(model.ClickStreamName, &nats.ConsumerConfig{
			Durable:       model.ClickConsumerName,
			AckPolicy:     nats.AckExplicitPolicy,
			FilterSubject: model.ClickStreamSubject,
			MaxDeliver:    5,
		}); err != nil {
			return fmt.Errorf("add consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.ClickStreamSubject, model.ClickConsumerName,
		nats.Bind(model.ClickStreamName, model.ClickConsumerName))
	if err != nil {
		return fmt.Errorf("pull subscribe: %w", err)
	}

	go c.consume(ctx, sub)
	return nil
}

// Done is closed once the consume loop has exited.
func (c *ClickConsumer) Done() <-chan struct{} { return c.done }

func (c *ClickConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer close(c.done)
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("click consumer stopped")
			return
		default:
		}

		msgs, err := sub.Fetch(consumerBatch, nats.MaxWait(consumerMaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				c.logger.Info("click consumer subscription closed", zap.Error(err))
				return
			}
			c.logger.Error("failed to fetch click notifications", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			c.handle(msg)
		}
	}
}

func (c *ClickConsumer) handle(msg *nats.Msg) {
	var n model.ClickNotification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		c.logger.Error("malformed click notification", zap.Error(err))
		// Redelivery cannot fix a bad payload.
		_ = msg.Term()
		return
	}

	prometheus.ClickEventsConsumedTotal.WithLabelValues(prometheus.BoolLabel(n.Unique)).Inc()
	c.logger.Debug("click recorded",
		zap.String("id", n.ID),
		zap.String("code", n.ShortCode),
		zap.String("ip", n.IP),
		zap.Bool("unique", n.Unique),
		zap.Time("clicked_at", n.ClickedAt),
	)

	if err := msg.Ack(); err != nil {
		c.logger.Warn("click notification ack failed", zap.String("id", n.ID), zap.Error(err))
	}
}
