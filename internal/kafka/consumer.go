// Package kafka consumes Concept2 webhook events relayed through a Kafka
// topic and applies them with the same ingestor as the HTTP endpoint.
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/rowpledge/internal/config"
	"github.com/rowpledge/internal/domain"
	"github.com/rowpledge/internal/webhook"
)

// EventHandler applies decoded webhook events
type EventHandler interface {
	Handle(ctx context.Context, event webhook.Event) (webhook.Outcome, error)
}

// Consumer consumes webhook event messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       EventHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler EventHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return newConsumer(cfg, handler, consumerGroup, logger), nil
}

func newConsumer(cfg *config.KafkaConfig, handler EventHandler, group sarama.ConsumerGroup, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: group,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}
}

// Start begins consuming messages and blocks until the first session is set up
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// process applies one message. It reports whether the message may be
// committed: malformed events and handled events are committed, store
// failures are not so the event is redelivered.
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	event, err := webhook.Decode(msg.Value)
	if err != nil {
		c.logger.Warn("dropping malformed event",
			"error", err,
			"offset", msg.Offset,
			"partition", msg.Partition,
		)
		return true
	}

	handleCtx, cancel := context.WithTimeout(ctx, c.config.HandlerTimeout)
	defer cancel()

	outcome, err := c.handler.Handle(handleCtx, event)
	switch {
	case errors.Is(err, domain.ErrValidation):
		c.logger.Warn("dropping invalid event", "type", event.Type(), "error", err, "offset", msg.Offset)
		return true
	case err != nil:
		c.logger.Error("failed to apply event", "type", event.Type(), "error", err, "offset", msg.Offset)
		return false
	}

	c.logger.Debug("applied event", "type", event.Type(), "outcome", outcome, "offset", msg.Offset)
	return true
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim applies messages in partition order. A failed message ends the
// claim without marking it, so the next session resumes from it.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.consumer.process(session.Context(), message) {
				return errors.New("event processing failed, awaiting redelivery")
			}
			session.MarkMessage(message, "")
		}
	}
}
