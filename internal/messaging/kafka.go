package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/internal/validation"
	"github.com/riptidehq/riptide/pkg/models"
)

// ErrProducerUnhealthy is returned when a write fails even after the writer
// has been rebuilt. Callers treat publishing as best-effort and log it.
var ErrProducerUnhealthy = errors.New("event producer unhealthy")

// Producers owns one writer per topic. Payloads are schema-validated before
// they go on the wire so a bad build never poisons downstream consumers.
type Producers struct {
	brokers   []string
	topics    []string
	validator *validation.SchemaValidator
	logger    *logrus.Logger

	// OnPublish is an optional hook invoked after a successful write.
	OnPublish func(topic string)

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewProducers(cfg *config.KafkaConfig, validator *validation.SchemaValidator, logger *logrus.Logger) *Producers {
	p := &Producers{
		brokers:   cfg.Brokers,
		validator: validator,
		logger:    logger,
		writers:   make(map[string]*kafka.Writer),
	}

	for _, topic := range []string{cfg.Topics.EngagementEvents, cfg.Topics.PostScoreEvents} {
		p.topics = append(p.topics, topic)
		p.writers[topic] = p.newWriter(topic)
	}
	return p
}

func (p *Producers) newWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}
}

// PublishEngagement sends one engagement event to the engagement topic,
// keyed by post id so one post's events stay ordered within a partition.
func (p *Producers) PublishEngagement(ctx context.Context, ev models.EngagementEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal engagement event: %w", err)
	}
	if err := p.validator.ValidateEngagementEvent(payload).Err(); err != nil {
		return fmt.Errorf("engagement event rejected: %w", err)
	}
	return p.publish(ctx, p.topics[0], ev.PostID.String(), payload)
}

// PublishPostScore sends one score delta to the post-score topic.
func (p *Producers) PublishPostScore(ctx context.Context, ev models.PostScoreEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal post score event: %w", err)
	}
	if err := p.validator.ValidatePostScoreEvent(payload).Err(); err != nil {
		return fmt.Errorf("post score event rejected: %w", err)
	}
	return p.publish(ctx, p.topics[1], ev.PostID.String(), payload)
}

// publish writes one message, rebuilding the writer and retrying once on
// failure before declaring the producer unhealthy.
func (p *Producers) publish(ctx context.Context, topic, key string, payload []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "published_at", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	p.mu.Lock()
	writer := p.writers[topic]
	p.mu.Unlock()

	err := writer.WriteMessages(ctx, msg)
	if err == nil {
		if p.OnPublish != nil {
			p.OnPublish(topic)
		}
		return nil
	}

	p.logger.WithError(err).WithField("topic", topic).Warn("Publish failed, rebuilding writer")

	p.mu.Lock()
	p.writers[topic].Close()
	p.writers[topic] = p.newWriter(topic)
	writer = p.writers[topic]
	p.mu.Unlock()

	if err := writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: topic %s: %v", ErrProducerUnhealthy, topic, err)
	}

	if p.OnPublish != nil {
		p.OnPublish(topic)
	}
	return nil
}

func (p *Producers) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close writer for %s: %w", topic, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing producers: %v", errs)
	}
	return nil
}
