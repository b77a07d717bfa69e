package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/riptidehq/riptide/internal/config"
	"github.com/riptidehq/riptide/pkg/models"
)

// Consumer runs one reader loop for a consumer group. A handler error or a
// malformed payload is logged and the loop moves on; the bus is a stream,
// not a queue to drain perfectly.
type Consumer struct {
	reader *kafka.Reader
	group  string
	logger *logrus.Logger
	handle func(ctx context.Context, payload []byte) error

	// OnConsume is an optional hook invoked per message with "ok" or "error".
	OnConsume func(group, result string)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newConsumer(brokers []string, topic, group string, logger *logrus.Logger, handle func(ctx context.Context, payload []byte) error) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        group,
			MinBytes:       10e3,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
			StartOffset:    kafka.LastOffset,
		}),
		group:  group,
		logger: logger,
		handle: handle,
	}
}

// NewEngagementConsumer feeds the engagement-stats group: decoded engagement
// events drive the post and creator counter aggregates.
func NewEngagementConsumer(cfg *config.KafkaConfig, logger *logrus.Logger, handler func(ctx context.Context, ev models.EngagementEvent) error) *Consumer {
	return newConsumer(cfg.Brokers, cfg.Topics.EngagementEvents, cfg.Groups.EngagementStats, logger,
		func(ctx context.Context, payload []byte) error {
			var ev models.EngagementEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				return err
			}
			return handler(ctx, ev)
		})
}

// NewPostScoreConsumer feeds the hourly-aggregator group with score deltas.
func NewPostScoreConsumer(cfg *config.KafkaConfig, logger *logrus.Logger, handler func(ctx context.Context, ev models.PostScoreEvent) error) *Consumer {
	return newConsumer(cfg.Brokers, cfg.Topics.PostScoreEvents, cfg.Groups.HourlyAggregator, logger,
		func(ctx context.Context, payload []byte) error {
			var ev models.PostScoreEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				return err
			}
			return handler(ctx, ev)
		})
}

func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		for {
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.WithError(err).WithField("group", c.group).Error("Failed to read message")
				continue
			}

			if err := c.handle(ctx, msg.Value); err != nil {
				c.logger.WithError(err).WithFields(logrus.Fields{
					"group":     c.group,
					"topic":     msg.Topic,
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("Message handling failed")
				c.count("error")
				continue
			}
			c.count("ok")
		}
	}()

	c.logger.WithField("group", c.group).Info("Consumer started")
}

func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	err := c.reader.Close()
	c.logger.WithField("group", c.group).Info("Consumer stopped")
	return err
}

func (c *Consumer) count(result string) {
	if c.OnConsume != nil {
		c.OnConsume(c.group, result)
	}
}
