package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"vitalwatch/internal/logger"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/models"
)

// ErrRejectedReading marks a message that can never become a reading.
// Its offset is committed; any other handling error leaves it uncommitted.
var ErrRejectedReading = errors.New("rejected reading")

// messageReader is the part of *kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads JSON readings from a topic and hands them to sink.
// Messages that fail to decode or validate are logged and committed so
// they do not block the partition. A reading the sink did not take is
// never committed.
type Consumer struct {
	reader messageReader
	sink   func(ctx context.Context, r models.Reading) error
}

func NewConsumer(brokers []string, topic, groupID string, sink func(context.Context, models.Reading) error) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		sink: sink,
	}
}

// Run consumes until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.WithComponent("kafka_consumer")
	log.Info().Msg("consumer started")
	defer log.Info().Msg("consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			if !errors.Is(err, ErrRejectedReading) {
				// not handed off: leave the offset uncommitted so it is redelivered
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to hand off offset %d: %w", msg.Offset, err)
			}
			log.Warn().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("dropping reading")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	var r models.Reading
	if err := json.Unmarshal(msg.Value, &r); err != nil {
		metrics.IngestReadingsTotal.WithLabelValues("kafka", "rejected").Inc()
		return fmt.Errorf("%w: invalid JSON: %v", ErrRejectedReading, err)
	}
	r = r.Normalize()
	if err := r.Validate(); err != nil {
		metrics.IngestReadingsTotal.WithLabelValues("kafka", "rejected").Inc()
		return fmt.Errorf("%w: %w", ErrRejectedReading, err)
	}
	if err := c.sink(ctx, r); err != nil {
		metrics.IngestReadingsTotal.WithLabelValues("kafka", "failed").Inc()
		return err
	}
	metrics.IngestReadingsTotal.WithLabelValues("kafka", "accepted").Inc()
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
