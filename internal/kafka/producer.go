package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"vitalwatch/internal/config"
	"vitalwatch/internal/logger"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/models"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize message")
)

// messageWriter is the part of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes alert events to Kafka with a writer pool and retry
type Producer struct {
	cfg     config.ProducerConfig
	topic   string
	node    string
	writers []messageWriter
	pool    chan messageWriter
	closed  atomic.Bool

	// Metrics
	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
	bytesWritten   atomic.Uint64
}

// ProducerOption is a functional option for configuring the producer
type ProducerOption func(*Producer)

// WithNode sets the node name stamped on every envelope. Defaults to the hostname.
func WithNode(node string) ProducerOption {
	return func(p *Producer) { p.node = node }
}

// withWriters replaces the kafka writers, for tests
func withWriters(writers ...messageWriter) ProducerOption {
	return func(p *Producer) { p.writers = writers }
}

// NewProducer creates a producer for the alert topic
func NewProducer(brokers []string, topic string, cfg config.ProducerConfig, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}

	p := &Producer{cfg: cfg, topic: topic}
	p.node, _ = os.Hostname()

	for _, opt := range opts {
		opt(p)
	}

	if p.writers == nil {
		compression := getCompression(cfg.Compression)
		for i := 0; i < cfg.PoolSize; i++ {
			p.writers = append(p.writers, &kafka.Writer{
				Addr:         kafka.TCP(brokers...),
				Topic:        topic,
				Balancer:     &kafka.Hash{}, // same patient, same partition
				BatchSize:    cfg.BatchSize,
				BatchTimeout: cfg.BatchTimeout,
				WriteTimeout: cfg.WriteTimeout,
				RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
				Compression:  compression,
				MaxAttempts:  1, // retries are ours
			})
		}
	}

	p.pool = make(chan messageWriter, len(p.writers))
	for _, w := range p.writers {
		p.pool <- w
	}
	return p, nil
}

// getCompression returns the kafka compression codec
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// Name identifies the producer as a dispatch sink
func (p *Producer) Name() string { return "kafka" }

// Notify publishes a single alert event
func (p *Producer) Notify(ctx context.Context, event models.AlertEvent) error {
	return p.Publish(ctx, models.NewEnvelope(&event, p.node))
}

// Publish writes one envelope, keyed by patient so a patient's transitions
// stay ordered within a partition
func (p *Producer) Publish(ctx context.Context, envelope *models.Envelope) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	log := logger.WithPatient("kafka_producer", envelope.Event.PatientID)

	msg, err := toMessage(envelope)
	if err != nil {
		p.messagesFailed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
		return err
	}

	var writer messageWriter
	select {
	case writer = <-p.pool:
		defer func() { p.pool <- writer }()
	case <-ctx.Done():
		p.messagesFailed.Add(1)
		return ctx.Err()
	}

	start := time.Now()
	err = p.publishWithRetry(ctx, writer, msg)
	metrics.KafkaPublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", envelope.Event.ID).
			Msg("failed to publish alert event")
		p.messagesFailed.Add(1)
		metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
		return err
	}

	p.messagesSent.Add(1)
	p.bytesWritten.Add(uint64(len(msg.Value)))
	metrics.KafkaPublishTotal.WithLabelValues("success").Inc()
	metrics.KafkaBytesWritten.Add(float64(len(msg.Value)))
	log.Debug().Str("event_id", envelope.Event.ID).Msg("alert event published")
	return nil
}

func toMessage(envelope *models.Envelope) (kafka.Message, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}
	return kafka.Message{
		Key:   []byte(envelope.PartitionKey),
		Value: data,
		Headers: []kafka.Header{
			{Key: "patient_id", Value: []byte(envelope.Event.PatientID)},
			{Key: "event_id", Value: []byte(envelope.Event.ID)},
			{Key: "source", Value: []byte(envelope.Event.Source)},
			{Key: "node", Value: []byte(envelope.Node)},
		},
		Time: envelope.EmittedAt,
	}, nil
}

// publishWithRetry writes msg with exponential backoff
func (p *Producer) publishWithRetry(ctx context.Context, writer messageWriter, msg kafka.Message) error {
	log := logger.WithComponent("kafka_producer")
	var lastErr error
	backoff := p.cfg.RetryBackoff

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying kafka publish")

			metrics.KafkaPublishRetries.Inc()

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}

		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// Close closes all writers in the pool
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	var errs []error
	for _, writer := range p.writers {
		if err := writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
		BytesWritten:   p.bytesWritten.Load(),
	}
}

// ProducerStats holds producer metrics
type ProducerStats struct {
	MessagesSent   uint64 `json:"messages_sent"`
	MessagesFailed uint64 `json:"messages_failed"`
	BytesWritten   uint64 `json:"bytes_written"`
}
