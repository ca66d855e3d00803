package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"vitalwatch/internal/models"
)

// MockReader serves a fixed list of messages, then blocks until cancelled.
// drained is closed once every message has been committed.
type MockReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	fetchErr  error
	want      int
	drained   chan struct{}
}

func newMockReader(msgs ...kafka.Message) *MockReader {
	return &MockReader{messages: msgs, want: len(msgs), drained: make(chan struct{})}
}

func (m *MockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if m.fetchErr != nil {
		m.mu.Unlock()
		return kafka.Message{}, m.fetchErr
	}
	if len(m.messages) > 0 {
		msg := m.messages[0]
		m.messages = m.messages[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *MockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.committed = append(m.committed, msg.Offset)
	}
	if len(m.committed) == m.want {
		close(m.drained)
	}
	return nil
}

func (m *MockReader) Close() error { return nil }

func TestConsumer_Run(t *testing.T) {
	reader := newMockReader(
		kafka.Message{Offset: 1, Value: []byte(`{"patient_id":"p1","kind":"heartrate","value":72,"timestamp":1700000000000}`)},
		kafka.Message{Offset: 2, Value: []byte(`not json`)},
		kafka.Message{Offset: 3, Value: []byte(`{"patient_id":"","kind":"HeartRate","value":72,"timestamp":1700000000000}`)},
	)

	var mu sync.Mutex
	var got []models.Reading
	c := &Consumer{
		reader: reader,
		sink: func(_ context.Context, r models.Reading) error {
			mu.Lock()
			got = append(got, r)
			mu.Unlock()
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	<-reader.drained
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Kind != models.KindHeartRate {
		t.Errorf("expected one normalized reading, got %+v", got)
	}
}

func TestConsumer_FetchError(t *testing.T) {
	reader := newMockReader()
	reader.fetchErr = errors.New("broker gone")

	c := &Consumer{
		reader: reader,
		sink:   func(context.Context, models.Reading) error { return nil },
	}
	if err := c.Run(context.Background()); err == nil {
		t.Error("expected fetch error")
	}
}

func TestConsumer_SinkCancelledLeavesOffsetUncommitted(t *testing.T) {
	reader := newMockReader(
		kafka.Message{Offset: 7, Value: []byte(`{"patient_id":"p1","kind":"HeartRate","value":72,"timestamp":1700000000000}`)},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &Consumer{
		reader: reader,
		sink: func(ctx context.Context, _ models.Reading) error {
			cancel()
			return ctx.Err()
		},
	}

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	reader.mu.Lock()
	defer reader.mu.Unlock()
	if len(reader.committed) != 0 {
		t.Errorf("committed offsets for a reading the sink never took: %v", reader.committed)
	}
}

func TestConsumer_SinkErrorStopsWithoutCommit(t *testing.T) {
	reader := newMockReader(
		kafka.Message{Offset: 4, Value: []byte(`{"patient_id":"p1","kind":"HeartRate","value":72,"timestamp":1700000000000}`)},
	)
	c := &Consumer{
		reader: reader,
		sink:   func(context.Context, models.Reading) error { return errors.New("queue gone") },
	}

	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected hand-off error")
	}
	if len(reader.committed) != 0 {
		t.Errorf("unexpected commits %v", reader.committed)
	}
}
