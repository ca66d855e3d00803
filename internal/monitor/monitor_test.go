package monitor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/models"
	"vitalwatch/internal/state"
	"vitalwatch/internal/storage"
)

type staticPatients struct {
	ids []string
	err error
}

func (s staticPatients) Patients(context.Context) ([]string, error) { return s.ids, s.err }

// MockEvaluator records every evaluated patient and tracks peak concurrency
type MockEvaluator struct {
	mu      sync.Mutex
	seen    []string
	fail    map[string]bool
	active  atomic.Int32
	peak    atomic.Int32
	holdFor time.Duration
}

func (m *MockEvaluator) Evaluate(_ context.Context, id string, _ time.Time) error {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(m.holdFor)

	m.mu.Lock()
	m.seen = append(m.seen, id)
	m.mu.Unlock()

	if m.fail[id] {
		return errors.New("timeline unavailable")
	}
	return nil
}

func TestTick_EvaluatesEveryPatient(t *testing.T) {
	eval := &MockEvaluator{holdFor: 5 * time.Millisecond}
	m := New(Config{
		Patients:    staticPatients{ids: []string{"a", "b", "c", "d", "e", "f"}},
		Evaluator:   eval,
		Concurrency: 2,
	})

	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	sort.Strings(eval.seen)
	if len(eval.seen) != 6 || eval.seen[0] != "a" || eval.seen[5] != "f" {
		t.Errorf("unexpected evaluations %v", eval.seen)
	}
	if eval.peak.Load() > 2 {
		t.Errorf("concurrency limit exceeded: %d", eval.peak.Load())
	}
	if m.Stats().Passes != 1 {
		t.Errorf("passes = %d", m.Stats().Passes)
	}
}

func TestTick_ErrorDoesNotStopOthers(t *testing.T) {
	eval := &MockEvaluator{fail: map[string]bool{"b": true}}
	m := New(Config{
		Patients:  staticPatients{ids: []string{"a", "b", "c"}},
		Evaluator: eval,
	})

	if err := m.Tick(context.Background()); err == nil {
		t.Fatal("expected the evaluation error to be returned")
	}
	if len(eval.seen) != 3 {
		t.Errorf("every patient should still be evaluated, got %v", eval.seen)
	}
	if m.Stats().Errors != 1 {
		t.Errorf("errors = %d", m.Stats().Errors)
	}
}

func TestTick_ListError(t *testing.T) {
	m := New(Config{
		Patients:  staticPatients{err: errors.New("db down")},
		Evaluator: &MockEvaluator{},
	})
	if err := m.Tick(context.Background()); err == nil {
		t.Error("expected list error")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	eval := &MockEvaluator{}
	m := New(Config{
		Patients:  staticPatients{ids: []string{"a"}},
		Evaluator: eval,
		Interval:  10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for m.Stats().Passes < 2 {
		if time.Now().After(deadline) {
			t.Fatal("monitor did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestTick_WithEngine(t *testing.T) {
	ctx := context.Background()
	timeline := storage.NewMemory()
	var events []models.AlertEvent
	var mu sync.Mutex

	engine := alerts.NewEngine(alerts.Config{
		Timeline: timeline,
		Store:    state.NewMemory(),
		Dispatcher: alerts.DispatcherFunc(func(_ context.Context, e models.AlertEvent) error {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
			return nil
		}),
	})

	now := time.Now()
	timeline.Append(ctx, models.NewReading("sick", models.KindHeartRate, 140, now.Add(-time.Minute).UnixMilli()))
	timeline.Append(ctx, models.NewReading("well", models.KindHeartRate, 70, now.Add(-time.Minute).UnixMilli()))

	m := New(Config{Patients: timeline, Evaluator: engine})
	m.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if err := m.Tick(ctx); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	if len(events) != 1 || events[0].PatientID != "sick" {
		t.Errorf("expected one trigger for the sick patient, got %+v", events)
	}
}
