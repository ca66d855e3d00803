package alerts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"vitalwatch/internal/models"
	"vitalwatch/internal/rules"
	"vitalwatch/internal/state"
	"vitalwatch/internal/storage"
)

// MockDispatcher records every event it receives
type MockDispatcher struct {
	mu     sync.Mutex
	events []models.AlertEvent
	err    error
}

func (m *MockDispatcher) Notify(_ context.Context, e models.AlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *MockDispatcher) Events() []models.AlertEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AlertEvent(nil), m.events...)
}

type failingTimeline struct{ err error }

func (f failingTimeline) Records(context.Context, string, int64, int64) ([]models.Reading, error) {
	return nil, f.err
}

func (f failingTimeline) Patients(context.Context) ([]string, error) { return nil, f.err }

type failingStore struct {
	state.Store
	err error
}

func (f failingStore) Get(context.Context, string) (bool, error) { return false, f.err }

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Engine, *storage.Memory, *state.Memory, *MockDispatcher) {
	t.Helper()
	timeline := storage.NewMemory()
	store := state.NewMemory()
	disp := &MockDispatcher{}
	engine := NewEngine(Config{Timeline: timeline, Store: store, Dispatcher: disp})
	return engine, timeline, store, disp
}

func add(t *testing.T, m *storage.Memory, kind models.Kind, value float64, ago time.Duration) {
	t.Helper()
	if err := m.Append(context.Background(), models.NewReading("p1", kind, value, now.Add(-ago).UnixMilli())); err != nil {
		t.Fatal(err)
	}
}

func TestEvaluate_NoEventWhileNormal(t *testing.T) {
	engine, timeline, store, disp := setup(t)
	add(t, timeline, models.KindHeartRate, 72, time.Minute)

	for i := 0; i < 3; i++ {
		if err := engine.Evaluate(context.Background(), "p1", now); err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
	}

	if len(disp.Events()) != 0 {
		t.Errorf("expected no events, got %d", len(disp.Events()))
	}
	if len(store.Snapshot()) != 0 {
		t.Error("normal patient should not be stored as alerting")
	}
}

func TestEvaluate_TriggerOnceThenResolve(t *testing.T) {
	engine, timeline, store, disp := setup(t)
	ctx := context.Background()
	add(t, timeline, models.KindSystolic, 185, time.Minute)

	// Repeated passes over the same window emit one trigger.
	for i := 0; i < 3; i++ {
		if err := engine.Evaluate(ctx, "p1", now); err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
	}

	events := disp.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Message != models.MessageTriggered {
		t.Errorf("unexpected message %q", events[0].Message)
	}
	if events[0].Source != models.SourceMonitor || events[0].Timestamp != now.UnixMilli() {
		t.Errorf("unexpected event %+v", events[0])
	}
	if len(events[0].Rules) != 1 || events[0].Rules[0] != rules.RuleSystolicCritical {
		t.Errorf("expected systolic rule, got %v", events[0].Rules)
	}
	if !store.Snapshot()["p1"] {
		t.Error("patient should be stored as alerting")
	}

	// Eleven minutes later the reading has left the window.
	later := now.Add(11 * time.Minute)
	if err := engine.Evaluate(ctx, "p1", later); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if err := engine.Evaluate(ctx, "p1", later); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	events = disp.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Message != models.MessageResolved {
		t.Errorf("unexpected message %q", events[1].Message)
	}
	if snap := store.Snapshot(); len(snap) != 1 || snap["p1"] {
		t.Errorf("resolved patient should be stored as false, got %v", snap)
	}
}

func TestEvaluate_EmptyWindowResolves(t *testing.T) {
	engine, _, store, disp := setup(t)
	ctx := context.Background()
	store.CompareAndSwap(ctx, "p1", false, true)

	if err := engine.Evaluate(ctx, "p1", now); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	events := disp.Events()
	if len(events) != 1 || events[0].Message != models.MessageResolved {
		t.Errorf("expected a single resolution, got %+v", events)
	}
}

func TestEvaluate_WindowIsTenMinutes(t *testing.T) {
	engine, timeline, _, disp := setup(t)
	add(t, timeline, models.KindHeartRate, 130, 10*time.Minute+time.Millisecond)

	if err := engine.Evaluate(context.Background(), "p1", now); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(disp.Events()) != 0 {
		t.Error("reading older than the window should be ignored")
	}

	add(t, timeline, models.KindHeartRate, 130, 10*time.Minute)
	if err := engine.Evaluate(context.Background(), "p1", now); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(disp.Events()) != 1 {
		t.Error("reading exactly at the window start should count")
	}
}

func TestEvaluate_TimelineErrorLeavesStateAlone(t *testing.T) {
	store := state.NewMemory()
	disp := &MockDispatcher{}
	ctx := context.Background()
	store.CompareAndSwap(ctx, "p1", false, true)

	engine := NewEngine(Config{
		Timeline:   failingTimeline{err: errors.New("db down")},
		Store:      store,
		Dispatcher: disp,
	})

	err := engine.Evaluate(ctx, "p1", now)
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("expected wrapped timeline error, got %v", err)
	}
	if !store.Snapshot()["p1"] {
		t.Error("state must not change when the fetch fails")
	}
	if len(disp.Events()) != 0 {
		t.Error("no event should be dispatched when the fetch fails")
	}
}

func TestEvaluate_StateErrorReturned(t *testing.T) {
	sentinel := errors.New("redis down")
	engine := NewEngine(Config{
		Timeline: storage.NewMemory(),
		Store:    failingStore{err: sentinel},
	})

	err := engine.Evaluate(context.Background(), "p1", now)
	if !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped state error, got %v", err)
	}
}

func TestEvaluate_DispatchErrorNotReturned(t *testing.T) {
	engine, timeline, store, disp := setup(t)
	disp.err = errors.New("webhook down")
	add(t, timeline, models.KindHeartRate, 130, time.Minute)

	if err := engine.Evaluate(context.Background(), "p1", now); err != nil {
		t.Fatalf("dispatch failure should not fail evaluation: %v", err)
	}
	if !store.Snapshot()["p1"] {
		t.Error("state should still record the trigger")
	}
}

func TestEvaluate_ConcurrentPassesEmitOnce(t *testing.T) {
	engine, timeline, _, disp := setup(t)
	add(t, timeline, models.KindSaturation, 88, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := engine.Evaluate(context.Background(), "p1", now); err != nil {
				t.Errorf("Evaluate: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(disp.Events()); n != 1 {
		t.Errorf("expected exactly 1 event, got %d", n)
	}
}

func TestEvaluate_PatientsAreIndependent(t *testing.T) {
	engine, timeline, _, disp := setup(t)
	ctx := context.Background()
	add(t, timeline, models.KindHeartRate, 130, time.Minute)
	timeline.Append(ctx, models.NewReading("p2", models.KindHeartRate, 70, now.Add(-time.Minute).UnixMilli()))

	engine.Evaluate(ctx, "p1", now)
	engine.Evaluate(ctx, "p2", now)

	events := disp.Events()
	if len(events) != 1 || events[0].PatientID != "p1" {
		t.Errorf("expected a single event for p1, got %+v", events)
	}
}

func TestSetPolicy(t *testing.T) {
	engine, timeline, _, disp := setup(t)
	// 55 bpm alerts under the canonical rules but not under the heart_rate policy.
	add(t, timeline, models.KindHeartRate, 55, 30*time.Second)

	p, _ := rules.PolicyByName(rules.PolicyHeartRate)
	engine.SetPolicy(p)
	if engine.Policy().Name() != rules.PolicyHeartRate {
		t.Fatalf("policy = %s", engine.Policy().Name())
	}

	engine.Evaluate(context.Background(), "p1", now)
	if len(disp.Events()) != 0 {
		t.Error("heart_rate policy should not alert on 55 bpm")
	}
}

func TestManualAlert(t *testing.T) {
	engine, _, store, disp := setup(t)

	alert := models.AlertEvent{
		PatientID: "p1",
		Message:   "Patient pressed call button",
		Timestamp: now.UnixMilli(),
	}

	for i := 0; i < 2; i++ {
		if err := engine.ManualAlert(context.Background(), alert); err != nil {
			t.Fatalf("ManualAlert: %v", err)
		}
	}

	events := disp.Events()
	if len(events) != 2 {
		t.Fatalf("manual alerts are not deduplicated, expected 2 got %d", len(events))
	}
	got := events[0]
	if got.Source != models.SourceManual {
		t.Errorf("source = %q", got.Source)
	}
	if got.FormattedTime != "2024-03-01 12:00:00 UTC" {
		t.Errorf("formatted time = %q", got.FormattedTime)
	}
	if got.ID == "" || got.ID == events[1].ID {
		t.Error("each manual alert should get its own ID")
	}
	if len(store.Snapshot()) != 0 {
		t.Error("manual alerts must not touch alert state")
	}
}

func TestManualAlert_DispatchErrorSwallowed(t *testing.T) {
	engine, _, _, disp := setup(t)
	disp.err = errors.New("down")

	err := engine.ManualAlert(context.Background(), models.AlertEvent{PatientID: "p1", Timestamp: now.UnixMilli()})
	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if len(disp.Events()) != 1 {
		t.Error("expected one dispatch attempt")
	}
}
