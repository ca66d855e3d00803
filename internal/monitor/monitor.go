package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"vitalwatch/internal/logger"
	"vitalwatch/internal/metrics"
)

// Evaluator runs one evaluation pass for a patient
type Evaluator interface {
	Evaluate(ctx context.Context, patientID string, now time.Time) error
}

// PatientLister lists every patient that has readings
type PatientLister interface {
	Patients(ctx context.Context) ([]string, error)
}

// Monitor evaluates every known patient on a fixed interval
type Monitor struct {
	patients    PatientLister
	evaluator   Evaluator
	interval    time.Duration
	concurrency int
	now         func() time.Time

	passes atomic.Uint64
	errors atomic.Uint64
}

// Config holds monitor configuration
type Config struct {
	Patients    PatientLister
	Evaluator   Evaluator
	Interval    time.Duration
	Concurrency int
}

func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Monitor{
		patients:    cfg.Patients,
		evaluator:   cfg.Evaluator,
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
		now:         time.Now,
	}
}

// Run ticks until ctx is cancelled. A failed tick is logged and the loop
// carries on.
func (m *Monitor) Run(ctx context.Context) error {
	log := logger.WithComponent("monitor")
	log.Info().
		Dur("interval", m.interval).
		Int("concurrency", m.concurrency).
		Msg("monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("monitor stopped")
			return nil
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("monitor tick failed")
			}
		}
	}
}

// Tick evaluates every patient once, at most concurrency at a time.
// Per-patient errors are logged and counted; the first one is returned
// after every patient has been tried.
func (m *Monitor) Tick(ctx context.Context) error {
	ids, err := m.patients.Patients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list patients: %w", err)
	}
	metrics.MonitorPatients.Set(float64(len(ids)))

	now := m.now()
	var first atomic.Pointer[error]

	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := m.evaluator.Evaluate(ctx, id, now); err != nil {
				m.errors.Add(1)
				log := logger.WithPatient("monitor", id)
				log.Error().Err(err).Msg("evaluation failed")
				first.CompareAndSwap(nil, &err)
			}
			return nil
		})
	}
	g.Wait()

	m.passes.Add(1)
	if p := first.Load(); p != nil {
		return *p
	}
	return nil
}

// Stats returns monitor counters
func (m *Monitor) Stats() Stats {
	return Stats{Passes: m.passes.Load(), Errors: m.errors.Load()}
}

// Stats holds monitor counters
type Stats struct {
	Passes uint64 `json:"passes"`
	Errors uint64 `json:"errors"`
}
