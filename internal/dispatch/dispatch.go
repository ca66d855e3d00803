package dispatch

import (
	"context"
	"errors"

	"vitalwatch/internal/logger"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/models"
)

// Sink is one delivery target
type Sink interface {
	Name() string
	Notify(ctx context.Context, event models.AlertEvent) error
}

// Multi fans every event out to all sinks. A failing sink does not stop
// the others; their errors are joined.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Notify(ctx context.Context, event models.AlertEvent) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, event); err != nil {
			metrics.DispatchTotal.WithLabelValues(s.Name(), "failed").Inc()
			errs = append(errs, err)
			continue
		}
		metrics.DispatchTotal.WithLabelValues(s.Name(), "success").Inc()
	}
	return errors.Join(errs...)
}

// Log writes events to the structured log
type Log struct{}

func (Log) Name() string { return "log" }

func (Log) Notify(_ context.Context, event models.AlertEvent) error {
	log := logger.WithPatient("dispatch", event.PatientID)

	e := log.Info()
	if event.IsTrigger() || event.Source == models.SourceManual {
		e = log.Warn()
	}
	e.Str("event_id", event.ID).
		Str("message", event.Message).
		Str("source", string(event.Source)).
		Str("priority", string(event.Priority)).
		Time("at", event.Time()).
		Strs("rules", event.Rules).
		Msg("alert")
	return nil
}
