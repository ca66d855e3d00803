package alerts

import (
	"context"

	"vitalwatch/internal/models"
)

// Dispatcher delivers alert events to wherever they need to go
type Dispatcher interface {
	Notify(ctx context.Context, event models.AlertEvent) error
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, event models.AlertEvent) error

func (f DispatcherFunc) Notify(ctx context.Context, event models.AlertEvent) error {
	return f(ctx, event)
}

// Transform rewrites one event into the events that are actually sent
type Transform func(models.AlertEvent) []models.AlertEvent

// WithPriority tags events that carry no priority yet. A priority set by
// an operator on a manual alert is kept.
func WithPriority(level models.Priority) Transform {
	return func(e models.AlertEvent) []models.AlertEvent {
		if e.Priority == models.PriorityNone {
			e.Priority = level
		}
		return []models.AlertEvent{e}
	}
}

// Repeat sends each event n times. A resolution is always sent once.
// The copies keep the event ID: they are repeats of one alert, and a
// receiver that deduplicates by ID sees a single alert.
func Repeat(n int) Transform {
	return func(e models.AlertEvent) []models.AlertEvent {
		if n <= 1 || e.Message == models.MessageResolved {
			return []models.AlertEvent{e}
		}
		out := make([]models.AlertEvent, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, e)
		}
		return out
	}
}

// TransformDispatcher applies transforms in order, then forwards every
// resulting event to next. It stops at the first delivery error.
type TransformDispatcher struct {
	next       Dispatcher
	transforms []Transform
}

func NewTransformDispatcher(next Dispatcher, transforms ...Transform) *TransformDispatcher {
	return &TransformDispatcher{next: next, transforms: transforms}
}

func (d *TransformDispatcher) Notify(ctx context.Context, event models.AlertEvent) error {
	events := []models.AlertEvent{event}
	for _, t := range d.transforms {
		var next []models.AlertEvent
		for _, e := range events {
			next = append(next, t(e)...)
		}
		events = next
	}

	for _, e := range events {
		if err := d.next.Notify(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
