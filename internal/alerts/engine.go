package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vitalwatch/internal/logger"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/models"
	"vitalwatch/internal/rules"
	"vitalwatch/internal/state"
	"vitalwatch/internal/storage"
)

// ErrStateContention is returned when the stored state keeps changing under
// an evaluation for longer than maxSwapAttempts
var ErrStateContention = errors.New("alert state changed concurrently too many times")

const maxSwapAttempts = 8

// Engine turns rule verdicts into triggered/resolved transitions.
// It holds no goroutines; Evaluate runs on the caller's.
type Engine struct {
	timeline   storage.Timeline
	store      state.Store
	dispatcher Dispatcher
	policy     atomic.Pointer[policyHolder]
}

type policyHolder struct {
	rules.Policy
}

// Config holds engine dependencies
type Config struct {
	Timeline   storage.Timeline
	Store      state.Store
	Policy     rules.Policy
	Dispatcher Dispatcher
}

// NewEngine creates an engine. A nil Policy selects the canonical rule set
// and a nil Dispatcher drops events.
func NewEngine(cfg Config) *Engine {
	if cfg.Policy == nil {
		cfg.Policy, _ = rules.PolicyByName(rules.PolicyCanonical)
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = DispatcherFunc(func(context.Context, models.AlertEvent) error { return nil })
	}

	e := &Engine{
		timeline:   cfg.Timeline,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
	}
	e.policy.Store(&policyHolder{cfg.Policy})
	return e
}

// Policy returns the policy in use
func (e *Engine) Policy() rules.Policy {
	return e.policy.Load().Policy
}

// SetPolicy swaps the policy for subsequent evaluations
func (e *Engine) SetPolicy(p rules.Policy) {
	e.policy.Store(&policyHolder{p})
	log := logger.WithComponent("alerts")
	log.Info().Str("policy", p.Name()).Msg("rule policy changed")
}

// Evaluate checks the patient's look-back window ending at now and, if the
// verdict differs from the stored state, records the new state and
// dispatches one event. Timeline and state errors are returned; dispatch
// errors are logged.
func (e *Engine) Evaluate(ctx context.Context, patientID string, now time.Time) error {
	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	log := logger.WithPatient("alerts", patientID)
	policy := e.Policy()

	end := now.UnixMilli()
	window, err := e.timeline.Records(ctx, patientID, end-policy.Lookback().Milliseconds(), end)
	if err != nil {
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to fetch window for %s: %w", patientID, err)
	}

	verdict := policy.CheckAlert(window)
	for _, name := range verdict.Fired {
		metrics.RuleFiresTotal.WithLabelValues(name).Inc()
	}
	metrics.EvaluationsTotal.WithLabelValues(verdictLabel(verdict.Alert)).Inc()

	log.Debug().
		Int("readings", len(window)).
		Bool("alert", verdict.Alert).
		Strs("fired", verdict.Fired).
		Msg("window evaluated")

	changed, err := e.transition(ctx, patientID, verdict.Alert)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	message := models.MessageResolved
	if verdict.Alert {
		message = models.MessageTriggered
	}
	event := models.NewAlertEvent(patientID, message, end, models.SourceMonitor)
	event.Rules = verdict.Fired

	metrics.AlertTransitionsTotal.WithLabelValues(transitionLabel(verdict.Alert)).Inc()
	log.Info().
		Str("event_id", event.ID).
		Str("message", message).
		Strs("fired", verdict.Fired).
		Msg("alert state changed")

	e.dispatch(ctx, event)
	return nil
}

// transition moves the stored state to want. It reports whether this call
// made the change; a concurrent caller that got there first wins and this
// one emits nothing.
func (e *Engine) transition(ctx context.Context, patientID string, want bool) (bool, error) {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		current, err := e.store.Get(ctx, patientID)
		if err != nil {
			return false, fmt.Errorf("failed to read alert state for %s: %w", patientID, err)
		}
		if current == want {
			return false, nil
		}

		swapped, err := e.store.CompareAndSwap(ctx, patientID, current, want)
		if err != nil {
			return false, fmt.Errorf("failed to write alert state for %s: %w", patientID, err)
		}
		if swapped {
			return true, nil
		}
		metrics.StateConflictsTotal.Inc()
	}
	return false, fmt.Errorf("%w: %s", ErrStateContention, patientID)
}

// ManualAlert dispatches an operator-raised alert as is. It skips the rules
// and never reads or writes alert state.
func (e *Engine) ManualAlert(ctx context.Context, alert models.AlertEvent) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	alert.Source = models.SourceManual
	alert.FormattedTime = alert.Time().Format(models.ManualTimeFormat)

	metrics.ManualAlertsTotal.Inc()
	log := logger.WithPatient("alerts", alert.PatientID)
	log.Warn().
		Str("event_id", alert.ID).
		Str("message", alert.Message).
		Str("time", alert.FormattedTime).
		Msg("manual alert raised")

	e.dispatch(ctx, alert)
	return nil
}

func (e *Engine) dispatch(ctx context.Context, event models.AlertEvent) {
	if err := e.dispatcher.Notify(ctx, event); err != nil {
		log := logger.WithPatient("alerts", event.PatientID)
		log.Error().
			Err(err).
			Str("event_id", event.ID).
			Msg("failed to dispatch alert")
	}
}

func verdictLabel(alert bool) string {
	if alert {
		return "alert"
	}
	return "normal"
}

func transitionLabel(alert bool) string {
	if alert {
		return "triggered"
	}
	return "resolved"
}
