package models

import (
	"time"

	"github.com/google/uuid"
)

// Canonical messages for automatic state transitions
const (
	MessageTriggered = "ALERT TRIGGERED based on vital signs"
	MessageResolved  = "Alert RESOLVED: readings back to normal"
)

// AlertSource tells whether an event came from automatic monitoring or an operator
type AlertSource string

const (
	SourceMonitor AlertSource = "monitor"
	SourceManual  AlertSource = "manual"
)

// Priority levels used by the priority transform
type Priority string

const (
	PriorityNone     Priority = ""
	PriorityLow      Priority = "LOW"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// ManualTimeFormat is the human-readable layout used for manual alerts
const ManualTimeFormat = "2006-01-02 15:04:05 MST"

// AlertEvent is a single notification handed to a dispatcher.
// Events are values; transforms return modified copies.
type AlertEvent struct {
	// Unique identifier for the event
	ID string `json:"id"`

	// Patient the event is about
	PatientID string `json:"patient_id"`

	// Human-readable condition
	Message string `json:"message"`

	// Unix milliseconds when the event was produced
	Timestamp int64 `json:"timestamp"`

	// Optional priority tag
	Priority Priority `json:"priority,omitempty"`

	// monitor or manual
	Source AlertSource `json:"source"`

	// Set on manual alerts only
	FormattedTime string `json:"formatted_time,omitempty"`

	// Rules that fired on the pass that produced a trigger event
	Rules []string `json:"rules,omitempty"`
}

// NewAlertEvent creates an event with a fresh ID
func NewAlertEvent(patientID, message string, timestamp int64, source AlertSource) AlertEvent {
	return AlertEvent{
		ID:        uuid.New().String(),
		PatientID: patientID,
		Message:   message,
		Timestamp: timestamp,
		Source:    source,
	}
}

// Time returns the event timestamp as a time.Time in UTC
func (e AlertEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// IsTrigger reports whether the event announces an alert becoming active
func (e AlertEvent) IsTrigger() bool {
	return e.Source == SourceMonitor && e.Message == MessageTriggered
}
