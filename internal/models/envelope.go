package models

import (
	"time"
)

// Envelope wraps an AlertEvent with internal metadata for publishing
type Envelope struct {
	// Event being published
	Event *AlertEvent `json:"event"`

	// Internal processing metadata
	EmittedAt    time.Time `json:"emitted_at"`
	Node         string    `json:"node"`
	PartitionKey string    `json:"partition_key"`
}

// NewEnvelope creates a new envelope wrapping an alert event
func NewEnvelope(event *AlertEvent, node string) *Envelope {
	return &Envelope{
		Event:        event,
		EmittedAt:    time.Now().UTC(),
		Node:         node,
		PartitionKey: event.PatientID, // partition by patient for ordering
	}
}
