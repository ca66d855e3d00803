package models

import (
	"errors"
	"math"
	"time"
)

// Kind identifies what a reading measures
type Kind string

const (
	KindHeartRate  Kind = "HeartRate"
	KindSystolic   Kind = "Systolic"
	KindDiastolic  Kind = "Diastolic"
	KindSaturation Kind = "Saturation"
	KindECG        Kind = "ECG"

	// KindAlert carries simulated call-button presses. Rules ignore it.
	KindAlert Kind = "Alert"
)

// Reading is a single vital-sign measurement for one patient.
// Readings are passed and stored by value; nothing in this module mutates
// one after it has been accepted at ingestion.
type Reading struct {
	// Patient identifier
	PatientID string `json:"patient_id"`

	// What was measured
	Kind Kind `json:"kind"`

	// Measured value (bpm, mmHg, %, mV depending on Kind)
	Value float64 `json:"value"`

	// Unix milliseconds when the measurement was taken
	Timestamp int64 `json:"timestamp"`
}

// NewReading builds a Reading from its parts
func NewReading(patientID string, kind Kind, value float64, timestamp int64) Reading {
	return Reading{
		PatientID: patientID,
		Kind:      kind,
		Value:     value,
		Timestamp: timestamp,
	}
}

// Time returns the reading timestamp as a time.Time in UTC
func (r Reading) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// Validation errors
var (
	ErrEmptyPatientID    = errors.New("patient ID cannot be empty")
	ErrInvalidKind       = errors.New("invalid reading kind")
	ErrNegativeTimestamp = errors.New("timestamp cannot be negative")
	ErrZeroTimestamp     = errors.New("timestamp cannot be zero")
	ErrFutureTimestamp   = errors.New("timestamp cannot be in the future")
	ErrInvalidTimestamp  = errors.New("invalid timestamp format")
	ErrNegativeMeasure   = errors.New("measurement cannot be negative")
	ErrNonFiniteMeasure  = errors.New("measurement must be a finite number")
	ErrPatientIDTooLong  = errors.New("patient ID exceeds maximum length")
)

const (
	MaxPatientIDLength = 128

	// futureSkew tolerates small clock differences between devices and the server
	futureSkew = time.Minute
)

// Validate checks that the reading is well-formed. ECG samples are signed,
// every other kind must be non-negative.
func (r Reading) Validate() error {
	if r.PatientID == "" {
		return ErrEmptyPatientID
	}

	if len(r.PatientID) > MaxPatientIDLength {
		return ErrPatientIDTooLong
	}

	if !r.Kind.IsValid() {
		return ErrInvalidKind
	}

	if r.Timestamp < 0 {
		return ErrNegativeTimestamp
	}

	if r.Timestamp == 0 {
		return ErrZeroTimestamp
	}

	if r.Time().After(time.Now().Add(futureSkew)) {
		return ErrFutureTimestamp
	}

	if !isFinite(r.Value) {
		return ErrNonFiniteMeasure
	}

	if r.Kind != KindECG && r.Value < 0 {
		return ErrNegativeMeasure
	}

	return nil
}

// IsValid checks if the kind is one of the known kinds
func (k Kind) IsValid() bool {
	switch k {
	case KindHeartRate, KindSystolic, KindDiastolic, KindSaturation, KindECG, KindAlert:
		return true
	default:
		return false
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
