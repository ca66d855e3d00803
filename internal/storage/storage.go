package storage

import (
	"context"

	"vitalwatch/internal/models"
)

// Timeline is a queryable view of every patient's readings.
// Records returns the readings of one patient with start <= timestamp <= end,
// in the order they were appended.
type Timeline interface {
	Records(ctx context.Context, patientID string, startMillis, endMillis int64) ([]models.Reading, error)
	Patients(ctx context.Context) ([]string, error)
}

// Appender accepts new readings. Readings are never updated or removed.
type Appender interface {
	Append(ctx context.Context, r models.Reading) error
	AppendBatch(ctx context.Context, readings []models.Reading) error
}

// Store is a timeline that can also be written to
type Store interface {
	Timeline
	Appender
	Close() error
}
