package storage

import (
	"context"
	"sort"
	"sync"

	"vitalwatch/internal/models"
)

// Memory keeps every reading in process, grouped by patient
type Memory struct {
	mu       sync.RWMutex
	readings map[string][]models.Reading
}

func NewMemory() *Memory {
	return &Memory{readings: make(map[string][]models.Reading)}
}

func (m *Memory) Append(_ context.Context, r models.Reading) error {
	m.mu.Lock()
	m.readings[r.PatientID] = append(m.readings[r.PatientID], r)
	m.mu.Unlock()
	return nil
}

func (m *Memory) AppendBatch(_ context.Context, readings []models.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range readings {
		m.readings[r.PatientID] = append(m.readings[r.PatientID], r)
	}
	return nil
}

func (m *Memory) Records(_ context.Context, patientID string, startMillis, endMillis int64) ([]models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Reading
	for _, r := range m.readings[patientID] {
		if r.Timestamp >= startMillis && r.Timestamp <= endMillis {
			out = append(out, r)
		}
	}
	return out, nil
}

// Patients lists every patient with at least one reading, sorted
func (m *Memory) Patients(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.readings))
	for id := range m.readings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Len returns the total number of stored readings
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rs := range m.readings {
		n += len(rs)
	}
	return n
}

// Clear drops every reading
func (m *Memory) Clear() {
	m.mu.Lock()
	m.readings = make(map[string][]models.Reading)
	m.mu.Unlock()
}

func (m *Memory) Close() error { return nil }
