package state

import (
	"context"
	"sync"
)

// Store holds the last reported alert flag per patient. A patient with no
// entry has never triggered and reads as false; a resolved patient keeps
// an explicit false.
//
// CompareAndSwap sets the flag to new only if it currently equals old and
// reports whether the swap happened. Implementations must make it atomic
// with respect to concurrent callers for the same patient.
type Store interface {
	Get(ctx context.Context, patientID string) (bool, error)
	CompareAndSwap(ctx context.Context, patientID string, old, new bool) (bool, error)
	Close() error
}

// Memory is an in-process Store
type Memory struct {
	mu     sync.Mutex
	alerts map[string]bool
}

func NewMemory() *Memory {
	return &Memory{alerts: make(map[string]bool)}
}

func (m *Memory) Get(_ context.Context, patientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts[patientID], nil
}

func (m *Memory) CompareAndSwap(_ context.Context, patientID string, old, new bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.alerts[patientID] != old {
		return false, nil
	}
	m.alerts[patientID] = new
	return true, nil
}

// Snapshot returns every stored flag. Resolved patients stay as false.
func (m *Memory) Snapshot() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]bool, len(m.alerts))
	for id, v := range m.alerts {
		out[id] = v
	}
	return out
}

func (m *Memory) Close() error { return nil }
