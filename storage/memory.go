package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"keymarket/market"
)

// Memory is an in-memory market.Store for tests and single-process
// deployments. State is cloned on every read and write so callers never
// share the holdings map with the store.
type Memory struct {
	mu     sync.RWMutex
	states map[string]*market.KeyState
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{states: make(map[string]*market.KeyState)}
}

// KeyGet loads the state for one subject, reporting false when absent.
func (m *Memory) KeyGet(_ context.Context, subject string) (*market.KeyState, bool, error) {
	if m == nil {
		return nil, false, fmt.Errorf("storage not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[strings.TrimSpace(subject)]
	if !ok {
		return nil, false, nil
	}
	return state.Clone(), true, nil
}

// KeyPut commits the state when the stored version still matches
// expectedVersion, persisting it at expectedVersion+1. A zero
// expectedVersion inserts.
func (m *Memory) KeyPut(_ context.Context, state *market.KeyState, expectedVersion uint64) error {
	if m == nil {
		return fmt.Errorf("storage not configured")
	}
	if state == nil {
		return fmt.Errorf("state required")
	}
	subject := strings.TrimSpace(state.Subject)
	if subject == "" {
		return fmt.Errorf("subject required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.states[subject]
	if !ok && expectedVersion != 0 {
		return market.ErrVersionConflict
	}
	if ok && current.Version != expectedVersion {
		return market.ErrVersionConflict
	}
	stored := state.Clone()
	stored.Subject = subject
	stored.Version = expectedVersion + 1
	m.states[subject] = stored
	return nil
}

// Totals aggregates platform activity across every subject.
func (m *Memory) Totals(_ context.Context) (market.PlatformTotals, error) {
	if m == nil {
		return market.PlatformTotals{}, fmt.Errorf("storage not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	totals := market.PlatformTotals{Subjects: len(m.states)}
	for _, state := range m.states {
		totals.TotalVolume = totals.TotalVolume.Add(state.TotalVolume)
		totals.FeesCollected = totals.FeesCollected.Add(state.FeesCollected())
		totals.Trades += state.TradeCount
	}
	return totals, nil
}
