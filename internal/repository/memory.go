package repository

import (
	"context"
	"sync"
	"time"

	"ridequeue/internal/models"
)

// MemorySyncStateRepository is the in-process fallback when Redis is unavailable.
// States are copied on the way in and out, so callers never share them.
type MemorySyncStateRepository struct {
	mu       sync.Mutex
	states   map[string]memoryState
	attempts map[string][]time.Time
	ttl      time.Duration
}

type memoryState struct {
	state     *models.DesktopSyncState
	expiresAt time.Time
}

func NewMemorySyncStateRepository(ttl time.Duration) *MemorySyncStateRepository {
	return &MemorySyncStateRepository{
		states:   make(map[string]memoryState),
		attempts: make(map[string][]time.Time),
		ttl:      ttl,
	}
}

func (r *MemorySyncStateRepository) GetState(_ context.Context, terminalID string) (*models.DesktopSyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[terminalID]
	if !ok {
		return nil, nil
	}
	if !st.expiresAt.IsZero() && time.Now().After(st.expiresAt) {
		delete(r.states, terminalID)
		return nil, nil
	}
	return st.state.Clone(), nil
}

func (r *MemorySyncStateRepository) SetState(_ context.Context, state *models.DesktopSyncState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := memoryState{state: state.Clone()}
	if r.ttl > 0 {
		entry.expiresAt = time.Now().Add(r.ttl)
	}
	r.states[state.TerminalID] = entry
	return nil
}

func (r *MemorySyncStateRepository) ClearState(_ context.Context, terminalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, terminalID)
	return nil
}

// CheckRateLimit keeps a log of attempts per terminal, trimmed to window.
func (r *MemorySyncStateRepository) CheckRateLimit(_ context.Context, terminalID string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)
	attempts := r.attempts[terminalID]
	keep := 0
	for keep < len(attempts) && !attempts[keep].After(cutoff) {
		keep++
	}
	attempts = append(attempts[keep:], now)
	r.attempts[terminalID] = attempts

	return len(attempts) <= limit, nil
}
