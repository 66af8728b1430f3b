package provider

import (
	"context"
	"sync"
	"time"
)

// CallbackStore buffers push-style provider results until the waiting job
// drains them. Entries expire after the TTL so an abandoned job cannot leak
// memory; contents are safe to lose on restart.
type CallbackStore struct {
	mu      sync.Mutex
	entries map[string]callbackEntry
	ttl     time.Duration
}

type callbackEntry struct {
	payload   []byte
	expiresAt time.Time
}

func NewCallbackStore(ttl time.Duration) *CallbackStore {
	if ttl <= 0 {
		ttl = 12 * time.Minute
	}
	return &CallbackStore{
		entries: make(map[string]callbackEntry),
		ttl:     ttl,
	}
}

// Put records a delivered result for a remote task id.
func (s *CallbackStore) Put(taskID string, payload []byte) {
	s.mu.Lock()
	s.entries[taskID] = callbackEntry{
		payload:   payload,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()
}

// Take removes and returns the payload for a task id, if present and fresh.
func (s *CallbackStore) Take(taskID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[taskID]
	if !ok {
		return nil, false
	}
	delete(s.entries, taskID)
	if time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.payload, true
}

// Run sweeps expired entries until the context is cancelled.
func (s *CallbackStore) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *CallbackStore) sweep(now time.Time) {
	s.mu.Lock()
	for id, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()
}
