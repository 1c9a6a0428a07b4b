package snapshot

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Record)}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	rec, err := normalize(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.SessionID] = clone(rec)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (Record, error) {
	if s == nil {
		return Record{}, fmt.Errorf("store is nil")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Record{}, fmt.Errorf("session_id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[sessionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return clone(rec), nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, strings.TrimSpace(sessionID))
	return nil
}
