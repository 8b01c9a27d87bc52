package session

import (
	"context"
	"sync"
	"time"

	"userphone/internal/status"
)

type MemoryStore struct {
	mu        sync.RWMutex
	active    map[string]string
	started   map[string]time.Time
	anonymous map[string]struct{}
	nowFn     func() time.Time
}

func NewMemoryStore(nowFn func() time.Time) *MemoryStore {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryStore{
		active:    make(map[string]string),
		started:   make(map[string]time.Time),
		anonymous: make(map[string]struct{}),
		nowFn:     nowFn,
	}
}

func (s *MemoryStore) StartCall(_ context.Context, a, b string, anonymous bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[a]; ok {
		return status.ErrAlreadyInCall
	}
	if _, ok := s.active[b]; ok {
		return status.ErrAlreadyInCall
	}

	now := s.nowFn()
	s.active[a] = b
	s.active[b] = a
	s.started[a] = now
	s.started[b] = now
	if anonymous {
		s.anonymous[a] = struct{}{}
		s.anonymous[b] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) EndCall(_ context.Context, endpoint string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	partner, ok := s.active[endpoint]
	if !ok {
		return "", false, nil
	}
	for _, id := range []string{endpoint, partner} {
		delete(s.active, id)
		delete(s.started, id)
		delete(s.anonymous, id)
	}
	return partner, true, nil
}

func (s *MemoryStore) IsInCall(_ context.Context, endpoint string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[endpoint]
	return ok, nil
}

func (s *MemoryStore) Partner(_ context.Context, endpoint string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	partner, ok := s.active[endpoint]
	return partner, ok, nil
}

func (s *MemoryStore) CallDuration(_ context.Context, endpoint string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start, ok := s.started[endpoint]
	if !ok {
		return 0, false, nil
	}
	return minutesSince(start, s.nowFn()), true, nil
}

func (s *MemoryStore) IsAnonymous(_ context.Context, endpoint string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.anonymous[endpoint]
	return ok, nil
}

func (s *MemoryStore) ActiveCallCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active) / 2, nil
}

func (s *MemoryStore) ActiveCalls(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	calls := make(map[string]string, len(s.active))
	for k, v := range s.active {
		calls[k] = v
	}
	return calls, nil
}
