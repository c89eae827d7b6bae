package storage

import (
	"context"
	"sync"
)

// memoryStore keeps records in a map. It fulfils the Store contract except
// for durability: nothing survives process exit. Used by tests and by
// deployments that explicitly opt out of persistence.
type memoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]Reminder
	closed  bool
}

func newMemory() *memoryStore {
	return &memoryStore{nextID: 1, records: map[int64]Reminder{}}
}

func (s *memoryStore) Insert(ctx context.Context, recipient int64, timeOfDay string, text string) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	r := Reminder{ID: s.nextID, Recipient: recipient, TimeOfDay: timeOfDay, Text: text}
	s.nextID++
	s.records[r.ID] = r
	return r.ID, nil
}

func (s *memoryStore) Delete(ctx context.Context, id int64) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func (s *memoryStore) ListByRecipient(ctx context.Context, recipient int64) ([]Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []Reminder
	for _, r := range s.records {
		if r.Recipient == recipient {
			out = append(out, r)
		}
	}
	sortReminders(out)
	return out, nil
}

func (s *memoryStore) ListAll(ctx context.Context) ([]Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Reminder, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
