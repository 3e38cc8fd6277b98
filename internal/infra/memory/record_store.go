package memory

import (
	"context"
	"sync"

	"codeclash-score-service/internal/app"
	"codeclash-score-service/internal/domain"
)

// RecordStore keeps ActivityRecords in memory. A single mutex serializes every
// update, which makes UpdateRecord trivially linearizable per key.
type RecordStore struct {
	mu      sync.RWMutex
	records map[domain.ActivityKey]domain.ActivityRecord
}

func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[domain.ActivityKey]domain.ActivityRecord)}
}

func (s *RecordStore) GetRecord(_ context.Context, key domain.ActivityKey) (domain.ActivityRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return domain.ActivityRecord{Key: key}, false, nil
	}
	return rec, true, nil
}

func (s *RecordStore) UpdateRecord(ctx context.Context, key domain.ActivityKey, mutate app.MutateFunc) (domain.ActivityRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.ActivityRecord{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[key]
	if !exists {
		current = domain.ActivityRecord{Key: key}
	}
	next := current
	changed, err := mutate(&next, exists)
	if err != nil {
		return current, false, err
	}
	if !changed {
		return current, false, nil
	}
	next.Key = key
	s.records[key] = next
	return next, true, nil
}

func (s *RecordStore) ListScored(_ context.Context, scope domain.ActivityScope) ([]domain.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ActivityRecord, 0)
	for key, rec := range s.records {
		if key.ActivityScope == scope && rec.Scored {
			out = append(out, rec)
		}
	}
	return out, nil
}
