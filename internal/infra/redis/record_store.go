package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"codeclash-score-service/internal/app"
	"codeclash-score-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RecordStore keeps ActivityRecords in Redis.
// Records are stored as JSON:   SET activity:{class}:{lesson}:{activity}:{student} {record}
// Scored students per scope:    SADD activity-index:{class}:{lesson}:{activity} {student}
// The index lives outside the activity: prefix so no student id can collide with it.
// Updates use optimistic locking (WATCH + MULTI/EXEC); a lost race is ErrConflict.
type RecordStore struct {
	client *redis.Client
}

func NewRecordStore(client *redis.Client) *RecordStore {
	return &RecordStore{client: client}
}

func (s *RecordStore) GetRecord(ctx context.Context, key domain.ActivityKey) (domain.ActivityRecord, bool, error) {
	raw, err := s.client.Get(ctx, recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ActivityRecord{Key: key}, false, nil
	}
	if err != nil {
		return domain.ActivityRecord{}, false, classify(err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return domain.ActivityRecord{}, false, err
	}
	rec.Key = key
	return rec, true, nil
}

func (s *RecordStore) UpdateRecord(ctx context.Context, key domain.ActivityKey, mutate app.MutateFunc) (domain.ActivityRecord, bool, error) {
	k := recordKey(key)
	var (
		result    domain.ActivityRecord
		changed   bool
		mutateErr error
	)

	txf := func(tx *redis.Tx) error {
		changed, mutateErr = false, nil
		current := domain.ActivityRecord{Key: key}
		exists := true
		raw, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			exists = false
		case err != nil:
			return err
		default:
			if current, err = decodeRecord(raw); err != nil {
				return err
			}
			current.Key = key
		}

		next := current
		ok, err := mutate(&next, exists)
		if err != nil {
			result, mutateErr = current, err
			return err
		}
		if !ok {
			result = current
			return nil
		}
		next.Key = key
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, 0)
			if next.Scored {
				pipe.SAdd(ctx, scoredKey(key.ActivityScope), key.StudentID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result, changed = next, true
		return nil
	}

	err := s.client.Watch(ctx, txf, k)
	switch {
	case err == nil:
		return result, changed, nil
	case mutateErr != nil:
		return result, false, mutateErr
	case errors.Is(err, redis.TxFailedErr):
		return domain.ActivityRecord{}, false, fmt.Errorf("update %s: %w", k, domain.ErrConflict)
	default:
		return domain.ActivityRecord{}, false, classify(err)
	}
}

func (s *RecordStore) ListScored(ctx context.Context, scope domain.ActivityScope) ([]domain.ActivityRecord, error) {
	students, err := s.client.SMembers(ctx, scoredKey(scope)).Result()
	if err != nil {
		return nil, classify(err)
	}
	if len(students) == 0 {
		return []domain.ActivityRecord{}, nil
	}

	keys := make([]string, len(students))
	for i, studentID := range students {
		keys[i] = recordKey(domain.ActivityKey{ActivityScope: scope, StudentID: studentID})
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, classify(err)
	}

	out := make([]domain.ActivityRecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		if !rec.Scored {
			continue
		}
		rec.Key = domain.ActivityKey{ActivityScope: scope, StudentID: students[i]}
		out = append(out, rec)
	}
	return out, nil
}

func recordKey(key domain.ActivityKey) string {
	return "activity:" + key.Topic() + ":" + key.StudentID
}

func scoredKey(scope domain.ActivityScope) string {
	return "activity-index:" + scope.Topic()
}

func decodeRecord(raw []byte) (domain.ActivityRecord, error) {
	var rec domain.ActivityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("decode activity record: %w", err)
	}
	return rec, nil
}

// classify marks connectivity failures as retryable. Context errors pass through.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
}
