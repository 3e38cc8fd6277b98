package redis

import (
	"context"
	"errors"
	"time"

	"codeclash-score-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// LessonStore keeps lesson locks and progress in Redis hashes.
// Locks:    HSET lesson:{class}:{lesson} status {status} updated_at {unix}
// Progress: HSET lesson:{class}:{lesson}:progress:{student} {activity} {status}
type LessonStore struct {
	client *redis.Client
}

func NewLessonStore(client *redis.Client) *LessonStore {
	return &LessonStore{client: client}
}

func (s *LessonStore) GetLessonLock(ctx context.Context, classID, lessonID string) (domain.LockStatus, bool, error) {
	status, err := s.client.HGet(ctx, lessonKey(classID, lessonID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return domain.LockStatus(status), true, nil
}

func (s *LessonStore) SetLessonLock(ctx context.Context, classID, lessonID string, status domain.LockStatus, at time.Time) error {
	err := s.client.HSet(ctx, lessonKey(classID, lessonID), "status", string(status), "updated_at", at.Unix()).Err()
	return classify(err)
}

func (s *LessonStore) GetProgress(ctx context.Context, classID, lessonID, studentID string) (map[domain.ActivityType]domain.ProgressStatus, error) {
	raw, err := s.client.HGetAll(ctx, progressKey(classID, lessonID, studentID)).Result()
	if err != nil {
		return nil, classify(err)
	}
	out := make(map[domain.ActivityType]domain.ProgressStatus, len(raw))
	for activity, status := range raw {
		out[domain.ActivityType(activity)] = domain.ProgressStatus(status)
	}
	return out, nil
}

// SetProgress writes a single hash field, so other activities are preserved.
func (s *LessonStore) SetProgress(ctx context.Context, key domain.ActivityKey, status domain.ProgressStatus, _ time.Time) error {
	err := s.client.HSet(ctx, progressKey(key.ClassID, key.LessonID, key.StudentID), string(key.Activity), string(status)).Err()
	return classify(err)
}

func lessonKey(classID, lessonID string) string {
	return "lesson:" + domain.LessonTopic(classID, lessonID)
}

func progressKey(classID, lessonID, studentID string) string {
	return lessonKey(classID, lessonID) + ":progress:" + studentID
}
