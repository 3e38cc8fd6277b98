package memory

import (
	"context"
	"sync"
	"time"

	"codeclash-score-service/internal/domain"
)

type lessonRef struct {
	classID  string
	lessonID string
}

type progressRef struct {
	lessonRef
	studentID string
}

// LessonStore keeps lesson locks and per-student progress in memory.
type LessonStore struct {
	mu       sync.RWMutex
	locks    map[lessonRef]domain.LockStatus
	progress map[progressRef]map[domain.ActivityType]domain.ProgressStatus
}

func NewLessonStore() *LessonStore {
	return &LessonStore{
		locks:    make(map[lessonRef]domain.LockStatus),
		progress: make(map[progressRef]map[domain.ActivityType]domain.ProgressStatus),
	}
}

func (s *LessonStore) GetLessonLock(_ context.Context, classID, lessonID string) (domain.LockStatus, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.locks[lessonRef{classID, lessonID}]
	return status, ok, nil
}

func (s *LessonStore) SetLessonLock(_ context.Context, classID, lessonID string, status domain.LockStatus, _ time.Time) error {
	s.mu.Lock()
	s.locks[lessonRef{classID, lessonID}] = status
	s.mu.Unlock()
	return nil
}

// GetProgress returns a copy; callers may modify it freely.
func (s *LessonStore) GetProgress(_ context.Context, classID, lessonID, studentID string) (map[domain.ActivityType]domain.ProgressStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.progress[progressRef{lessonRef{classID, lessonID}, studentID}]
	out := make(map[domain.ActivityType]domain.ProgressStatus, len(stored))
	for activity, status := range stored {
		out[activity] = status
	}
	return out, nil
}

func (s *LessonStore) SetProgress(_ context.Context, key domain.ActivityKey, status domain.ProgressStatus, _ time.Time) error {
	ref := progressRef{lessonRef{key.ClassID, key.LessonID}, key.StudentID}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.progress[ref]
	if !ok {
		entries = make(map[domain.ActivityType]domain.ProgressStatus)
		s.progress[ref] = entries
	}
	entries[key.Activity] = status
	return nil
}
