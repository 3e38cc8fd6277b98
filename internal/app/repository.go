package app

import (
	"context"
	"time"

	"codeclash-score-service/internal/domain"
)

// MutateFunc edits a record in place and reports whether anything changed.
// When exists is false, rec is a zero record carrying only its key.
// Returning false (or an error) leaves the stored record untouched.
// Stores may invoke it more than once when an optimistic write is retried.
type MutateFunc func(rec *domain.ActivityRecord, exists bool) (bool, error)

// RecordRepository abstracts where ActivityRecords live (in-memory, Redis, Postgres).
// UpdateRecord must be linearizable per key.
type RecordRepository interface {
	GetRecord(ctx context.Context, key domain.ActivityKey) (domain.ActivityRecord, bool, error)
	UpdateRecord(ctx context.Context, key domain.ActivityKey, mutate MutateFunc) (domain.ActivityRecord, bool, error)
	ListScored(ctx context.Context, scope domain.ActivityScope) ([]domain.ActivityRecord, error)
}

// LessonRepository stores lesson lock flags and per-student activity progress.
type LessonRepository interface {
	GetLessonLock(ctx context.Context, classID, lessonID string) (domain.LockStatus, bool, error)
	SetLessonLock(ctx context.Context, classID, lessonID string, status domain.LockStatus, at time.Time) error
	GetProgress(ctx context.Context, classID, lessonID, studentID string) (map[domain.ActivityType]domain.ProgressStatus, error)
	SetProgress(ctx context.Context, key domain.ActivityKey, status domain.ProgressStatus, at time.Time) error
}

// Notifier fans change events out to listeners (local hub, Redis pub/sub, push delivery).
type Notifier interface {
	Publish(ctx context.Context, event domain.ChangeEvent) error
}

// NameResolver looks up a student's current display name.
type NameResolver interface {
	ResolveName(ctx context.Context, studentID string) (string, error)
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, domain.ChangeEvent) error { return nil }
