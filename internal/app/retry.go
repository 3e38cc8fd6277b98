package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codeclash-score-service/internal/domain"
	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds every store call with a timeout and retries with
// exponential backoff. Reads and idempotent writes retry transient failures
// and conflicts; UpdateRecord retries conflicts only.
type RetryPolicy struct {
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Notify is called before each retry.
	Notify func(op string, err error, wait time.Duration)
}

// DefaultRetryPolicy mirrors the advisory 10s timeout with three retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Do runs fn until it succeeds, fails permanently or the retry budget is spent.
// Exhausted conflicts surface as domain.ErrConflict, any other exhausted
// failure as domain.ErrUnavailable. fn must be safe to repeat.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return p.run(ctx, op, transient, fn)
}

// DoWrite is Do for writes that are not idempotent. Only conflicts, which
// guarantee nothing was committed, are retried. A timeout or lost connection
// may hide a committed write, so it is reported as domain.ErrUnavailable
// without running fn again.
func (p RetryPolicy) DoWrite(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return p.run(ctx, op, func(err error) bool { return errors.Is(err, domain.ErrConflict) }, fn)
}

func (p RetryPolicy) run(ctx context.Context, op string, retryable func(error) bool, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	attempt := func() error {
		callCtx, cancel := p.callContext(ctx)
		defer cancel()
		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.Notify != nil {
		notify = func(err error, wait time.Duration) { p.Notify(op, err, wait) }
	}

	err := backoff.RetryNotify(attempt, b, notify)
	if err == nil || ctx.Err() != nil || !transient(err) {
		return err
	}
	if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrUnavailable, err)
}

func (p RetryPolicy) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.Timeout)
}

func transient(err error) bool {
	return errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// RetryRecords wraps a RecordRepository so every call follows the policy.
func RetryRecords(repo RecordRepository, policy RetryPolicy) RecordRepository {
	return &retryingRecords{repo: repo, policy: policy}
}

type retryingRecords struct {
	repo   RecordRepository
	policy RetryPolicy
}

func (r *retryingRecords) GetRecord(ctx context.Context, key domain.ActivityKey) (domain.ActivityRecord, bool, error) {
	var (
		rec    domain.ActivityRecord
		exists bool
	)
	err := r.policy.Do(ctx, "get record", func(ctx context.Context) error {
		var err error
		rec, exists, err = r.repo.GetRecord(ctx, key)
		return err
	})
	return rec, exists, err
}

func (r *retryingRecords) UpdateRecord(ctx context.Context, key domain.ActivityKey, mutate MutateFunc) (domain.ActivityRecord, bool, error) {
	var (
		rec     domain.ActivityRecord
		changed bool
	)
	err := r.policy.DoWrite(ctx, "update record", func(ctx context.Context) error {
		var err error
		rec, changed, err = r.repo.UpdateRecord(ctx, key, mutate)
		return err
	})
	return rec, changed, err
}

func (r *retryingRecords) ListScored(ctx context.Context, scope domain.ActivityScope) ([]domain.ActivityRecord, error) {
	var records []domain.ActivityRecord
	err := r.policy.Do(ctx, "list records", func(ctx context.Context) error {
		var err error
		records, err = r.repo.ListScored(ctx, scope)
		return err
	})
	return records, err
}

// RetryLessons wraps a LessonRepository so every call follows the policy.
func RetryLessons(repo LessonRepository, policy RetryPolicy) LessonRepository {
	return &retryingLessons{repo: repo, policy: policy}
}

type retryingLessons struct {
	repo   LessonRepository
	policy RetryPolicy
}

func (r *retryingLessons) GetLessonLock(ctx context.Context, classID, lessonID string) (domain.LockStatus, bool, error) {
	var (
		status domain.LockStatus
		found  bool
	)
	err := r.policy.Do(ctx, "get lesson lock", func(ctx context.Context) error {
		var err error
		status, found, err = r.repo.GetLessonLock(ctx, classID, lessonID)
		return err
	})
	return status, found, err
}

func (r *retryingLessons) SetLessonLock(ctx context.Context, classID, lessonID string, status domain.LockStatus, at time.Time) error {
	return r.policy.Do(ctx, "set lesson lock", func(ctx context.Context) error {
		return r.repo.SetLessonLock(ctx, classID, lessonID, status, at)
	})
}

func (r *retryingLessons) GetProgress(ctx context.Context, classID, lessonID, studentID string) (map[domain.ActivityType]domain.ProgressStatus, error) {
	var progress map[domain.ActivityType]domain.ProgressStatus
	err := r.policy.Do(ctx, "get progress", func(ctx context.Context) error {
		var err error
		progress, err = r.repo.GetProgress(ctx, classID, lessonID, studentID)
		return err
	})
	return progress, err
}

func (r *retryingLessons) SetProgress(ctx context.Context, key domain.ActivityKey, status domain.ProgressStatus, at time.Time) error {
	return r.policy.Do(ctx, "set progress", func(ctx context.Context) error {
		return r.repo.SetProgress(ctx, key, status, at)
	})
}
