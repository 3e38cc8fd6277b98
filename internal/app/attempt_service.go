package app

import (
	"context"
	"errors"
	"fmt"

	"codeclash-score-service/internal/domain"
	"go.uber.org/zap"
)

// ConsumeMode decides when an attempt is charged against the quota.
type ConsumeMode string

const (
	// ConsumeOnStart charges the attempt when the activity launches, so an
	// abandoned activity still burns an attempt.
	ConsumeOnStart ConsumeMode = "on_start"
	// ConsumeOnSubmit charges the attempt when the score is reported.
	ConsumeOnSubmit ConsumeMode = "on_submit"
)

// AttemptPolicy is shared by the attempt and score services.
type AttemptPolicy struct {
	MaxAttempts int
	Consume     ConsumeMode
}

func DefaultAttemptPolicy() AttemptPolicy {
	return AttemptPolicy{MaxAttempts: 3, Consume: ConsumeOnStart}
}

func (p AttemptPolicy) normalized() AttemptPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Consume != ConsumeOnSubmit {
		p.Consume = ConsumeOnStart
	}
	return p
}

func (p AttemptPolicy) status(used int) domain.AttemptStatus {
	return domain.AttemptStatus{
		CanAttempt:   used < p.MaxAttempts,
		AttemptsUsed: used,
		MaxAttempts:  p.MaxAttempts,
	}
}

// AccessChecker reports the authoritative lock flag of a lesson.
type AccessChecker interface {
	AccessStatus(ctx context.Context, classID, lessonID string) (domain.LockStatus, error)
}

// AttemptService decides whether a student may start an activity and keeps attempt counts.
type AttemptService struct {
	records RecordRepository
	gate    AccessChecker
	policy  AttemptPolicy
	opts    options
}

func NewAttemptService(records RecordRepository, gate AccessChecker, policy AttemptPolicy, opts ...Option) *AttemptService {
	return &AttemptService{
		records: records,
		gate:    gate,
		policy:  policy.normalized(),
		opts:    buildOptions(opts),
	}
}

// Policy returns the effective attempt policy.
func (s *AttemptService) Policy() AttemptPolicy {
	return s.policy
}

// CheckAttempts reads the quota for a student. A missing record means zero attempts.
func (s *AttemptService) CheckAttempts(ctx context.Context, key domain.ActivityKey) (domain.AttemptStatus, error) {
	ctx, span := startSpan(ctx, "AttemptService.CheckAttempts")
	var err error
	defer func() { endSpan(span, err) }()

	if err = key.Validate(); err != nil {
		return domain.AttemptStatus{}, err
	}
	var rec domain.ActivityRecord
	rec, _, err = s.records.GetRecord(ctx, key)
	if err != nil {
		return domain.AttemptStatus{}, err
	}
	return s.policy.status(rec.AttemptsUsed), nil
}

// RecordAttempt is called once per activity launch. It refuses locked lessons
// and exhausted quotas; under ConsumeOnStart it also consumes the attempt.
func (s *AttemptService) RecordAttempt(ctx context.Context, key domain.ActivityKey) (domain.AttemptStatus, error) {
	ctx, span := startSpan(ctx, "AttemptService.RecordAttempt")
	var err error
	defer func() { endSpan(span, err) }()

	if err = key.Validate(); err != nil {
		return domain.AttemptStatus{}, err
	}

	var access domain.LockStatus
	access, err = s.gate.AccessStatus(ctx, key.ClassID, key.LessonID)
	if err != nil {
		return domain.AttemptStatus{}, err
	}
	if access == domain.LessonLocked {
		s.opts.metrics.ObserveAttempt("locked")
		err = domain.ErrLessonLocked
		return domain.AttemptStatus{}, err
	}

	if s.policy.Consume == ConsumeOnSubmit {
		var status domain.AttemptStatus
		status, err = s.CheckAttempts(ctx, key)
		if err != nil {
			return domain.AttemptStatus{}, err
		}
		if !status.CanAttempt {
			s.opts.metrics.ObserveAttempt("no_attempts")
			err = domain.ErrNoAttemptsRemaining
			return status, err
		}
		s.opts.metrics.ObserveAttempt("granted")
		return status, nil
	}

	now := s.opts.now()
	used := 0
	var rec domain.ActivityRecord
	rec, _, err = s.records.UpdateRecord(ctx, key, func(rec *domain.ActivityRecord, _ bool) (bool, error) {
		used = rec.AttemptsUsed
		if rec.AttemptsUsed >= s.policy.MaxAttempts {
			return false, domain.ErrNoAttemptsRemaining
		}
		rec.AttemptsUsed++
		rec.LastAttempt = now
		rec.UpdatedBy = domain.ActorStudent
		rec.TeacherID = ""
		rec.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNoAttemptsRemaining) {
			s.opts.metrics.ObserveAttempt("no_attempts")
			return s.policy.status(used), err
		}
		return domain.AttemptStatus{}, err
	}

	s.opts.metrics.ObserveAttempt("granted")
	s.opts.metrics.ObserveWrite("record_attempt", "written")
	s.opts.publish(ctx, domain.NewRecordEvent(domain.EventAttempts, key, now))
	return s.policy.status(rec.AttemptsUsed), nil
}

// TeacherIncreaseAttempts adds one attempt. There is no ceiling.
func (s *AttemptService) TeacherIncreaseAttempts(ctx context.Context, key domain.ActivityKey, teacherID string) (int, error) {
	return s.adjust(ctx, key, teacherID, "increase", func(n int) int { return n + 1 })
}

// TeacherDecreaseAttempts removes one attempt, never going below zero.
func (s *AttemptService) TeacherDecreaseAttempts(ctx context.Context, key domain.ActivityKey, teacherID string) (int, error) {
	return s.adjust(ctx, key, teacherID, "decrease", func(n int) int {
		if n <= 0 {
			return 0
		}
		return n - 1
	})
}

// TeacherResetAttempts sets the counter to zero regardless of its previous value.
// The best score is kept.
func (s *AttemptService) TeacherResetAttempts(ctx context.Context, key domain.ActivityKey, teacherID string) (int, error) {
	return s.adjust(ctx, key, teacherID, "reset", func(int) int { return 0 })
}

func (s *AttemptService) adjust(ctx context.Context, key domain.ActivityKey, teacherID, action string, next func(int) int) (int, error) {
	ctx, span := startSpan(ctx, "AttemptService.TeacherAdjust/"+action)
	var err error
	defer func() { endSpan(span, err) }()

	if err = key.Validate(); err != nil {
		return 0, err
	}
	if err = domain.ValidateID("teacherId", teacherID); err != nil {
		return 0, err
	}

	now := s.opts.now()
	var rec domain.ActivityRecord
	rec, _, err = s.records.UpdateRecord(ctx, key, func(rec *domain.ActivityRecord, _ bool) (bool, error) {
		rec.AttemptsUsed = next(rec.AttemptsUsed)
		rec.UpdatedBy = domain.ActorTeacher
		rec.TeacherID = teacherID
		rec.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		s.opts.logger.Error("teacher attempt adjustment failed",
			zap.String("action", action),
			zap.String("teacherId", teacherID),
			zap.String("studentId", key.StudentID),
			zap.Error(err))
		err = fmt.Errorf("%s attempts: %w", action, err)
		return 0, err
	}

	s.opts.metrics.ObserveWrite("teacher_"+action, "written")
	s.opts.logger.Info("teacher adjusted attempts",
		zap.String("action", action),
		zap.String("teacherId", teacherID),
		zap.String("classId", key.ClassID),
		zap.String("lessonId", key.LessonID),
		zap.String("activity", string(key.Activity)),
		zap.String("studentId", key.StudentID),
		zap.Int("attemptsUsed", rec.AttemptsUsed))
	s.opts.publish(ctx, domain.NewRecordEvent(domain.EventAttempts, key, now))
	return rec.AttemptsUsed, nil
}
