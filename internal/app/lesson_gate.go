package app

import (
	"context"
	"fmt"

	"codeclash-score-service/internal/domain"
	"go.uber.org/zap"
)

// LessonGate owns lesson lock flags and per-student lesson completion.
type LessonGate struct {
	lessons       LessonRepository
	defaultStatus domain.LockStatus
	opts          options
}

// NewLessonGate builds a gate; lessons without a stored flag report defaultStatus.
func NewLessonGate(lessons LessonRepository, defaultStatus domain.LockStatus, opts ...Option) *LessonGate {
	if !defaultStatus.Valid() {
		defaultStatus = domain.LessonLocked
	}
	return &LessonGate{
		lessons:       lessons,
		defaultStatus: defaultStatus,
		opts:          buildOptions(opts),
	}
}

// SetLessonStatus stores the lock flag. Callers must have checked the teacher role.
func (g *LessonGate) SetLessonStatus(ctx context.Context, classID, lessonID string, status domain.LockStatus) error {
	ctx, span := startSpan(ctx, "LessonGate.SetLessonStatus")
	var err error
	defer func() { endSpan(span, err) }()

	if err = validateLesson(classID, lessonID); err != nil {
		return err
	}
	if !status.Valid() {
		err = &domain.ValidationError{Fields: []domain.FieldError{{Field: "status", Error: "must be one of locked unlocked"}}}
		return err
	}
	now := g.opts.now()
	if err = g.lessons.SetLessonLock(ctx, classID, lessonID, status, now); err != nil {
		return err
	}
	g.opts.logger.Info("lesson status changed",
		zap.String("classId", classID),
		zap.String("lessonId", lessonID),
		zap.String("status", string(status)))
	g.opts.publish(ctx, domain.NewLessonEvent(domain.EventLessonStatus, classID, lessonID, "", now))
	return nil
}

// AccessStatus returns the stored lock flag, or the default when none is stored.
func (g *LessonGate) AccessStatus(ctx context.Context, classID, lessonID string) (domain.LockStatus, error) {
	status, found, err := g.lessons.GetLessonLock(ctx, classID, lessonID)
	if err != nil {
		return "", err
	}
	if !found || !status.Valid() {
		return g.defaultStatus, nil
	}
	return status, nil
}

// LessonStatus reports a student's view of a lesson. Completion overrides the
// lock for display only; AccessStatus still carries the lock flag.
func (g *LessonGate) LessonStatus(ctx context.Context, classID, lessonID, studentID string) (domain.LessonStatus, error) {
	ctx, span := startSpan(ctx, "LessonGate.LessonStatus")
	var err error
	defer func() { endSpan(span, err) }()

	if err = validateLesson(classID, lessonID); err != nil {
		return domain.LessonStatus{}, err
	}
	if err = domain.ValidateID("studentId", studentID); err != nil {
		return domain.LessonStatus{}, err
	}

	var access domain.LockStatus
	access, err = g.AccessStatus(ctx, classID, lessonID)
	if err != nil {
		return domain.LessonStatus{}, err
	}
	var progress map[domain.ActivityType]domain.ProgressStatus
	progress, err = g.lessons.GetProgress(ctx, classID, lessonID, studentID)
	if err != nil {
		return domain.LessonStatus{}, err
	}

	status := ResolveLessonStatus(access, progress)
	status.ClassID = classID
	status.LessonID = lessonID
	status.StudentID = studentID
	return status, nil
}

// UpdateProgress merge-writes one activity entry, leaving the others intact.
func (g *LessonGate) UpdateProgress(ctx context.Context, key domain.ActivityKey, status domain.ProgressStatus) error {
	ctx, span := startSpan(ctx, "LessonGate.UpdateProgress")
	var err error
	defer func() { endSpan(span, err) }()

	if err = key.Validate(); err != nil {
		return err
	}
	if !status.Valid() {
		err = &domain.ValidationError{Fields: []domain.FieldError{{Field: "status", Error: "must be one of not_started in_progress completed locked"}}}
		return err
	}
	now := g.opts.now()
	if err = g.lessons.SetProgress(ctx, key, status, now); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	ev := domain.NewLessonEvent(domain.EventProgress, key.ClassID, key.LessonID, key.StudentID, now)
	g.opts.publish(ctx, ev)
	return nil
}

// ResolveLessonStatus derives the display status from the lock flag and the
// progress map. Missing activities count as not started.
func ResolveLessonStatus(access domain.LockStatus, progress map[domain.ActivityType]domain.ProgressStatus) domain.LessonStatus {
	per := make(map[domain.ActivityType]domain.ProgressStatus, len(domain.Activities))
	completed := true
	for _, activity := range domain.Activities {
		st, ok := progress[activity]
		if !ok || st == "" {
			st = domain.ProgressNotStarted
		}
		per[activity] = st
		if st != domain.ProgressCompleted {
			completed = false
		}
	}

	display := domain.DisplayLocked
	switch {
	case completed:
		display = domain.DisplayCompleted
	case access == domain.LessonUnlocked:
		display = domain.DisplayUnlocked
	}
	return domain.LessonStatus{
		Status:            display,
		DisplayStatus:     display,
		AccessStatus:      access,
		PerActivityStatus: per,
		IsCompleted:       completed,
	}
}

func validateLesson(classID, lessonID string) error {
	if err := domain.ValidateID("classId", classID); err != nil {
		return err
	}
	return domain.ValidateID("lessonId", lessonID)
}
