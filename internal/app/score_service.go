package app

import (
	"context"

	"codeclash-score-service/internal/domain"
	"go.uber.org/zap"
)

// ScoreService keeps each student's best score per activity.
type ScoreService struct {
	records RecordRepository
	policy  AttemptPolicy
	opts    options
}

func NewScoreService(records RecordRepository, policy AttemptPolicy, opts ...Option) *ScoreService {
	return &ScoreService{
		records: records,
		policy:  policy.normalized(),
		opts:    buildOptions(opts),
	}
}

// RecordScore applies a finished activity to the student's record.
// Compiler activities are never scored. A submission that changes nothing
// performs no write and emits no change event.
func (s *ScoreService) RecordScore(ctx context.Context, sub domain.ScoreSubmission) (domain.ScoreOutcome, error) {
	ctx, span := startSpan(ctx, "ScoreService.RecordScore")
	var err error
	defer func() { endSpan(span, err) }()

	if err = domain.Validate(sub); err != nil {
		return domain.ScoreOutcome{}, err
	}

	scored := sub.Key.Activity.Scored()
	consume := s.policy.Consume == ConsumeOnSubmit
	if !scored && !consume {
		s.opts.metrics.ObserveWrite("record_score", "excluded")
		return domain.ScoreOutcome{Excluded: true}, nil
	}

	now := s.opts.now()
	var scoreChanged, consumed bool
	var rec domain.ActivityRecord
	rec, _, err = s.records.UpdateRecord(ctx, sub.Key, func(rec *domain.ActivityRecord, _ bool) (bool, error) {
		scoreChanged, consumed = false, false
		if consume {
			if rec.AttemptsUsed >= s.policy.MaxAttempts {
				return false, domain.ErrNoAttemptsRemaining
			}
			rec.AttemptsUsed++
			rec.LastAttempt = now
			rec.UpdatedBy = domain.ActorStudent
			rec.TeacherID = ""
			consumed = true
		}
		if scored && mergeScore(rec, sub.Score, sub.AttemptsUsed) {
			if sub.StudentName != "" {
				rec.StudentName = sub.StudentName
			}
			scoreChanged = true
		}
		if !scoreChanged && !consumed {
			return false, nil
		}
		rec.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return domain.ScoreOutcome{}, err
	}

	outcome := domain.ScoreOutcome{
		BestScore:    rec.BestScore,
		AttemptsUsed: rec.ScoreAttempts,
		Changed:      scoreChanged,
		Excluded:     !scored,
	}
	switch {
	case scoreChanged:
		s.opts.metrics.ObserveWrite("record_score", "written")
		s.opts.publish(ctx, domain.NewRecordEvent(domain.EventScore, sub.Key, now))
	case scored:
		s.opts.metrics.ObserveWrite("record_score", "noop")
	default:
		s.opts.metrics.ObserveWrite("record_score", "excluded")
	}
	if consumed {
		s.opts.publish(ctx, domain.NewRecordEvent(domain.EventAttempts, sub.Key, now))
	}
	s.opts.logger.Debug("score recorded",
		zap.String("classId", sub.Key.ClassID),
		zap.String("lessonId", sub.Key.LessonID),
		zap.String("activity", string(sub.Key.Activity)),
		zap.String("studentId", sub.Key.StudentID),
		zap.Int("score", sub.Score),
		zap.Bool("changed", scoreChanged))
	return outcome, nil
}

// mergeScore folds a submission into the record and reports whether a field changed.
// The best score never regresses; at an equal score fewer attempts are kept.
func mergeScore(rec *domain.ActivityRecord, score, attempts int) bool {
	if !rec.Scored {
		rec.Scored = true
		rec.BestScore = score
		rec.ScoreAttempts = attempts
		return true
	}
	switch {
	case score > rec.BestScore:
		rec.BestScore = score
		rec.ScoreAttempts = attempts
		return true
	case attempts == rec.ScoreAttempts:
		return false
	default:
		// Equal score with fewer or more attempts, or a lower score whose
		// attempt count differs: only the attempt count moves.
		rec.ScoreAttempts = attempts
		return true
	}
}
