package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"codeclash-score-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

type lessonLock struct {
	bun.BaseModel `bun:"table:lesson_locks"`

	ClassID   string    `bun:"class_id,pk"`
	LessonID  string    `bun:"lesson_id,pk"`
	Status    string    `bun:"status,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type lessonProgress struct {
	bun.BaseModel `bun:"table:lesson_progress"`

	ClassID   string    `bun:"class_id,pk"`
	LessonID  string    `bun:"lesson_id,pk"`
	StudentID string    `bun:"student_id,pk"`
	Activity  string    `bun:"activity,pk"`
	Status    string    `bun:"status,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// LessonStore keeps lesson locks and per-student progress through bun.
type LessonStore struct {
	db *bun.DB
}

func NewLessonStore(db *bun.DB) *LessonStore {
	return &LessonStore{db: db}
}

func (s *LessonStore) GetLessonLock(ctx context.Context, classID, lessonID string) (domain.LockStatus, bool, error) {
	var lock lessonLock
	err := s.db.NewSelect().
		Model(&lock).
		Where("class_id = ?", classID).
		Where("lesson_id = ?", lessonID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classifyBun("get lesson lock", err)
	}
	return domain.LockStatus(lock.Status), true, nil
}

func (s *LessonStore) SetLessonLock(ctx context.Context, classID, lessonID string, status domain.LockStatus, at time.Time) error {
	lock := &lessonLock{ClassID: classID, LessonID: lessonID, Status: string(status), UpdatedAt: at}
	_, err := s.db.NewInsert().
		Model(lock).
		On("CONFLICT (class_id, lesson_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return classifyBun("set lesson lock", err)
}

func (s *LessonStore) GetProgress(ctx context.Context, classID, lessonID, studentID string) (map[domain.ActivityType]domain.ProgressStatus, error) {
	var rows []lessonProgress
	err := s.db.NewSelect().
		Model(&rows).
		Where("class_id = ?", classID).
		Where("lesson_id = ?", lessonID).
		Where("student_id = ?", studentID).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, classifyBun("get progress", err)
	}
	out := make(map[domain.ActivityType]domain.ProgressStatus, len(rows))
	for _, row := range rows {
		out[domain.ActivityType(row.Activity)] = domain.ProgressStatus(row.Status)
	}
	return out, nil
}

// SetProgress upserts one (student, activity) row; other activities are untouched.
func (s *LessonStore) SetProgress(ctx context.Context, key domain.ActivityKey, status domain.ProgressStatus, at time.Time) error {
	row := &lessonProgress{
		ClassID:   key.ClassID,
		LessonID:  key.LessonID,
		StudentID: key.StudentID,
		Activity:  string(key.Activity),
		Status:    string(status),
		UpdatedAt: at,
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (class_id, lesson_id, student_id, activity) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return classifyBun("set progress", err)
}

func classifyBun(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Field('C') {
		case "40001", "40P01":
			return fmt.Errorf("%s: %w: %v", op, domain.ErrConflict, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrUnavailable, err)
}
