package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codeclash-score-service/internal/app"
	"codeclash-score-service/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const selectRecordSQL = `SELECT student_name, scored, best_score, score_attempts, attempts_used,
       last_attempt, updated_by, teacher_id, updated_at
  FROM activity_records
 WHERE class_id=$1 AND lesson_id=$2 AND activity=$3 AND student_id=$4`

// RecordStore keeps ActivityRecords in the activity_records table.
// UpdateRecord locks the row (SELECT ... FOR UPDATE) for the whole read-mutate-write.
type RecordStore struct {
	pool *pgxpool.Pool
}

func NewRecordStore(pool *pgxpool.Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

func (s *RecordStore) GetRecord(ctx context.Context, key domain.ActivityKey) (domain.ActivityRecord, bool, error) {
	rec, err := scanRecord(key, s.pool.QueryRow(ctx, selectRecordSQL, keyArgs(key)...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ActivityRecord{Key: key}, false, nil
	}
	if err != nil {
		return domain.ActivityRecord{}, false, classify("get record", err)
	}
	return rec, true, nil
}

func (s *RecordStore) UpdateRecord(ctx context.Context, key domain.ActivityKey, mutate app.MutateFunc) (domain.ActivityRecord, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.ActivityRecord{}, false, classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Materialize the row so FOR UPDATE has something to lock. It is rolled
	// back with the transaction when the mutation changes nothing.
	tag, err := tx.Exec(ctx, `INSERT INTO activity_records (class_id, lesson_id, activity, student_id)
VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING`, keyArgs(key)...)
	if err != nil {
		return domain.ActivityRecord{}, false, classify("insert record", err)
	}
	exists := tag.RowsAffected() == 0

	current, err := scanRecord(key, tx.QueryRow(ctx, selectRecordSQL+" FOR UPDATE", keyArgs(key)...))
	if err != nil {
		return domain.ActivityRecord{}, false, classify("lock record", err)
	}
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

	_, err = tx.Exec(ctx, `UPDATE activity_records
   SET student_name=$5, scored=$6, best_score=$7, score_attempts=$8, attempts_used=$9,
       last_attempt=$10, updated_by=$11, teacher_id=$12, updated_at=$13
 WHERE class_id=$1 AND lesson_id=$2 AND activity=$3 AND student_id=$4`,
		key.ClassID, key.LessonID, string(key.Activity), key.StudentID,
		next.StudentName, next.Scored, next.BestScore, next.ScoreAttempts, next.AttemptsUsed,
		nullTime(next.LastAttempt), string(next.UpdatedBy), next.TeacherID, next.UpdatedAt)
	if err != nil {
		return domain.ActivityRecord{}, false, classify("update record", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.ActivityRecord{}, false, classify("commit", err)
	}
	return next, true, nil
}

func (s *RecordStore) ListScored(ctx context.Context, scope domain.ActivityScope) ([]domain.ActivityRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT student_id, student_name, scored, best_score, score_attempts, attempts_used,
       last_attempt, updated_by, teacher_id, updated_at
  FROM activity_records
 WHERE class_id=$1 AND lesson_id=$2 AND activity=$3 AND scored`,
		scope.ClassID, scope.LessonID, string(scope.Activity))
	if err != nil {
		return nil, classify("list records", err)
	}
	defer rows.Close()

	out := make([]domain.ActivityRecord, 0)
	for rows.Next() {
		var (
			rec       domain.ActivityRecord
			studentID string
			last      *time.Time
			updatedBy string
		)
		if err := rows.Scan(&studentID, &rec.StudentName, &rec.Scored, &rec.BestScore, &rec.ScoreAttempts,
			&rec.AttemptsUsed, &last, &updatedBy, &rec.TeacherID, &rec.UpdatedAt); err != nil {
			return nil, classify("scan record", err)
		}
		rec.Key = domain.ActivityKey{ActivityScope: scope, StudentID: studentID}
		rec.UpdatedBy = domain.Actor(updatedBy)
		if last != nil {
			rec.LastAttempt = *last
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list records", err)
	}
	return out, nil
}

func keyArgs(key domain.ActivityKey) []interface{} {
	return []interface{}{key.ClassID, key.LessonID, string(key.Activity), key.StudentID}
}

func scanRecord(key domain.ActivityKey, row pgx.Row) (domain.ActivityRecord, error) {
	var (
		rec       domain.ActivityRecord
		last      *time.Time
		updatedBy string
	)
	err := row.Scan(&rec.StudentName, &rec.Scored, &rec.BestScore, &rec.ScoreAttempts, &rec.AttemptsUsed,
		&last, &updatedBy, &rec.TeacherID, &rec.UpdatedAt)
	if err != nil {
		return domain.ActivityRecord{}, err
	}
	rec.Key = key
	rec.UpdatedBy = domain.Actor(updatedBy)
	if last != nil {
		rec.LastAttempt = *last
	}
	return rec, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// classify maps serialization failures and deadlocks to ErrConflict and
// connectivity failures to ErrUnavailable. Other server errors are returned as is.
func classify(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%s: %w: %v", op, domain.ErrConflict, err)
		case "57P01", "57P03", "08000", "08003", "08006":
			return fmt.Errorf("%s: %w: %v", op, domain.ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrUnavailable, err)
}
