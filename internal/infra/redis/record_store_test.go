package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"codeclash-score-service/internal/app"
	"codeclash-score-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRecordStoreWritesJSONAndIndex(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewRecordStore(client)
	key := domain.NewActivityKey("c1", "l1", domain.ActivityQuiz, "s1")

	rec, changed, err := store.UpdateRecord(context.Background(), key, func(rec *domain.ActivityRecord, exists bool) (bool, error) {
		if exists {
			t.Fatalf("expected new record")
		}
		rec.Scored = true
		rec.BestScore = 80
		rec.ScoreAttempts = 2
		return true, nil
	})
	if err != nil || !changed {
		t.Fatalf("update: changed=%v err=%v", changed, err)
	}
	if rec.BestScore != 80 {
		t.Fatalf("expected best 80, got %d", rec.BestScore)
	}
	if !mr.Exists("activity:c1:l1:quiz:s1") {
		t.Fatalf("expected record key to be set")
	}
	if ok, _ := mr.SIsMember("activity-index:c1:l1:quiz", "s1"); !ok {
		t.Fatalf("expected student in scored index")
	}

	got, found, err := store.GetRecord(context.Background(), key)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got.BestScore != 80 || got.ScoreAttempts != 2 || got.Key != key {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestRecordStoreMissingRecordIsZero(t *testing.T) {
	_, client := newTestClient(t)
	store := NewRecordStore(client)
	key := domain.NewActivityKey("c1", "l1", domain.ActivityQuiz, "ghost")

	rec, found, err := store.GetRecord(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found || rec.AttemptsUsed != 0 || rec.Scored {
		t.Fatalf("expected zero record, got %+v found=%v", rec, found)
	}
}

func TestRecordStoreMutateErrorLeavesRecord(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewRecordStore(client)
	key := domain.NewActivityKey("c1", "l1", domain.ActivityQuiz, "s1")

	_, _, err := store.UpdateRecord(context.Background(), key, func(rec *domain.ActivityRecord, _ bool) (bool, error) {
		rec.AttemptsUsed = 1
		return true, domain.ErrNoAttemptsRemaining
	})
	if !errors.Is(err, domain.ErrNoAttemptsRemaining) {
		t.Fatalf("expected mutate error, got %v", err)
	}
	if mr.Exists("activity:c1:l1:quiz:s1") {
		t.Fatalf("expected nothing written")
	}

	_, changed, err := store.UpdateRecord(context.Background(), key, func(*domain.ActivityRecord, bool) (bool, error) {
		return false, nil
	})
	if err != nil || changed {
		t.Fatalf("expected no-op, changed=%v err=%v", changed, err)
	}
	if mr.Exists("activity:c1:l1:quiz:s1") {
		t.Fatalf("expected no-op to skip the write")
	}
}

func TestRecordStoreListScored(t *testing.T) {
	_, client := newTestClient(t)
	store := NewRecordStore(client)
	write := func(studentID string, scored bool, score int) {
		key := domain.NewActivityKey("c1", "l1", domain.ActivityCodeBuilder, studentID)
		_, _, err := store.UpdateRecord(context.Background(), key, func(rec *domain.ActivityRecord, _ bool) (bool, error) {
			rec.Scored = scored
			rec.BestScore = score
			rec.AttemptsUsed = 1
			return true, nil
		})
		if err != nil {
			t.Fatalf("write %s: %v", studentID, err)
		}
	}
	write("s1", true, 70)
	write("s2", true, 90)
	write("s3", false, 0)

	list, err := store.ListScored(context.Background(), domain.ActivityScope{ClassID: "c1", LessonID: "l1", Activity: domain.ActivityCodeBuilder})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 scored records, got %d", len(list))
	}
	for _, rec := range list {
		if rec.Key.StudentID == "s3" {
			t.Fatalf("unscored record listed")
		}
	}
}

func TestRecordStoreStudentIDCannotShadowIndex(t *testing.T) {
	_, client := newTestClient(t)
	store := NewRecordStore(client)
	ctx := context.Background()

	for i, studentID := range []string{"alice", "scored", "bob", "index"} {
		key := domain.NewActivityKey("c1", "l1", domain.ActivityQuiz, studentID)
		score := 50 + i
		_, _, err := store.UpdateRecord(ctx, key, func(rec *domain.ActivityRecord, _ bool) (bool, error) {
			rec.Scored = true
			rec.BestScore = score
			rec.ScoreAttempts = 1
			return true, nil
		})
		if err != nil {
			t.Fatalf("update %s: %v", studentID, err)
		}
	}

	list, err := store.ListScored(ctx, domain.ActivityScope{ClassID: "c1", LessonID: "l1", Activity: domain.ActivityQuiz})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 scored students, got %d", len(list))
	}
	rec, found, err := store.GetRecord(ctx, domain.NewActivityKey("c1", "l1", domain.ActivityQuiz, "scored"))
	if err != nil || !found || rec.BestScore != 51 {
		t.Fatalf("unexpected record for student scored: %+v found=%v err=%v", rec, found, err)
	}
}

func TestRecordStoreConflictOnConcurrentWrite(t *testing.T) {
	_, client := newTestClient(t)
	store := NewRecordStore(client)
	key := domain.NewActivityKey("c1", "l1", domain.ActivityQuiz, "s1")

	_, _, err := store.UpdateRecord(context.Background(), key, func(rec *domain.ActivityRecord, _ bool) (bool, error) {
		// Another writer sneaks in between WATCH and EXEC.
		if err := client.Set(context.Background(), "activity:c1:l1:quiz:s1", `{"attemptsUsed":5}`, 0).Err(); err != nil {
			t.Fatalf("interleaved write: %v", err)
		}
		rec.AttemptsUsed++
		return true, nil
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRecordStoreUnavailable(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewRecordStore(client)
	mr.Close()

	_, _, err := store.GetRecord(context.Background(), domain.NewActivityKey("c1", "l1", domain.ActivityQuiz, "s1"))
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

type unlockedGate struct{}

func (unlockedGate) AccessStatus(context.Context, string, string) (domain.LockStatus, error) {
	return domain.LessonUnlocked, nil
}

func TestConcurrentRecordAttemptThroughRetries(t *testing.T) {
	_, client := newTestClient(t)
	retry := app.RetryPolicy{
		Timeout:         time.Second,
		MaxRetries:      200,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
	records := app.RetryRecords(NewRecordStore(client), retry)
	svc := app.NewAttemptService(records, unlockedGate{}, app.AttemptPolicy{MaxAttempts: 100, Consume: app.ConsumeOnStart})
	key := domain.NewActivityKey("c1", "l1", domain.ActivityQuiz, "s1")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RecordAttempt(context.Background(), key); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("record attempt: %v", err)
	}

	status, err := svc.CheckAttempts(context.Background(), key)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status.AttemptsUsed != n {
		t.Fatalf("expected %d attempts, got %d", n, status.AttemptsUsed)
	}
}
