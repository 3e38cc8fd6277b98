package app

import (
	"context"
	"sort"

	"codeclash-score-service/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TopScoresLimit is the size of the top-N view and of the rank lookup window.
const TopScoresLimit = 10

const nameLookupConcurrency = 8

// LeaderboardService serves ranked views over the stored scores.
type LeaderboardService struct {
	records RecordRepository
	names   NameResolver
	hub     *Hub
	opts    options
}

func NewLeaderboardService(records RecordRepository, names NameResolver, hub *Hub, opts ...Option) *LeaderboardService {
	return &LeaderboardService{
		records: records,
		names:   names,
		hub:     hub,
		opts:    buildOptions(opts),
	}
}

// TopScores returns at most TopScoresLimit ranked entries.
func (s *LeaderboardService) TopScores(ctx context.Context, scope domain.ActivityScope) (domain.Leaderboard, error) {
	ctx, span := startSpan(ctx, "LeaderboardService.TopScores")
	lb, err := s.ranked(ctx, scope, TopScoresLimit)
	endSpan(span, err)
	return lb, err
}

// AllScores returns one ranked entry per student with a score.
func (s *LeaderboardService) AllScores(ctx context.Context, scope domain.ActivityScope) (domain.Leaderboard, error) {
	ctx, span := startSpan(ctx, "LeaderboardService.AllScores")
	lb, err := s.ranked(ctx, scope, 0)
	endSpan(span, err)
	return lb, err
}

// StudentRank returns the 1-based rank of a student within the top
// TopScoresLimit entries. Students ranked below that window, or without a
// score, get -1 even though they may have a true rank.
func (s *LeaderboardService) StudentRank(ctx context.Context, scope domain.ActivityScope, studentID string) (int, error) {
	if err := domain.ValidateID("studentId", studentID); err != nil {
		return -1, err
	}
	lb, err := s.TopScores(ctx, scope)
	if err != nil {
		return -1, err
	}
	for _, entry := range lb.Entries {
		if entry.StudentID == studentID {
			return entry.Rank, nil
		}
	}
	return -1, nil
}

// Subscribe returns a channel that receives the full ranked leaderboard, first
// immediately and then after every score change in scope. A slow reader only
// ever sees the latest snapshot. The caller must invoke the returned cancel
// function to avoid leaks.
func (s *LeaderboardService) Subscribe(ctx context.Context, scope domain.ActivityScope) (<-chan domain.Leaderboard, func(), error) {
	if err := scope.Validate(); err != nil {
		return nil, nil, err
	}
	events, unsubscribe := s.hub.Subscribe(scope.Topic())
	ctx, stop := context.WithCancel(ctx)
	out := make(chan domain.Leaderboard, 1)

	emit := func() {
		lb, err := s.AllScores(ctx, scope)
		if err != nil {
			if ctx.Err() == nil {
				s.opts.logger.Warn("leaderboard refresh failed", zap.String("topic", scope.Topic()), zap.Error(err))
			}
			return
		}
		select {
		case out <- lb:
		default:
			select {
			case <-out:
			default:
			}
			out <- lb
		}
	}

	go func() {
		defer close(out)
		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Kind != domain.EventScore {
					continue
				}
				emit()
			}
		}
	}()

	cancel := func() {
		stop()
		unsubscribe()
	}
	return out, cancel, nil
}

func (s *LeaderboardService) ranked(ctx context.Context, scope domain.ActivityScope, limit int) (domain.Leaderboard, error) {
	if err := scope.Validate(); err != nil {
		return domain.Leaderboard{}, err
	}
	lb := domain.Leaderboard{
		ClassID:   scope.ClassID,
		LessonID:  scope.LessonID,
		Activity:  scope.Activity,
		Entries:   []domain.LeaderboardEntry{},
		UpdatedAt: s.opts.now(),
	}
	if !scope.Activity.Scored() {
		return lb, nil
	}

	records, err := s.records.ListScored(ctx, scope)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	sortRecords(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	entries := make([]domain.LeaderboardEntry, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(nameLookupConcurrency)
	for i, rec := range records {
		i, rec := i, rec
		entries[i] = domain.LeaderboardEntry{
			Rank:         i + 1,
			StudentID:    rec.Key.StudentID,
			Score:        rec.BestScore,
			AttemptsUsed: rec.ScoreAttempts,
		}
		g.Go(func() error {
			entries[i].StudentName = s.resolveName(gctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	lb.Entries = entries
	return lb, nil
}

// resolveName never fails: lookup errors fall back to the denormalized name,
// then to the default name.
func (s *LeaderboardService) resolveName(ctx context.Context, rec domain.ActivityRecord) string {
	if s.names != nil {
		name, err := s.names.ResolveName(ctx, rec.Key.StudentID)
		if err == nil && name != "" {
			return name
		}
		if err != nil {
			s.opts.logger.Debug("name lookup failed", zap.String("studentId", rec.Key.StudentID), zap.Error(err))
		}
	}
	if rec.StudentName != "" {
		return rec.StudentName
	}
	return s.opts.defaultName
}

// sortRecords orders by score desc, then fewer attempts, then student id.
func sortRecords(records []domain.ActivityRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.BestScore != b.BestScore {
			return a.BestScore > b.BestScore
		}
		if a.ScoreAttempts != b.ScoreAttempts {
			return a.ScoreAttempts < b.ScoreAttempts
		}
		return a.Key.StudentID < b.Key.StudentID
	})
}
