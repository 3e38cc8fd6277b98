package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeclash-score-service/internal/app"
	"codeclash-score-service/internal/auth"
	"codeclash-score-service/internal/domain"
	"codeclash-score-service/internal/infra/memory"
	"codeclash-score-service/internal/observability"
	"github.com/gin-gonic/gin"
)

const base = "/api/classes/c1/lessons/l1"

type testEnv struct {
	router *gin.Engine
	issuer *auth.Issuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	records := memory.NewRecordStore()
	hub := app.NewHub()
	gate := app.NewLessonGate(memory.NewLessonStore(), domain.LessonLocked, app.WithNotifier(hub))
	policy := app.DefaultAttemptPolicy()
	names := memory.NewNameCache(memory.NewStaticNameLoader(map[string]string{"s1": "Ada", "s2": "Grace"}), time.Minute)

	attempts := app.NewAttemptService(records, gate, policy, app.WithNotifier(hub))
	scores := app.NewScoreService(records, policy, app.WithNotifier(hub))
	leaderboard := app.NewLeaderboardService(records, names, hub)

	issuer := auth.NewIssuer("test-secret", time.Hour)
	router := NewRouter(
		NewHandlers(attempts, scores, leaderboard, gate, nil),
		NewWSHandler(leaderboard, nil, nil),
		RouterConfig{Issuer: issuer, Metrics: observability.NewMetrics(), RateLimit: 1000, RateWindow: time.Second},
	)
	return &testEnv{router: router, issuer: issuer}
}

func (e *testEnv) token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	token, err := e.issuer.Issue(userID, role, "")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, raw)
	}
	return v
}

func TestAttemptFlow(t *testing.T) {
	env := newTestEnv(t)
	student := env.token(t, "s1", auth.RoleStudent)
	teacher := env.token(t, "t1", auth.RoleTeacher)
	attempts := base + "/activities/quiz/students/s1/attempts"

	code, resp := env.do(t, http.MethodPost, attempts, student, nil)
	if code != http.StatusLocked {
		t.Fatalf("expected 423 on locked lesson, got %d", code)
	}
	if len(resp.Data) != 0 {
		t.Fatalf("locked response must not carry an attempt status, got %s", resp.Data)
	}
	if code, _ := env.do(t, http.MethodPut, base+"/status", teacher, map[string]string{"status": "unlocked"}); code != http.StatusOK {
		t.Fatalf("unlock: %d", code)
	}

	for i := 1; i <= 3; i++ {
		code, resp := env.do(t, http.MethodPost, attempts, student, nil)
		if code != http.StatusOK {
			t.Fatalf("attempt %d: %d %s", i, code, resp.Message)
		}
		status := decode[domain.AttemptStatus](t, resp.Data)
		if status.AttemptsUsed != i {
			t.Fatalf("attempt %d: expected used %d, got %d", i, i, status.AttemptsUsed)
		}
	}

	code, resp = env.do(t, http.MethodPost, attempts, student, nil)
	if code != http.StatusConflict {
		t.Fatalf("expected 409 at quota, got %d", code)
	}
	status := decode[domain.AttemptStatus](t, resp.Data)
	if status.CanAttempt || status.AttemptsUsed != 3 || status.MaxAttempts != 3 {
		t.Fatalf("unexpected status at quota %+v", status)
	}

	code, resp = env.do(t, http.MethodPost, attempts+"/reset", teacher, nil)
	if code != http.StatusOK {
		t.Fatalf("reset: %d %s", code, resp.Message)
	}
	adjusted := decode[adjustResponse](t, resp.Data)
	if adjusted.AttemptsUsed != 0 {
		t.Fatalf("expected reset to 0, got %d", adjusted.AttemptsUsed)
	}

	code, resp = env.do(t, http.MethodGet, attempts, student, nil)
	if code != http.StatusOK {
		t.Fatalf("check: %d", code)
	}
	if got := decode[domain.AttemptStatus](t, resp.Data); !got.CanAttempt || got.AttemptsUsed != 0 {
		t.Fatalf("unexpected status after reset %+v", got)
	}
}

func TestAuthorization(t *testing.T) {
	env := newTestEnv(t)
	student := env.token(t, "s1", auth.RoleStudent)
	teacher := env.token(t, "t1", auth.RoleTeacher)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"missing token", http.MethodGet, base + "/activities/quiz/leaderboard", "", nil, http.StatusUnauthorized},
		{"garbage token", http.MethodGet, base + "/activities/quiz/leaderboard", "nope", nil, http.StatusUnauthorized},
		{"other student attempts", http.MethodGet, base + "/activities/quiz/students/s2/attempts", student, nil, http.StatusForbidden},
		{"student sets lesson status", http.MethodPut, base + "/status", student, map[string]string{"status": "unlocked"}, http.StatusForbidden},
		{"student adjusts attempts", http.MethodPost, base + "/activities/quiz/students/s1/attempts/increase", student, nil, http.StatusForbidden},
		{"teacher records attempt for student", http.MethodPost, base + "/activities/quiz/students/s1/attempts", teacher, nil, http.StatusForbidden},
		{"teacher reads attempts", http.MethodGet, base + "/activities/quiz/students/s1/attempts", teacher, nil, http.StatusOK},
		{"unknown adjust action", http.MethodPost, base + "/activities/quiz/students/s1/attempts/double", teacher, nil, http.StatusBadRequest},
		{"bad activity", http.MethodGet, base + "/activities/essay/leaderboard", student, nil, http.StatusBadRequest},
		{"bad lesson status", http.MethodPut, base + "/status", teacher, map[string]string{"status": "open"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := env.do(t, tc.method, tc.path, tc.token, tc.body)
			if code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, code, resp.Message)
			}
		})
	}
}

func TestScoresAndLeaderboard(t *testing.T) {
	env := newTestEnv(t)
	s1 := env.token(t, "s1", auth.RoleStudent)
	s2 := env.token(t, "s2", auth.RoleStudent)

	submit := func(token, studentID string, score, attempts int) domain.ScoreOutcome {
		t.Helper()
		code, resp := env.do(t, http.MethodPut, base+"/activities/quiz/students/"+studentID+"/score", token,
			map[string]int{"score": score, "attemptsUsed": attempts})
		if code != http.StatusOK {
			t.Fatalf("score %s: %d %s", studentID, code, resp.Message)
		}
		return decode[domain.ScoreOutcome](t, resp.Data)
	}

	if out := submit(s1, "s1", 80, 2); !out.Changed || out.BestScore != 80 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out := submit(s1, "s1", 60, 3); out.BestScore != 80 {
		t.Fatalf("best score regressed: %+v", out)
	}
	submit(s2, "s2", 90, 1)

	code, resp := env.do(t, http.MethodGet, base+"/activities/quiz/leaderboard", s1, nil)
	if code != http.StatusOK {
		t.Fatalf("leaderboard: %d", code)
	}
	lb := decode[domain.Leaderboard](t, resp.Data)
	if len(lb.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(lb.Entries))
	}
	if lb.Entries[0].StudentID != "s2" || lb.Entries[0].StudentName != "Grace" || lb.Entries[1].StudentName != "Ada" {
		t.Fatalf("unexpected order %+v", lb.Entries)
	}

	code, resp = env.do(t, http.MethodGet, base+"/activities/quiz/leaderboard/students/s1/rank", s1, nil)
	if code != http.StatusOK {
		t.Fatalf("rank: %d", code)
	}
	if rank := decode[rankResponse](t, resp.Data); rank.Rank != 2 {
		t.Fatalf("expected rank 2, got %d", rank.Rank)
	}

	code, resp = env.do(t, http.MethodGet, base+"/activities/quiz/leaderboard/students/nobody/rank", s1, nil)
	if code != http.StatusOK {
		t.Fatalf("rank unknown: %d", code)
	}
	if rank := decode[rankResponse](t, resp.Data); rank.Rank != -1 {
		t.Fatalf("expected -1, got %d", rank.Rank)
	}

	code, resp = env.do(t, http.MethodPut, base+"/activities/compiler/students/s1/score", s1, map[string]int{"score": 100})
	if code != http.StatusOK {
		t.Fatalf("compiler score: %d", code)
	}
	if out := decode[domain.ScoreOutcome](t, resp.Data); !out.Excluded || out.Changed {
		t.Fatalf("expected compiler excluded, got %+v", out)
	}

	code, _ = env.do(t, http.MethodPut, base+"/activities/quiz/students/s1/score", s1, map[string]int{"score": -5})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative score, got %d", code)
	}
}

func TestLessonStatusAndProgress(t *testing.T) {
	env := newTestEnv(t)
	student := env.token(t, "s1", auth.RoleStudent)

	code, resp := env.do(t, http.MethodGet, base+"/students/s1/status", student, nil)
	if code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}
	status := decode[domain.LessonStatus](t, resp.Data)
	if status.Status != domain.DisplayLocked || status.AccessStatus != domain.LessonLocked || status.IsCompleted {
		t.Fatalf("unexpected initial status %+v", status)
	}

	for _, activity := range domain.Activities {
		code, resp := env.do(t, http.MethodPut, base+"/students/s1/progress/"+string(activity), student, map[string]string{"status": "completed"})
		if code != http.StatusOK {
			t.Fatalf("progress %s: %d %s", activity, code, resp.Message)
		}
	}

	_, resp = env.do(t, http.MethodGet, base+"/students/s1/status", student, nil)
	status = decode[domain.LessonStatus](t, resp.Data)
	if !status.IsCompleted || status.Status != domain.DisplayCompleted || status.AccessStatus != domain.LessonLocked {
		t.Fatalf("expected completed display over locked access, got %+v", status)
	}

	code, _ = env.do(t, http.MethodPut, base+"/students/s1/progress/quiz", student, map[string]string{"status": "done"})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown progress status, got %d", code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	if code, _ := env.do(t, http.MethodGet, "/healthz", "", nil); code != http.StatusOK {
		t.Fatalf("healthz: %d", code)
	}
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("http_requests_total")) {
		t.Fatalf("expected metrics exposition, got %d", rec.Code)
	}
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RateLimiter(2, time.Minute), func(c *gin.Context) { success(c, nil) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
}
