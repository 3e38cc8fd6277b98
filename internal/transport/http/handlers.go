package http

import (
	"errors"
	"net/http"

	"codeclash-score-service/internal/app"
	"codeclash-score-service/internal/auth"
	"codeclash-score-service/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers serves the REST surface over the application services.
type Handlers struct {
	attempts    *app.AttemptService
	scores      *app.ScoreService
	leaderboard *app.LeaderboardService
	lessons     *app.LessonGate
	logger      *zap.Logger
}

func NewHandlers(attempts *app.AttemptService, scores *app.ScoreService, leaderboard *app.LeaderboardService, lessons *app.LessonGate, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		attempts:    attempts,
		scores:      scores,
		leaderboard: leaderboard,
		lessons:     lessons,
		logger:      logger,
	}
}

type scoreRequest struct {
	StudentName  string `json:"studentName" binding:"max=256"`
	Score        *int   `json:"score" binding:"required,min=0"`
	AttemptsUsed int    `json:"attemptsUsed" binding:"min=0"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

type adjustResponse struct {
	Action       string `json:"action"`
	AttemptsUsed int    `json:"attemptsUsed"`
}

type rankResponse struct {
	StudentID string `json:"studentId"`
	Rank      int    `json:"rank"`
}

type lessonStatusResponse struct {
	ClassID  string            `json:"classId"`
	LessonID string            `json:"lessonId"`
	Status   domain.LockStatus `json:"status"`
}

type progressResponse struct {
	domain.ActivityKey
	Status domain.ProgressStatus `json:"status"`
}

func (h *Handlers) CheckAttempts(c *gin.Context) {
	key, ok := h.studentKey(c, true)
	if !ok {
		return
	}
	status, err := h.attempts.CheckAttempts(c.Request.Context(), key)
	if err != nil {
		writeError(c, h.logger, err, nil)
		return
	}
	success(c, status)
}

func (h *Handlers) RecordAttempt(c *gin.Context) {
	key, ok := h.studentKey(c, false)
	if !ok {
		return
	}
	status, err := h.attempts.RecordAttempt(c.Request.Context(), key)
	if err != nil {
		var data any
		if errors.Is(err, domain.ErrNoAttemptsRemaining) {
			data = status
		}
		writeError(c, h.logger, err, data)
		return
	}
	success(c, status)
}

func (h *Handlers) AdjustAttempts(c *gin.Context) {
	key := activityKey(c)
	teacherID := claimsFrom(c).UserID()
	action := c.Param("action")

	var (
		used int
		err  error
	)
	switch action {
	case "increase":
		used, err = h.attempts.TeacherIncreaseAttempts(c.Request.Context(), key, teacherID)
	case "decrease":
		used, err = h.attempts.TeacherDecreaseAttempts(c.Request.Context(), key, teacherID)
	case "reset":
		used, err = h.attempts.TeacherResetAttempts(c.Request.Context(), key, teacherID)
	default:
		writeError(c, h.logger, &domain.ValidationError{Fields: []domain.FieldError{{Field: "action", Error: "must be one of increase decrease reset"}}}, nil)
		return
	}
	if err != nil {
		if domain.IsValidation(err) {
			writeError(c, h.logger, err, nil)
			return
		}
		code, _ := statusFor(err)
		if code >= http.StatusInternalServerError {
			h.logger.Warn("teacher adjustment failed", zap.String("action", action), zap.Error(err))
		}
		// Teachers see the specific failure rather than a generic message.
		fail(c, code, err.Error(), nil)
		return
	}
	success(c, adjustResponse{Action: action, AttemptsUsed: used})
}

func (h *Handlers) RecordScore(c *gin.Context) {
	key, ok := h.studentKey(c, false)
	if !ok {
		return
	}
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, &domain.ValidationError{Fields: []domain.FieldError{{Field: "body", Error: err.Error()}}}, nil)
		return
	}
	name := req.StudentName
	if name == "" {
		name = claimsFrom(c).Name
	}
	outcome, err := h.scores.RecordScore(c.Request.Context(), domain.ScoreSubmission{
		Key:          key,
		StudentName:  name,
		Score:        *req.Score,
		AttemptsUsed: req.AttemptsUsed,
	})
	if err != nil {
		writeError(c, h.logger, err, nil)
		return
	}
	success(c, outcome)
}

func (h *Handlers) Leaderboard(c *gin.Context) {
	scope := activityScope(c)
	var (
		lb  domain.Leaderboard
		err error
	)
	if c.Query("scope") == "all" {
		lb, err = h.leaderboard.AllScores(c.Request.Context(), scope)
	} else {
		lb, err = h.leaderboard.TopScores(c.Request.Context(), scope)
	}
	if err != nil {
		writeError(c, h.logger, err, nil)
		return
	}
	success(c, lb)
}

func (h *Handlers) StudentRank(c *gin.Context) {
	studentID := c.Param("studentId")
	rank, err := h.leaderboard.StudentRank(c.Request.Context(), activityScope(c), studentID)
	if err != nil {
		writeError(c, h.logger, err, nil)
		return
	}
	success(c, rankResponse{StudentID: studentID, Rank: rank})
}

func (h *Handlers) SetLessonStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, &domain.ValidationError{Fields: []domain.FieldError{{Field: "status", Error: err.Error()}}}, nil)
		return
	}
	classID, lessonID := c.Param("classId"), c.Param("lessonId")
	status := domain.LockStatus(req.Status)
	if err := h.lessons.SetLessonStatus(c.Request.Context(), classID, lessonID, status); err != nil {
		writeError(c, h.logger, err, nil)
		return
	}
	success(c, lessonStatusResponse{ClassID: classID, LessonID: lessonID, Status: status})
}

func (h *Handlers) LessonStatus(c *gin.Context) {
	studentID := c.Param("studentId")
	if !h.allowStudent(c, studentID, true) {
		return
	}
	status, err := h.lessons.LessonStatus(c.Request.Context(), c.Param("classId"), c.Param("lessonId"), studentID)
	if err != nil {
		writeError(c, h.logger, err, nil)
		return
	}
	success(c, status)
}

func (h *Handlers) UpdateProgress(c *gin.Context) {
	key, ok := h.studentKey(c, true)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, &domain.ValidationError{Fields: []domain.FieldError{{Field: "status", Error: err.Error()}}}, nil)
		return
	}
	status := domain.ProgressStatus(req.Status)
	if err := h.lessons.UpdateProgress(c.Request.Context(), key, status); err != nil {
		writeError(c, h.logger, err, nil)
		return
	}
	success(c, progressResponse{ActivityKey: key, Status: status})
}

// studentKey builds the key from the path and checks the caller may act on it.
func (h *Handlers) studentKey(c *gin.Context, teacherAllowed bool) (domain.ActivityKey, bool) {
	key := activityKey(c)
	if !h.allowStudent(c, key.StudentID, teacherAllowed) {
		return domain.ActivityKey{}, false
	}
	return key, true
}

// allowStudent lets students act only on their own id; teachers when teacherAllowed.
func (h *Handlers) allowStudent(c *gin.Context, studentID string, teacherAllowed bool) bool {
	claims := claimsFrom(c)
	switch {
	case claims == nil:
		fail(c, http.StatusUnauthorized, "unauthorized", nil)
		return false
	case claims.Role == auth.RoleTeacher && teacherAllowed:
		return true
	case claims.Role == auth.RoleStudent && claims.UserID() == studentID:
		return true
	}
	writeError(c, h.logger, domain.ErrForbidden, nil)
	return false
}

func activityScope(c *gin.Context) domain.ActivityScope {
	return domain.ActivityScope{
		ClassID:  c.Param("classId"),
		LessonID: c.Param("lessonId"),
		Activity: domain.ActivityType(c.Param("activity")),
	}
}

func activityKey(c *gin.Context) domain.ActivityKey {
	return domain.ActivityKey{ActivityScope: activityScope(c), StudentID: c.Param("studentId")}
}
