package http

import (
	"time"

	"codeclash-score-service/internal/auth"
	"codeclash-score-service/internal/observability"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig carries the cross-cutting pieces the router needs.
type RouterConfig struct {
	Issuer      *auth.Issuer
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	RateLimit   int
	RateWindow  time.Duration
	EnableTrace bool
}

// NewRouter mounts every route under /api plus /healthz and /metrics.
func NewRouter(h *Handlers, ws *WSHandler, cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger), Metrics(cfg.Metrics))
	if cfg.EnableTrace {
		r.Use(Tracing())
	}

	r.GET("/healthz", func(c *gin.Context) { success(c, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))

	api := r.Group("/api", RateLimiter(cfg.RateLimit, cfg.RateWindow), Authenticate(cfg.Issuer))
	teacher := RequireRole(auth.RoleTeacher)

	lesson := api.Group("/classes/:classId/lessons/:lessonId")
	lesson.PUT("/status", teacher, h.SetLessonStatus)
	lesson.GET("/students/:studentId/status", h.LessonStatus)
	lesson.PUT("/students/:studentId/progress/:activity", h.UpdateProgress)

	activity := lesson.Group("/activities/:activity")
	attempts := activity.Group("/students/:studentId/attempts")
	attempts.GET("", h.CheckAttempts)
	attempts.POST("", h.RecordAttempt)
	attempts.POST("/:action", teacher, h.AdjustAttempts)
	activity.PUT("/students/:studentId/score", h.RecordScore)

	activity.GET("/leaderboard", h.Leaderboard)
	activity.GET("/leaderboard/students/:studentId/rank", h.StudentRank)
	activity.GET("/leaderboard/ws", ws.ServeLeaderboard)

	return r
}
