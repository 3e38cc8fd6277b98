package http

import (
	"context"
	"net/http"
	"time"

	"codeclash-score-service/internal/app"
	"codeclash-score-service/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// WSHandler streams leaderboard snapshots over a websocket.
type WSHandler struct {
	leaderboard *app.LeaderboardService
	metrics     *observability.Metrics
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

func NewWSHandler(leaderboard *app.LeaderboardService, metrics *observability.Metrics, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		leaderboard: leaderboard,
		metrics:     metrics,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeLeaderboard upgrades the request and pushes the full ranked leaderboard
// on connect and after every score change. Inbound messages are ignored; the
// read loop only detects the client going away.
func (h *WSHandler) ServeLeaderboard(c *gin.Context) {
	scope := activityScope(c)
	if err := scope.Validate(); err != nil {
		writeError(c, h.logger, err, nil)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	updates, unsubscribe, err := h.leaderboard.Subscribe(ctx, scope)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer unsubscribe()
	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case lb, ok := <-updates:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(outboundMessage[any]{Type: "leaderboard", Payload: lb}); err != nil {
					h.logger.Debug("ws write error", zap.String("topic", scope.Topic()), zap.Error(err))
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	cancel()
	<-writerDone
}
