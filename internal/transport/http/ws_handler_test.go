package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeclash-score-service/internal/auth"
	"codeclash-score-service/internal/domain"
	"github.com/gorilla/websocket"
)

func TestLeaderboardStream(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	token := env.token(t, "s1", auth.RoleStudent)
	u := "ws" + server.URL[len("http"):] + base + "/activities/quiz/leaderboard/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Initial snapshot arrives once the subscription is live.
	first := readLeaderboard(t, conn)
	if len(first.Entries) != 0 {
		t.Fatalf("expected empty leaderboard, got %+v", first.Entries)
	}

	code, resp := env.do(t, http.MethodPut, base+"/activities/quiz/students/s1/score", token, map[string]int{"score": 75, "attemptsUsed": 1})
	if code != http.StatusOK {
		t.Fatalf("score: %d %s", code, resp.Message)
	}

	for i := 0; i < 3; i++ {
		lb := readLeaderboard(t, conn)
		if len(lb.Entries) == 1 {
			if lb.Entries[0].StudentID != "s1" || lb.Entries[0].Score != 75 || lb.Entries[0].StudentName != "Ada" {
				t.Fatalf("unexpected entry %+v", lb.Entries[0])
			}
			return
		}
	}
	t.Fatalf("score change was not streamed")
}

func TestLeaderboardStreamRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + base + "/activities/quiz/leaderboard/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
}

func readLeaderboard(t *testing.T, conn *websocket.Conn) domain.Leaderboard {
	t.Helper()
	var msg struct {
		Type    string             `json:"type"`
		Payload domain.Leaderboard `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if msg.Type != "leaderboard" {
		t.Fatalf("expected leaderboard message, got %s", msg.Type)
	}
	return msg.Payload
}
