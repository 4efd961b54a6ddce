package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketGameFlow(t *testing.T) {
	env := newTestEnv(t)

	u := "ws" + env.server.URL[len("http"):] + "/ws?lineId=u1&name=Alice"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	p, ok := env.store.Participant("u1")
	require.True(t, ok, "connecting with a lineId registers presence")
	assert.True(t, p.IsInQuizPage)

	status, _ := env.control(t, "start_game")
	require.Equal(t, http.StatusOK, status)
	typ, payload := readNext(t, conn)
	require.Equal(t, "game_state", typ)
	assert.Equal(t, "waiting_for_players", payload["phase"])

	env.control(t, "start_first_question")
	typ, payload = readNext(t, conn)
	require.Equal(t, "game_state", typ)
	assert.Equal(t, "question_active", payload["phase"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "answer",
		"payload": map[string]any{"question_id": 1, "selected_answer": "A", "answer_time": 800},
	}))

	// scores_updated and answer_result race through different goroutines.
	seen := map[string]map[string]any{}
	for len(seen) < 2 {
		typ, payload := readNext(t, conn)
		seen[typ] = payload
	}
	require.Contains(t, seen, "scores_updated")
	require.Contains(t, seen, "answer_result")
	assert.Equal(t, true, seen["answer_result"]["success"])
	assert.Equal(t, float64(100), seen["answer_result"]["total_score"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "wave"}))
	typ, payload = readNext(t, conn)
	assert.Equal(t, "error", typ)
	assert.Equal(t, "unsupported message type", payload["message"])

	conn.Close()
	require.Eventually(t, func() bool {
		p, _ := env.store.Participant("u1")
		return !p.IsInQuizPage && env.hub.Subscribers() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketGuestWithTwoTabsStaysPresent(t *testing.T) {
	env := newTestEnv(t)
	u := "ws" + env.server.URL[len("http"):] + "/ws?lineId=u1&name=Alice"

	first, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer first.Close()
	second, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer second.Close()
	require.Eventually(t, func() bool { return env.hub.Subscribers() == 2 }, 2*time.Second, 10*time.Millisecond)

	inPage := func() bool {
		p, _ := env.store.Participant("u1")
		return p.IsInQuizPage
	}

	first.Close()
	require.Eventually(t, func() bool { return env.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return !inPage() }, 200*time.Millisecond, 10*time.Millisecond)

	second.Close()
	require.Eventually(t, func() bool { return !inPage() }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketViewerCannotAnswer(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+env.server.URL[len("http"):]+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "heartbeat"}))
	typ, payload := readNext(t, conn)
	assert.Equal(t, "error", typ)
	assert.Equal(t, "lineId required to send messages", payload["message"])
}

func readNext(t *testing.T, conn *websocket.Conn) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	return msg.Type, msg.Payload
}
