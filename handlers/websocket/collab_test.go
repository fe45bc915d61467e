package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collab-server/access"
	"collab-server/auth"
	"collab-server/collab"
	"collab-server/stores/memory"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	gate *auth.Gate
}

func newTestServer(t *testing.T) *testServer {
	store := memory.NewStore()
	store.AddUser("alice", "Alice", "alice@example.com")
	store.AddUser("bob", "Bob", "bob@example.com")
	store.AddUser("mallory", "Mallory", "mallory@example.com")
	store.AddMember("w1", "alice", "editor")
	store.AddMember("w1", "bob", "editor")
	store.AddPage("p1", "w1")

	gate := auth.NewGate("test-secret", store)
	broker := collab.NewBroker(collab.Config{}, collab.Deps{
		Auth:     gate,
		Access:   access.NewChecker(store),
		Presence: store,
		EditLog:  store,
		Comments: store,
	})

	r := chi.NewRouter()
	NewHandler(broker, []string{"https://app.example"}).Mount(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, gate: gate}
}

func (s *testServer) dial(t *testing.T, path, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + path
	if user != "" {
		token, err := s.gate.IssueToken(user, time.Hour)
		require.NoError(t, err)
		url += "?token=" + token
	}

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event map[string]any
	require.NoError(t, ws.ReadJSON(&event))
	return event
}

func requireClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.True(t, websocket.IsCloseError(err, code), "expected close %d, got %v", code, err)
}

func TestCollabSocketScenario(t *testing.T) {
	srv := newTestServer(t)

	a := srv.dial(t, "/ws/collab/w1/page/p1", "alice")
	require.Equal(t, "active_users", readEvent(t, a)["type"])
	b := srv.dial(t, "/ws/collab/w1/page/p1", "bob")
	require.Equal(t, "active_users", readEvent(t, b)["type"])
	require.Equal(t, "user_joined", readEvent(t, a)["type"])

	require.NoError(t, a.WriteJSON(map[string]any{"type": "save_content", "operation": map[string]any{"insert": "x"}}))
	for _, ws := range []*websocket.Conn{a, b} {
		event := readEvent(t, ws)
		require.Equal(t, "content_saved", event["type"])
		require.EqualValues(t, 1, event["version"])
	}

	require.NoError(t, a.WriteJSON(map[string]any{"type": "cursor_move", "position": 5}))
	event := readEvent(t, b)
	require.Equal(t, "cursor_moved", event["type"])
	require.EqualValues(t, 5, event["position"])

	resp, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	var rooms struct {
		Rooms []collab.RoomInfo `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	require.Len(t, rooms.Rooms, 1)
	require.Equal(t, 2, rooms.Rooms[0].Members)

	require.NoError(t, b.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Equal(t, "user_left", readEvent(t, a)["type"])
}

func TestCollabSocketBearerHeader(t *testing.T) {
	srv := newTestServer(t)
	token, err := srv.gate.IssueToken("alice", time.Hour)
	require.NoError(t, err)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/collab/w1/page/p1"
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer ws.Close()

	require.Equal(t, "active_users", readEvent(t, ws)["type"])
}

func TestCollabSocketRejectsHandshake(t *testing.T) {
	srv := newTestServer(t)

	requireClose(t, srv.dial(t, "/ws/collab/w1/page/p1", ""), collab.CloseUnauthenticated)
	requireClose(t, srv.dial(t, "/ws/collab/w1/page/p1", "mallory"), collab.CloseForbidden)
	requireClose(t, srv.dial(t, "/ws/collab/w2/page/p1", "alice"), collab.CloseForbidden)
}

func TestCollabSocketUnknownKind(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/ws/collab/w1/board/p1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCollabSocketOriginCheck(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/collab/w1/page/p1"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://app.example"}})
	require.NoError(t, err)
	ws.Close()
}

func TestConnReadHonoursContext(t *testing.T) {
	done := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			done <- err
			return
		}
		c := newConn(ws)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = c.ReadMessage(ctx)
		done <- err
		_ = c.Close(collab.CloseGoingAway, "bye")
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "read did not return after context deadline")
	}
	requireClose(t, ws, collab.CloseGoingAway)
}
