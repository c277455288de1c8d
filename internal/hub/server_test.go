package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntaxdsamurai/Iot-Dashboard/internal/presence"
)

type staticPresence presence.Snapshot

func (p staticPresence) Snapshot() presence.Snapshot { return presence.Snapshot(p) }

func startServer(t *testing.T, cfg ServerConfig, p PresenceSource) (*Manager, *Server, string) {
	t.Helper()
	m := newManager()
	srv := NewServer(m, p, cfg, discardLogger())
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})
	return m, srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestServer_SnapshotOnConnectAndJoin(t *testing.T) {
	snap := staticPresence{"dev-001": {Status: presence.Online, LastSeen: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}}
	m, _, url := startServer(t, ServerConfig{}, snap)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readEvent(t, conn)
	assert.Equal(t, EventPresence, first["event"])
	data := first["data"].(map[string]any)
	assert.Equal(t, "online", data["dev-001"].(map[string]any)["status"])

	require.NoError(t, conn.WriteJSON(map[string]string{"event": CmdJoin, "data": "dev-001"}))
	require.Eventually(t, func() bool {
		return len(m.Members("dev-001")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	NewRouter(m).Route(sampleReading("dev-001"), nil, time.Now())
	ev := readEvent(t, conn)
	assert.Equal(t, EventTelemetry, ev["event"])
	assert.Equal(t, "dev-001", ev["data"].(map[string]any)["deviceId"])

	require.NoError(t, conn.WriteJSON(map[string]string{"event": CmdLeave, "data": "dev-001"}))
	require.Eventually(t, func() bool {
		return len(m.Members("dev-001")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_DisconnectCleansGroups(t *testing.T) {
	m, _, url := startServer(t, ServerConfig{}, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]string{"event": CmdJoin, "data": GlobalGroup}))
	require.Eventually(t, func() bool { return len(m.Members(GlobalGroup)) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return m.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, m.Members(GlobalGroup))
}

func TestServer_RejectsForeignOrigin(t *testing.T) {
	_, _, url := startServer(t, ServerConfig{AllowedOrigin: "http://localhost:5173"}, nil)

	header := http.Header{"Origin": {"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": {"http://localhost:5173"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestServer_IgnoresGarbageCommands(t *testing.T) {
	m, _, url := startServer(t, ServerConfig{}, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]any{"event": CmdJoin, "data": 42}))
	require.NoError(t, conn.WriteJSON(map[string]string{"event": "explode", "data": "x"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"event": CmdJoin, "data": "dev-002"}))

	require.Eventually(t, func() bool { return len(m.Members("dev-002")) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, m.Count(), "connection survives bad input")
}

func TestServer_ShutdownRefusesNewConnections(t *testing.T) {
	m, srv, url := startServer(t, ServerConfig{}, nil)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return m.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.Equal(t, 0, m.Count())

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
