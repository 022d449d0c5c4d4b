package sink

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/banshee-data/posebridge/internal/posemath"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) posemath.Mat4 {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	m, _, err := DecodeFrame(msg)
	require.NoError(t, err)
	return m
}

func TestWebSocketHubBroadcast(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	hub := NewWebSocketHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	first := posemath.Identity().WithTranslation(1, 0, 0)
	require.NoError(t, hub.Apply(first))

	conn := dial(t, srv)
	defer conn.Close()

	// current pose is replayed on connect
	assert.Equal(t, first, readFrame(t, conn))

	second := posemath.Identity().WithTranslation(2, 0, 0)
	require.NoError(t, hub.Apply(second))
	assert.Equal(t, second, readFrame(t, conn))

	pose, err := hub.CurrentPose()
	require.NoError(t, err)
	assert.Equal(t, second, pose)
	assert.Equal(t, 1, hub.Clients())

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Clients())
	assert.ErrorIs(t, hub.Apply(second), ErrClosed)
}

func TestWebSocketHubClientDisconnect(t *testing.T) {
	hub := NewWebSocketHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, hub.Apply(posemath.Identity()))
}
