package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serveWS(w, r, nil)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	return conn
}

func TestHubSendsStateOnConnect(t *testing.T) {
	running := false

	h := NewHub(
		func([]string) interface{} { return []string{} },
		func() bool { return running },
	)

	conn := dialHub(t, h)

	// The monitoring flag arrives before the first snapshot, so a client
	// that connects while monitoring is stopped renders it stopped.
	var first frame
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "monitoring_status", first.Event)

	data, ok := first.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, data["running"])

	var second frame
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "hosts_update", second.Event)
}

func TestHubConnectReflectsRunningMonitor(t *testing.T) {
	h := NewHub(
		func([]string) interface{} { return []string{} },
		func() bool { return true },
	)

	conn := dialHub(t, h)

	var first frame
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "monitoring_status", first.Event)

	data, ok := first.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["running"])
}
