package bridge

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uxlensHQ/uxlens/internal/telemetry"
	"github.com/uxlensHQ/uxlens/internal/tracker"
)

func newTestHub(t *testing.T, origins []string) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(tracker.Options{ProjectID: "proj-test", APIURL: "http://collector.invalid"}, origins)
	router := gin.New()
	router.GET("/ws", hub.Handler)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Shutdown)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEvent(t *testing.T, conn *websocket.Conn, ev map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readCommand(t *testing.T, conn *websocket.Conn) telemetry.Command {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var cmd telemetry.Command
	require.NoError(t, json.Unmarshal(data, &cmd))
	return cmd
}

func domReady(nodes ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":      "dom_ready",
		"timestamp": 1_000_000,
		"url":       "https://shop.example/",
		"viewport":  map[string]interface{}{"width": 1280, "height": 800},
		"added":     nodes,
	}
}

func TestSession_RapidClicksTriggerPopoverCommands(t *testing.T) {
	_, url := newTestHub(t, nil)
	conn := dial(t, url)

	writeEvent(t, conn, domReady(
		map[string]interface{}{"id": "body", "tag": "body"},
		map[string]interface{}{"id": "buy", "parent_id": "body", "tag": "button",
			"attrs": map[string]string{"id": "buy"}},
	))
	for i := int64(0); i < 3; i++ {
		writeEvent(t, conn, map[string]interface{}{
			"type": "click", "timestamp": 1_000_100 + i*200, "node_id": "buy",
		})
	}

	// Highlight lands first, then the popover, then focus.
	assert.Equal(t, telemetry.CommandHighlight, readCommand(t, conn).Type)
	show := readCommand(t, conn)
	assert.Equal(t, telemetry.CommandShowPopover, show.Type)
	require.NotNil(t, show.Popover)
	assert.Equal(t, "Not working?", show.Popover.Title)
	assert.Equal(t, telemetry.CommandFocus, readCommand(t, conn).Type)
}

func TestSession_QueryParamsDisableDetectors(t *testing.T) {
	_, url := newTestHub(t, nil)
	conn := dial(t, url+"?data-rage-click=false")

	writeEvent(t, conn, domReady(
		map[string]interface{}{"id": "body", "tag": "body"},
		map[string]interface{}{"id": "buy", "parent_id": "body", "tag": "button"},
	))
	for i := int64(0); i < 5; i++ {
		writeEvent(t, conn, map[string]interface{}{
			"type": "click", "timestamp": 1_000_000 + i*100, "node_id": "buy",
		})
	}

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "no commands expected with rage clicks off")
}

func TestSession_MalformedFramesAreDropped(t *testing.T) {
	_, url := newTestHub(t, nil)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"no":"type"}`)))

	// The session survives garbage and keeps processing real frames.
	writeEvent(t, conn, domReady(
		map[string]interface{}{"id": "body", "tag": "body"},
		map[string]interface{}{"id": "buy", "parent_id": "body", "tag": "button"},
	))
	for i := int64(0); i < 3; i++ {
		writeEvent(t, conn, map[string]interface{}{
			"type": "click", "timestamp": 1_000_000 + i*100, "node_id": "buy",
		})
	}
	assert.Equal(t, telemetry.CommandHighlight, readCommand(t, conn).Type)
}

func TestHub_CountTracksLiveSessions(t *testing.T) {
	hub, url := newTestHub(t, nil)
	require.Equal(t, 0, hub.Count())

	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_OriginAllowList(t *testing.T) {
	_, url := newTestHub(t, []string{"https://shop.example"})

	_, _, err := websocket.DefaultDialer.Dial(url, map[string][]string{
		"Origin": {"https://evil.example"},
	})
	assert.Error(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(url, map[string][]string{
		"Origin": {"https://shop.example"},
	})
	require.NoError(t, err)
	conn.Close()
}

func TestSession_PostDelayedCancel(t *testing.T) {
	s := &Session{
		loop: make(chan func(), 8),
		done: make(chan struct{}),
	}
	go s.runLoop()
	defer close(s.done)

	fired := make(chan struct{}, 1)
	cancel := s.PostDelayed(20*time.Millisecond, func() { fired <- struct{}{} })
	cancel()

	select {
	case <-fired:
		t.Fatal("canceled closure ran")
	case <-time.After(80 * time.Millisecond):
	}
}
