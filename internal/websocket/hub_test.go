package websocket_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licsrv/internal/license"
	"licsrv/internal/shared/testutil"
	"licsrv/internal/websocket"
	"licsrv/pkg/contracts/events"
)

type frame struct {
	Type events.MessageType `json:"type"`
	Data json.RawMessage    `json:"data"`
}

func startHub(t *testing.T, cfg websocket.HubConfig) (*websocket.Hub, *httptest.Server) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	hub := websocket.NewHub(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *gws.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHub_DeliversMaskedKeyEvents(t *testing.T) {
	hub, srv := startHub(t, websocket.HubConfig{})
	conn := dial(t, srv)

	hello := readFrame(t, conn)
	assert.Equal(t, events.MessageTypeConnect, hello.Type)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Publish(context.Background(), license.Event{
		Type:  license.EventBound,
		Key:   "RIXK-AAAA-BBBB-CCCC-DDDD",
		HWID:  "HW-A",
		At:    testutil.FixedTime,
	})

	f := readFrame(t, conn)
	require.Equal(t, events.MessageTypeKeyEvent, f.Type)

	var ev events.KeyEvent
	require.NoError(t, json.Unmarshal(f.Data, &ev))
	assert.Equal(t, string(license.EventBound), ev.Event)
	assert.Equal(t, license.MaskKey("RIXK-AAAA-BBBB-CCCC-DDDD"), ev.Key)
	assert.NotContains(t, string(f.Data), "HW-A")
	assert.True(t, ev.Bound)
}

func TestHub_BroadcastsToEveryClient(t *testing.T) {
	hub, srv := startHub(t, websocket.HubConfig{})
	a := dial(t, srv)
	b := dial(t, srv)
	readFrame(t, a)
	readFrame(t, b)

	hub.Publish(context.Background(), license.Event{Type: license.EventGenerated, Key: "K1", At: testutil.FixedTime})

	assert.Equal(t, events.MessageTypeKeyEvent, readFrame(t, a).Type)
	assert.Equal(t, events.MessageTypeKeyEvent, readFrame(t, b).Type)
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	hub, srv := startHub(t, websocket.HubConfig{})
	conn := dial(t, srv)
	readFrame(t, conn)
	require.Equal(t, 1, hub.ClientCount())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	// Not running: nothing drains the queue.
	hub := websocket.NewHub(websocket.HubConfig{EventBuffer: 2}, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			hub.Publish(context.Background(), license.Event{Type: license.EventRevoked, Key: "K1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	assert.EqualValues(t, 3, hub.Dropped())
	testutil.AssertLogContains(t, logs, slog.LevelWarn, "dropping event")
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	_, srv := startHub(t, websocket.HubConfig{AllowedOrigins: []string{"https://admin.example.com"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := map[string][]string{"Origin": {"https://evil.example.com"}}
	_, resp, err := gws.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)

	header = map[string][]string{"Origin": {"https://admin.example.com"}}
	conn, _, err := gws.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

// goroutinesIn counts live goroutines whose stack mentions fn.
func goroutinesIn(fn string) int {
	buf := make([]byte, 1<<20)
	stacks := string(buf[:runtime.Stack(buf, true)])
	n := 0
	for _, g := range strings.Split(stacks, "\n\n") {
		if strings.Contains(g, fn) {
			n++
		}
	}
	return n
}

func TestHub_StopReleasesClients(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	hub := websocket.NewHub(websocket.HubConfig{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = hub.Run(ctx)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn := dial(t, srv)
	readFrame(t, conn)

	cancel()
	<-stopped

	// The client stays connected; the hub closing its side must still let
	// the read loop exit.
	assert.Eventually(t, func() bool {
		return goroutinesIn("websocket.(*Client).readPump") == 0
	}, 5*time.Second, 20*time.Millisecond, "read loop still blocked after the hub stopped")

	// Connecting to a stopped hub is refused instead of hanging the handler.
	late := dial(t, srv)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := late.ReadMessage()
	assert.True(t, gws.IsCloseError(err, gws.CloseGoingAway), "got %v", err)
	assert.Eventually(t, func() bool {
		return goroutinesIn("websocket.(*Hub).ServeWS") == 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Zero(t, hub.ClientCount())
}
