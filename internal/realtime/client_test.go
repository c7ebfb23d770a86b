package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/castroom/backend/internal/casting"
	"github.com/castroom/backend/internal/session"
	"github.com/castroom/backend/internal/transcode"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.InMemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	hub := NewHub(logger, nil, nil)
	store := session.NewInMemoryStore()
	sup := transcode.NewSupervisor(transcode.Options{OutputDir: t.TempDir()}, logger)
	router := casting.NewRouter(store, transcode.NewRegistry(), sup, hub, logger)

	r := gin.New()
	r.GET("/ws", ServeWs(hub, router, ClientOptions{}, logger))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func dial(t *testing.T, srv *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	msg := readEvent(t, conn, EventConnected)
	var hello struct {
		SocketID string `json:"socketId"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &hello))
	require.NotEmpty(t, hello.SocketID)
	return conn, hello.SocketID
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event == event {
			return msg
		}
	}
}

func emit(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(WSMessage{Event: event, Data: raw}))
}

func TestServeWs_CastAndFollow(t *testing.T) {
	srv, store := newTestServer(t)

	caster, casterID := dial(t, srv)
	player, _ := dial(t, srv)

	emit(t, caster, casting.EventStartCasting, map[string]interface{}{
		"playlist":     []map[string]string{{"id": "i1", "name": "slide", "url": "http://cast.local/media/slide.png", "type": "image"}},
		"currentIndex": 0,
		"isPlaying":    true,
	})
	emit(t, caster, casting.EventPing, nil)
	readEvent(t, caster, casting.EventPong)

	emit(t, player, casting.EventJoinRoom, casterID)
	var state struct {
		IsCasting   bool               `json:"isCasting"`
		RoomID      string             `json:"roomId"`
		CurrentItem *session.MediaItem `json:"currentItem"`
		MemberCount int                `json:"memberCount"`
	}
	require.NoError(t, json.Unmarshal(readEvent(t, player, casting.EventCastingState).Data, &state))
	assert.True(t, state.IsCasting)
	assert.Equal(t, "room_"+casterID, state.RoomID)
	require.NotNil(t, state.CurrentItem)
	assert.Equal(t, "http://cast.local/media/slide.png", state.CurrentItem.Path)
	assert.Equal(t, 2, state.MemberCount)

	emit(t, caster, casting.EventSeek, map[string]float64{"targetTime": 42})
	var seek struct {
		TargetTime     float64 `json:"targetTime"`
		Timestamp      int64   `json:"timestamp"`
		SourceSocketID string  `json:"sourceSocketId"`
	}
	require.NoError(t, json.Unmarshal(readEvent(t, player, casting.EventSeek).Data, &seek))
	assert.Equal(t, 42.0, seek.TargetTime)
	assert.Equal(t, casterID, seek.SourceSocketID)
	assert.Positive(t, seek.Timestamp)

	require.NoError(t, caster.Close())
	var stopped struct {
		IsCasting bool `json:"isCasting"`
	}
	stopped.IsCasting = true
	require.NoError(t, json.Unmarshal(readEvent(t, player, casting.EventCastingState).Data, &stopped))
	assert.False(t, stopped.IsCasting)
	assert.Eventually(t, func() bool { return store.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServeWs_MalformedMessagesKeepConnection(t *testing.T) {
	srv, _ := newTestServer(t)
	conn, _ := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event": 12}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	emit(t, conn, "no_such_event", nil)
	emit(t, conn, casting.EventPing, map[string]int{"n": 1})

	var pong casting.Pong
	require.NoError(t, json.Unmarshal(readEvent(t, conn, casting.EventPong).Data, &pong))
	assert.JSONEq(t, `{"n":1}`, string(pong.Echo))
}

type recordingDispatcher struct {
	hub  *Hub
	mu   sync.Mutex
	gone map[string]session.RoomID
}

func (d *recordingDispatcher) Dispatch(context.Context, string, string, json.RawMessage) error {
	return nil
}

func (d *recordingDispatcher) Disconnect(_ context.Context, connID string) {
	room, _ := d.hub.RoomOf(connID)
	d.mu.Lock()
	d.gone[connID] = room
	d.mu.Unlock()
}

func (d *recordingDispatcher) roomAtDisconnect(connID string) (session.RoomID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.gone[connID]
	return room, ok
}

func TestClient_FullBufferClosesConnection(t *testing.T) {
	conns := make(chan *websocket.Conn, 1)
	upgrader := newUpgrader(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })
	var serverConn *websocket.Conn
	select {
	case serverConn = <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("upgrade did not complete")
	}

	h := NewHub(zap.NewNop(), nil, nil)
	disp := &recordingDispatcher{hub: h, gone: make(map[string]session.RoomID)}
	c := &Client{
		ID:          "slow",
		ConnectedAt: time.Now(),
		hub:         h,
		dispatcher:  disp,
		conn:        serverConn,
		send:        make(chan WSMessage, 1),
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
	}
	h.Register(c)
	h.Join("slow", "room_1")
	go c.readPump(context.Background(), 1<<20)

	h.BroadcastExcept("room_1", "", "time_update", json.RawMessage(`{"currentTime":1}`))
	h.BroadcastExcept("room_1", "", "casting_state", json.RawMessage(`{"isCasting":false}`))
	h.BroadcastExcept("room_1", "", "time_update", json.RawMessage(`{"currentTime":3}`))

	got := drain(c)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"currentTime":1}`, string(got[0].Data))
	assert.True(t, c.evicted.Load())

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = peer.ReadMessage()
	require.Error(t, err)
	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "peer sees the socket close, not a timeout")

	require.Eventually(t, func() bool {
		_, ok := disp.roomAtDisconnect("slow")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	room, _ := disp.roomAtDisconnect("slow")
	assert.Equal(t, session.RoomID("room_1"), room, "membership survives until Disconnect runs")
	assert.Eventually(t, func() bool { return h.ConnectionCount() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.MemberCount("room_1"))
}
