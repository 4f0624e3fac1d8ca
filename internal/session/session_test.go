package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/internal/blob"
	"github.com/mossy-p/roomdrop/internal/call"
	"github.com/mossy-p/roomdrop/internal/content"
	"github.com/mossy-p/roomdrop/internal/match"
	"github.com/mossy-p/roomdrop/internal/models"
	"github.com/mossy-p/roomdrop/internal/presence"
	"github.com/mossy-p/roomdrop/internal/relay"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	logger := zap.NewNop()
	blobs, err := blob.NewDiskStorage(t.TempDir())
	require.NoError(t, err)

	r := relay.New(logger)
	calls := call.NewManager(r, nil, logger, time.Minute, time.Minute)
	return Deps{
		Presence: presence.NewFailover(nil, presence.NewMemoryRegistry(), logger),
		Content:  content.NewMemoryStore(),
		Relay:    r,
		Calls:    calls,
		Match:    match.NewQueue(calls, r, logger),
		Blobs:    blobs,
		Logger:   logger,
	}
}

// startServer runs each upgraded connection through its own Session, the
// way the websocket handler does.
func startServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s := New(conn, r.URL.Query().Get("deviceId"), r.URL.Query().Get("name"), deps)
		s.Run(r.Context())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, deviceID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?deviceId=" + deviceID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEvent(t *testing.T, conn *websocket.Conn, typ models.EventType, payload any) {
	t.Helper()
	data, err := models.MustEvent(typ, payload).Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env models.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// waitForEvent reads until an event of the wanted type arrives, skipping
// interleaved broadcasts.
func waitForEvent(t *testing.T, conn *websocket.Conn, typ models.EventType) models.Envelope {
	t.Helper()
	for i := 0; i < 20; i++ {
		env := readEvent(t, conn)
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("no %s event arrived", typ)
	return models.Envelope{}
}

func assertNoEvent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected no further events")
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID string) models.RoomStatePayload {
	t.Helper()
	writeEvent(t, conn, models.EventJoinRoom, models.JoinRoomPayload{RoomID: roomID})
	env := waitForEvent(t, conn, models.EventRoomState)
	var state models.RoomStatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &state))
	return state
}

func userCount(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	env := waitForEvent(t, conn, models.EventUserCount)
	var p models.UserCountPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p.Count
}

func TestJoinRoom_SnapshotAndBroadcast(t *testing.T) {
	srv := startServer(t, newTestDeps(t))

	d1 := dial(t, srv, "d1")
	state := joinRoom(t, d1, "room-1")
	require.Equal(t, "room-1", state.RoomID)
	require.Equal(t, 1, state.UserCount)
	require.Empty(t, state.Texts)

	// The second device gets the snapshot; the first gets the new count.
	d2 := dial(t, srv, "d2")
	state = joinRoom(t, d2, "room-1")
	require.Equal(t, 2, state.UserCount)
	require.Equal(t, 2, userCount(t, d1))
}

func TestSendText_EachMemberReceivesExactlyOne(t *testing.T) {
	srv := startServer(t, newTestDeps(t))

	d1 := dial(t, srv, "d1")
	joinRoom(t, d1, "room-1")
	d2 := dial(t, srv, "d2")
	joinRoom(t, d2, "room-1")
	userCount(t, d1)
	d3 := dial(t, srv, "d3")
	joinRoom(t, d3, "room-1")
	userCount(t, d1)
	userCount(t, d2)

	writeEvent(t, d3, models.EventSendText, models.SendTextPayload{Content: "hi"})

	var ids []string
	for _, conn := range []*websocket.Conn{d1, d2, d3} {
		env := waitForEvent(t, conn, models.EventTextShared)
		var entry models.TextEntry
		require.NoError(t, json.Unmarshal(env.Payload, &entry))
		require.Equal(t, "hi", entry.Content)
		require.Equal(t, "d3", entry.SenderID)
		ids = append(ids, entry.ID)
		assertNoEvent(t, conn)
	}
	require.Equal(t, ids[0], ids[1])
	require.Equal(t, ids[1], ids[2])

	// The text is in the snapshot a later join receives.
	d4 := dial(t, srv, "d4")
	state := joinRoom(t, d4, "room-1")
	require.Len(t, state.Texts, 1)
	require.Equal(t, ids[0], state.Texts[0].ID)
}

func TestUserCount_CountsDevicesNotConnections(t *testing.T) {
	srv := startServer(t, newTestDeps(t))

	tab1 := dial(t, srv, "d1")
	require.Equal(t, 1, joinRoom(t, tab1, "room-1").UserCount)

	// A second tab of the same device changes nothing.
	tab2 := dial(t, srv, "d1")
	require.Equal(t, 1, joinRoom(t, tab2, "room-1").UserCount)
	require.Equal(t, 1, userCount(t, tab1))

	d2 := dial(t, srv, "d2")
	require.Equal(t, 2, joinRoom(t, d2, "room-1").UserCount)
	require.Equal(t, 2, userCount(t, tab1))
	require.Equal(t, 2, userCount(t, tab2))

	// Closing one tab is the implicit leave, but the device is still here.
	tab1.Close()
	require.Equal(t, 2, userCount(t, d2))

	// Closing the last one drops the count by exactly one.
	tab2.Close()
	require.Equal(t, 1, userCount(t, d2))
}

func TestRoomSwitch_LeavesOldRoom(t *testing.T) {
	srv := startServer(t, newTestDeps(t))

	d1 := dial(t, srv, "d1")
	joinRoom(t, d1, "room-1")
	d2 := dial(t, srv, "d2")
	joinRoom(t, d2, "room-1")
	userCount(t, d1)

	state := joinRoom(t, d2, "room-2")
	require.Equal(t, "room-2", state.RoomID)
	require.Equal(t, 1, state.UserCount)

	// The old room saw the departure, and room-2 events stay out of it.
	require.Equal(t, 1, userCount(t, d1))
	writeEvent(t, d2, models.EventSendText, models.SendTextPayload{Content: "elsewhere"})
	waitForEvent(t, d2, models.EventTextShared)
	assertNoEvent(t, d1)
}

func TestDispatch_ValidationErrors(t *testing.T) {
	srv := startServer(t, newTestDeps(t))
	conn := dial(t, srv, "d1")

	readError := func() string {
		env := waitForEvent(t, conn, models.EventError)
		var p models.ErrorPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		return p.Message
	}

	// Content operations require a room.
	writeEvent(t, conn, models.EventSendText, models.SendTextPayload{Content: "hi"})
	require.Contains(t, readError(), "join a room first")

	// Unknown kinds are a distinct, scoped error, not a dropped frame.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"telepathy"}`)))
	require.Contains(t, readError(), "unknown event type")

	// Malformed payload on a known kind.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"send_text","payload":[1]}`)))
	require.Contains(t, readError(), "invalid payload")

	writeEvent(t, conn, models.EventJoinRoom, models.JoinRoomPayload{})
	require.Contains(t, readError(), "roomId is required")

	// The connection survived every rejected frame.
	state := joinRoom(t, conn, "room-1")
	require.Equal(t, 1, state.UserCount)
}

func TestDisconnect_IsImplicitLeave(t *testing.T) {
	srv := startServer(t, newTestDeps(t))

	d1 := dial(t, srv, "d1")
	joinRoom(t, d1, "room-1")
	d2 := dial(t, srv, "d2")
	joinRoom(t, d2, "room-1")
	userCount(t, d1)

	d2.Close()
	require.Equal(t, 1, userCount(t, d1))

	// The departed device no longer receives room traffic.
	writeEvent(t, d1, models.EventSendText, models.SendTextPayload{Content: "alone"})
	waitForEvent(t, d1, models.EventTextShared)
}
