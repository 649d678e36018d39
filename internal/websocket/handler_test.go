package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsewire/internal/config"
	"pulsewire/internal/manager"
	"pulsewire/internal/queue"
	"pulsewire/internal/registry"
	"pulsewire/pkg/types"
)

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  5 * time.Minute,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      2 * time.Second,
		BufferSize:        64,
	}
}

func newHandlerServer(t *testing.T, maxPerRoom int) (*httptest.Server, *manager.Manager) {
	t.Helper()
	reg := registry.NewRegistry(maxPerRoom)
	q := queue.NewQueue(queue.NewMemoryStore(100), time.Hour, nil)
	mgr := manager.NewManager(reg, q, nil, nil)
	handler := NewHandler(mgr, nil, testWSConfig(), nil)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, mgr
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) *types.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg types.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return &msg
}

func TestHandler_ConnectFlow(t *testing.T) {
	srv, mgr := newHandlerServer(t, 0)

	conn := dial(t, srv, "room_id=room-1&user_id=alice&user_role=admin")

	established := readMessage(t, conn)
	assert.Equal(t, types.TypeConnectionEstablished, established.Type)
	assert.Equal(t, "alice", established.Data["user_id"])
	assert.NotEmpty(t, established.Data["connection_id"])

	roomUsers := readMessage(t, conn)
	assert.Equal(t, types.TypeRoomUsers, roomUsers.Type)

	assert.Equal(t, 1, mgr.Registry().CountInRoom("room-1"))
}

func TestHandler_RejectsMissingRoom(t *testing.T) {
	srv, _ := newHandlerServer(t, 0)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user_id=alice"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_RejectsInvalidUser(t *testing.T) {
	srv, _ := newHandlerServer(t, 0)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?room_id=room-1&user_id=bad%20user"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_RoomFullCloseCode(t *testing.T) {
	srv, _ := newHandlerServer(t, 1)

	first := dial(t, srv, "room_id=room-1&user_id=alice")
	readMessage(t, first) // connection_established
	readMessage(t, first) // room_users

	// Second connection upgrades, then is closed with 1013 (try again later).
	second := dial(t, srv, "room_id=room-1&user_id=bob")
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := second.ReadMessage()
	require.Error(t, err)

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
}

func TestHandler_ChatRoundtrip(t *testing.T) {
	srv, _ := newHandlerServer(t, 0)

	alice := dial(t, srv, "room_id=room-1&user_id=alice")
	readMessage(t, alice) // connection_established
	readMessage(t, alice) // room_users

	bob := dial(t, srv, "room_id=room-1&user_id=bob")
	readMessage(t, bob) // connection_established
	readMessage(t, bob) // room_users

	joined := readMessage(t, alice)
	require.Equal(t, types.TypeUserJoined, joined.Type)
	assert.Equal(t, "bob", joined.Data["user_id"])

	frame, err := json.Marshal(map[string]interface{}{
		"type": types.TypeChat,
		"data": map[string]interface{}{"text": "hello bob"},
	})
	require.NoError(t, err)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, frame))

	chat := readMessage(t, bob)
	assert.Equal(t, types.TypeChat, chat.Type)
	assert.Equal(t, "hello bob", chat.Data["text"])
	assert.Equal(t, "alice", chat.UserID)
	assert.Equal(t, "room-1", chat.RoomID)
}

func TestHandler_PingPong(t *testing.T) {
	srv, _ := newHandlerServer(t, 0)

	conn := dial(t, srv, "room_id=room-1&user_id=alice")
	readMessage(t, conn) // connection_established
	readMessage(t, conn) // room_users

	frame, err := json.Marshal(map[string]interface{}{"type": types.TypePing})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	pong := readMessage(t, conn)
	assert.Equal(t, types.TypePong, pong.Type)
	assert.NotEmpty(t, pong.Data["server_time"])
}

func TestHandler_DisconnectCleansRegistry(t *testing.T) {
	srv, mgr := newHandlerServer(t, 0)

	conn := dial(t, srv, "room_id=room-1&user_id=alice")
	readMessage(t, conn) // connection_established
	readMessage(t, conn) // room_users
	require.Equal(t, 1, mgr.Registry().CountTotal())

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return mgr.Registry().CountTotal() == 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Empty(t, mgr.Registry().RoomIDs())
}

func TestQueryAuthenticator(t *testing.T) {
	auth := QueryAuthenticator{}

	req := httptest.NewRequest(http.MethodGet, "/ws?user_id=alice&user_email=a@example.com&user_role=admin", nil)
	identity, err := auth.Authenticate(req, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.UserID)
	assert.Equal(t, "a@example.com", identity.UserEmail)
	assert.Equal(t, "admin", identity.UserRole)

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	_, err = auth.Authenticate(req, "room-1")
	assert.Error(t, err)
}
