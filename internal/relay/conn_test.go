package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uk.co.dudmesh.quill/internal/model"
)

type relayServer struct {
	hub    *Hub
	server *httptest.Server
	cancel context.CancelFunc
	done   chan error
}

func newRelayServer(t *testing.T, setup ...func(*Hub)) *relayServer {
	rs := &relayServer{
		hub:  NewHub(DefaultConfig, WithClock(func() time.Time { return testTime })),
		done: make(chan error),
	}
	for _, fn := range setup {
		fn(rs.hub)
	}
	var ctx context.Context
	ctx, rs.cancel = context.WithCancel(context.Background())
	go func() { rs.done <- rs.hub.Run(ctx) }()

	upgrader := websocket.Upgrader{}
	rs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.URL.Query().Get("account"), 10, 64)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewConn(rs.hub, ws, model.RelayChannel(r.URL.Query().Get("channel")), model.AccountID(id)).Serve(r.Context())
	}))

	t.Cleanup(func() {
		rs.stop(t)
		rs.server.Close()
	})
	return rs
}

func (rs *relayServer) stop(t *testing.T) {
	if rs.cancel == nil {
		return
	}
	rs.cancel()
	rs.cancel = nil
	require.NoError(t, <-rs.done)
}

func (rs *relayServer) dial(t *testing.T, channel model.RelayChannel, accountID model.AccountID) *websocket.Conn {
	before := rs.hub.Connections(channel, accountID)
	url := "ws" + strings.TrimPrefix(rs.server.URL, "http") + "/?channel=" + string(channel) + "&account=" + strconv.FormatInt(int64(accountID), 10)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	require.Eventually(t, func() bool {
		return rs.hub.Connections(channel, accountID) == before+1
	}, 5*time.Second, 10*time.Millisecond)
	return ws
}

type frame struct {
	Type    string          `json:"type"`
	Message *model.Envelope `json:"message"`
	Error   string          `json:"error"`
}

func readFrame(t *testing.T, ws *websocket.Conn) *frame {
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	f := &frame{}
	require.NoError(t, json.Unmarshal(data, f))
	return f
}

func TestConnChat(t *testing.T) {
	assert := assert.New(t)
	rs := newRelayServer(t)

	alice := rs.dial(t, model.RelayChannelChat, 1)
	bob := rs.dial(t, model.RelayChannelChat, 2)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"recipientId":2,"payload":{"text":"hi bob"}}`)))

	received := readFrame(t, bob)
	assert.Equal("message", received.Type)
	require.NotNil(t, received.Message)
	assert.Equal(model.AccountID(1), received.Message.SenderID)
	assert.Equal(model.AccountID(2), received.Message.RecipientID)
	assert.JSONEq(`{"text":"hi bob"}`, string(received.Message.Payload))
	assert.True(testTime.Equal(received.Message.Timestamp))

	echo := readFrame(t, alice)
	require.NotNil(t, echo.Message)
	assert.Equal(received.Message.ID, echo.Message.ID)

	cases := []struct {
		name  string
		frame string
	}{
		{"Not JSON", `hello`},
		{"Missing recipient", `{"payload":{"text":"hi"}}`},
		{"Missing payload", `{"recipientId":2}`},
		{"Unknown field", `{"recipientId":2,"payload":{"text":"hi"},"sender":9}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(tc.frame)))
			reply := readFrame(t, alice)
			assert.Equal("error", reply.Type)
			assert.NotEmpty(reply.Error)
		})
	}
}

func TestConnNotifications(t *testing.T) {
	rs := newRelayServer(t)
	author := rs.dial(t, model.RelayChannelNotifications, 5)

	// frames from a notification connection are ignored
	require.NoError(t, author.WriteMessage(websocket.TextMessage, []byte(`{"recipientId":6,"payload":{"text":"hi"}}`)))

	require.NoError(t, rs.hub.Notify(context.Background(), 5, &model.Notification{Type: model.NotificationPostCommented, ActorID: 8, PostID: 3, Comment: 4}))
	received := readFrame(t, author)
	require.NotNil(t, received.Message)
	assert.Equal(t, model.RelayChannelNotifications, received.Message.Channel)
	assert.JSONEq(t, `{"type":"post_commented","actorId":8,"postId":3,"commentId":4}`, string(received.Message.Payload))
}

func TestConnClosedOnShutdown(t *testing.T) {
	rs := newRelayServer(t)
	ws := rs.dial(t, model.RelayChannelChat, 1)

	rs.stop(t)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	require.Eventually(t, func() bool {
		return rs.hub.Connections(model.RelayChannelChat, 1) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConnDisconnect(t *testing.T) {
	rs := newRelayServer(t)
	ws := rs.dial(t, model.RelayChannelChat, 1)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	ws.Close()

	require.Eventually(t, func() bool {
		return rs.hub.Connections(model.RelayChannelChat, 1) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

type fakeStatusChecker struct {
	mu     sync.Mutex
	errors map[model.AccountID]error
}

func (c *fakeStatusChecker) set(id model.AccountID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errors == nil {
		c.errors = map[model.AccountID]error{}
	}
	c.errors[id] = err
}

func (c *fakeStatusChecker) CheckStatus(ctx context.Context, id model.AccountID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors[id]
}

func TestConnBannedSender(t *testing.T) {
	assert := assert.New(t)
	checker := &fakeStatusChecker{}
	rs := newRelayServer(t, func(h *Hub) { h.UseStatusChecker(checker) })

	troll := rs.dial(t, model.RelayChannelChat, 1)
	bob := rs.dial(t, model.RelayChannelChat, 2)

	require.NoError(t, troll.WriteMessage(websocket.TextMessage, []byte(`{"recipientId":2,"payload":{"text":"hello"}}`)))
	require.NotNil(t, readFrame(t, bob).Message)
	require.NotNil(t, readFrame(t, troll).Message)

	checker.set(1, model.ErrorAccountBanned)
	require.NoError(t, troll.WriteMessage(websocket.TextMessage, []byte(`{"recipientId":2,"payload":{"text":"still here"}}`)))

	refused := readFrame(t, troll)
	assert.Equal("error", refused.Type)
	assert.Equal(model.ErrorAccountBanned.Error(), refused.Error)

	_, _, err := troll.ReadMessage()
	assert.True(websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	require.Eventually(t, func() bool {
		return rs.hub.Connections(model.RelayChannelChat, 1) == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, data, err := bob.ReadMessage()
	var netErr net.Error
	assert.True(errors.As(err, &netErr) && netErr.Timeout(), "bob received %s", data)
}

func TestConnStatusUnavailable(t *testing.T) {
	checker := &fakeStatusChecker{}
	checker.set(1, model.ErrorUnavailable)
	rs := newRelayServer(t, func(h *Hub) { h.UseStatusChecker(checker) })

	alice := rs.dial(t, model.RelayChannelChat, 1)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"recipientId":2,"payload":{"text":"hi"}}`)))

	refused := readFrame(t, alice)
	assert.Equal(t, "error", refused.Type)
	assert.Equal(t, model.ErrorUnavailable.Error(), refused.Error)

	// the connection stays open once the store answers again
	checker.set(1, nil)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"recipientId":2,"payload":{"text":"hi again"}}`)))
	echo := readFrame(t, alice)
	require.NotNil(t, echo.Message)
	assert.JSONEq(t, `{"text":"hi again"}`, string(echo.Message.Payload))
}
