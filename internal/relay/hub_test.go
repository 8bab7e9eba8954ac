package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"uk.co.dudmesh.quill/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeSubscriber struct {
	id        string
	accountID model.AccountID
	capacity  int

	mu       sync.Mutex
	received [][]byte
	closed   int
}

func newSubscriber(id string, accountID model.AccountID) *fakeSubscriber {
	return &fakeSubscriber{id: id, accountID: accountID}
}

func (s *fakeSubscriber) ID() string                 { return s.id }
func (s *fakeSubscriber) AccountID() model.AccountID { return s.accountID }

func (s *fakeSubscriber) Deliver(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity > 0 && len(s.received) >= s.capacity {
		return false
	}
	s.received = append(s.received, data)
	return true
}

func (s *fakeSubscriber) Close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = code
}

func (s *fakeSubscriber) closeCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func (s *fakeSubscriber) envelopes(t *testing.T) []model.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	envelopes := make([]model.Envelope, 0, len(s.received))
	for _, data := range s.received {
		frame := struct {
			Type    string         `json:"type"`
			Message model.Envelope `json:"message"`
		}{}
		require.NoError(t, json.Unmarshal(data, &frame))
		require.Equal(t, "message", frame.Type)
		envelopes = append(envelopes, frame.Message)
	}
	return envelopes
}

// startHub runs a hub until the test ends.
func startHub(t *testing.T, config Config) *Hub {
	hub := NewHub(config, WithClock(func() time.Time { return testTime }))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- hub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return hub
}

var ignoreID = cmpopts.IgnoreFields(model.Envelope{}, "ID")

func TestSendValidation(t *testing.T) {
	hub := NewHub(DefaultConfig)
	ctx := context.Background()

	cases := []struct {
		name      string
		channel   model.RelayChannel
		recipient model.AccountID
		payload   string
	}{
		{"Unknown channel", model.RelayChannel("gossip"), 2, `{"text":"hi"}`},
		{"No recipient", model.RelayChannelChat, 0, `{"text":"hi"}`},
		{"Negative recipient", model.RelayChannelChat, -4, `{"text":"hi"}`},
		{"Empty payload", model.RelayChannelChat, 2, ``},
		{"Null payload", model.RelayChannelChat, 2, `null`},
		{"Empty object", model.RelayChannelNotifications, 2, `{}`},
		{"Spaced empty object", model.RelayChannelChat, 2, `{ }`},
		{"Spaced empty array", model.RelayChannelChat, 2, `[ ]`},
		{"Not JSON", model.RelayChannelChat, 2, `{"text":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := hub.Send(ctx, tc.channel, 1, tc.recipient, json.RawMessage(tc.payload))
			assert.ErrorIs(t, err, model.ErrorInvalidPayload)
		})
	}
}

func TestDelivery(t *testing.T) {
	ctx := context.Background()
	hub := startHub(t, DefaultConfig)

	aliceChat := newSubscriber("alice-chat", 1)
	bobPhone := newSubscriber("bob-phone", 2)
	bobLaptop := newSubscriber("bob-laptop", 2)
	bobNotifications := newSubscriber("bob-notifications", 2)
	carol := newSubscriber("carol", 3)

	hub.Subscribe(model.RelayChannelChat, aliceChat)
	hub.Subscribe(model.RelayChannelChat, bobPhone)
	hub.Subscribe(model.RelayChannelChat, bobLaptop)
	hub.Subscribe(model.RelayChannelNotifications, bobNotifications)
	hub.Subscribe(model.RelayChannelChat, carol)
	assert.Equal(t, 2, hub.Connections(model.RelayChannelChat, 2))

	_, err := hub.Send(ctx, model.RelayChannelChat, 1, 2, json.RawMessage(`{"text":"hi bob"}`))
	require.NoError(t, err)
	_, err = hub.Send(ctx, model.RelayChannelNotifications, 1, 2, json.RawMessage(`{"type":"post_liked"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return bobPhone.count() == 1 && bobLaptop.count() == 1 && aliceChat.count() == 1 && bobNotifications.count() == 1
	}, 5*time.Second, 10*time.Millisecond)

	chat := model.Envelope{
		Channel:     model.RelayChannelChat,
		SenderID:    1,
		RecipientID: 2,
		Payload:     json.RawMessage(`{"text":"hi bob"}`),
		Timestamp:   testTime,
	}
	for _, sub := range []*fakeSubscriber{bobPhone, bobLaptop, aliceChat} {
		if diff := cmp.Diff([]model.Envelope{chat}, sub.envelopes(t), ignoreID); diff != "" {
			t.Errorf("%s received (-want +got):\n%s", sub.id, diff)
		}
	}

	notification := bobNotifications.envelopes(t)
	require.Len(t, notification, 1)
	assert.Equal(t, model.RelayChannelNotifications, notification[0].Channel)
	assert.Equal(t, 0, carol.count())
}

func TestPerRecipientOrder(t *testing.T) {
	ctx := context.Background()
	hub := startHub(t, Config{Shards: 4, BufferSize: 16})

	const messages = 500
	bob := newSubscriber("bob", 2)
	dave := newSubscriber("dave", 4)
	hub.Subscribe(model.RelayChannelNotifications, bob)
	hub.Subscribe(model.RelayChannelNotifications, dave)

	var wg sync.WaitGroup
	for _, recipient := range []model.AccountID{2, 4} {
		wg.Add(1)
		go func(recipient model.AccountID) {
			defer wg.Done()
			for i := 0; i < messages; i++ {
				_, err := hub.Send(ctx, model.RelayChannelNotifications, 1, recipient, json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
				assert.NoError(t, err)
			}
		}(recipient)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return bob.count() == messages && dave.count() == messages
	}, 10*time.Second, 10*time.Millisecond)

	for _, sub := range []*fakeSubscriber{bob, dave} {
		for i, env := range sub.envelopes(t) {
			assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(env.Payload))
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	ctx := context.Background()
	hub := startHub(t, DefaultConfig)

	slow := newSubscriber("slow", 2)
	slow.capacity = 1
	fast := newSubscriber("fast", 2)
	hub.Subscribe(model.RelayChannelChat, slow)
	hub.Subscribe(model.RelayChannelChat, fast)

	for i := 0; i < 3; i++ {
		_, err := hub.Send(ctx, model.RelayChannelChat, 1, 2, json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return fast.count() == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, slow.count())
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	hub := startHub(t, DefaultConfig)

	gone := newSubscriber("gone", 2)
	stays := newSubscriber("stays", 2)
	unsubscribe := hub.Subscribe(model.RelayChannelChat, gone)
	hub.Subscribe(model.RelayChannelChat, stays)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 1, hub.Connections(model.RelayChannelChat, 2))

	_, err := hub.Send(ctx, model.RelayChannelChat, 1, 2, json.RawMessage(`{"text":"anyone?"}`))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return stays.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, gone.count())

	// nobody listening is not an error
	_, err = hub.Send(ctx, model.RelayChannelChat, 1, 99, json.RawMessage(`{"text":"hello?"}`))
	assert.NoError(t, err)
}

func TestNotify(t *testing.T) {
	hub := startHub(t, DefaultConfig)
	author := newSubscriber("author", 7)
	hub.Subscribe(model.RelayChannelNotifications, author)

	err := hub.Notify(context.Background(), 7, &model.Notification{Type: model.NotificationPostLiked, ActorID: 3, PostID: 11})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return author.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	env := author.envelopes(t)[0]
	assert.Equal(t, model.AccountID(3), env.SenderID)
	assert.JSONEq(t, `{"type":"post_liked","actorId":3,"postId":11}`, string(env.Payload))
}

func TestBackpressure(t *testing.T) {
	hub := NewHub(Config{Shards: 1, BufferSize: 1})

	_, err := hub.Send(context.Background(), model.RelayChannelChat, 1, 2, json.RawMessage(`{"n":1}`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = hub.Send(ctx, model.RelayChannelChat, 1, 2, json.RawMessage(`{"n":2}`))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatusChanged(t *testing.T) {
	assert := assert.New(t)
	hub := NewHub(DefaultConfig)
	ctx := context.Background()

	trollChat := newSubscriber("troll-chat", 2)
	trollNotifications := newSubscriber("troll-notifications", 2)
	bob := newSubscriber("bob", 3)
	hub.Subscribe(model.RelayChannelChat, trollChat)
	hub.Subscribe(model.RelayChannelNotifications, trollNotifications)
	hub.Subscribe(model.RelayChannelChat, bob)

	hub.StatusChanged(ctx, 2, model.AccountStatusAdmin)
	assert.Zero(trollChat.closeCode())

	hub.StatusChanged(ctx, 2, model.AccountStatusBanned)
	assert.Equal(websocket.ClosePolicyViolation, trollChat.closeCode())
	assert.Equal(websocket.ClosePolicyViolation, trollNotifications.closeCode())
	assert.Zero(bob.closeCode())

	assert.Equal(0, hub.Disconnect(99, websocket.CloseNormalClosure, ""))
}
