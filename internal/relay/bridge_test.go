package relay

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uk.co.dudmesh.quill/internal/model"
)

func TestBridgeHandle(t *testing.T) {
	ctx := context.Background()
	hub := startHub(t, DefaultConfig)
	bob := newSubscriber("bob", 2)
	hub.Subscribe(model.RelayChannelChat, bob)

	local := &Bridge{hub: hub, origin: "local"}
	remote := &Bridge{origin: "remote"}

	env := &model.Envelope{
		ID:          "env-1",
		Channel:     model.RelayChannelChat,
		SenderID:    1,
		RecipientID: 2,
		Payload:     json.RawMessage(`{"text":"from afar"}`),
		Timestamp:   testTime,
	}

	own, err := local.encode(env)
	require.NoError(t, err)
	require.NoError(t, local.handle(ctx, own))

	foreign, err := remote.encode(env)
	require.NoError(t, err)
	require.NoError(t, local.handle(ctx, foreign))

	require.Eventually(t, func() bool { return bob.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "env-1", bob.envelopes(t)[0].ID)

	assert.Error(t, local.handle(ctx, []byte(`not json`)))
	assert.ErrorIs(t, local.handle(ctx, []byte(`{"origin":"remote"}`)), model.ErrorInvalidPayload)
	assert.ErrorIs(t, local.handle(ctx, []byte(`{"origin":"remote","envelope":{"channel":"gossip","recipientId":2}}`)), model.ErrorInvalidPayload)
}

// Needs a redis server, e.g. REDIS_URL=redis://localhost:6379/0
func TestBridgeRedis(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	newInstance := func() (*Hub, *redis.Client) {
		client := redis.NewClient(opts)
		hub := startHub(t, DefaultConfig)
		bridge := NewBridge(client, hub)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() { done <- bridge.Run(ctx) }()
		t.Cleanup(func() {
			cancel()
			assert.NoError(t, <-done)
			client.Close()
		})
		return hub, client
	}

	first, _ := newInstance()
	second, client := newInstance()

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(context.Background(), BridgeChannel).Result()
		return err == nil && n[BridgeChannel] >= 2
	}, 5*time.Second, 50*time.Millisecond)

	sender := newSubscriber("sender", 1)
	recipient := newSubscriber("recipient", 2)
	first.Subscribe(model.RelayChannelChat, sender)
	second.Subscribe(model.RelayChannelChat, recipient)

	_, err = first.Send(context.Background(), model.RelayChannelChat, 1, 2, json.RawMessage(`{"text":"across instances"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return recipient.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	// the sender's echo is delivered once, locally
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, sender.count())
}
