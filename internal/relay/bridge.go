package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"github.com/redis/go-redis/v9"

	"uk.co.dudmesh.quill/internal/model"
)

const BridgeChannel = "quill:relay"

type bridgeMessage struct {
	Origin   string          `json:"origin"`
	Envelope *model.Envelope `json:"envelope"`
}

// Bridge shares envelopes between instances over redis pub/sub. Each
// instance delivers envelopes published by the others to its own
// connections.
type Bridge struct {
	client *redis.Client
	hub    *Hub
	origin string
}

func NewBridge(client *redis.Client, hub *Hub) *Bridge {
	b := &Bridge{
		client: client,
		hub:    hub,
		origin: cuid2.Generate(),
	}
	hub.UsePublisher(b)
	return b
}

func (b *Bridge) Publish(ctx context.Context, envelope *model.Envelope) error {
	data, err := b.encode(envelope)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, BridgeChannel, data).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", BridgeChannel, err)
	}
	return nil
}

// Run subscribes to the bridge channel until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, BridgeChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", BridgeChannel, err)
	}
	log.Infof("relay bridge subscribed to %s as %s", BridgeChannel, b.origin)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := b.handle(ctx, []byte(msg.Payload)); err != nil {
				log.Warnf("relay bridge: %+v", err)
			}
		}
	}
}

func (b *Bridge) encode(envelope *model.Envelope) ([]byte, error) {
	data, err := json.Marshal(&bridgeMessage{Origin: b.origin, Envelope: envelope})
	if err != nil {
		return nil, fmt.Errorf("marshalling envelope: %w", err)
	}
	return data, nil
}

// handle dispatches an envelope from another instance locally; our own
// envelopes were delivered when they were sent.
func (b *Bridge) handle(ctx context.Context, data []byte) error {
	msg := &bridgeMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("decoding envelope: %w", err)
	}
	if msg.Origin == b.origin {
		return nil
	}
	if msg.Envelope == nil || !msg.Envelope.Channel.Valid() || msg.Envelope.RecipientID <= 0 {
		return fmt.Errorf("%w: malformed bridged envelope", model.ErrorInvalidPayload)
	}
	return b.hub.Dispatch(ctx, msg.Envelope)
}
