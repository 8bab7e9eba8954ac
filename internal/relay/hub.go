// Package relay fans realtime messages out to the live connections of their
// recipients. Nothing is queued for offline recipients.
package relay

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/websocket"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"golang.org/x/sync/errgroup"

	"uk.co.dudmesh.quill/internal/metrics"
	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/pkg/message"
)

var ErrorStopped = errors.New("relay stopped")

type Config struct {
	Shards     int
	BufferSize int
}

var DefaultConfig = Config{
	Shards:     16,
	BufferSize: 256,
}

// Subscriber is one live connection. Deliver must not block; it reports
// false when the message was dropped. Close ends the connection with a
// websocket close code; it must not block either.
type Subscriber interface {
	ID() string
	AccountID() model.AccountID
	Deliver(data []byte) bool
	Close(code int, reason string)
}

// StatusChecker reports whether an account may still send. It returns
// model.ErrorAccountBanned once the account has been banned.
type StatusChecker interface {
	CheckStatus(ctx context.Context, id model.AccountID) error
}

// Publisher forwards envelopes to other instances.
type Publisher interface {
	Publish(ctx context.Context, envelope *model.Envelope) error
}

type Option func(*Hub)

func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

type subscribers map[model.AccountID]map[string]Subscriber

type Hub struct {
	config    Config
	mu        sync.RWMutex
	channels  map[model.RelayChannel]subscribers
	shards    []chan *model.Envelope
	publisher Publisher
	checker   StatusChecker
	now       func() time.Time
	stopped   chan struct{}
}

func NewHub(config Config, opts ...Option) *Hub {
	if config.Shards <= 0 {
		config.Shards = DefaultConfig.Shards
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig.BufferSize
	}

	h := &Hub{
		config: config,
		channels: map[model.RelayChannel]subscribers{
			model.RelayChannelChat:          {},
			model.RelayChannelNotifications: {},
		},
		shards:  make([]chan *model.Envelope, config.Shards),
		now:     time.Now,
		stopped: make(chan struct{}),
	}
	for i := range h.shards {
		h.shards[i] = make(chan *model.Envelope, config.BufferSize)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// UsePublisher makes Send forward every envelope through p as well as
// delivering it locally. Call before Run.
func (h *Hub) UsePublisher(p Publisher) {
	h.publisher = p
}

// UseStatusChecker makes chat connections re-check their account before
// every inbound frame. Call before Run.
func (h *Hub) UseStatusChecker(c StatusChecker) {
	h.checker = c
}

func (h *Hub) checkStatus(ctx context.Context, id model.AccountID) error {
	if h.checker == nil {
		return nil
	}
	return h.checker.CheckStatus(ctx, id)
}

// Run dispatches queued envelopes until ctx is cancelled, then closes the
// live connections. Each shard is drained by one goroutine so envelopes for
// a recipient keep their order.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.stopped)

	g, ctx := errgroup.WithContext(ctx)
	for i := range h.shards {
		shard := h.shards[i]
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case env := <-shard:
					h.deliver(env)
				}
			}
		})
	}
	log.Infof("relay running with %d shards", len(h.shards))
	return g.Wait()
}

// Subscribe registers a connection on channel and returns the function that
// removes it.
func (h *Hub) Subscribe(channel model.RelayChannel, sub Subscriber) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.channels[channel]
	if !ok {
		subs = subscribers{}
		h.channels[channel] = subs
	}
	if subs[sub.AccountID()] == nil {
		subs[sub.AccountID()] = map[string]Subscriber{}
	}
	subs[sub.AccountID()][sub.ID()] = sub
	metrics.RelayConnections.WithLabelValues(string(channel)).Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(subs[sub.AccountID()], sub.ID())
			if len(subs[sub.AccountID()]) == 0 {
				delete(subs, sub.AccountID())
			}
			metrics.RelayConnections.WithLabelValues(string(channel)).Dec()
		})
	}
}

// Connections counts the live connections of an account on channel.
func (h *Hub) Connections(channel model.RelayChannel, accountID model.AccountID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel][accountID])
}

// Disconnect closes every live connection of an account on this instance and
// returns how many were closed. The connections unsubscribe themselves as
// they shut down.
func (h *Hub) Disconnect(accountID model.AccountID, code int, reason string) int {
	h.mu.RLock()
	var targets []Subscriber
	for _, subs := range h.channels {
		for _, sub := range subs[accountID] {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		sub.Close(code, reason)
	}
	return len(targets)
}

// StatusChanged disconnects an account as soon as it is banned.
func (h *Hub) StatusChanged(ctx context.Context, id model.AccountID, status model.AccountStatus) {
	if status != model.AccountStatusBanned {
		return
	}
	if n := h.Disconnect(id, websocket.ClosePolicyViolation, model.ErrorAccountBanned.Error()); n > 0 {
		log.Infof("closed %d relay connections of banned account %d", n, id)
	}
}

// Send relays payload to the recipient's connections on channel. Chat
// messages are echoed to the sender's other connections too.
func (h *Hub) Send(ctx context.Context, channel model.RelayChannel, senderID, recipientID model.AccountID, payload json.RawMessage) (*model.Envelope, error) {
	if !channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", model.ErrorInvalidPayload, channel)
	}
	if recipientID <= 0 {
		return nil, fmt.Errorf("%w: recipient required", model.ErrorInvalidPayload)
	}
	if message.IsEmpty(payload) || !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload required", model.ErrorInvalidPayload)
	}

	env := &model.Envelope{
		ID:          cuid2.Generate(),
		Channel:     channel,
		SenderID:    senderID,
		RecipientID: recipientID,
		Payload:     payload,
		Timestamp:   h.now().UTC(),
	}

	if err := h.Dispatch(ctx, env); err != nil {
		return nil, err
	}

	if h.publisher != nil {
		if err := h.publisher.Publish(ctx, env); err != nil {
			log.Warnf("publishing relay envelope %s: %+v", env.ID, err)
		}
	}
	return env, nil
}

// Notify sends a notification as the acting account.
func (h *Hub) Notify(ctx context.Context, recipientID model.AccountID, notification *model.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshalling notification: %w", err)
	}
	_, err = h.Send(ctx, model.RelayChannelNotifications, notification.ActorID, recipientID, payload)
	return err
}

// Dispatch queues an envelope for local delivery on its recipient's shard.
func (h *Hub) Dispatch(ctx context.Context, env *model.Envelope) error {
	shard := h.shards[h.shardFor(env.RecipientID)]
	select {
	case shard <- env:
		return nil
	case <-h.stopped:
		return ErrorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) shardFor(recipientID model.AccountID) uint64 {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(recipientID))
	return xxhash.Sum64(key[:]) % uint64(len(h.shards))
}

func (h *Hub) deliver(env *model.Envelope) {
	data, err := message.Encode(env)
	if err != nil {
		log.Errorf("encoding relay envelope %s: %+v", env.ID, err)
		return
	}

	targets := h.targets(env)
	if len(targets) == 0 {
		metrics.RelayMessages.WithLabelValues(string(env.Channel), "undelivered").Inc()
		return
	}
	for _, sub := range targets {
		if sub.Deliver(data) {
			metrics.RelayMessages.WithLabelValues(string(env.Channel), "delivered").Inc()
		} else {
			metrics.RelayMessages.WithLabelValues(string(env.Channel), "dropped").Inc()
			log.Warnf("dropped %s message %s for connection %s: buffer full", env.Channel, env.ID, sub.ID())
		}
	}
}

func (h *Hub) targets(env *model.Envelope) []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.channels[env.Channel]
	targets := make([]Subscriber, 0, len(subs[env.RecipientID]))
	for _, sub := range subs[env.RecipientID] {
		targets = append(targets, sub)
	}
	if env.Channel == model.RelayChannelChat && env.SenderID != env.RecipientID {
		for _, sub := range subs[env.SenderID] {
			targets = append(targets, sub)
		}
	}
	return targets
}
