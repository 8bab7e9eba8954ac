package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"

	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/pkg/message"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// Conn is a websocket connection subscribed to one relay channel.
type Conn struct {
	id        string
	accountID model.AccountID
	channel   model.RelayChannel
	ws        *websocket.Conn
	hub       *Hub
	send      chan []byte
	done      chan struct{}

	closeOnce   sync.Once
	closed      chan struct{}
	closeCode   int
	closeReason string
}

func NewConn(hub *Hub, ws *websocket.Conn, channel model.RelayChannel, accountID model.AccountID) *Conn {
	return &Conn{
		id:        cuid2.Generate(),
		accountID: accountID,
		channel:   channel,
		ws:        ws,
		hub:       hub,
		send:      make(chan []byte, hub.config.BufferSize),
		done:      make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) AccountID() model.AccountID {
	return c.accountID
}

// Deliver queues data for the write pump, dropping it when the buffer is full.
func (c *Conn) Deliver(data []byte) bool {
	select {
	case <-c.done:
		return false
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close asks the write pump to flush queued frames, send a close frame with
// code and hang up.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closed)
	})
}

// Serve subscribes the connection and pumps frames until the client goes
// away or ctx is cancelled.
func (c *Conn) Serve(ctx context.Context) {
	unsubscribe := c.hub.Subscribe(c.channel, c)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.hub.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()

	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Conn) readPump(ctx context.Context) {
	defer close(c.done)

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warnf("relay connection %s (account %d): %+v", c.id, c.accountID, err)
			}
			return
		}

		if c.channel != model.RelayChannelChat {
			// notification connections only listen
			continue
		}
		c.receive(ctx, data)
	}
}

func (c *Conn) receive(ctx context.Context, data []byte) {
	in, err := message.Parse(data)
	if err != nil {
		c.Deliver(message.EncodeError(err))
		return
	}

	if err := c.hub.checkStatus(ctx, c.accountID); err != nil {
		c.Deliver(message.EncodeError(err))
		if errors.Is(err, model.ErrorAccountBanned) || errors.Is(err, model.ErrorInvalidToken) {
			c.Close(websocket.ClosePolicyViolation, err.Error())
		}
		return
	}

	_, err = c.hub.Send(ctx, model.RelayChannelChat, c.accountID, model.AccountID(in.RecipientID), in.Payload)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.Deliver(message.EncodeError(err))
	}
}

func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-c.closed:
			c.flush()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeReason))
			return
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes the frames already queued, such as the error explaining a
// close.
func (c *Conn) flush() {
	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
