package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/internal/relay"
)

// NewUpgrader accepts websocket handshakes from the allowed origins; "*"
// allows any.
func NewUpgrader(origins []string) *websocket.Upgrader {
	allowed := map[string]bool{}
	for _, origin := range origins {
		allowed[strings.TrimRight(origin, "/")] = true
	}

	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed["*"] {
				return true
			}
			if allowed[origin] {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// Relay upgrades an authenticated request and attaches the connection to
// channel until the client goes away.
func Relay(hub *relay.Hub, channel model.RelayChannel, upgrader *websocket.Upgrader) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity, err := requireIdentity(c)
		if err != nil {
			return err
		}

		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// the upgrader has already replied
			log.Warnf("upgrading %s connection for account %d: %+v", channel, identity.AccountID, err)
			return nil
		}

		relay.NewConn(hub, ws, channel, identity.AccountID).Serve(c.Request().Context())
		return nil
	}
}
