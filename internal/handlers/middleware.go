package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.quill/internal/model"
)

const identityKey = "identity"

// BannedAllowList holds the routes a banned account may still call, as
// "METHOD /path" using the registered route path.
var BannedAllowList = []string{
	"GET /api/account",
	"POST /api/appeals",
}

type AuthOptions struct {
	// FailOpen admits the identity claimed by the token when the account
	// status cannot be checked. Requests are refused with 503 otherwise.
	FailOpen    bool
	AllowBanned []string
}

// Authenticate resolves the bearer token on every request and stores the
// caller's identity in the context.
func Authenticate(auth Authenticator, opts AuthOptions) echo.MiddlewareFunc {
	allowed := map[string]bool{}
	for _, route := range opts.AllowBanned {
		allowed[route] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c)
			if token == "" {
				return fmt.Errorf("%w: missing bearer token", model.ErrorUnauthorized)
			}

			identity, err := auth.Authenticate(c.Request().Context(), token)
			if err != nil {
				if !errors.Is(err, model.ErrorUnavailable) || !opts.FailOpen || identity == nil {
					return err
				}
				log.Warnf("admitting account %d unchecked: %+v", identity.AccountID, err)
			}

			if identity.Status == model.AccountStatusBanned && !allowed[c.Request().Method+" "+c.Path()] {
				return model.ErrorAccountBanned
			}

			c.Set(identityKey, identity)
			return next(c)
		}
	}
}

// RequireAdmin must follow Authenticate.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity := IdentityFrom(c)
		if identity == nil || identity.Status != model.AccountStatusAdmin {
			return fmt.Errorf("%w: admin only", model.ErrorForbidden)
		}
		return next(c)
	}
}

func IdentityFrom(c echo.Context) *model.Identity {
	identity, _ := c.Get(identityKey).(*model.Identity)
	return identity
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter that browsers use for websockets.
func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return c.QueryParam("access_token")
}

func requireIdentity(c echo.Context) (*model.Identity, error) {
	identity := IdentityFrom(c)
	if identity == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, model.ErrorUnauthorized.Error())
	}
	return identity, nil
}
