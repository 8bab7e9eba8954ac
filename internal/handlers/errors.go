package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.quill/internal/model"
)

var statusCodes = []struct {
	status int
	errors []error
}{
	{http.StatusNotFound, []error{model.ErrorNotFound, model.ErrorAccountNotFound, model.ErrorPostNotFound, model.ErrorCommentNotFound, model.ErrorVerificationNotFound}},
	{http.StatusConflict, []error{model.ErrorConflict, model.ErrorDuplicateEmail, model.ErrorDuplicateUsername, model.ErrorAlreadyCompleted, model.ErrorInvalidTransition}},
	{http.StatusBadRequest, []error{model.ErrorValidation, model.ErrorInvalidCode, model.ErrorNotVerified, model.ErrorInvalidPayload}},
	{http.StatusUnauthorized, []error{model.ErrorUnauthorized, model.ErrorInvalidUsernameOrPassword, model.ErrorInvalidToken}},
	{http.StatusForbidden, []error{model.ErrorForbidden, model.ErrorAccountBanned}},
	{http.StatusTooManyRequests, []error{model.ErrorResendTooSoon, model.ErrorResendLimitExceeded, model.ErrorTooManyAttempts}},
	{http.StatusGone, []error{model.ErrorExpired}},
	{http.StatusLocked, []error{model.ErrorLocked}},
	{http.StatusUnsupportedMediaType, []error{model.ErrorUnsupportedMediaType}},
	{http.StatusRequestEntityTooLarge, []error{model.ErrorPayloadTooLarge}},
	{http.StatusServiceUnavailable, []error{model.ErrorUnavailable}},
}

// StatusCode maps an error from the services to its HTTP status.
func StatusCode(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	for _, sc := range statusCodes {
		for _, target := range sc.errors {
			if errors.Is(err, target) {
				return sc.status
			}
		}
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
}

// ErrorHandler renders errors as {"error": "..."} with the mapped status.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := StatusCode(err)
	message := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		message = fmt.Sprint(he.Message)
	}
	if status >= http.StatusInternalServerError {
		log.Errorf("%s %s: %+v", c.Request().Method, c.Request().URL.Path, err)
		if status == http.StatusInternalServerError {
			message = http.StatusText(status)
		}
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, &errorResponse{Error: message})
	}
	if err != nil {
		log.Errorf("writing error response: %+v", err)
	}
}
