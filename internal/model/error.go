package model

import "errors"

var ErrorNotFound = errors.New("not found")
var ErrorAccountNotFound = errors.New("account not found")
var ErrorPostNotFound = errors.New("post not found")
var ErrorCommentNotFound = errors.New("comment not found")
var ErrorVerificationNotFound = errors.New("verification not found")

var ErrorConflict = errors.New("conflict")
var ErrorDuplicateEmail = errors.New("email already registered")
var ErrorDuplicateUsername = errors.New("username already taken")
var ErrorAlreadyCompleted = errors.New("verification already completed")

var ErrorValidation = errors.New("validation failed")
var ErrorInvalidCode = errors.New("invalid verification code")
var ErrorNotVerified = errors.New("verification not verified")
var ErrorInvalidPayload = errors.New("invalid payload")
var ErrorInvalidTransition = errors.New("invalid account status transition")

var ErrorUnauthorized = errors.New("unauthorized")
var ErrorInvalidUsernameOrPassword = errors.New("invalid username or password")
var ErrorInvalidToken = errors.New("invalid token")

var ErrorForbidden = errors.New("forbidden")
var ErrorAccountBanned = errors.New("account banned")

var ErrorResendTooSoon = errors.New("verification code requested too soon")
var ErrorResendLimitExceeded = errors.New("verification resend limit exceeded")
var ErrorTooManyAttempts = errors.New("too many verification attempts")

var ErrorExpired = errors.New("verification expired")
var ErrorLocked = errors.New("verification locked")

// ErrorUnavailable means a dependency (usually the store) could not answer.
var ErrorUnavailable = errors.New("service unavailable")

var ErrorUnsupportedMediaType = errors.New("unsupported media type")
var ErrorPayloadTooLarge = errors.New("payload too large")

// ValidationError carries field messages and matches ErrorValidation.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrorValidation
}
