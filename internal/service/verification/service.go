package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.quill/internal/metrics"
	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/internal/store"
)

const temporaryKeySize = 32

type Config struct {
	CodeLength     int
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
	MaxResends     int
}

var DefaultConfig = Config{
	CodeLength:     6,
	TTL:            10 * time.Minute,
	MaxAttempts:    5,
	ResendCooldown: time.Minute,
	MaxResends:     3,
}

// Mailer delivers codes out of band.
type Mailer interface {
	SendVerificationCode(ctx context.Context, email string, purpose model.VerificationPurpose, code string, ttl time.Duration) error
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(fn func(length int) (string, error)) Option {
	return func(s *service) {
		if fn != nil {
			s.generateCode = fn
		}
	}
}

type service struct {
	config       Config
	store        *store.Store
	mailer       Mailer
	now          func() time.Time
	generateCode func(length int) (string, error)
}

func New(config Config, store *store.Store, mailer Mailer, opts ...Option) *service {
	s := &service{
		config:       config,
		store:        store,
		mailer:       mailer,
		now:          time.Now,
		generateCode: randomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestCode issues (or reissues) a code for the email and purpose and
// returns the temporary key identifying the verification.
func (s *service) RequestCode(ctx context.Context, email string, purpose model.VerificationPurpose) (string, error) {
	email = model.NormalizeEmail(email)
	err := validation.Errors{
		"email":   validation.Validate(email, validation.Required, is.Email),
		"purpose": validation.Validate(string(purpose), validation.Required, validation.In(toAny(purposes())...)),
	}.Filter()
	if err != nil {
		return "", &model.ValidationError{Err: err}
	}

	now := s.now().UTC()

	var key, code string
	var id int64
	err = s.store.InTx(ctx, func(q *store.Queries) error {
		if err := s.checkPurpose(ctx, q, email, purpose); err != nil {
			return err
		}

		pending, err := q.PendingVerification(ctx, email, purpose)
		if err != nil && !errors.Is(err, model.ErrorVerificationNotFound) {
			return err
		}

		if pending != nil {
			if now.Before(pending.CreatedAt.Add(s.config.ResendCooldown)) {
				return model.ErrorResendTooSoon
			}

			if !pending.ExpiredAt(now) {
				if pending.Resends >= s.config.MaxResends {
					return model.ErrorResendLimitExceeded
				}
				if code, err = s.generateCode(s.config.CodeLength); err != nil {
					return fmt.Errorf("generating code: %w", err)
				}
				ok, err := q.ReissueVerification(ctx, pending.ID, hashCode(code), now, now.Add(s.config.TTL), now.Add(-s.config.ResendCooldown), s.config.MaxResends)
				if err != nil {
					return err
				}
				if !ok {
					// another resend got there first
					return model.ErrorResendTooSoon
				}
				key = pending.TemporaryKey
				id = pending.ID
				return nil
			}

			// superseded by a fresh record below
			if _, err := q.TransitionVerification(ctx, pending.ID, model.VerificationStatusPending, model.VerificationStatusExpired, now); err != nil {
				return err
			}
		}

		if code, err = s.generateCode(s.config.CodeLength); err != nil {
			return fmt.Errorf("generating code: %w", err)
		}
		key, err = model.CreateKey(temporaryKeySize)
		if err != nil {
			return fmt.Errorf("creating temporary key: %w", err)
		}

		v := &model.EmailVerification{
			Email:        email,
			Purpose:      purpose,
			TemporaryKey: key,
			CodeHash:     hashCode(code),
			Status:       model.VerificationStatusPending,
			CreatedAt:    now,
			ExpiresAt:    now.Add(s.config.TTL),
		}
		if err := q.CreateVerification(ctx, v); err != nil {
			return err
		}
		id = v.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrorConflict) {
			// a concurrent request created the pending record first
			err = model.ErrorResendTooSoon
		}
		metrics.VerificationRequests.WithLabelValues(string(purpose), outcome(err)).Inc()
		return "", err
	}
	metrics.VerificationRequests.WithLabelValues(string(purpose), "issued").Inc()

	if err := s.mailer.SendVerificationCode(ctx, email, purpose, code, s.config.TTL); err != nil {
		log.Errorf("delivering verification code to %s: %+v", email, err)
		// nobody holds the code, so retire the record and let a retry start
		// afresh instead of waiting out the cooldown
		if _, terr := s.store.Queries().TransitionVerification(ctx, id, model.VerificationStatusPending, model.VerificationStatusExpired, now); terr != nil {
			log.Errorf("retiring undelivered verification %d: %+v", id, terr)
		}
		return "", fmt.Errorf("delivering verification code: %w", err)
	}

	return key, nil
}

func (s *service) checkPurpose(ctx context.Context, q *store.Queries, email string, purpose model.VerificationPurpose) error {
	switch purpose {
	case model.PurposeRegistration:
		exists, err := q.EmailExists(ctx, email)
		if err != nil {
			return err
		}
		if exists {
			return model.ErrorDuplicateEmail
		}
	case model.PurposePasswordReset:
		if _, err := q.AccountByEmail(ctx, email); err != nil {
			return err
		}
	case model.PurposeEmailConfirmation:
		account, err := q.AccountByEmail(ctx, email)
		if err != nil {
			return err
		}
		if account.Status != model.AccountStatusPendingEmailConfirmation {
			return &model.ValidationError{Err: errors.New("email already confirmed")}
		}
	}
	return nil
}

// ConfirmCode checks a code against the verification identified by key.
func (s *service) ConfirmCode(ctx context.Context, key string, code string) (*model.EmailVerification, error) {
	v, err := s.confirm(ctx, key, strings.TrimSpace(code))
	metrics.VerificationConfirms.WithLabelValues(outcome(err)).Inc()
	return v, err
}

func (s *service) confirm(ctx context.Context, key string, code string) (*model.EmailVerification, error) {
	q := s.store.Queries()
	now := s.now().UTC()

	v, err := q.VerificationByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if v.ExpiredAt(now) {
		if v.Status == model.VerificationStatusPending {
			if _, err := q.TransitionVerification(ctx, v.ID, model.VerificationStatusPending, model.VerificationStatusExpired, now); err != nil {
				return nil, err
			}
		}
		return nil, model.ErrorExpired
	}

	switch v.Status {
	case model.VerificationStatusLocked:
		return nil, model.ErrorLocked
	case model.VerificationStatusExpired:
		return nil, model.ErrorExpired
	case model.VerificationStatusCompleted:
		return nil, model.ErrorAlreadyCompleted
	case model.VerificationStatusVerified:
		if !matches(v.CodeHash, code) {
			return nil, model.ErrorInvalidCode
		}
		return v, nil
	}

	if !matches(v.CodeHash, code) {
		return nil, s.failAttempt(ctx, q, v, now)
	}

	ok, err := q.TransitionVerification(ctx, v.ID, model.VerificationStatusPending, model.VerificationStatusVerified, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.settled(ctx, q, key)
	}

	v.Status = model.VerificationStatusVerified
	v.VerifiedAt = &now
	return v, nil
}

func (s *service) failAttempt(ctx context.Context, q *store.Queries, v *model.EmailVerification, now time.Time) error {
	attempts, ok, err := q.IncrementAttempts(ctx, v.ID, s.config.MaxAttempts)
	if err != nil {
		return err
	}
	if !ok {
		// counter already at the limit or status moved on concurrently
		attempts = s.config.MaxAttempts
		current, err := q.VerificationByKey(ctx, v.TemporaryKey)
		if err != nil {
			return err
		}
		switch current.Status {
		case model.VerificationStatusPending:
		case model.VerificationStatusVerified:
			return model.ErrorInvalidCode
		default:
			return s.statusError(current.Status)
		}
	}

	if attempts >= s.config.MaxAttempts {
		if _, err := q.TransitionVerification(ctx, v.ID, model.VerificationStatusPending, model.VerificationStatusLocked, now); err != nil {
			return err
		}
		log.Warnf("verification for %s (%s) locked after %d attempts", v.Email, v.Purpose, attempts)
		return model.ErrorTooManyAttempts
	}
	return model.ErrorInvalidCode
}

// settled resolves a lost race on the pending record by reporting its current state.
func (s *service) settled(ctx context.Context, q *store.Queries, key string) (*model.EmailVerification, error) {
	current, err := q.VerificationByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if current.Status == model.VerificationStatusVerified {
		return current, nil
	}
	return nil, s.statusError(current.Status)
}

func (s *service) statusError(status model.VerificationStatus) error {
	switch status {
	case model.VerificationStatusLocked:
		return model.ErrorLocked
	case model.VerificationStatusExpired:
		return model.ErrorExpired
	case model.VerificationStatusCompleted:
		return model.ErrorAlreadyCompleted
	}
	return model.ErrorInvalidCode
}

// Complete marks a verified record as used. It runs on q so callers can
// commit it together with the step it authorises.
func (s *service) Complete(ctx context.Context, q *store.Queries, key string) (*model.EmailVerification, error) {
	v, err := q.VerificationByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ok, err := q.TransitionVerification(ctx, v.ID, model.VerificationStatusVerified, model.VerificationStatusCompleted, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		if v.Status == model.VerificationStatusCompleted {
			return nil, model.ErrorAlreadyCompleted
		}
		return nil, model.ErrorNotVerified
	}

	v.Status = model.VerificationStatusCompleted
	v.CompletedAt = &now
	return v, nil
}

func purposes() []model.VerificationPurpose {
	return []model.VerificationPurpose{model.PurposeRegistration, model.PurposePasswordReset, model.PurposeEmailConfirmation}
}

func toAny(ps []model.VerificationPurpose) []interface{} {
	out := make([]interface{}, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

func randomCode(digits int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func matches(codeHash, code string) bool {
	return subtle.ConstantTimeCompare([]byte(codeHash), []byte(hashCode(code))) == 1
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrorResendTooSoon), errors.Is(err, model.ErrorResendLimitExceeded):
		return "rate_limited"
	case errors.Is(err, model.ErrorInvalidCode):
		return "invalid_code"
	case errors.Is(err, model.ErrorTooManyAttempts), errors.Is(err, model.ErrorLocked):
		return "locked"
	case errors.Is(err, model.ErrorExpired):
		return "expired"
	case errors.Is(err, model.ErrorValidation):
		return "invalid"
	}
	return "error"
}
