package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/golang-jwt/jwt"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.quill/internal/metrics"
	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/internal/store"
	"uk.co.dudmesh.quill/pkg/crypt"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

type Config struct {
	Issuer             string
	TokenTTL           time.Duration
	RegistrationStatus model.AccountStatus
	Password           crypt.PasswordParams
}

var DefaultConfig = Config{
	Issuer:             "quill",
	TokenTTL:           24 * time.Hour,
	RegistrationStatus: model.AccountStatusActive,
	Password:           crypt.DefaultPasswordParams,
}

// Verifier consumes verified email verifications inside a store transaction.
type Verifier interface {
	Complete(ctx context.Context, q *store.Queries, key string) (*model.EmailVerification, error)
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// StatusListener hears about every committed account status change.
type StatusListener interface {
	StatusChanged(ctx context.Context, id model.AccountID, status model.AccountStatus)
}

func WithStatusListener(l StatusListener) Option {
	return func(s *service) {
		s.listener = l
	}
}

type service struct {
	config    Config
	store     *store.Store
	verifier  Verifier
	signer    *Signer
	listener  StatusListener
	now       func() time.Time
	dummyHash string
}

func New(config Config, store *store.Store, verifier Verifier, signer *Signer, opts ...Option) (*service, error) {
	switch config.RegistrationStatus {
	case model.AccountStatusActive, model.AccountStatusPendingEmailConfirmation:
	default:
		return nil, fmt.Errorf("unsupported registration status: %s", config.RegistrationStatus)
	}

	// unknown emails are checked against this so both login paths cost the same
	dummyHash, err := crypt.HashPassword(strconv.FormatInt(time.Now().UnixNano(), 10), config.Password)
	if err != nil {
		return nil, fmt.Errorf("creating dummy hash: %w", err)
	}

	s := &service{
		config:    config,
		store:     store,
		verifier:  verifier,
		signer:    signer,
		now:       time.Now,
		dummyHash: dummyHash,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) Signer() *Signer {
	return s.signer
}

// Register creates an account and its profile from a verified registration
// verification, consuming the verification in the same transaction.
func (s *service) Register(ctx context.Context, params *model.RegisterParams) (*model.Account, error) {
	params.Email = model.NormalizeEmail(params.Email)
	params.Username = strings.ToLower(strings.TrimSpace(params.Username))
	if err := s.validateRegistration(params); err != nil {
		return nil, err
	}

	passwordHash, err := crypt.HashPassword(params.Password, s.config.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := s.now().UTC()
	account := &model.Account{
		Email:        params.Email,
		PasswordHash: passwordHash,
		Confirmed:    s.config.RegistrationStatus == model.AccountStatusActive,
		Status:       s.config.RegistrationStatus,
		CreatedAt:    now,
	}
	profile := &model.Profile{
		Username:  params.Username,
		FullName:  strings.TrimSpace(params.FullName),
		BirthDate: params.BirthDate,
		Bio:       params.Bio,
	}

	err = s.store.InTx(ctx, func(q *store.Queries) error {
		if err := s.usable(ctx, q, params.TemporaryKey, model.PurposeRegistration, params.Email); err != nil {
			return err
		}
		if err := q.CreateAccount(ctx, account); err != nil {
			return err
		}
		profile.AccountID = account.ID
		if err := q.CreateProfile(ctx, profile); err != nil {
			return err
		}
		_, err := s.verifier.Complete(ctx, q, params.TemporaryKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Infof("registered account %d (%s)", account.ID, profile.Username)
	account.Profile = profile
	return account, nil
}

func (s *service) validateRegistration(params *model.RegisterParams) error {
	err := validation.ValidateStruct(params,
		validation.Field(&params.TemporaryKey, validation.Required),
		validation.Field(&params.Email, validation.Required, is.Email),
		validation.Field(&params.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(&params.Username, validation.Required, validation.Length(3, 30), validation.Match(usernamePattern)),
		validation.Field(&params.FullName, validation.Length(0, 100)),
		validation.Field(&params.Bio, validation.Length(0, 500)),
	)
	if err != nil {
		return &model.ValidationError{Err: err}
	}
	return s.validateBirthDate(params.BirthDate)
}

func (s *service) validateBirthDate(birthDate *time.Time) error {
	if birthDate != nil && birthDate.After(s.now()) {
		return &model.ValidationError{Err: errors.New("birthDate: must be in the past")}
	}
	return nil
}

// usable checks that the verification behind key was issued for purpose and
// email and is ready to be completed.
func (s *service) usable(ctx context.Context, q *store.Queries, key string, purpose model.VerificationPurpose, email string) error {
	v, err := q.VerificationByKey(ctx, key)
	if err != nil {
		return err
	}
	if v.Purpose != purpose || (email != "" && v.Email != email) {
		return model.ErrorNotVerified
	}
	switch v.Status {
	case model.VerificationStatusVerified:
		return nil
	case model.VerificationStatusCompleted:
		return model.ErrorAlreadyCompleted
	}
	return model.ErrorNotVerified
}

// Login checks credentials and issues a session token.
func (s *service) Login(ctx context.Context, email string, password string) (string, *model.Account, error) {
	token, account, err := s.login(ctx, model.NormalizeEmail(email), password)
	metrics.Logins.WithLabelValues(loginOutcome(err)).Inc()
	return token, account, err
}

func (s *service) login(ctx context.Context, email string, password string) (string, *model.Account, error) {
	q := s.store.Queries()

	account, err := q.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrorAccountNotFound) {
			crypt.VerifyPassword(password, s.dummyHash)
			return "", nil, model.ErrorInvalidUsernameOrPassword
		}
		return "", nil, err
	}

	ok, err := crypt.VerifyPassword(password, account.PasswordHash)
	if err != nil {
		return "", nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return "", nil, model.ErrorInvalidUsernameOrPassword
	}
	if account.IsBanned() {
		return "", nil, model.ErrorAccountBanned
	}

	now := s.now().UTC()
	token, err := s.signer.Sign(&Claims{
		Status: account.Status,
		StandardClaims: jwt.StandardClaims{
			Subject:   strconv.FormatInt(int64(account.ID), 10),
			Issuer:    s.config.Issuer,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.config.TokenTTL).Unix(),
		},
	})
	if err != nil {
		return "", nil, err
	}

	if err := q.TouchLogin(ctx, account.ID, now); err != nil {
		log.Warnf("recording login for account %d: %+v", account.ID, err)
	}

	account.Profile, err = q.ProfileByAccount(ctx, account.ID)
	if err != nil && !errors.Is(err, model.ErrorNotFound) {
		return "", nil, err
	}
	return token, account, nil
}

// Authenticate resolves a session token to the caller. The account is
// reloaded so that a status change takes effect on the next request rather
// than when the token expires. When the store cannot answer, the identity
// claimed by the token is returned together with an ErrorUnavailable error.
func (s *service) Authenticate(ctx context.Context, token string) (*model.Identity, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return nil, err
	}

	if !claims.VerifyExpiresAt(s.now().Unix(), true) {
		return nil, fmt.Errorf("%w: token expired", model.ErrorInvalidToken)
	}
	if !claims.VerifyIssuer(s.config.Issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer", model.ErrorInvalidToken)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", model.ErrorInvalidToken)
	}

	account, err := s.store.Queries().AccountByID(ctx, model.AccountID(id))
	if err != nil {
		if errors.Is(err, model.ErrorAccountNotFound) {
			return nil, fmt.Errorf("%w: account no longer exists", model.ErrorInvalidToken)
		}
		claimed := &model.Identity{AccountID: model.AccountID(id), Status: claims.Status}
		return claimed, fmt.Errorf("%w: checking account status: %v", model.ErrorUnavailable, err)
	}

	return &model.Identity{
		AccountID: account.ID,
		Status:    account.Status,
	}, nil
}

// CheckStatus reloads an account that is already connected and reports
// ErrorAccountBanned once it has been banned.
func (s *service) CheckStatus(ctx context.Context, id model.AccountID) error {
	account, err := s.store.Queries().AccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrorAccountNotFound) {
			return fmt.Errorf("%w: account no longer exists", model.ErrorInvalidToken)
		}
		return fmt.Errorf("%w: checking account status: %v", model.ErrorUnavailable, err)
	}
	if account.Status == model.AccountStatusBanned {
		return model.ErrorAccountBanned
	}
	return nil
}

// ResetPassword sets a new password from a verified password_reset verification.
func (s *service) ResetPassword(ctx context.Context, key string, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	passwordHash, err := crypt.HashPassword(password, s.config.Password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	return s.store.InTx(ctx, func(q *store.Queries) error {
		if err := s.usable(ctx, q, key, model.PurposePasswordReset, ""); err != nil {
			return err
		}
		v, err := s.verifier.Complete(ctx, q, key)
		if err != nil {
			return err
		}
		account, err := q.AccountByEmail(ctx, v.Email)
		if err != nil {
			return err
		}
		return q.UpdatePassword(ctx, account.ID, passwordHash, s.now().UTC())
	})
}

// ConfirmEmail activates an account waiting for email confirmation.
func (s *service) ConfirmEmail(ctx context.Context, key string) (*model.Account, error) {
	var account *model.Account
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		if err := s.usable(ctx, q, key, model.PurposeEmailConfirmation, ""); err != nil {
			return err
		}
		v, err := s.verifier.Complete(ctx, q, key)
		if err != nil {
			return err
		}
		account, err = q.AccountByEmail(ctx, v.Email)
		if err != nil {
			return err
		}
		ok, err := q.UpdateAccountStatus(ctx, account.ID, model.AccountStatusPendingEmailConfirmation, model.AccountStatusActive, true, s.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return model.ErrorInvalidTransition
		}
		account.Status = model.AccountStatusActive
		account.Confirmed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *service) ChangePassword(ctx context.Context, id model.AccountID, current string, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	q := s.store.Queries()
	account, err := q.AccountByID(ctx, id)
	if err != nil {
		return err
	}
	ok, err := crypt.VerifyPassword(current, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return model.ErrorInvalidUsernameOrPassword
	}

	passwordHash, err := crypt.HashPassword(password, s.config.Password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	return q.UpdatePassword(ctx, id, passwordHash, s.now().UTC())
}

func validatePassword(password string) error {
	if err := validation.Validate(password, validation.Required, validation.Length(8, 128)); err != nil {
		return &model.ValidationError{Err: fmt.Errorf("password: %w", err)}
	}
	return nil
}

// Account returns the account with its profile.
func (s *service) Account(ctx context.Context, id model.AccountID) (*model.Account, error) {
	q := s.store.Queries()
	account, err := q.AccountByID(ctx, id)
	if err != nil {
		return nil, err
	}
	account.Profile, err = q.ProfileByAccount(ctx, id)
	if err != nil && !errors.Is(err, model.ErrorNotFound) {
		return nil, err
	}
	return account, nil
}

func (s *service) Profile(ctx context.Context, username string) (*model.Profile, error) {
	return s.store.Queries().ProfileByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
}

func (s *service) UpdateProfile(ctx context.Context, id model.AccountID, params *model.UpdateProfileParams) (*model.Profile, error) {
	params.FullName = strings.TrimSpace(params.FullName)
	err := validation.ValidateStruct(params,
		validation.Field(&params.FullName, validation.Length(0, 100)),
		validation.Field(&params.Bio, validation.Length(0, 500)),
	)
	if err != nil {
		return nil, &model.ValidationError{Err: err}
	}
	if err := s.validateBirthDate(params.BirthDate); err != nil {
		return nil, err
	}

	q := s.store.Queries()
	if err := q.UpdateProfile(ctx, id, params); err != nil {
		return nil, err
	}
	return q.ProfileByAccount(ctx, id)
}

// DeleteAccount removes the account; profile, posts, comments and likes
// cascade.
func (s *service) DeleteAccount(ctx context.Context, id model.AccountID) error {
	if err := s.store.Queries().DeleteAccount(ctx, id); err != nil {
		return err
	}
	log.Infof("deleted account %d", id)
	return nil
}

// SubmitAppeal records a banned account's appeal.
func (s *service) SubmitAppeal(ctx context.Context, identity *model.Identity, body string) (*model.Appeal, error) {
	if identity.Status != model.AccountStatusBanned {
		return nil, &model.ValidationError{Err: errors.New("only banned accounts can appeal")}
	}
	body = strings.TrimSpace(body)
	if err := validation.Validate(body, validation.Required, validation.Length(1, 2000)); err != nil {
		return nil, &model.ValidationError{Err: fmt.Errorf("body: %w", err)}
	}

	appeal := &model.Appeal{
		AccountID: identity.AccountID,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Queries().CreateAppeal(ctx, appeal); err != nil {
		return nil, err
	}
	return appeal, nil
}

func (s *service) ListAppeals(ctx context.Context, actor *model.Identity, limit, offset int) ([]model.Appeal, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.Queries().ListAppeals(ctx, clampLimit(limit), max(offset, 0))
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}

func loginOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrorInvalidUsernameOrPassword):
		return "invalid_credentials"
	case errors.Is(err, model.ErrorAccountBanned):
		return "banned"
	}
	return "error"
}
