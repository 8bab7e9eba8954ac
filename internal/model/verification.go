package model

import "time"

type VerificationPurpose string

const (
	PurposeRegistration      VerificationPurpose = "registration"
	PurposePasswordReset     VerificationPurpose = "password_reset"
	PurposeEmailConfirmation VerificationPurpose = "email_confirmation"
)

func (p VerificationPurpose) Valid() bool {
	switch p {
	case PurposeRegistration, PurposePasswordReset, PurposeEmailConfirmation:
		return true
	}
	return false
}

type VerificationStatus string

const (
	VerificationStatusPending   VerificationStatus = "pending"
	VerificationStatusVerified  VerificationStatus = "verified"
	VerificationStatusExpired   VerificationStatus = "expired"
	VerificationStatusLocked    VerificationStatus = "locked"
	VerificationStatusCompleted VerificationStatus = "completed"
)

type EmailVerification struct {
	ID           int64               `db:"id" json:"-"`
	Email        string              `db:"email" json:"email"`
	Purpose      VerificationPurpose `db:"purpose" json:"purpose"`
	TemporaryKey string              `db:"temporary_key" json:"temporaryKey"`
	CodeHash     string              `db:"code_hash" json:"-"`
	Status       VerificationStatus  `db:"status" json:"status"`
	Attempts     int                 `db:"attempts" json:"attempts"`
	Resends      int                 `db:"resends" json:"resends"`
	CreatedAt    time.Time           `db:"created_at" json:"createdAt"`
	ExpiresAt    time.Time           `db:"expires_at" json:"expiresAt"`
	VerifiedAt   *time.Time          `db:"verified_at" json:"verifiedAt,omitempty"`
	CompletedAt  *time.Time          `db:"completed_at" json:"completedAt,omitempty"`
}

func (v *EmailVerification) ExpiredAt(now time.Time) bool {
	return now.After(v.ExpiresAt)
}
