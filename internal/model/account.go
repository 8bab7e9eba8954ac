package model

import (
	"strings"
	"time"
)

type AccountID int64

type AccountStatus string

const (
	AccountStatusPendingEmailConfirmation AccountStatus = "pending_email_confirmation"
	AccountStatusActive                   AccountStatus = "active"
	AccountStatusBanned                   AccountStatus = "banned"
	AccountStatusAdmin                    AccountStatus = "admin"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusPendingEmailConfirmation, AccountStatusActive, AccountStatusBanned, AccountStatusAdmin:
		return true
	}
	return false
}

type Account struct {
	ID           AccountID     `db:"id" json:"id"`
	Email        string        `db:"email" json:"email"`
	PasswordHash string        `db:"password_hash" json:"-"`
	Confirmed    bool          `db:"confirmed" json:"confirmed"`
	Status       AccountStatus `db:"status" json:"status"`
	CreatedAt    time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt    *time.Time    `db:"updated_at" json:"updatedAt,omitempty"`
	LastLoginAt  *time.Time    `db:"last_login_at" json:"-"`
	Profile      *Profile      `db:"-" json:"profile,omitempty"`
}

func (a *Account) IsAdmin() bool {
	return a.Status == AccountStatusAdmin
}

func (a *Account) IsBanned() bool {
	return a.Status == AccountStatusBanned
}

type Profile struct {
	AccountID AccountID  `db:"account_id" json:"accountId"`
	Username  string     `db:"username" json:"username"`
	FullName  string     `db:"full_name" json:"fullName"`
	BirthDate *time.Time `db:"birth_date" json:"birthDate,omitempty"`
	Bio       string     `db:"bio" json:"bio"`
	Avatar    string     `db:"avatar" json:"avatar"`
}

type RegisterParams struct {
	TemporaryKey string     `json:"temporaryKey"`
	Email        string     `json:"email"`
	Password     string     `json:"password"`
	Username     string     `json:"username"`
	FullName     string     `json:"fullName"`
	BirthDate    *time.Time `json:"birthDate"`
	Bio          string     `json:"bio"`
}

type UpdateProfileParams struct {
	FullName  string     `json:"fullName"`
	BirthDate *time.Time `json:"birthDate"`
	Bio       string     `json:"bio"`
}

// Identity is the caller resolved from a session token and re-checked against the store.
type Identity struct {
	AccountID AccountID
	Status    AccountStatus
}

type Appeal struct {
	ID        int64     `db:"id" json:"id"`
	AccountID AccountID `db:"account_id" json:"accountId"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
