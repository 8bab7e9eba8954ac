package store

import (
	"context"
	"fmt"
	"time"

	"uk.co.dudmesh.quill/internal/model"
)

const verificationColumns = `id, email, purpose, temporary_key, code_hash, status, attempts, resends,
	created_at, expires_at, verified_at, completed_at`

func (q *Queries) CreateVerification(ctx context.Context, v *model.EmailVerification) error {
	var id int64
	err := q.get(ctx, &id, `insert into email_verification
		(email, purpose, temporary_key, code_hash, status, attempts, resends, created_at, expires_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?) returning id`,
		v.Email, v.Purpose, v.TemporaryKey, v.CodeHash, v.Status, v.Attempts, v.Resends, v.CreatedAt, v.ExpiresAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return fmt.Errorf("inserting verification: %w", model.ErrorConflict)
		}
		return fmt.Errorf("inserting verification: %w", err)
	}
	v.ID = id
	return nil
}

func (q *Queries) VerificationByKey(ctx context.Context, key string) (*model.EmailVerification, error) {
	v := &model.EmailVerification{}
	err := q.get(ctx, v, `select `+verificationColumns+` from email_verification where temporary_key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("fetching verification: %w", notFound(err, model.ErrorVerificationNotFound))
	}
	return v, nil
}

// PendingVerification returns the active record for (email, purpose).
func (q *Queries) PendingVerification(ctx context.Context, email string, purpose model.VerificationPurpose) (*model.EmailVerification, error) {
	v := &model.EmailVerification{}
	err := q.get(ctx, v, `select `+verificationColumns+` from email_verification
		where email = ? and purpose = ? and status = ?`, email, purpose, model.VerificationStatusPending)
	if err != nil {
		return nil, fmt.Errorf("fetching pending verification: %w", notFound(err, model.ErrorVerificationNotFound))
	}
	return v, nil
}

// ReissueVerification replaces the code of a pending record and counts a
// resend. The record must have been issued no later than issuedBefore, which
// keeps concurrent resends inside one cooldown window from both succeeding.
func (q *Queries) ReissueVerification(ctx context.Context, id int64, codeHash string, now, expiresAt, issuedBefore time.Time, maxResends int) (bool, error) {
	rows, err := q.exec(ctx, `update email_verification
		set code_hash = ?, created_at = ?, expires_at = ?, attempts = 0, resends = resends + 1
		where id = ? and status = ? and resends < ? and created_at <= ?`,
		codeHash, now, expiresAt, id, model.VerificationStatusPending, maxResends, issuedBefore)
	if err != nil {
		return false, fmt.Errorf("reissuing verification: %w", err)
	}
	return rows == 1, nil
}

// TransitionVerification moves a record between statuses, guarded on the
// current status. It returns false when the record was not in the from status.
func (q *Queries) TransitionVerification(ctx context.Context, id int64, from, to model.VerificationStatus, now time.Time) (bool, error) {
	query := `update email_verification set status = ? where id = ? and status = ?`
	switch to {
	case model.VerificationStatusVerified:
		query = `update email_verification set status = ?, verified_at = ? where id = ? and status = ?`
	case model.VerificationStatusCompleted:
		query = `update email_verification set status = ?, completed_at = ? where id = ? and status = ?`
	}

	var rows int64
	var err error
	if to == model.VerificationStatusVerified || to == model.VerificationStatusCompleted {
		rows, err = q.exec(ctx, query, to, now, id, from)
	} else {
		rows, err = q.exec(ctx, query, to, id, from)
	}
	if err != nil {
		return false, fmt.Errorf("updating verification status: %w", err)
	}
	return rows == 1, nil
}

// IncrementAttempts atomically counts a failed attempt on a pending record,
// never past maxAttempts. ok is false when no increment happened.
func (q *Queries) IncrementAttempts(ctx context.Context, id int64, maxAttempts int) (attempts int, ok bool, err error) {
	rows, err := q.db.QueryxContext(ctx, q.db.Rebind(`update email_verification
		set attempts = attempts + 1
		where id = ? and status = ? and attempts < ?
		returning attempts`), id, model.VerificationStatusPending, maxAttempts)
	if err != nil {
		return 0, false, fmt.Errorf("incrementing attempts: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, rows.Err()
	}
	if err := rows.Scan(&attempts); err != nil {
		return 0, false, fmt.Errorf("scanning attempts: %w", err)
	}
	return attempts, true, rows.Err()
}
