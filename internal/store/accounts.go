package store

import (
	"context"
	"fmt"
	"time"

	"uk.co.dudmesh.quill/internal/model"
)

const accountColumns = `id, email, password_hash, confirmed, status, created_at, updated_at, last_login_at`

func (q *Queries) CreateAccount(ctx context.Context, account *model.Account) error {
	var id model.AccountID
	err := q.get(ctx, &id, `insert into account
		(email, password_hash, confirmed, status, created_at)
		values (?, ?, ?, ?, ?) returning id`,
		account.Email, account.PasswordHash, account.Confirmed, account.Status, account.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting account: %w", uniqueError(err))
	}
	account.ID = id
	return nil
}

func (q *Queries) AccountByID(ctx context.Context, id model.AccountID) (*model.Account, error) {
	account := &model.Account{}
	err := q.get(ctx, account, `select `+accountColumns+` from account where id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("fetching account: %w", notFound(err, model.ErrorAccountNotFound))
	}
	return account, nil
}

func (q *Queries) AccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	account := &model.Account{}
	err := q.get(ctx, account, `select `+accountColumns+` from account where email = ?`, email)
	if err != nil {
		return nil, fmt.Errorf("fetching account: %w", notFound(err, model.ErrorAccountNotFound))
	}
	return account, nil
}

func (q *Queries) EmailExists(ctx context.Context, email string) (bool, error) {
	var n int
	if err := q.get(ctx, &n, `select count(*) from account where email = ?`, email); err != nil {
		return false, fmt.Errorf("checking email: %w", err)
	}
	return n > 0, nil
}

func (q *Queries) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int
	if err := q.get(ctx, &n, `select count(*) from profile where username = ?`, username); err != nil {
		return false, fmt.Errorf("checking username: %w", err)
	}
	return n > 0, nil
}

// UpdateAccountStatus moves an account from one status to another. It returns
// false when the account was no longer in the expected status.
func (q *Queries) UpdateAccountStatus(ctx context.Context, id model.AccountID, from, to model.AccountStatus, confirmed bool, now time.Time) (bool, error) {
	rows, err := q.exec(ctx, `update account set status = ?, confirmed = ?, updated_at = ?
		where id = ? and status = ?`, to, confirmed, now, id, from)
	if err != nil {
		return false, fmt.Errorf("updating account status: %w", err)
	}
	return rows == 1, nil
}

func (q *Queries) UpdatePassword(ctx context.Context, id model.AccountID, passwordHash string, now time.Time) error {
	rows, err := q.exec(ctx, `update account set password_hash = ?, updated_at = ? where id = ?`, passwordHash, now, id)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if rows != 1 {
		return model.ErrorAccountNotFound
	}
	return nil
}

func (q *Queries) TouchLogin(ctx context.Context, id model.AccountID, now time.Time) error {
	if _, err := q.exec(ctx, `update account set last_login_at = ? where id = ?`, now, id); err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

func (q *Queries) DeleteAccount(ctx context.Context, id model.AccountID) error {
	rows, err := q.exec(ctx, `delete from account where id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	if rows != 1 {
		return model.ErrorAccountNotFound
	}
	return nil
}

const profileColumns = `account_id, username, full_name, birth_date, bio, avatar`

func (q *Queries) CreateProfile(ctx context.Context, profile *model.Profile) error {
	_, err := q.exec(ctx, `insert into profile (`+profileColumns+`) values (?, ?, ?, ?, ?, ?)`,
		profile.AccountID, profile.Username, profile.FullName, profile.BirthDate, profile.Bio, profile.Avatar)
	if err != nil {
		return fmt.Errorf("inserting profile: %w", uniqueError(err))
	}
	return nil
}

func (q *Queries) ProfileByAccount(ctx context.Context, id model.AccountID) (*model.Profile, error) {
	profile := &model.Profile{}
	err := q.get(ctx, profile, `select `+profileColumns+` from profile where account_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("fetching profile: %w", notFound(err, model.ErrorNotFound))
	}
	return profile, nil
}

func (q *Queries) ProfileByUsername(ctx context.Context, username string) (*model.Profile, error) {
	profile := &model.Profile{}
	err := q.get(ctx, profile, `select `+profileColumns+` from profile where username = ?`, username)
	if err != nil {
		return nil, fmt.Errorf("fetching profile: %w", notFound(err, model.ErrorNotFound))
	}
	return profile, nil
}

func (q *Queries) UpdateProfile(ctx context.Context, id model.AccountID, params *model.UpdateProfileParams) error {
	rows, err := q.exec(ctx, `update profile set full_name = ?, birth_date = ?, bio = ? where account_id = ?`,
		params.FullName, params.BirthDate, params.Bio, id)
	if err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	if rows != 1 {
		return model.ErrorNotFound
	}
	return nil
}

func (q *Queries) UpdateAvatar(ctx context.Context, id model.AccountID, avatar string) error {
	rows, err := q.exec(ctx, `update profile set avatar = ? where account_id = ?`, avatar, id)
	if err != nil {
		return fmt.Errorf("updating avatar: %w", err)
	}
	if rows != 1 {
		return model.ErrorNotFound
	}
	return nil
}

func (q *Queries) CreateAppeal(ctx context.Context, appeal *model.Appeal) error {
	var id int64
	err := q.get(ctx, &id, `insert into appeal (account_id, body, created_at) values (?, ?, ?) returning id`,
		appeal.AccountID, appeal.Body, appeal.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting appeal: %w", err)
	}
	appeal.ID = id
	return nil
}

func (q *Queries) ListAppeals(ctx context.Context, limit, offset int) ([]model.Appeal, error) {
	appeals := []model.Appeal{}
	err := q.selectAll(ctx, &appeals, `select id, account_id, body, created_at from appeal
		order by created_at desc, id desc limit ? offset ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing appeals: %w", err)
	}
	return appeals, nil
}
