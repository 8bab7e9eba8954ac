package auth

import (
	"context"
	"fmt"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.quill/internal/model"
	"uk.co.dudmesh.quill/internal/store"
)

var transitions = map[model.AccountStatus][]model.AccountStatus{
	model.AccountStatusPendingEmailConfirmation: {model.AccountStatusActive, model.AccountStatusBanned},
	model.AccountStatusActive:                   {model.AccountStatusBanned, model.AccountStatusAdmin},
	model.AccountStatusBanned:                   {model.AccountStatusActive},
	model.AccountStatusAdmin:                    {model.AccountStatusActive, model.AccountStatusBanned},
}

func CanTransition(from, to model.AccountStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func requireAdmin(actor *model.Identity) error {
	if actor == nil || actor.Status != model.AccountStatusAdmin {
		return model.ErrorForbidden
	}
	return nil
}

func (s *service) Ban(ctx context.Context, actor *model.Identity, id model.AccountID) (*model.Account, error) {
	return s.transition(ctx, actor, id, model.AccountStatusBanned)
}

func (s *service) Unban(ctx context.Context, actor *model.Identity, id model.AccountID) (*model.Account, error) {
	return s.transition(ctx, actor, id, model.AccountStatusActive, model.AccountStatusBanned)
}

func (s *service) Promote(ctx context.Context, actor *model.Identity, id model.AccountID) (*model.Account, error) {
	return s.transition(ctx, actor, id, model.AccountStatusAdmin)
}

func (s *service) Demote(ctx context.Context, actor *model.Identity, id model.AccountID) (*model.Account, error) {
	return s.transition(ctx, actor, id, model.AccountStatusActive, model.AccountStatusAdmin)
}

func (s *service) transition(ctx context.Context, actor *model.Identity, id model.AccountID, to model.AccountStatus, from ...model.AccountStatus) (*model.Account, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if actor.AccountID == id {
		return nil, fmt.Errorf("%w: admins cannot change their own status", model.ErrorForbidden)
	}
	account, err := s.SetStatus(ctx, id, to, from...)
	if err != nil {
		return nil, err
	}
	log.Infof("account %d set to %s by %d", id, to, actor.AccountID)
	return account, nil
}

// SetStatus moves an account to status to when the transition is allowed.
// When from is given the account must currently be in one of those statuses.
func (s *service) SetStatus(ctx context.Context, id model.AccountID, to model.AccountStatus, from ...model.AccountStatus) (*model.Account, error) {
	var account *model.Account
	err := s.store.InTx(ctx, func(q *store.Queries) error {
		var err error
		account, err = q.AccountByID(ctx, id)
		if err != nil {
			return err
		}
		if len(from) > 0 && !contains(from, account.Status) {
			return fmt.Errorf("%w: %s to %s", model.ErrorInvalidTransition, account.Status, to)
		}
		if !CanTransition(account.Status, to) {
			return fmt.Errorf("%w: %s to %s", model.ErrorInvalidTransition, account.Status, to)
		}

		// activating an unconfirmed account confirms it
		confirmed := account.Confirmed || (account.Status == model.AccountStatusPendingEmailConfirmation && to == model.AccountStatusActive)
		ok, err := q.UpdateAccountStatus(ctx, id, account.Status, to, confirmed, s.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: account status changed concurrently", model.ErrorConflict)
		}
		account.Status = to
		account.Confirmed = confirmed
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.listener != nil {
		s.listener.StatusChanged(ctx, id, to)
	}
	return account, nil
}

func contains(statuses []model.AccountStatus, status model.AccountStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
