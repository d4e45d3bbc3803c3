// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/vitalog/vitalog/internal/observability"
)

// ConfirmationService handles the email confirmation flow.
type ConfirmationService struct {
	accounts AccountRepository
	tokens   TokenRepository
	uow      UnitOfWork
	notifier Notifier
	baseURL  string
}

// NewConfirmationService creates a new ConfirmationService. baseURL is the
// externally reachable application root used to render emailed links.
func NewConfirmationService(accounts AccountRepository, tokens TokenRepository, uow UnitOfWork, notifier Notifier, baseURL string) *ConfirmationService {
	return &ConfirmationService{
		accounts: accounts,
		tokens:   tokens,
		uow:      uow,
		notifier: notifier,
		baseURL:  baseURL,
	}
}

// RequestConfirmation mints a confirmation token for an unconfirmed account
// and hands the rendered message to the notifier. Requesting confirmation
// for an already-confirmed account performs no write and returns
// ErrAlreadyConfirmed. The token persists even if delivery fails; resending
// is the recovery path.
func (s *ConfirmationService) RequestConfirmation(ctx context.Context, account *Account) error {
	if account.Confirmed() {
		return ErrAlreadyConfirmed
	}

	token, transport, err := NewEmailToken(account.ID, ConfirmScope(), account.Email)
	if err != nil {
		return err
	}
	if err := s.tokens.Insert(ctx, token); err != nil {
		return oops.Code("CONFIRM_REQUEST_FAILED").
			With("operation", "insert confirm token").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	observability.RecordTokenIssued(token.Scope.String())

	if err := s.notifier.Deliver(ctx, confirmationMessage(s.baseURL, account.Email, transport)); err != nil {
		return oops.Code("CONFIRM_DELIVERY_FAILED").
			With("operation", "deliver confirmation instructions").
			Wrap(err)
	}
	return nil
}

// Confirm consumes a confirmation token: it marks the account confirmed and
// deletes every outstanding confirm token for it in one transaction.
// Invalid, expired, and wrong-scope tokens yield ErrInvalidToken with no
// state change.
func (s *ConfirmationService) Confirm(ctx context.Context, transport string) (*Account, error) {
	raw, err := DecodeTransport(transport)
	if err != nil {
		return nil, ErrInvalidToken
	}

	token, err := s.tokens.GetByDigest(ctx, Digest(raw), ConfirmScope())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, oops.Code("CONFIRM_FAILED").
			With("operation", "get confirm token").
			Wrap(err)
	}
	if token.IsExpired() {
		return nil, ErrInvalidToken
	}

	account, err := s.accounts.GetByID(ctx, token.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, oops.Code("CONFIRM_FAILED").
			With("operation", "get account").
			With("account_id", token.AccountID.String()).
			Wrap(err)
	}

	now := time.Now()
	err = s.uow.Run(ctx, func(ctx context.Context, accounts AccountRepository, tokens TokenRepository) error {
		if err := accounts.SetConfirmed(ctx, account.ID, now); err != nil {
			return err
		}
		return tokens.DeleteByAccountAndScopes(ctx, account.ID, []Scope{ConfirmScope()})
	})
	if err != nil {
		return nil, oops.Code("CONFIRM_FAILED").
			With("operation", "confirm account and consume tokens").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	account.ConfirmedAt = &now
	return account, nil
}
