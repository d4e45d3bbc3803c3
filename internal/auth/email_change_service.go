// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/vitalog/vitalog/internal/observability"
)

// EmailChangeService handles the two-step email change flow: instructions
// are sent to the new address, and the change applies only when the token
// minted against the old address is presented.
type EmailChangeService struct {
	accounts AccountRepository
	tokens   TokenRepository
	uow      UnitOfWork
	hasher   PasswordHasher
	notifier Notifier
	baseURL  string
}

// NewEmailChangeService creates a new EmailChangeService.
func NewEmailChangeService(accounts AccountRepository, tokens TokenRepository, uow UnitOfWork, hasher PasswordHasher, notifier Notifier, baseURL string) *EmailChangeService {
	return &EmailChangeService{
		accounts: accounts,
		tokens:   tokens,
		uow:      uow,
		hasher:   hasher,
		notifier: notifier,
		baseURL:  baseURL,
	}
}

// RequestEmailChange validates the new address and the current password,
// mints a change token scoped to the account's current email, and sends
// instructions to the new address.
func (s *EmailChangeService) RequestEmailChange(ctx context.Context, account *Account, newEmail string, current Password) error {
	if err := ValidateEmail(newEmail); err != nil {
		return err
	}
	if strings.EqualFold(newEmail, account.Email) {
		return ValidationErrors{}.Add("email", "did not change")
	}

	valid, err := s.hasher.Verify(current, account.HashedPassword)
	if err != nil {
		return oops.Code("EMAIL_CHANGE_REQUEST_FAILED").
			With("operation", "verify current password").
			Wrap(err)
	}
	if !valid {
		return ValidationErrors{}.Add("current_password", "is not valid")
	}

	token, transport, err := NewEmailToken(account.ID, ChangeEmailScope(account.Email), newEmail)
	if err != nil {
		return err
	}
	if err := s.tokens.Insert(ctx, token); err != nil {
		return oops.Code("EMAIL_CHANGE_REQUEST_FAILED").
			With("operation", "insert change token").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	observability.RecordTokenIssued(token.Scope.String())

	if err := s.notifier.Deliver(ctx, changeEmailMessage(s.baseURL, newEmail, transport)); err != nil {
		return oops.Code("EMAIL_CHANGE_DELIVERY_FAILED").
			With("operation", "deliver change instructions").
			Wrap(err)
	}
	return nil
}

// ApplyEmailChange consumes a change token for the account. The token's
// scope binds the email the change was minted against; if the account's
// email has moved on since, the token no longer matches and the change is
// rejected with the original email untouched. On success the new email is
// set, marked confirmed, and every token for that exact scope is deleted,
// all in one transaction.
func (s *EmailChangeService) ApplyEmailChange(ctx context.Context, account *Account, transport string) (*Account, error) {
	raw, err := DecodeTransport(transport)
	if err != nil {
		return nil, ErrInvalidToken
	}

	scope := ChangeEmailScope(account.Email)
	token, err := s.tokens.GetByDigest(ctx, Digest(raw), scope)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, oops.Code("EMAIL_CHANGE_FAILED").
			With("operation", "get change token").
			Wrap(err)
	}
	if token.IsExpired() || token.AccountID != account.ID {
		return nil, ErrInvalidToken
	}

	now := time.Now()
	err = s.uow.Run(ctx, func(ctx context.Context, accounts AccountRepository, tokens TokenRepository) error {
		if err := accounts.UpdateEmail(ctx, account.ID, token.SentTo, now); err != nil {
			return err
		}
		return tokens.DeleteByAccountAndScopes(ctx, account.ID, []Scope{scope})
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ValidationErrors{}.Add("email", "has already been taken")
		}
		return nil, oops.Code("EMAIL_CHANGE_FAILED").
			With("operation", "apply email change").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	updated := *account
	updated.Email = token.SentTo
	updated.ConfirmedAt = &now
	updated.UpdatedAt = now
	return &updated, nil
}
