// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package auth

import (
	"context"
	"errors"

	"github.com/samber/oops"

	"github.com/vitalog/vitalog/internal/observability"
)

// PasswordResetService handles the password reset flow.
type PasswordResetService struct {
	accounts AccountRepository
	tokens   TokenRepository
	uow      UnitOfWork
	hasher   PasswordHasher
	notifier Notifier
	baseURL  string
}

// NewPasswordResetService creates a new PasswordResetService.
func NewPasswordResetService(accounts AccountRepository, tokens TokenRepository, uow UnitOfWork, hasher PasswordHasher, notifier Notifier, baseURL string) *PasswordResetService {
	return &PasswordResetService{
		accounts: accounts,
		tokens:   tokens,
		uow:      uow,
		hasher:   hasher,
		notifier: notifier,
		baseURL:  baseURL,
	}
}

// RequestReset mints a reset token for the account registered under email
// and sends instructions there. An unknown email succeeds with no write, so
// the response does not disclose whether an address is registered.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	token, transport, err := NewEmailToken(account.ID, ResetPasswordScope(), account.Email)
	if err != nil {
		return err
	}
	if err := s.tokens.Insert(ctx, token); err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "insert reset token").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	observability.RecordTokenIssued(token.Scope.String())

	if err := s.notifier.Deliver(ctx, resetMessage(s.baseURL, account.Email, transport)); err != nil {
		return oops.Code("RESET_DELIVERY_FAILED").
			With("operation", "deliver reset instructions").
			Wrap(err)
	}
	return nil
}

// AccountByResetToken resolves a reset token to its account, for rendering
// and gating the reset form. Invalid and expired tokens yield
// ErrInvalidToken.
func (s *PasswordResetService) AccountByResetToken(ctx context.Context, transport string) (*Account, error) {
	raw, err := DecodeTransport(transport)
	if err != nil {
		return nil, ErrInvalidToken
	}

	token, err := s.tokens.GetByDigest(ctx, Digest(raw), ResetPasswordScope())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, oops.Code("RESET_VALIDATE_FAILED").
			With("operation", "get reset token").
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
		return nil, oops.Code("RESET_VALIDATE_FAILED").
			With("operation", "get account for reset token").
			With("account_id", token.AccountID.String()).
			Wrap(err)
	}

	return account, nil
}

// ResetPassword sets a new password for the account and revokes every
// outstanding token, session and email-class alike, in one transaction.
// Validation failures leave all rows untouched.
func (s *PasswordResetService) ResetPassword(ctx context.Context, account *Account, params PasswordParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	err = s.uow.Run(ctx, func(ctx context.Context, accounts AccountRepository, tokens TokenRepository) error {
		if err := accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
			return err
		}
		return tokens.DeleteAllByAccount(ctx, account.ID)
	})
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "reset password and revoke tokens").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return nil
}
