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

// UnitOfWork runs a function against transactional repositories. Either
// every mutation made inside fn commits, or none does.
type UnitOfWork interface {
	Run(ctx context.Context, fn func(ctx context.Context, accounts AccountRepository, tokens TokenRepository) error) error
}

// Service provides account registration, authentication, and session token
// lifecycle operations.
type Service struct {
	accounts AccountRepository
	tokens   TokenRepository
	uow      UnitOfWork
	hasher   PasswordHasher
}

// NewService creates a new Service.
func NewService(accounts AccountRepository, tokens TokenRepository, uow UnitOfWork, hasher PasswordHasher) *Service {
	return &Service{
		accounts: accounts,
		tokens:   tokens,
		uow:      uow,
		hasher:   hasher,
	}
}

// dummyPasswordHash is used when an account doesn't exist to prevent timing
// attacks. We still run password verification to make response time
// consistent. This is NOT a real credential - it's a fake hash that will
// never match any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// RegisterParams are the inputs to Register.
type RegisterParams struct {
	Email    string
	Password Password
}

// PasswordParams carry a new password and its confirmation echo.
type PasswordParams struct {
	Password             Password
	PasswordConfirmation Password
}

// Validate checks length bounds and the confirmation match.
func (p PasswordParams) Validate() error {
	var errs ValidationErrors
	if err := ValidatePassword(p.Password); err != nil {
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			errs = append(errs, verrs...)
		} else {
			return err
		}
	}
	if p.Password != p.PasswordConfirmation {
		errs = errs.Add("password_confirmation", "does not match password")
	}
	return errs.OrNil()
}

// Register creates a new unconfirmed account. Validation failures,
// including an already-taken email, are reported as field-level
// ValidationErrors.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*Account, error) {
	if err := mergeValidation(ValidateEmail(params.Email), ValidatePassword(params.Password)); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account, err := NewAccount(params.Email, hash)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ValidationErrors{}.Add("email", "has already been taken")
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "insert account").
			Wrap(err)
	}

	return account, nil
}

// Authenticate returns the account matching the email/password pair, or
// ErrInvalidCredentials. The same result is produced for an unknown email
// and a wrong password, and verification runs either way so response time
// does not disclose which it was.
func (s *Service) Authenticate(ctx context.Context, email string, password Password) (*Account, error) {
	account, lookupErr := s.accounts.GetByEmail(ctx, email)

	targetHash := dummyPasswordHash
	exists := false

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get account by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = account.HashedPassword
		exists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !exists {
			return nil, ErrInvalidCredentials
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !exists || !valid {
		return nil, ErrInvalidCredentials
	}

	// Recompute hashes that predate the current scheme. Authentication
	// succeeds even if the upgrade write fails.
	if s.hasher.NeedsUpgrade(account.HashedPassword) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			if s.accounts.UpdatePassword(ctx, account.ID, newHash) == nil {
				account.HashedPassword = newHash
			}
		}
	}

	return account, nil
}

// GenerateSessionToken mints and persists a session token for the account
// and returns its transport encoding for the client.
func (s *Service) GenerateSessionToken(ctx context.Context, account *Account, userAgent, ipAddress string) (string, error) {
	token, raw, err := NewSessionToken(account.ID, userAgent, ipAddress)
	if err != nil {
		return "", err
	}
	if err := s.tokens.Insert(ctx, token); err != nil {
		return "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session token").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	observability.RecordTokenIssued(token.Scope.String())
	return EncodeTransport(raw), nil
}

// VerifySessionToken resolves a transport-encoded session token to its
// account. Absent, malformed, and out-of-policy tokens all yield
// ErrInvalidToken.
func (s *Service) VerifySessionToken(ctx context.Context, transport string) (*Account, error) {
	raw, err := DecodeTransport(transport)
	if err != nil {
		return nil, ErrInvalidToken
	}

	token, err := s.tokens.GetSession(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session token").
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
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get account for session").
			With("account_id", token.AccountID.String()).
			Wrap(err)
	}

	return account, nil
}

// DeleteSessionToken revokes a session token. Deleting an absent or
// malformed token is a no-op.
func (s *Service) DeleteSessionToken(ctx context.Context, transport string) error {
	raw, err := DecodeTransport(transport)
	if err != nil {
		return nil
	}
	if err := s.tokens.DeleteSession(ctx, raw); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session token").
			Wrap(err)
	}
	return nil
}

// UpdatePassword rotates the account's password after checking the current
// one, revoking every outstanding token in the same transaction. A wrong
// current password or an invalid new one leaves all rows untouched.
func (s *Service) UpdatePassword(ctx context.Context, account *Account, current Password, params PasswordParams) (*Account, error) {
	valid, err := s.hasher.Verify(current, account.HashedPassword)
	if err != nil {
		return nil, oops.Code("AUTH_PASSWORD_UPDATE_FAILED").
			With("operation", "verify current password").
			Wrap(err)
	}
	if !valid {
		return nil, ValidationErrors{}.Add("current_password", "is not valid")
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return nil, oops.Code("AUTH_PASSWORD_UPDATE_FAILED").
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
		return nil, oops.Code("AUTH_PASSWORD_UPDATE_FAILED").
			With("operation", "rotate password and revoke tokens").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	updated := *account
	updated.HashedPassword = hash
	updated.UpdatedAt = time.Now()
	return &updated, nil
}
