// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package auth

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Email and password validation constraints.
const (
	MaxEmailLength    = 160
	MinPasswordLength = 12
	MaxPasswordLength = 72
)

// emailRegex requires a local part and a host separated by a single @,
// with no whitespace anywhere.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+$`)

// Account represents an authentication identity: an email address, a
// password hash, and a confirmation state. The plaintext password is never
// stored on this struct.
type Account struct {
	ID             ulid.ULID
	Email          string
	HashedPassword string
	ConfirmedAt    *time.Time // nil means unconfirmed
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Confirmed returns true if the account's email has been confirmed.
func (a *Account) Confirmed() bool {
	return a.ConfirmedAt != nil
}

// Password is a submitted plaintext password. The type exists so that a
// plaintext can never leak through logs or %v formatting: both fmt and
// slog render it redacted.
type Password string

// String implements fmt.Stringer and always redacts the value.
func (Password) String() string { return "[REDACTED]" }

// LogValue implements slog.LogValuer and always redacts the value.
func (Password) LogValue() slog.Value { return slog.StringValue("[REDACTED]") }

// ValidateEmail validates an email address's shape and length.
// Uniqueness is enforced by the repository.
func ValidateEmail(email string) error {
	var errs ValidationErrors
	if email == "" {
		errs = errs.Add("email", "can't be blank")
	} else {
		if !emailRegex.MatchString(email) {
			errs = errs.Add("email", "must have the @ sign and no spaces")
		}
		if len(email) > MaxEmailLength {
			errs = errs.Add("email", "should be at most 160 characters")
		}
	}
	return errs.OrNil()
}

// ValidatePassword validates a plaintext password's length bounds.
func ValidatePassword(password Password) error {
	var errs ValidationErrors
	switch {
	case password == "":
		errs = errs.Add("password", "can't be blank")
	case len(password) < MinPasswordLength:
		errs = errs.Add("password", "should be at least 12 characters")
	case len(password) > MaxPasswordLength:
		errs = errs.Add("password", "should be at most 72 characters")
	}
	return errs.OrNil()
}

// NewAccount creates a validated, unconfirmed Account from an email and an
// already-hashed password.
func NewAccount(email, hashedPassword string) (*Account, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if hashedPassword == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("hashed password cannot be empty")
	}

	now := time.Now()
	return &Account{
		ID:             ulid.Make(),
		Email:          email,
		HashedPassword: hashedPassword,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account. Returns ErrEmailTaken if the email is
	// already registered (case-insensitive).
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// UpdateEmail replaces the email and marks it confirmed at the given
	// time. Returns ErrEmailTaken if the new email is already registered.
	UpdateEmail(ctx context.Context, id ulid.ULID, email string, confirmedAt time.Time) error

	// UpdatePassword updates only the password hash for an account.
	UpdatePassword(ctx context.Context, id ulid.ULID, hashedPassword string) error

	// SetConfirmed marks the account's email as confirmed at the given time.
	SetConfirmed(ctx context.Context, id ulid.ULID, confirmedAt time.Time) error
}
