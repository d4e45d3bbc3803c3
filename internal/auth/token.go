// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token configuration.
const (
	// TokenBytes is the size of the random secret behind every token.
	TokenBytes = 32

	// SessionValidity bounds how long a session token verifies, matching
	// the remember-me cookie duration.
	SessionValidity = 60 * 24 * time.Hour

	// EmailTokenValidity bounds confirm, reset-password, and change-email
	// tokens from their insertion time.
	EmailTokenValidity = 24 * time.Hour
)

// ScopeKind identifies the operation a token authorizes.
type ScopeKind uint8

const (
	ScopeSession ScopeKind = iota
	ScopeConfirm
	ScopeResetPassword
	ScopeChangeEmail
)

const changeScopePrefix = "change:"

// Scope binds a token to exactly one operation. The change-email scope
// additionally carries the email address being replaced, so a token minted
// against one address can never be applied after a concurrent change.
type Scope struct {
	kind          ScopeKind
	previousEmail string
}

// SessionScope tags session continuation tokens.
func SessionScope() Scope { return Scope{kind: ScopeSession} }

// ConfirmScope tags email confirmation tokens.
func ConfirmScope() Scope { return Scope{kind: ScopeConfirm} }

// ResetPasswordScope tags password reset tokens.
func ResetPasswordScope() Scope { return Scope{kind: ScopeResetPassword} }

// ChangeEmailScope tags email change tokens bound to the address being
// replaced away from.
func ChangeEmailScope(previousEmail string) Scope {
	return Scope{kind: ScopeChangeEmail, previousEmail: previousEmail}
}

// Kind returns the operation this scope authorizes.
func (s Scope) Kind() ScopeKind { return s.kind }

// PreviousEmail returns the bound address of a change-email scope and
// false for every other kind.
func (s Scope) PreviousEmail() (string, bool) {
	if s.kind != ScopeChangeEmail {
		return "", false
	}
	return s.previousEmail, true
}

// String renders the scope in its persisted form.
func (s Scope) String() string {
	switch s.kind {
	case ScopeSession:
		return "session"
	case ScopeConfirm:
		return "confirm"
	case ScopeResetPassword:
		return "reset_password"
	case ScopeChangeEmail:
		return changeScopePrefix + s.previousEmail
	default:
		return "unknown"
	}
}

// ParseScope parses a persisted scope string.
func ParseScope(raw string) (Scope, error) {
	switch raw {
	case "session":
		return SessionScope(), nil
	case "confirm":
		return ConfirmScope(), nil
	case "reset_password":
		return ResetPasswordScope(), nil
	}
	if email, ok := strings.CutPrefix(raw, changeScopePrefix); ok && email != "" {
		return ChangeEmailScope(email), nil
	}
	return Scope{}, oops.Code("TOKEN_INVALID_SCOPE").
		With("scope", raw).
		Errorf("unknown token scope")
}

// Validity returns the maximum age for tokens of this scope.
func (s Scope) Validity() time.Duration {
	if s.kind == ScopeSession {
		return SessionValidity
	}
	return EmailTokenValidity
}

// Token is a persisted, scope-bound secret. For session tokens Secret holds
// the raw random bytes shared with the client; for email-class tokens it
// holds the SHA-256 digest of the bytes embedded in the emailed link, so a
// database compromise yields nothing usable.
type Token struct {
	ID         ulid.ULID
	AccountID  ulid.ULID
	Secret     []byte
	Scope      Scope
	SentTo     string // email-class tokens only
	UserAgent  string // session tokens only
	IPAddress  string // session tokens only
	InsertedAt time.Time
}

// ExpiresAt returns the instant after which the token no longer verifies.
func (t *Token) ExpiresAt() time.Time {
	return t.InsertedAt.Add(t.Scope.Validity())
}

// IsExpiredAt reports whether the token would be rejected at the given time.
func (t *Token) IsExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt())
}

// IsExpired reports whether the token is past its validity window.
func (t *Token) IsExpired() bool {
	return t.IsExpiredAt(time.Now())
}

// NewSessionToken mints a session token. The returned raw bytes are handed
// to the client and stored verbatim in the token row; verification is a
// lookup on the stored value.
func NewSessionToken(accountID ulid.ULID, userAgent, ipAddress string) (*Token, []byte, error) {
	raw, err := randomBytes()
	if err != nil {
		return nil, nil, err
	}
	return &Token{
		ID:         ulid.Make(),
		AccountID:  accountID,
		Secret:     raw,
		Scope:      SessionScope(),
		UserAgent:  userAgent,
		IPAddress:  ipAddress,
		InsertedAt: time.Now(),
	}, raw, nil
}

// NewEmailToken mints a token for an email-delivered link. The returned
// transport string is URL-safe and goes to the user; only the digest of the
// underlying bytes is stored.
func NewEmailToken(accountID ulid.ULID, scope Scope, sentTo string) (*Token, string, error) {
	if scope.kind == ScopeSession {
		return nil, "", oops.Code("TOKEN_INVALID_SCOPE").Errorf("session tokens are not email tokens")
	}
	raw, err := randomBytes()
	if err != nil {
		return nil, "", err
	}
	return &Token{
		ID:         ulid.Make(),
		AccountID:  accountID,
		Secret:     Digest(raw),
		Scope:      scope,
		SentTo:     sentTo,
		InsertedAt: time.Now(),
	}, EncodeTransport(raw), nil
}

// EncodeTransport renders raw token bytes in their user-facing URL-safe
// form (unpadded base64url).
func EncodeTransport(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeTransport parses a user-presented transport token back to raw
// bytes. A failed decode means the token is invalid.
func DecodeTransport(transport string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(transport)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if len(raw) != TokenBytes {
		return nil, ErrInvalidToken
	}
	return raw, nil
}

// Digest computes the one-way stored form of email-class token bytes.
func Digest(raw []byte) []byte {
	h := sha256.Sum256(raw)
	return h[:]
}

// VerifyDigest checks presented raw bytes against a stored digest in
// constant time.
func VerifyDigest(raw, storedDigest []byte) bool {
	if len(raw) == 0 || len(storedDigest) == 0 {
		return false
	}
	computed := Digest(raw)
	return subtle.ConstantTimeCompare(computed, storedDigest) == 1
}

func randomBytes() ([]byte, error) {
	raw := make([]byte, TokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", TokenBytes).
			Wrap(err)
	}
	return raw, nil
}

// TokenRepository manages token persistence. The pair (scope, secret) is
// globally unique; Insert surfaces a violation as a fatal conflict rather
// than swallowing it.
type TokenRepository interface {
	// Insert stores a new token.
	Insert(ctx context.Context, token *Token) error

	// GetSession retrieves a session token by its raw stored bytes.
	GetSession(ctx context.Context, raw []byte) (*Token, error)

	// GetByDigest retrieves an email-class token by digest and scope.
	GetByDigest(ctx context.Context, digest []byte, scope Scope) (*Token, error)

	// DeleteSession removes the session token with the given raw bytes.
	// Deleting an absent token is a no-op.
	DeleteSession(ctx context.Context, raw []byte) error

	// DeleteByAccountAndScopes removes every token for the account whose
	// scope matches one of the given scopes.
	DeleteByAccountAndScopes(ctx context.Context, accountID ulid.ULID, scopes []Scope) error

	// DeleteAllByAccount removes every token for the account, across all
	// scopes. Used for full revocation on password rotation.
	DeleteAllByAccount(ctx context.Context, accountID ulid.ULID) error

	// DeleteExpired removes tokens past their validity window and returns
	// the count of deleted rows.
	DeleteExpired(ctx context.Context) (int64, error)
}
