// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/vitalog/vitalog/internal/auth"
)

// TokenRepository implements auth.TokenRepository using PostgreSQL.
type TokenRepository struct {
	db DB
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Insert stores a new token. A duplicate (scope, secret) pair means either
// a codec defect or a replayed insert, so the violation surfaces as a fatal
// conflict instead of being swallowed.
func (r *TokenRepository) Insert(ctx context.Context, token *auth.Token) error {
	var sentTo *string
	if token.SentTo != "" {
		sentTo = &token.SentTo
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO account_tokens (id, account_id, token, context, sent_to, user_agent, ip_address, inserted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		token.ID.String(),
		token.AccountID.String(),
		token.Secret,
		token.Scope.String(),
		sentTo,
		token.UserAgent,
		token.IPAddress,
		token.InsertedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("TOKEN_CONFLICT").
				With("operation", "insert token").
				With("scope", token.Scope.String()).
				With("account_id", token.AccountID.String()).
				Wrap(err)
		}
		return oops.Code("TOKEN_INSERT_FAILED").
			With("operation", "insert token").
			With("account_id", token.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// GetSession retrieves a session token by its raw stored bytes.
func (r *TokenRepository) GetSession(ctx context.Context, raw []byte) (*auth.Token, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, account_id, token, context, sent_to, user_agent, ip_address, inserted_at
		FROM account_tokens
		WHERE context = 'session' AND token = $1
	`, raw)

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_SESSION_FAILED").
			With("operation", "get session token").
			Wrap(err)
	}
	return token, nil
}

// GetByDigest retrieves an email-class token by digest and scope.
func (r *TokenRepository) GetByDigest(ctx context.Context, digest []byte, scope auth.Scope) (*auth.Token, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, account_id, token, context, sent_to, user_agent, ip_address, inserted_at
		FROM account_tokens
		WHERE context = $1 AND token = $2
	`, scope.String(), digest)

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_BY_DIGEST_FAILED").
			With("operation", "get token by digest").
			With("scope", scope.String()).
			Wrap(err)
	}
	return token, nil
}

// DeleteSession removes the session token with the given raw bytes.
// Deleting an absent token is a valid no-op.
func (r *TokenRepository) DeleteSession(ctx context.Context, raw []byte) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM account_tokens WHERE context = 'session' AND token = $1
	`, raw)
	if err != nil {
		return oops.Code("TOKEN_DELETE_SESSION_FAILED").
			With("operation", "delete session token").
			Wrap(err)
	}
	return nil
}

// DeleteByAccountAndScopes removes every token for the account with one of
// the given scopes.
func (r *TokenRepository) DeleteByAccountAndScopes(ctx context.Context, accountID ulid.ULID, scopes []auth.Scope) error {
	contexts := make([]string, len(scopes))
	for i, scope := range scopes {
		contexts[i] = scope.String()
	}

	_, err := r.db.Exec(ctx, `
		DELETE FROM account_tokens WHERE account_id = $1 AND context = ANY($2)
	`, accountID.String(), contexts)
	if err != nil {
		return oops.Code("TOKEN_DELETE_BY_SCOPES_FAILED").
			With("operation", "delete tokens by scopes").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteAllByAccount removes every token for the account.
func (r *TokenRepository) DeleteAllByAccount(ctx context.Context, accountID ulid.ULID) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM account_tokens WHERE account_id = $1
	`, accountID.String())
	if err != nil {
		return oops.Code("TOKEN_DELETE_ALL_FAILED").
			With("operation", "delete tokens by account").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return nil
}

// CountSessions returns the number of session token rows within their
// validity window.
func (r *TokenRepository) CountSessions(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM account_tokens
		WHERE context = 'session' AND inserted_at >= $1
	`, time.Now().Add(-auth.SessionValidity)).Scan(&n)
	if err != nil {
		return 0, oops.Code("TOKEN_COUNT_SESSIONS_FAILED").
			With("operation", "count session tokens").
			Wrap(err)
	}
	return n, nil
}

// DeleteExpired removes tokens past their validity window and returns the
// count of deleted rows.
func (r *TokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now()
	result, err := r.db.Exec(ctx, `
		DELETE FROM account_tokens
		WHERE (context = 'session' AND inserted_at < $1)
		   OR (context <> 'session' AND inserted_at < $2)
	`, now.Add(-auth.SessionValidity), now.Add(-auth.EmailTokenValidity))
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanToken scans a single row into a Token. Callers are responsible for
// handling pgx.ErrNoRows.
func scanToken(row pgx.Row) (*auth.Token, error) {
	var (
		idStr        string
		accountIDStr string
		secret       []byte
		contextStr   string
		sentTo       *string
		userAgent    string
		ipAddress    string
		insertedAt   time.Time
	)

	err := row.Scan(&idStr, &accountIDStr, &secret, &contextStr, &sentTo, &userAgent, &ipAddress, &insertedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("TOKEN_SCAN_FAILED").
			With("operation", "scan token").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_ID").
			With("operation", "parse token id").
			With("id", idStr).
			Wrap(err)
	}

	accountID, err := ulid.Parse(accountIDStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_ACCOUNT_ID").
			With("operation", "parse account id").
			With("account_id", accountIDStr).
			Wrap(err)
	}

	scope, err := auth.ParseScope(contextStr)
	if err != nil {
		return nil, err
	}

	token := &auth.Token{
		ID:         id,
		AccountID:  accountID,
		Secret:     secret,
		Scope:      scope,
		UserAgent:  userAgent,
		IPAddress:  ipAddress,
		InsertedAt: insertedAt,
	}
	if sentTo != nil {
		token.SentTo = *sentTo
	}
	return token, nil
}

// Compile-time interface check.
var _ auth.TokenRepository = (*TokenRepository)(nil)
