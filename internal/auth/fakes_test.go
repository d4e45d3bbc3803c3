// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package auth

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// fakeAccountRepo is an in-memory AccountRepository with case-insensitive
// email uniqueness, mirroring the citext-backed constraint.
type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]*Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[ulid.ULID]*Account)}
}

func (r *fakeAccountRepo) Create(_ context.Context, account *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if strings.EqualFold(existing.Email, account.Email) {
			return ErrEmailTaken
		}
	}
	cp := *account
	r.accounts[account.ID] = &cp
	return nil
}

func (r *fakeAccountRepo) GetByID(_ context.Context, id ulid.ULID) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *account
	return &cp, nil
}

func (r *fakeAccountRepo) GetByEmail(_ context.Context, email string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if strings.EqualFold(account.Email, email) {
			cp := *account
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeAccountRepo) UpdateEmail(_ context.Context, id ulid.ULID, email string, confirmedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	for otherID, existing := range r.accounts {
		if otherID != id && strings.EqualFold(existing.Email, email) {
			return ErrEmailTaken
		}
	}
	account.Email = email
	account.ConfirmedAt = &confirmedAt
	account.UpdatedAt = time.Now()
	return nil
}

func (r *fakeAccountRepo) UpdatePassword(_ context.Context, id ulid.ULID, hashedPassword string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	account.HashedPassword = hashedPassword
	account.UpdatedAt = time.Now()
	return nil
}

func (r *fakeAccountRepo) SetConfirmed(_ context.Context, id ulid.ULID, confirmedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	account.ConfirmedAt = &confirmedAt
	return nil
}

// fakeTokenRepo is an in-memory TokenRepository enforcing (scope, secret)
// uniqueness the way the database unique index does.
type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[ulid.ULID]*Token
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[ulid.ULID]*Token)}
}

func (r *fakeTokenRepo) Insert(_ context.Context, token *Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tokens {
		if existing.Scope.String() == token.Scope.String() && bytes.Equal(existing.Secret, token.Secret) {
			return oops.Code("TOKEN_CONFLICT").Errorf("duplicate (context, token)")
		}
	}
	cp := *token
	r.tokens[token.ID] = &cp
	return nil
}

func (r *fakeTokenRepo) GetSession(_ context.Context, raw []byte) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		if token.Scope == SessionScope() && bytes.Equal(token.Secret, raw) {
			cp := *token
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeTokenRepo) GetByDigest(_ context.Context, digest []byte, scope Scope) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		if token.Scope.String() == scope.String() && bytes.Equal(token.Secret, digest) {
			cp := *token
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeTokenRepo) DeleteSession(_ context.Context, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, token := range r.tokens {
		if token.Scope == SessionScope() && bytes.Equal(token.Secret, raw) {
			delete(r.tokens, id)
		}
	}
	return nil
}

func (r *fakeTokenRepo) DeleteByAccountAndScopes(_ context.Context, accountID ulid.ULID, scopes []Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, token := range r.tokens {
		if token.AccountID != accountID {
			continue
		}
		for _, scope := range scopes {
			if token.Scope.String() == scope.String() {
				delete(r.tokens, id)
			}
		}
	}
	return nil
}

func (r *fakeTokenRepo) DeleteAllByAccount(_ context.Context, accountID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, token := range r.tokens {
		if token.AccountID == accountID {
			delete(r.tokens, id)
		}
	}
	return nil
}

func (r *fakeTokenRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	now := time.Now()
	for id, token := range r.tokens {
		if token.IsExpiredAt(now) {
			delete(r.tokens, id)
			deleted++
		}
	}
	return deleted, nil
}

// count returns the number of stored tokens for an account.
func (r *fakeTokenRepo) count(accountID ulid.ULID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, token := range r.tokens {
		if token.AccountID == accountID {
			n++
		}
	}
	return n
}

// backdate shifts a stored token's insertion time, for expiry tests.
func (r *fakeTokenRepo) backdate(id ulid.ULID, by time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token, ok := r.tokens[id]; ok {
		token.InsertedAt = token.InsertedAt.Add(-by)
	}
}

// backdateAll shifts every stored token's insertion time.
func (r *fakeTokenRepo) backdateAll(by time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		token.InsertedAt = token.InsertedAt.Add(-by)
	}
}

// fakeUOW runs the function against the same in-memory repositories.
// Rollback semantics are exercised by the postgres integration tests.
type fakeUOW struct {
	accounts AccountRepository
	tokens   TokenRepository
	failWith error
}

func (u *fakeUOW) Run(ctx context.Context, fn func(ctx context.Context, accounts AccountRepository, tokens TokenRepository) error) error {
	if u.failWith != nil {
		return u.failWith
	}
	return fn(ctx, u.accounts, u.tokens)
}

// fastHasher is a deterministic PasswordHasher for tests. Production
// parameters make argon2id deliberately slow; unit tests don't need that.
// The version field lets upgrade tests observe a recomputed hash.
type fastHasher struct {
	version    int
	upgradeAll bool
}

func (h *fastHasher) Hash(password Password) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	return fmt.Sprintf("fast$v%d$%s", h.version, string(password)), nil
}

func (h *fastHasher) Verify(password Password, hash string) (bool, error) {
	if !strings.HasPrefix(hash, "fast$") && !strings.HasPrefix(hash, "$argon2id$") {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	return strings.HasPrefix(hash, "fast$") && strings.HasSuffix(hash, "$"+string(password)), nil
}

func (h *fastHasher) NeedsUpgrade(string) bool { return h.upgradeAll }

// captureNotifier records delivered messages.
type captureNotifier struct {
	mu       sync.Mutex
	messages []Message
	failWith error
}

func (n *captureNotifier) Deliver(_ context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWith != nil {
		return n.failWith
	}
	n.messages = append(n.messages, msg)
	return nil
}

func (n *captureNotifier) last() (Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		return Message{}, false
	}
	return n.messages[len(n.messages)-1], true
}

// testEnv bundles the fakes behind a fully wired service set.
type testEnv struct {
	accounts *fakeAccountRepo
	tokens   *fakeTokenRepo
	uow      *fakeUOW
	hasher   *fastHasher
	notifier *captureNotifier

	svc      *Service
	confirm  *ConfirmationService
	change   *EmailChangeService
	reset    *PasswordResetService
}

const testBaseURL = "http://localhost:4000"

func newTestEnv() *testEnv {
	accounts := newFakeAccountRepo()
	tokens := newFakeTokenRepo()
	uow := &fakeUOW{accounts: accounts, tokens: tokens}
	hasher := &fastHasher{}
	notifier := &captureNotifier{}

	return &testEnv{
		accounts: accounts,
		tokens:   tokens,
		uow:      uow,
		hasher:   hasher,
		notifier: notifier,
		svc:      NewService(accounts, tokens, uow, hasher),
		confirm:  NewConfirmationService(accounts, tokens, uow, notifier, testBaseURL),
		change:   NewEmailChangeService(accounts, tokens, uow, hasher, notifier, testBaseURL),
		reset:    NewPasswordResetService(accounts, tokens, uow, hasher, notifier, testBaseURL),
	}
}

// register creates an account through the real Register path.
func (e *testEnv) register(ctx context.Context, email string, password Password) (*Account, error) {
	return e.svc.Register(ctx, RegisterParams{Email: email, Password: password})
}
