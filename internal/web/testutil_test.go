// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package web

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/require"

	"github.com/vitalog/vitalog/internal/auth"
	"github.com/vitalog/vitalog/internal/live"
)

const (
	testBaseURL  = "http://localhost:4000"
	testEmail    = "pat@example.com"
	testPassword = "correct horse battery"
)

// memAccountRepo is an in-memory auth.AccountRepository.
type memAccountRepo struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]*auth.Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{accounts: make(map[ulid.ULID]*auth.Account)}
}

func (r *memAccountRepo) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if strings.EqualFold(existing.Email, account.Email) {
			return auth.ErrEmailTaken
		}
	}
	cp := *account
	r.accounts[account.ID] = &cp
	return nil
}

func (r *memAccountRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *account
	return &cp, nil
}

func (r *memAccountRepo) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if strings.EqualFold(account.Email, email) {
			cp := *account
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memAccountRepo) UpdateEmail(_ context.Context, id ulid.ULID, email string, confirmedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for otherID, existing := range r.accounts {
		if otherID != id && strings.EqualFold(existing.Email, email) {
			return auth.ErrEmailTaken
		}
	}
	account, ok := r.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	account.Email = email
	account.ConfirmedAt = &confirmedAt
	return nil
}

func (r *memAccountRepo) UpdatePassword(_ context.Context, id ulid.ULID, hashedPassword string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	account.HashedPassword = hashedPassword
	return nil
}

func (r *memAccountRepo) SetConfirmed(_ context.Context, id ulid.ULID, confirmedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	account.ConfirmedAt = &confirmedAt
	return nil
}

// memTokenRepo is an in-memory auth.TokenRepository.
type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[ulid.ULID]*auth.Token
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[ulid.ULID]*auth.Token)}
}

func (r *memTokenRepo) Insert(_ context.Context, token *auth.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tokens {
		if existing.Scope.String() == token.Scope.String() && bytes.Equal(existing.Secret, token.Secret) {
			return oops.Code("TOKEN_CONFLICT").Errorf("token already exists")
		}
	}
	cp := *token
	r.tokens[token.ID] = &cp
	return nil
}

func (r *memTokenRepo) GetSession(_ context.Context, raw []byte) (*auth.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		if token.Scope == auth.SessionScope() && bytes.Equal(token.Secret, raw) {
			cp := *token
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memTokenRepo) GetByDigest(_ context.Context, digest []byte, scope auth.Scope) (*auth.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		if token.Scope.String() == scope.String() && bytes.Equal(token.Secret, digest) {
			cp := *token
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memTokenRepo) DeleteSession(_ context.Context, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, token := range r.tokens {
		if token.Scope == auth.SessionScope() && bytes.Equal(token.Secret, raw) {
			delete(r.tokens, id)
			return nil
		}
	}
	return nil
}

func (r *memTokenRepo) DeleteByAccountAndScopes(_ context.Context, accountID ulid.ULID, scopes []auth.Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, token := range r.tokens {
		if token.AccountID != accountID {
			continue
		}
		for _, scope := range scopes {
			if token.Scope.String() == scope.String() {
				delete(r.tokens, id)
				break
			}
		}
	}
	return nil
}

func (r *memTokenRepo) DeleteAllByAccount(_ context.Context, accountID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, token := range r.tokens {
		if token.AccountID == accountID {
			delete(r.tokens, id)
		}
	}
	return nil
}

func (r *memTokenRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, token := range r.tokens {
		if token.IsExpired() {
			delete(r.tokens, id)
			deleted++
		}
	}
	return deleted, nil
}

// count returns how many tokens exist for the account across all scopes.
func (r *memTokenRepo) count(accountID ulid.ULID) int {
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

// backdateAll shifts every token's insertion time into the past.
func (r *memTokenRepo) backdateAll(by time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		token.InsertedAt = token.InsertedAt.Add(-by)
	}
}

// memUnitOfWork runs the function against the in-memory repos directly.
type memUnitOfWork struct {
	accounts *memAccountRepo
	tokens   *memTokenRepo
}

func (u *memUnitOfWork) Run(ctx context.Context, fn func(ctx context.Context, accounts auth.AccountRepository, tokens auth.TokenRepository) error) error {
	return fn(ctx, u.accounts, u.tokens)
}

// plainHasher is a deterministic auth.PasswordHasher for tests.
type plainHasher struct{}

func (plainHasher) Hash(password auth.Password) (string, error) {
	return "plain$" + string(password), nil
}

func (plainHasher) Verify(password auth.Password, hash string) (bool, error) {
	return hash == "plain$"+string(password), nil
}

func (plainHasher) NeedsUpgrade(string) bool { return false }

// memNotifier records delivered messages.
type memNotifier struct {
	mu       sync.Mutex
	messages []auth.Message
}

func (n *memNotifier) Deliver(_ context.Context, msg auth.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *memNotifier) last(t *testing.T) auth.Message {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.messages, "expected a delivered message")
	return n.messages[len(n.messages)-1]
}

// transportFromBody extracts the emailed token from a message body: the
// final path segment of the first line carrying the base URL.
func transportFromBody(t *testing.T, body string) string {
	t.Helper()
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, testBaseURL) {
			return line[strings.LastIndex(line, "/")+1:]
		}
	}
	t.Fatalf("no link found in message body:\n%s", body)
	return ""
}

// testEnv wires the full credential stack over in-memory storage.
type testEnv struct {
	accounts      *memAccountRepo
	tokens        *memTokenRepo
	notifier      *memNotifier
	svc           *auth.Service
	confirmations *auth.ConfirmationService
	emailChanges  *auth.EmailChangeService
	resets        *auth.PasswordResetService
	signer        *Signer
	broadcaster   *live.Broadcaster
	authenticator *Authenticator
	handler       http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	accounts := newMemAccountRepo()
	tokens := newMemTokenRepo()
	uow := &memUnitOfWork{accounts: accounts, tokens: tokens}
	hasher := plainHasher{}
	notifier := &memNotifier{}

	svc := auth.NewService(accounts, tokens, uow, hasher)
	confirmations := auth.NewConfirmationService(accounts, tokens, uow, notifier, testBaseURL)
	emailChanges := auth.NewEmailChangeService(accounts, tokens, uow, hasher, notifier, testBaseURL)
	resets := auth.NewPasswordResetService(accounts, tokens, uow, hasher, notifier, testBaseURL)

	signer := NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	broadcaster := live.NewBroadcaster()
	authenticator := NewAuthenticator(svc, signer, broadcaster)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := NewHandlers(svc, confirmations, emailChanges, resets, authenticator, logger)

	return &testEnv{
		accounts:      accounts,
		tokens:        tokens,
		notifier:      notifier,
		svc:           svc,
		confirmations: confirmations,
		emailChanges:  emailChanges,
		resets:        resets,
		signer:        signer,
		broadcaster:   broadcaster,
		authenticator: authenticator,
		handler:       handlers.Mount(http.NewServeMux()),
	}
}

// register creates an account directly through the service layer.
func (e *testEnv) register(t *testing.T, email string, password auth.Password) *auth.Account {
	t.Helper()
	account, err := e.svc.Register(context.Background(), auth.RegisterParams{
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return account
}
