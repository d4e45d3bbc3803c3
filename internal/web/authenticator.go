// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package web

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/samber/oops"

	"github.com/vitalog/vitalog/internal/auth"
	"github.com/vitalog/vitalog/internal/live"
	"github.com/vitalog/vitalog/internal/observability"
)

// Paths the authenticator redirects to.
const (
	LoginPath   = "/credentials/log_in"
	DefaultPath = "/"
)

type ctxKey int

const accountCtxKey ctxKey = 0

// LoginOptions adjust how a login is established.
type LoginOptions struct {
	RememberMe bool
}

// Authenticator establishes, resolves, and tears down the authentication
// state carried in the session bag and the remember-me cookie.
type Authenticator struct {
	svc         *auth.Service
	signer      *Signer
	broadcaster *live.Broadcaster
}

// NewAuthenticator creates a new Authenticator.
func NewAuthenticator(svc *auth.Service, signer *Signer, broadcaster *live.Broadcaster) *Authenticator {
	return &Authenticator{
		svc:         svc,
		signer:      signer,
		broadcaster: broadcaster,
	}
}

// LogIn mints a fresh session token for the account and establishes it in
// a brand-new session bag, discarding all prior session state so a
// pre-login session can never be fixed onto the authenticated identity.
// Returns the path to redirect to: the remembered return path if one was
// stored, the default otherwise.
func (a *Authenticator) LogIn(w http.ResponseWriter, r *http.Request, account *auth.Account, opts LoginOptions) (string, error) {
	token, err := a.svc.GenerateSessionToken(r.Context(), account, r.UserAgent(), remoteIP(r))
	if err != nil {
		observability.RecordLogin("error")
		return "", oops.Code("WEB_LOGIN_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	returnTo := LoadSession(r, a.signer).Pop(returnToKey)

	sess := NewSession(a.signer)
	sess.Put(sessionTokenKey, token)
	sess.Put(liveSocketKey, liveSocketID(token))
	sess.Write(w)

	if opts.RememberMe {
		writeRememberMe(w, a.signer, token)
	}

	observability.RecordLogin("success")

	if returnTo != "" {
		return returnTo, nil
	}
	return DefaultPath, nil
}

// LogOut revokes the current session token, clears the session bag,
// expires the remember-me cookie, and tells live connections bound to this
// session to disconnect. Logging out an anonymous request is a no-op.
func (a *Authenticator) LogOut(w http.ResponseWriter, r *http.Request) error {
	sess := LoadSession(r, a.signer)

	if token := sess.Get(sessionTokenKey); token != "" {
		if err := a.svc.DeleteSessionToken(r.Context(), token); err != nil {
			return oops.Code("WEB_LOGOUT_FAILED").
				With("operation", "delete session token").
				Wrap(err)
		}
	}

	if topic := sess.Get(liveSocketKey); topic != "" {
		a.broadcaster.Disconnect(topic)
	}

	NewSession(a.signer).Write(w)
	expireRememberMe(w)
	return nil
}

// Authenticate resolves the request's account and attaches it (or none) to
// the request context. The session bag is consulted first; when it carries
// no token, the remember-me cookie is tried, and on success the session
// bag is re-established from it so the token is minted only at login, not
// on every cookie-based request.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := a.resolve(w, r)
		next.ServeHTTP(w, r.WithContext(withAccount(r.Context(), account)))
	})
}

func (a *Authenticator) resolve(w http.ResponseWriter, r *http.Request) *auth.Account {
	sess := LoadSession(r, a.signer)

	if token := sess.Get(sessionTokenKey); token != "" {
		account, err := a.svc.VerifySessionToken(r.Context(), token)
		if err == nil {
			return account
		}
		if !errors.Is(err, auth.ErrInvalidToken) {
			return nil
		}
	}

	token := readRememberMe(r, a.signer)
	if token == "" {
		return nil
	}
	account, err := a.svc.VerifySessionToken(r.Context(), token)
	if err != nil {
		return nil
	}

	sess.Put(sessionTokenKey, token)
	sess.Put(liveSocketKey, liveSocketID(token))
	sess.Write(w)
	return account
}

// withAccount stores the resolved account (possibly nil) in the context.
func withAccount(ctx context.Context, account *auth.Account) context.Context {
	return context.WithValue(ctx, accountCtxKey, account)
}

// AccountFromContext returns the account resolved by Authenticate, or nil
// for anonymous requests.
func AccountFromContext(ctx context.Context) *auth.Account {
	account, _ := ctx.Value(accountCtxKey).(*auth.Account)
	return account
}

// liveSocketID derives the disconnect topic bound to a session token. The
// token is already URL-safe, so it doubles as the topic suffix.
func liveSocketID(token string) string {
	return "accounts_sessions:" + token
}

// remoteIP extracts the client address without the port.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
