// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package web

import (
	"encoding/json"
	"net/http"
)

// Cookie names and lifetimes.
const (
	// SessionCookieName is the signed, client-scoped key/value bag.
	SessionCookieName = "_vitalog_session"

	// RememberMeCookieName carries the session token across browser
	// restarts when the user opts in at login.
	RememberMeCookieName = "_vitalog_remember_me"

	// RememberMeMaxAge is 60 days in seconds.
	RememberMeMaxAge = 60 * 24 * 60 * 60
)

// Session bag keys.
const (
	sessionTokenKey = "account_token"
	returnToKey     = "return_to"
	liveSocketKey   = "live_socket_id"
)

// Session is the client-scoped key/value bag, persisted as a signed
// HTTP-only cookie. A bag that fails signature verification is treated as
// absent, not as an error.
type Session struct {
	values map[string]string
	signer *Signer
}

// NewSession creates an empty session bag.
func NewSession(signer *Signer) *Session {
	return &Session{values: make(map[string]string), signer: signer}
}

// LoadSession reads the session bag from the request. A missing, invalid,
// or tampered cookie yields an empty bag.
func LoadSession(r *http.Request, signer *Signer) *Session {
	sess := NewSession(signer)

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return sess
	}
	payload, err := signer.Verify(cookie.Value)
	if err != nil {
		return sess
	}
	var values map[string]string
	if err := json.Unmarshal(payload, &values); err != nil {
		return sess
	}
	sess.values = values
	return sess
}

// Get returns the value stored under key, or "".
func (s *Session) Get(key string) string {
	return s.values[key]
}

// Put stores a value under key.
func (s *Session) Put(key, value string) {
	s.values[key] = value
}

// Pop removes and returns the value stored under key.
func (s *Session) Pop(key string) string {
	v := s.values[key]
	delete(s.values, key)
	return v
}

// Write sets the session cookie on the response. Values added after Write
// are not persisted.
func (s *Session) Write(w http.ResponseWriter) {
	payload, err := json.Marshal(s.values)
	if err != nil {
		// map[string]string always marshals; treat failure as empty bag
		payload = []byte("{}")
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    s.signer.Sign(payload),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeRememberMe sets the signed long-lived cookie carrying the session
// token.
func writeRememberMe(w http.ResponseWriter, signer *Signer, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RememberMeCookieName,
		Value:    signer.Sign([]byte(token)),
		Path:     "/",
		MaxAge:   RememberMeMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// expireRememberMe deletes the remember-me cookie.
func expireRememberMe(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RememberMeCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// readRememberMe returns the session token from the remember-me cookie,
// or "" if the cookie is absent or fails verification.
func readRememberMe(r *http.Request, signer *Signer) string {
	cookie, err := r.Cookie(RememberMeCookieName)
	if err != nil {
		return ""
	}
	token, err := signer.Verify(cookie.Value)
	if err != nil {
		return ""
	}
	return string(token)
}
