// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package web

import (
	"net/http"
)

// RequireAuthenticated redirects anonymous requests to the login page.
// For GET requests the original path is remembered in the session bag so
// a subsequent login can return the user where they were headed; other
// methods are never replayable, so nothing is stored for them.
func (a *Authenticator) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AccountFromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodGet {
			sess := LoadSession(r, a.signer)
			sess.Put(returnToKey, r.URL.RequestURI())
			sess.Write(w)
		}

		http.Redirect(w, r, LoginPath, http.StatusSeeOther)
	})
}

// RedirectIfAuthenticated sends already-authenticated requests to the
// default page. Used on login and registration pages.
func (a *Authenticator) RedirectIfAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AccountFromContext(r.Context()) != nil {
			http.Redirect(w, r, DefaultPath, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}
