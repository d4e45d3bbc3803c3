// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

// Package auth provides account authentication and token lifecycle
// management for Vitalog.
//
// # Domain Types
//
// An Account is an email address, a password hash, and a confirmation
// state. A Token is a persisted, scope-bound, time-bounded secret. Session
// tokens store their raw bytes; confirm, reset-password, and change-email
// tokens store only a SHA-256 digest, with the raw bytes travelling to the
// user inside an emailed link in unpadded base64url form. The pair
// (scope, secret) is unique across all accounts.
//
// # Services
//
// Service types coordinate the flows:
//   - Service - registration, authentication, session tokens, password change
//   - ConfirmationService - email confirmation
//   - EmailChangeService - two-step email change
//   - PasswordResetService - password reset
//
// Multi-step mutations (confirm + consume tokens, rotate password + revoke
// every token) run through a UnitOfWork so they commit or abort together.
package auth
