// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package auth

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidCredentials is the uniform negative result for failed
// authentication. The same value is returned for an unknown email and for a
// wrong password so callers cannot distinguish the two.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrInvalidToken is the uniform negative result for token verification.
// It covers absent, expired, malformed, and wrong-scope tokens alike.
var ErrInvalidToken = errors.New("invalid or expired token")

// ErrAlreadyConfirmed signals that a confirmation was requested for an
// account whose email is already confirmed. No token is written.
var ErrAlreadyConfirmed = errors.New("account already confirmed")

// ErrEmailTaken is returned by repositories when an insert or update hits
// the case-insensitive unique constraint on email.
var ErrEmailTaken = errors.New("email already taken")

// FieldError is a validation failure on a single input field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors collects field-level validation failures. It is returned
// to callers as-is so forms can render per-field messages.
type ValidationErrors []FieldError

// Add appends a field error and returns the extended slice.
func (v ValidationErrors) Add(field, message string) ValidationErrors {
	return append(v, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no errors were collected. A typed nil slice
// returned as error would be non-nil, so return sites must go through this.
func (v ValidationErrors) OrNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// On reports the messages collected for a field.
func (v ValidationErrors) On(field string) []string {
	var msgs []string
	for _, fe := range v {
		if fe.Field == field {
			msgs = append(msgs, fe.Message)
		}
	}
	return msgs
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+" "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// mergeValidation combines the field errors of any number of validation
// results, ignoring nils. A non-validation error is returned immediately.
func mergeValidation(errs ...error) error {
	var all ValidationErrors
	for _, err := range errs {
		if err == nil {
			continue
		}
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			all = append(all, verrs...)
			continue
		}
		return err
	}
	return all.OrNil()
}
