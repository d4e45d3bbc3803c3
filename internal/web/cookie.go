// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

// Package web implements the request-scoped authentication state: the
// session bag, the remember-me cookie, and the route guards consumed by
// the page layer.
package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrBadSignature is returned when a cookie value fails verification.
// Tampered, truncated, and foreign values are indistinguishable.
var ErrBadSignature = errors.New("invalid cookie signature")

// Signer authenticates cookie payloads with HMAC-SHA256. Signed values
// have the form base64url(payload) + "." + base64url(mac).
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer from the application's secret key base.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign produces the signed cookie form of payload.
func (s *Signer) Sign(payload []byte) string {
	mac := s.mac(payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(mac)
}

// Verify checks a signed cookie value and returns its payload. The MAC
// comparison is constant-time.
func (s *Signer) Verify(value string) ([]byte, error) {
	encPayload, encMAC, found := strings.Cut(value, ".")
	if !found {
		return nil, ErrBadSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(encPayload)
	if err != nil {
		return nil, ErrBadSignature
	}
	gotMAC, err := base64.RawURLEncoding.DecodeString(encMAC)
	if err != nil {
		return nil, ErrBadSignature
	}

	if !hmac.Equal(gotMAC, s.mac(payload)) {
		return nil, ErrBadSignature
	}
	return payload, nil
}

func (s *Signer) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write(payload)
	return h.Sum(nil)
}
