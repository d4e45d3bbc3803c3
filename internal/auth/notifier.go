// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package auth

import (
	"context"
	"fmt"
)

// Message is a rendered outbound notification. The auth services only
// construct messages; delivery belongs to the Notifier implementation.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers a message to an account holder. Delivery failures do
// not roll back the token write that preceded them; resending is the
// recovery path.
type Notifier interface {
	Deliver(ctx context.Context, msg Message) error
}

// Link paths for emailed tokens, relative to the application base URL.
const (
	confirmPath     = "/credentials/confirm/%s"
	resetPath       = "/credentials/reset_password/%s"
	changeEmailPath = "/credentials/settings/confirm_email/%s"
)

func confirmationMessage(baseURL, to, transport string) Message {
	url := baseURL + fmt.Sprintf(confirmPath, transport)
	return Message{
		To:      to,
		Subject: "Confirm your Vitalog account",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYou can confirm your account by visiting the URL below:\n\n%s\n\nIf you didn't create an account with us, please ignore this.\n",
			to, url,
		),
	}
}

func resetMessage(baseURL, to, transport string) Message {
	url := baseURL + fmt.Sprintf(resetPath, transport)
	return Message{
		To:      to,
		Subject: "Reset your Vitalog password",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYou can reset your password by visiting the URL below:\n\n%s\n\nIf you didn't request this change, please ignore this.\n",
			to, url,
		),
	}
}

func changeEmailMessage(baseURL, to, transport string) Message {
	url := baseURL + fmt.Sprintf(changeEmailPath, transport)
	return Message{
		To:      to,
		Subject: "Confirm your new Vitalog email",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYou can change your email by visiting the URL below:\n\n%s\n\nIf you didn't request this change, please ignore this.\n",
			to, url,
		),
	}
}
