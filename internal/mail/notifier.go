// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

// Package mail provides outbound notifier implementations for account
// lifecycle messages.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/vitalog/vitalog/internal/auth"
	"github.com/vitalog/vitalog/internal/observability"
)

// LogNotifier writes messages to the structured log instead of delivering
// them. Used in development and as the default driver.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses the default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Deliver logs the message.
func (n *LogNotifier) Deliver(ctx context.Context, msg auth.Message) error {
	n.logger.InfoContext(ctx, "mail delivery (log driver)",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	observability.RecordMailDelivery("success")
	return nil
}

// APINotifier delivers messages through an HTTP JSON mail API.
type APINotifier struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
}

// NewAPINotifier creates an APINotifier for the given endpoint.
func NewAPINotifier(endpoint, apiKey, from string) (*APINotifier, error) {
	if endpoint == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("mail endpoint is required")
	}
	if apiKey == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("mail api_key is required")
	}
	return &APINotifier{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}, nil
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// Deliver posts the message to the mail API.
func (n *APINotifier) Deliver(ctx context.Context, msg auth.Message) error {
	payload, err := json.Marshal(sendRequest{
		From:    n.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    msg.Body,
	})
	if err != nil {
		return oops.Code("MAIL_DELIVERY_FAILED").Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return oops.Code("MAIL_DELIVERY_FAILED").With("endpoint", n.endpoint).Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+n.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		observability.RecordMailDelivery("error")
		return oops.Code("MAIL_DELIVERY_FAILED").With("endpoint", n.endpoint).Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		observability.RecordMailDelivery("error")
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return oops.Code("MAIL_DELIVERY_FAILED").
			With("status", resp.StatusCode).
			With("response", string(body)).
			Errorf("mail API rejected message")
	}

	observability.RecordMailDelivery("success")
	return nil
}

// compile-time interface checks
var (
	_ auth.Notifier = (*LogNotifier)(nil)
	_ auth.Notifier = (*APINotifier)(nil)
)
