package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const failureWebhookTimeout = 10 * time.Second

type loginFailedEvent struct {
	Event      string    `json:"event"`
	Email      string    `json:"email"`
	RemoteAddr string    `json:"remote_addr"`
	At         time.Time `json:"at"`
}

// WebhookFailureSink POSTs every login failure as JSON to one URL.
// Delivery errors are logged and never reach the caller.
type WebhookFailureSink struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewWebhookFailureSink(url string, logger *slog.Logger) *WebhookFailureSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookFailureSink{
		url: url,
		httpClient: &http.Client{
			Timeout: failureWebhookTimeout,
		},
		logger: logger,
	}
}

func (s *WebhookFailureSink) LoginFailed(ctx context.Context, f LoginFailure) {
	if s == nil || s.url == "" {
		return
	}
	if err := s.send(ctx, f); err != nil {
		s.logger.WarnContext(ctx, "failed to deliver login failure webhook", "url", s.url, "error", err)
	}
}

func (s *WebhookFailureSink) send(ctx context.Context, f LoginFailure) error {
	body, err := json.Marshal(loginFailedEvent{
		Event:      "login_failed",
		Email:      f.Email,
		RemoteAddr: f.RemoteAddr,
		At:         f.At.UTC(),
	})
	if err != nil {
		return err
	}

	// the request may outlive a cancelled login request
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
