// Package webhook delivers payment notifications to an external endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pandarank/pandarank-api/internal/pkg/retry"
)

// Config holds outbound webhook configuration
type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Retry   retry.Policy
}

// Dispatcher POSTs JSON payloads with a bearer secret.
type Dispatcher struct {
	config     Config
	httpClient *http.Client
}

// StatusError is a non-2xx reply from the receiver.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook receiver returned status %d", e.StatusCode)
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled reports whether a target URL is configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && d.config.URL != ""
}

// Send makes a single delivery attempt.
func (d *Dispatcher) Send(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.config.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+d.config.Secret)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// Deliver sends payload under the retry policy. Exhaustion is logged and
// the last error returned; callers treat delivery as best-effort.
func (d *Dispatcher) Deliver(ctx context.Context, payload any) error {
	if !d.Enabled() {
		return nil
	}

	err := d.config.Retry.Do(ctx, func(attempt int) error {
		err := d.Send(ctx, payload)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("Webhook delivery attempt failed")
		}
		return err
	})
	if err != nil {
		log.Warn().Err(err).Str("url", d.config.URL).Int("attempts", d.config.Retry.Attempts).Msg("Webhook delivery exhausted")
		return err
	}
	return nil
}
