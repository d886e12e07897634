package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Endpoint is a resolved webhook destination with its credentials.
type Endpoint struct {
	URL       string
	AuthType  string // "bearer" or empty
	AuthToken string
}

// Sender delivers signed JSON payloads to buyer webhook endpoints.
type Sender struct {
	Client        *http.Client
	SigningSecret []byte
}

// NewSender builds a sender with an otel-instrumented client.
func NewSender(timeout time.Duration, signingSecret []byte) *Sender {
	return &Sender{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		SigningSecret: signingSecret,
	}
}

// Send posts the payload to the endpoint with signature and auth headers.
// The returned status code is 0 when the request never reached the endpoint.
func (s *Sender) Send(ctx context.Context, endpoint Endpoint, payload any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(s.SigningSecret) > 0 {
		req.Header.Set("X-ADCP-Signature", Sign(body, s.SigningSecret, time.Now()))
	}
	if endpoint.AuthToken != "" {
		switch endpoint.AuthType {
		case "", "bearer":
			req.Header.Set("Authorization", "Bearer "+endpoint.AuthToken)
		default:
			req.Header.Set("Authorization", endpoint.AuthType+" "+endpoint.AuthToken)
		}
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook to %s: %w", endpoint.URL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		zap.L().Warn("webhook endpoint rejected delivery",
			zap.String("url", endpoint.URL),
			zap.Int("status", resp.StatusCode))
		return resp.StatusCode, fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
