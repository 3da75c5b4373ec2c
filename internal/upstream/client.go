// Package upstream holds the HTTP clients for the external collaborators:
// the ticket source, the order service, the ticketing service, the AI
// extraction service and the sheet sink. All clients share one retry
// policy: transport errors, 429 and 5xx responses are retried with
// exponential backoff; other 4xx responses are permanent.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/nvops/ticket-triage/internal/config"
)

// StatusError is a non-2xx response from an upstream service. Retryable
// reports whether the caller may try again.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Client is the shared transport used by every upstream-specific client.
type Client struct {
	httpc *http.Client
	retry config.RetryConfig
	log   zerolog.Logger
}

// NewClient builds the shared transport from the retry configuration.
func NewClient(retry config.RetryConfig, log zerolog.Logger) *Client {
	return &Client{
		httpc: &http.Client{Timeout: retry.CallTimeout},
		retry: retry,
		log:   log.With().Str("component", "upstream").Logger(),
	}
}

// DoJSON sends body (JSON-encoded unless nil) to url with the given headers
// and decodes the 2xx response into out (skipped when out is nil). The call
// is retried per the client's policy; a permanent failure or retry
// exhaustion returns the last error.
func (c *Client) DoJSON(ctx context.Context, method, url string, headers map[string]string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("upstream: encode request: %w", err)
		}
	}

	operation := func() ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.retry.CallTimeout)
		defer cancel()

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(callCtx, method, url, reader)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, err // transport errors are retryable
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &StatusError{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
			if serr.Retryable() {
				return nil, serr
			}
			return nil, backoff.Permanent(serr)
		}
		return raw, nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retry.InitialWait
	eb.MaxInterval = c.retry.MaxWait

	raw, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(c.retry.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.log.Warn().Err(err).Dur("wait", wait).Str("url", url).Msg("upstream call failed, retrying")
		}),
	)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("upstream: decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
