package alert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sender posts alert payloads to webhooks.
type Sender struct {
	Client *http.Client
	// Attempts is the total number of tries per delivery.
	Attempts int
	// Backoff is multiplied by the attempt number between tries.
	Backoff time.Duration
}

// DefaultSender tries three times with a one-second linear backoff.
var DefaultSender = &Sender{
	Client:   &http.Client{Timeout: 5 * time.Second},
	Attempts: 3,
	Backoff:  time.Second,
}

// Send delivers event to cfg with DefaultSender.
func Send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	return DefaultSender.Send(ctx, cfg, event)
}

// Send posts event to cfg.URL. Transport errors and 5xx responses are
// retried; any other non-2xx status is final.
func (s *Sender) Send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	attempts := max(s.Attempts, 1)

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * s.Backoff):
			}
		}
		retry, err := s.post(ctx, cfg, body)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("webhook %s failed after %d attempts: %w", cfg.URL, attempts, lastErr)
}

func (s *Sender) post(ctx context.Context, cfg AlertConfig, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
	}
}
