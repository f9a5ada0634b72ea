package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// PostConfig controls PostJSON delivery.
type PostConfig struct {
	Client *http.Client
	// Name prefixes error messages ("slack", "pagerduty").
	Name string
	// RetryLimit is the number of retries after the first attempt.
	RetryLimit   int
	InitialDelay time.Duration
}

// PostJSON delivers body to url, retrying transport errors and 5xx/429 responses with
// exponential backoff. Other 4xx responses fail immediately.
func PostJSON(ctx context.Context, cfg PostConfig, url string, body []byte) error {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	initial := cfg.InitialDelay
	if initial <= 0 {
		initial = 200 * time.Millisecond
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(max(cfg.RetryLimit, 0))), ctx)

	return backoff.Retry(func() error {
		return postOnce(ctx, client, cfg.Name, url, body)
	}, policy)
}

func postOnce(ctx context.Context, client *http.Client, name, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create %s request: %w", name, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", name, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return drain(resp, name)
	}

	respErr := errorResponse(resp, name)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(respErr)
	}
	return respErr
}

func drain(resp *http.Response, name string) error {
	_, err := io.Copy(io.Discard, resp.Body)
	closeErr := resp.Body.Close()
	if err != nil {
		err = fmt.Errorf("drain %s response body: %w", name, err)
	}
	if closeErr != nil {
		closeErr = fmt.Errorf("close response body: %w", closeErr)
	}
	return errors.Join(err, closeErr)
}

func errorResponse(resp *http.Response, name string) error {
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	closeErr := resp.Body.Close()
	if readErr != nil {
		return errors.Join(fmt.Errorf("read %s error response: %w", name, readErr), closeErr)
	}
	return fmt.Errorf("%s %s: %s", name, resp.Status, strings.TrimSpace(string(respBody)))
}

// Fallback returns value, or def when value is blank.
func Fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
