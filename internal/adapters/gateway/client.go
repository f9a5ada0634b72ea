// Package gateway holds both sides of the verifier gateway contract: the Client the
// verification worker calls and a reference Handler that judges submissions against
// their task descriptor.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/core"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// VerifyPath is the gateway route judging one verification attempt.
const VerifyPath = "/v1/verify"

const maxResponseBodyBytes = 1 << 20

// ClientOptions configures a gateway Client.
type ClientOptions struct {
	Config config.GatewayConfig
	// HTTPClient is the base transport. When client credentials are configured it is
	// wrapped with an oauth2 token source.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls a remote verifier gateway.
type Client struct {
	endpoint   string
	http       *http.Client
	retryLimit int
	logger     *slog.Logger
}

var _ core.VerifierGateway = (*Client)(nil)

// NewClient constructs a Client.
func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	cfg := opts.Config
	cfg.Sanitize()
	if cfg.URL == "" {
		return nil, errors.New("gateway URL is required")
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.OAuthEnabled() {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		authed := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, hc))
		authed.Timeout = hc.Timeout
		hc = authed
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   cfg.URL + VerifyPath,
		http:       hc,
		retryLimit: cfg.RetryLimit,
		logger:     logger.With("component", "gateway_client"),
	}, nil
}

// Verify posts req to the gateway. Transport failures and 5xx answers are retried up
// to the configured limit and then returned as plain errors so the outbox retries the
// event later. Responses outside the contract are protocol errors.
func (c *Client) Verify(ctx context.Context, req model.VerifyRequest) (*model.VerifyResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode verify request: %w", err)
	}

	var out *model.VerifyResponse
	attempt := 0
	op := func() error {
		attempt++
		resp, err := c.post(ctx, body)
		if err != nil {
			if attempt <= c.retryLimit {
				c.logger.DebugContext(ctx, "gateway call failed; retrying",
					"verification_id", req.VerificationID,
					"attempt", attempt,
					"error", err)
			}
			return err
		}
		out = resp
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retryLimit)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, body []byte) (*model.VerifyResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("gateway status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(apperrors.Protocolf("gateway status %d: %s", resp.StatusCode, snippet(raw)))
	case len(raw) > maxResponseBodyBytes:
		return nil, backoff.Permanent(apperrors.Protocolf("gateway response exceeds %d bytes", maxResponseBodyBytes))
	}

	var out model.VerifyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, backoff.Permanent(apperrors.Wrap(err, apperrors.ErrCodeProtocol, "decode gateway response"))
	}
	if _, err := out.Record(); err != nil {
		return nil, backoff.Permanent(apperrors.Wrap(err, apperrors.ErrCodeProtocol, "gateway response out of contract"))
	}
	return &out, nil
}

func snippet(b []byte) string {
	const n = 256
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
