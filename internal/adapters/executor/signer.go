package executor

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/proofwork/proofwork/internal/core"
)

// SignatureLength is the size of a recoverable secp256k1 signature (r, s, v).
const SignatureLength = 65

// RemoteSigner asks a signing service to sign digests. Keys never enter this process.
type RemoteSigner struct {
	url     string
	address string
	http    *http.Client
}

var _ core.Signer = (*RemoteSigner)(nil)

// NewRemoteSigner constructs a RemoteSigner posting to baseURL + "/sign".
func NewRemoteSigner(baseURL, address string, hc *http.Client) (*RemoteSigner, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("signer URL is required")
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &RemoteSigner{url: baseURL + "/sign", address: address, http: hc}, nil
}

// Address implements core.Signer.
func (s *RemoteSigner) Address() string { return s.address }

type signRequest struct {
	Digest string `json:"digest"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

// Sign implements core.Signer.
func (s *RemoteSigner) Sign(ctx context.Context, digest [32]byte) ([]byte, error) {
	body, err := json.Marshal(signRequest{Digest: "0x" + hex.EncodeToString(digest[:])})
	if err != nil {
		return nil, fmt.Errorf("encode sign request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send sign request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read sign response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signer status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out signResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode sign response: %w", err)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(out.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("signature has %d bytes, want %d", len(sig), SignatureLength)
	}
	return sig, nil
}
