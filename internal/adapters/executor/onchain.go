package executor

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/proofwork/proofwork/config"
	"github.com/proofwork/proofwork/internal/core"
	"github.com/proofwork/proofwork/internal/data/pgxutil"
	"github.com/proofwork/proofwork/internal/domain/model"
	apperrors "github.com/proofwork/proofwork/internal/errors"
)

// ProviderOnchain is the provider name recorded on on-chain payouts.
const ProviderOnchain = "onchain"

// OnchainOptions configures the on-chain executor.
type OnchainOptions struct {
	Config     config.OnchainConfig
	Signer     core.Signer // Required
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Onchain pays out through the splitter contract. It signs the call digest and hands
// the signed call to a relayer, whose transaction hash is the receipt.
type Onchain struct {
	cfg       config.OnchainConfig
	chainID   *big.Int
	splitter  Address
	token     Address
	platform  Address
	proofwork *Address
	signer    core.Signer
	relayURL  string
	http      *http.Client
	logger    *slog.Logger
}

var _ core.PayoutExecutor = (*Onchain)(nil)

// NewOnchain constructs an Onchain executor.
func NewOnchain(opts OnchainOptions) (*Onchain, error) {
	if opts.Signer == nil {
		return nil, errors.New("signer is required")
	}
	cfg := opts.Config
	if strings.TrimSpace(cfg.RelayerURL) == "" {
		return nil, errors.New("relayer URL is required")
	}
	if cfg.TokenDecimals < 2 {
		return nil, fmt.Errorf("token decimals %d cannot represent cents", cfg.TokenDecimals)
	}

	o := &Onchain{
		cfg:      cfg,
		chainID:  big.NewInt(cfg.ChainID),
		signer:   opts.Signer,
		relayURL: strings.TrimRight(cfg.RelayerURL, "/") + "/relay",
		http:     opts.HTTPClient,
		logger:   opts.Logger,
	}
	var err error
	if o.splitter, err = ParseAddress(cfg.SplitterAddress); err != nil {
		return nil, fmt.Errorf("splitter address: %w", err)
	}
	if o.token, err = ParseAddress(cfg.TokenAddress); err != nil {
		return nil, fmt.Errorf("token address: %w", err)
	}
	if o.platform, err = ParseAddress(cfg.PlatformAddress); err != nil {
		return nil, fmt.Errorf("platform address: %w", err)
	}
	if cfg.ProofworkAddress != "" {
		pw, err := ParseAddress(cfg.ProofworkAddress)
		if err != nil {
			return nil, fmt.Errorf("proofwork address: %w", err)
		}
		o.proofwork = &pw
	}
	if o.http == nil {
		o.http = &http.Client{Timeout: cfg.Timeout}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "onchain_executor")
	return o, nil
}

// Name implements core.PayoutExecutor.
func (o *Onchain) Name() string { return ProviderOnchain }

// BuildCall encodes the splitter call for p. With a proofwork address configured the
// three-party payoutV2 is used; otherwise both fees go to the platform via payout.
func (o *Onchain) BuildCall(p model.Payout) (Call, error) {
	workerHex, ok := o.cfg.WorkerAddresses[p.WorkerID]
	if !ok {
		return Call{}, apperrors.Validationf("no payout address for worker %s", p.WorkerID)
	}
	worker, err := ParseAddress(workerHex)
	if err != nil {
		return Call{}, apperrors.Wrapf(err, apperrors.ErrCodeValidation, "worker %s address", p.WorkerID)
	}

	net, err := ToBaseUnits(p.NetCents(), o.cfg.TokenDecimals)
	if err != nil {
		return Call{}, apperrors.Wrap(err, apperrors.ErrCodeInvariant, "net amount")
	}
	platformFee, err := ToBaseUnits(p.PlatformFeeCents, o.cfg.TokenDecimals)
	if err != nil {
		return Call{}, apperrors.Wrap(err, apperrors.ErrCodeInvariant, "platform fee")
	}
	proofworkFee, err := ToBaseUnits(p.ProofworkFeeCents, o.cfg.TokenDecimals)
	if err != nil {
		return Call{}, apperrors.Wrap(err, apperrors.ErrCodeInvariant, "proofwork fee")
	}

	if o.proofwork == nil {
		fee := new(big.Int).Add(platformFee, proofworkFee)
		return Call{
			Method: MethodPayout,
			Args: map[string]string{
				"token": o.token.Hex(), "worker": worker.Hex(), "platform": o.platform.Hex(),
				"net": net.String(), "fee": fee.String(),
			},
			Data: encodeCall(MethodPayout,
				encodeAddress(o.token), encodeAddress(worker), encodeAddress(o.platform),
				encodeUint(net), encodeUint(fee)),
		}, nil
	}
	return Call{
		Method: MethodPayoutV2,
		Args: map[string]string{
			"token": o.token.Hex(), "worker": worker.Hex(), "platform": o.platform.Hex(),
			"proofwork": o.proofwork.Hex(), "net": net.String(),
			"platformFee": platformFee.String(), "proofworkFee": proofworkFee.String(),
		},
		Data: encodeCall(MethodPayoutV2,
			encodeAddress(o.token), encodeAddress(worker), encodeAddress(o.platform), encodeAddress(*o.proofwork),
			encodeUint(net), encodeUint(platformFee), encodeUint(proofworkFee)),
	}, nil
}

// Digest binds the call to the chain, the splitter and the payout id so a signature
// cannot be replayed for another payout.
func (o *Onchain) Digest(call Call, payoutID string) [32]byte {
	payoutHash := Keccak256([]byte(payoutID))
	return Keccak256([]byte{0x19, 0x00}, o.splitter[:], word(o.chainID.Bytes()), call.Data, payoutHash[:])
}

type relayRequest struct {
	ChainID        int64             `json:"chainId"`
	To             string            `json:"to"`
	Method         string            `json:"method"`
	Args           map[string]string `json:"args"`
	Data           string            `json:"data"`
	Digest         string            `json:"digest"`
	Signature      string            `json:"signature"`
	Signer         string            `json:"signer,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

type relayResponse struct {
	TxHash string `json:"txHash"`
}

// Execute implements core.PayoutExecutor. Configuration and amount problems are
// permanent; signer and relayer failures are retried through the outbox. The payout
// id is the relayer idempotency key, so a retry after a lost response cannot pay twice.
func (o *Onchain) Execute(ctx context.Context, _ pgxutil.Querier, p model.Payout) (model.Receipt, error) {
	call, err := o.BuildCall(p)
	if err != nil {
		return model.Receipt{}, backoff.Permanent(err)
	}
	digest := o.Digest(call, p.ID)
	sig, err := o.signer.Sign(ctx, digest)
	if err != nil {
		return model.Receipt{}, fmt.Errorf("sign payout %s: %w", p.ID, err)
	}

	txHash, err := o.relay(ctx, relayRequest{
		ChainID:        o.cfg.ChainID,
		To:             o.splitter.Hex(),
		Method:         call.Method,
		Args:           call.Args,
		Data:           "0x" + hex.EncodeToString(call.Data),
		Digest:         "0x" + hex.EncodeToString(digest[:]),
		Signature:      "0x" + hex.EncodeToString(sig),
		Signer:         o.signer.Address(),
		IdempotencyKey: p.ID,
	})
	if err != nil {
		return model.Receipt{}, fmt.Errorf("relay payout %s: %w", p.ID, err)
	}
	o.logger.InfoContext(ctx, "payout relayed", "payout_id", p.ID, "method", call.Method, "tx_hash", txHash)
	return model.Receipt{Provider: ProviderOnchain, Reference: txHash}, nil
}

func (o *Onchain) relay(ctx context.Context, in relayRequest) (string, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("encode relay request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.relayURL, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build relay request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", in.IdempotencyKey)

	resp, err := o.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send relay request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read relay response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("relayer status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", backoff.Permanent(fmt.Errorf("relayer rejected call: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var out relayResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeProtocol, "decode relay response")
	}
	if out.TxHash == "" {
		return "", apperrors.Protocolf("relayer returned no transaction hash")
	}
	return out.TxHash, nil
}
