package config

import (
	"fmt"
	"strings"
	"time"
)

// ExecutorKind selects the payout executor.
type ExecutorKind string

const (
	// ExecutorLedger books payouts into the internal ledger.
	ExecutorLedger ExecutorKind = "ledger"
	// ExecutorOnchain transfers stablecoins through the splitter contract.
	ExecutorOnchain ExecutorKind = "onchain"
)

// ExecutorConfig configures payout execution.
type ExecutorConfig struct {
	Kind    ExecutorKind  `env:"KIND"    envDefault:"ledger"`
	Onchain OnchainConfig `envPrefix:"ONCHAIN_"`
}

// OnchainConfig configures the on-chain splitter executor.
type OnchainConfig struct {
	RelayerURL       string        `env:"RELAYER_URL"`
	SignerURL        string        `env:"SIGNER_URL"`
	SignerAddress    string        `env:"SIGNER_ADDRESS"`
	ChainID          int64         `env:"CHAIN_ID"          envDefault:"8453"`
	SplitterAddress  string        `env:"SPLITTER_ADDRESS"`
	TokenAddress     string        `env:"TOKEN_ADDRESS"`
	TokenDecimals    int32         `env:"TOKEN_DECIMALS"    envDefault:"6"`
	PlatformAddress  string        `env:"PLATFORM_ADDRESS"`
	ProofworkAddress string        `env:"PROOFWORK_ADDRESS"`
	Timeout          time.Duration `env:"TIMEOUT"           envDefault:"20s"`
	// WorkerAddresses maps worker ids to payout addresses (worker-1=0xabc,worker-2=0xdef).
	WorkerAddresses map[string]string `env:"WORKER_ADDRESSES" envSeparator:"," envKeyValSeparator:"="`
}

// Sanitize applies guardrails to executor configuration values.
func (e *ExecutorConfig) Sanitize() {
	e.Kind = ExecutorKind(strings.ToLower(strings.TrimSpace(string(e.Kind))))
	if e.Kind == "" {
		e.Kind = ExecutorLedger
	}
	o := &e.Onchain
	o.RelayerURL = strings.TrimSpace(o.RelayerURL)
	o.SignerURL = strings.TrimSpace(o.SignerURL)
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
}

// Validate reports missing settings for the selected executor.
func (e *ExecutorConfig) Validate() error {
	switch e.Kind {
	case ExecutorLedger:
		return nil
	case ExecutorOnchain:
		o := e.Onchain
		for name, v := range map[string]string{
			"EXECUTOR_ONCHAIN_RELAYER_URL":      o.RelayerURL,
			"EXECUTOR_ONCHAIN_SIGNER_URL":       o.SignerURL,
			"EXECUTOR_ONCHAIN_SPLITTER_ADDRESS": o.SplitterAddress,
			"EXECUTOR_ONCHAIN_TOKEN_ADDRESS":    o.TokenAddress,
			"EXECUTOR_ONCHAIN_PLATFORM_ADDRESS": o.PlatformAddress,
		} {
			if v == "" {
				return fmt.Errorf("%s is required for the onchain executor", name)
			}
		}
		return nil
	default:
		return fmt.Errorf("invalid EXECUTOR_KIND %q (valid options: ledger, onchain)", e.Kind)
	}
}
