package config

import (
	"fmt"
	"time"
)

// OutboxConfig controls outbox claiming, retries and the worker poll loop.
type OutboxConfig struct {
	// Lease is how long a claimed event stays exclusive to one worker.
	Lease       time.Duration `env:"LEASE"        envDefault:"60s"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"10"`

	BackoffInitial    time.Duration `env:"BACKOFF_INITIAL"    envDefault:"2s"`
	BackoffMax        time.Duration `env:"BACKOFF_MAX"        envDefault:"10m"`
	BackoffMultiplier float64       `env:"BACKOFF_MULTIPLIER" envDefault:"2"`
	BackoffJitter     float64       `env:"BACKOFF_JITTER"     envDefault:"0.2"`

	// PollInterval is the fallback poll period when no wakeup arrives.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	BatchSize    int           `env:"BATCH_SIZE"    envDefault:"10"`
	Concurrency  int           `env:"CONCURRENCY"   envDefault:"4"`
}

// Sanitize applies guardrails to outbox configuration values.
func (o *OutboxConfig) Sanitize() {
	if o.Lease < 5*time.Second {
		o.Lease = 5 * time.Second
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 2 * time.Second
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = o.BackoffInitial
	}
	if o.BackoffMultiplier < 1 {
		o.BackoffMultiplier = 2
	}
	if o.BackoffJitter < 0 || o.BackoffJitter >= 1 {
		o.BackoffJitter = 0
	}
	if o.PollInterval < 100*time.Millisecond {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.BatchSize < 1 {
		o.BatchSize = 1
	}
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
}

// LeaseConfig bounds job and verification leases.
type LeaseConfig struct {
	JobDefault time.Duration `env:"JOB_DEFAULT" envDefault:"15m"`
	JobMin     time.Duration `env:"JOB_MIN"     envDefault:"30s"`
	JobMax     time.Duration `env:"JOB_MAX"     envDefault:"2h"`
	// Verification is the claim lifetime of a verification attempt. It should exceed
	// the gateway timeout including retries.
	Verification time.Duration `env:"VERIFICATION" envDefault:"2m"`
}

// Sanitize applies guardrails to lease configuration values.
func (l *LeaseConfig) Sanitize() {
	if l.JobDefault <= 0 {
		l.JobDefault = 15 * time.Minute
	}
	if l.Verification < 10*time.Second {
		l.Verification = 10 * time.Second
	}
}

// VerificationConfig controls how verdicts move jobs.
type VerificationConfig struct {
	// ReopenOnFail returns a job to open after a fail verdict instead of finishing it.
	ReopenOnFail bool `env:"REOPEN_ON_FAIL" envDefault:"true"`
	// MaxAttempts caps verification attempts per submission; inconclusive verdicts
	// below the cap schedule another attempt.
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"3"`
}

// Sanitize applies guardrails to verification configuration values.
func (v *VerificationConfig) Sanitize() {
	if v.MaxAttempts < 1 {
		v.MaxAttempts = 1
	}
}

// FeeConfig holds the fee rates in basis points.
type FeeConfig struct {
	PlatformBps  int `env:"PLATFORM_BPS"  envDefault:"1000"`
	ProofworkBps int `env:"PROOFWORK_BPS" envDefault:"100"`
}

// Validate rejects rates that fee math would refuse at payout time.
func (f FeeConfig) Validate() error {
	if f.PlatformBps < 0 || f.PlatformBps > 10_000 {
		return fmt.Errorf("FEES_PLATFORM_BPS out of range: %d", f.PlatformBps)
	}
	if f.ProofworkBps < 0 || f.ProofworkBps > 10_000 {
		return fmt.Errorf("FEES_PROOFWORK_BPS out of range: %d", f.ProofworkBps)
	}
	if f.PlatformBps+f.ProofworkBps > 10_000 {
		return fmt.Errorf("combined fee bps %d exceeds 10000", f.PlatformBps+f.ProofworkBps)
	}
	return nil
}

// DisputeConfig controls dispute windows.
type DisputeConfig struct {
	// Hold is how long an open dispute blocks the payout before auto-refund.
	Hold time.Duration `env:"HOLD" envDefault:"72h"`
	// OpenWindow is how long after payout creation a buyer may open a dispute.
	OpenWindow time.Duration `env:"OPEN_WINDOW" envDefault:"168h"`
}

// Sanitize applies guardrails to dispute configuration values.
func (d *DisputeConfig) Sanitize() {
	if d.Hold < time.Minute {
		d.Hold = time.Minute
	}
	if d.OpenWindow <= 0 {
		d.OpenWindow = 168 * time.Hour
	}
}
