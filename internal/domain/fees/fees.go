// Package fees holds the payout fee arithmetic. All amounts are integer cents and all
// rates are basis points; fractional cents always round down in favour of the worker.
package fees

import (
	"errors"
	"fmt"
)

// MaxBps is 100% expressed in basis points.
const MaxBps = 10_000

var (
	// ErrNegativeAmount is returned when a gross amount is below zero.
	ErrNegativeAmount = errors.New("gross amount must not be negative")
	// ErrBpsOutOfRange is returned when a rate is outside [0, MaxBps].
	ErrBpsOutOfRange = errors.New("fee bps out of range")
	// ErrFeesExceedGross is returned when the combined fees would leave a negative net.
	ErrFeesExceedGross = errors.New("fees exceed gross amount")
)

// Split is the result of applying a single fee rate.
type Split struct {
	GrossCents int64
	FeeCents   int64
	NetCents   int64
}

// PayoutSplit is the result of applying the platform and proofwork rates.
type PayoutSplit struct {
	GrossCents        int64
	PlatformFeeCents  int64
	ProofworkFeeCents int64
	NetCents          int64
}

// TotalFeeCents returns the sum of both fees.
func (s PayoutSplit) TotalFeeCents() int64 {
	return s.PlatformFeeCents + s.ProofworkFeeCents
}

// ComputeFeeSplit applies feeBps to grossCents using floor division.
func ComputeFeeSplit(grossCents int64, feeBps int) (Split, error) {
	if grossCents < 0 {
		return Split{}, ErrNegativeAmount
	}
	if err := checkBps("fee", feeBps); err != nil {
		return Split{}, err
	}
	fee := applyBps(grossCents, feeBps)
	return Split{GrossCents: grossCents, FeeCents: fee, NetCents: grossCents - fee}, nil
}

// ComputePayoutSplit applies both rates independently. The combined rate may not
// exceed 100% and the combined fee may not exceed the gross amount.
func ComputePayoutSplit(grossCents int64, platformFeeBps, proofworkFeeBps int) (PayoutSplit, error) {
	if grossCents < 0 {
		return PayoutSplit{}, ErrNegativeAmount
	}
	if err := checkBps("platform fee", platformFeeBps); err != nil {
		return PayoutSplit{}, err
	}
	if err := checkBps("proofwork fee", proofworkFeeBps); err != nil {
		return PayoutSplit{}, err
	}
	if platformFeeBps+proofworkFeeBps > MaxBps {
		return PayoutSplit{}, fmt.Errorf("%w: combined %d bps", ErrBpsOutOfRange, platformFeeBps+proofworkFeeBps)
	}

	platform := applyBps(grossCents, platformFeeBps)
	proofwork := applyBps(grossCents, proofworkFeeBps)
	if platform+proofwork > grossCents {
		return PayoutSplit{}, fmt.Errorf("%w: %d > %d", ErrFeesExceedGross, platform+proofwork, grossCents)
	}

	return PayoutSplit{
		GrossCents:        grossCents,
		PlatformFeeCents:  platform,
		ProofworkFeeCents: proofwork,
		NetCents:          grossCents - platform - proofwork,
	}, nil
}

// RefundCents is the amount returned to the buyer when a payout is reversed. The
// proofwork fee is retained.
func RefundCents(amountCents, proofworkFeeCents int64) (int64, error) {
	if amountCents < 0 || proofworkFeeCents < 0 {
		return 0, ErrNegativeAmount
	}
	if proofworkFeeCents > amountCents {
		return 0, fmt.Errorf("%w: proofwork fee %d > %d", ErrFeesExceedGross, proofworkFeeCents, amountCents)
	}
	return amountCents - proofworkFeeCents, nil
}

func checkBps(label string, bps int) error {
	if bps < 0 || bps > MaxBps {
		return fmt.Errorf("%w: %s %d", ErrBpsOutOfRange, label, bps)
	}
	return nil
}

// applyBps computes floor(gross*bps/10000) without overflowing for large grosses.
func applyBps(gross int64, bps int) int64 {
	b := int64(bps)
	return (gross/MaxBps)*b + (gross%MaxBps)*b/MaxBps
}
