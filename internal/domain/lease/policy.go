package lease

import (
	"errors"
	"time"
)

// ErrInvalidDefault indicates the configured default lease duration is not positive.
var ErrInvalidDefault = errors.New("default lease must be positive")

// Source identifies how a lease duration was resolved.
type Source string

const (
	// SourceExplicit indicates the caller supplied an in-range duration.
	SourceExplicit Source = "explicit"
	// SourceDefault indicates the default duration was used.
	SourceDefault Source = "default"
	// SourceClamped indicates the requested duration was clamped into [min, max].
	SourceClamped Source = "clamped"
)

// Policy normalises requested lease durations.
type Policy struct {
	def time.Duration
	min time.Duration
	max time.Duration
}

// NewPolicy constructs a Policy. A zero max means unbounded; min below one second is
// raised to one second since expiries are stored at second granularity.
func NewPolicy(def, minTTL, maxTTL time.Duration) (*Policy, error) {
	if def <= 0 {
		return nil, ErrInvalidDefault
	}
	if minTTL < time.Second {
		minTTL = time.Second
	}
	if maxTTL > 0 && maxTTL < minTTL {
		maxTTL = minTTL
	}
	return &Policy{def: def, min: minTTL, max: maxTTL}, nil
}

// Default returns the configured default lease duration.
func (p *Policy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.def
}

// Decision captures the outcome of resolving a lease request.
type Decision struct {
	TTL       time.Duration
	Source    Source
	Requested time.Duration
}

// Clamped reports whether the requested value was clamped.
func (d Decision) Clamped() bool {
	return d.Source == SourceClamped
}

// Resolve maps a requested duration onto the policy. Zero selects the default.
func (p *Policy) Resolve(request time.Duration) Decision {
	d := Decision{Requested: request}
	switch {
	case request == 0:
		d.TTL, d.Source = p.def, SourceDefault
		if c := p.clamp(p.def); c != p.def {
			d.TTL, d.Source = c, SourceClamped
		}
	default:
		d.TTL, d.Source = request, SourceExplicit
		if c := p.clamp(request); c != request {
			d.TTL, d.Source = c, SourceClamped
		}
	}
	d.TTL = d.TTL.Truncate(time.Second)
	return d
}

func (p *Policy) clamp(d time.Duration) time.Duration {
	if d < p.min {
		return p.min
	}
	if p.max > 0 && d > p.max {
		return p.max
	}
	return d
}
