// Package metrics holds the tag conventions shared by the pipeline workers so every
// component reports transitions the same way.
package metrics

import (
	"time"

	obserrors "github.com/proofwork/proofwork/internal/observability/errors"
	"github.com/proofwork/proofwork/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
	ResultSkipped = "skipped"
)

// OutboxMetric captures one outbox event transition.
type OutboxMetric struct {
	Topic string
	// Transition is sent, retry, deadletter or released.
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitOutboxTransition emits outbox.transition and, when timed, outbox.handle_duration.
func EmitOutboxTransition(sink statsd.Sink, in OutboxMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"topic":      in.Topic,
		"transition": in.Transition,
		"result":     in.Result,
	}
	addErrorClass(tags, in.Result, in.Err)

	sink.Count("outbox.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("outbox.handle_duration", in.Duration, CloneTags(tags))
	}
}

// EmitOutboxClaimed records how many events one poll claimed.
func EmitOutboxClaimed(sink statsd.Sink, topic string, n int) {
	if sink == nil || n == 0 {
		return
	}
	sink.Count("outbox.claimed", int64(n), map[string]string{"topic": topic})
}

// PayoutMetric captures one payout execution attempt.
type PayoutMetric struct {
	Provider string
	Result   string
	// Reason is set for skipped executions (terminal, dispute_open, ...).
	Reason   string
	Duration time.Duration
	Err      error
}

// EmitPayoutExecuted emits payout.executed, and payout.blocked for blocked skips.
func EmitPayoutExecuted(sink statsd.Sink, in PayoutMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"provider": in.Provider,
		"result":   in.Result,
	}
	if in.Reason != "" {
		tags["reason"] = in.Reason
	}
	addErrorClass(tags, in.Result, in.Err)

	sink.Count("payout.executed", 1, tags)
	if in.Result == ResultSkipped && in.Reason != "" && in.Reason != "terminal" {
		sink.Count("payout.blocked", 1, map[string]string{"reason": in.Reason})
	}
	if in.Duration > 0 {
		sink.Timing("payout.execute_duration", in.Duration, CloneTags(tags))
	}
}

func addErrorClass(tags map[string]string, result string, err error) {
	if err == nil || result != ResultError {
		return
	}
	if class := obserrors.Classify(err); class != "" {
		tags["error_class"] = class
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
