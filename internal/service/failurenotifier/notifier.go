// Package failurenotifier fans deadlettered outbox events out to operator sinks.
package failurenotifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/proofwork/proofwork/internal/core"
	"github.com/proofwork/proofwork/internal/data"
	"github.com/proofwork/proofwork/internal/domain/model"
	obserrors "github.com/proofwork/proofwork/internal/observability/errors"
	"github.com/proofwork/proofwork/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	Clock  data.TimeProvider
}

// Service dispatches deadletter events to all registered sinks.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
	clock  data.TimeProvider
}

var _ core.DeadletterNotifier = (*Service)(nil)

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "failure_notifier")

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{Name: name, Sink: entry.Sink})
	}

	clock := opts.Clock
	if clock == nil {
		clock = data.RealTimeProvider{}
	}
	return &Service{logger: logger, sinks: sinks, clock: clock}
}

// moneyTopics carry funds; losing one of them pages rather than warns.
var moneyTopics = map[string]bool{
	model.TopicPayoutRequested:     true,
	model.TopicAutoRefundRequested: true,
}

// NotifyDeadletter implements core.DeadletterNotifier.
func (s *Service) NotifyDeadletter(ctx context.Context, evt model.OutboxEvent, cause error) {
	payload := notify.DeadletterPayload{
		EventID:        evt.ID,
		Topic:          evt.Topic,
		IdempotencyKey: evt.IdempotencyKey,
		Attempts:       evt.Attempts,
		Severity:       notify.SeverityError,
		OccurredAt:     s.clock.Now(),
		Metadata:       payloadIDs(evt.Payload),
	}
	if moneyTopics[evt.Topic] {
		payload.Severity = notify.SeverityCritical
	}
	if cause != nil {
		payload.Error = cause.Error()
		payload.ErrorClass = obserrors.Classify(cause)
	}
	s.Send(ctx, payload)
}

// Send fans the payload out to all sinks and waits for them.
func (s *Service) Send(ctx context.Context, payload notify.DeadletterPayload) {
	if len(s.sinks) == 0 {
		s.logger.WarnContext(ctx, "deadletter with no notification sinks",
			"event_id", payload.EventID,
			"topic", payload.Topic,
		)
		return
	}
	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendDeadletter(ctx, payload); err != nil {
				s.logger.Error("failure notifier delivery error",
					"sink", entry.Name,
					"event_id", payload.EventID,
					"topic", payload.Topic,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return len(s.sinks) > 0
}

// payloadIDs lifts the *_id string fields of an event payload into metadata.
func payloadIDs(raw json.RawMessage) map[string]string {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	out := make(map[string]string)
	for k, v := range fields {
		str, ok := v.(string)
		if !ok || str == "" || len(k) < 3 || k[len(k)-3:] != "_id" {
			continue
		}
		out[k] = str
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
