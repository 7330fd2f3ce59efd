// Package bus dispatches messages across their resolved channels. Channel
// sends for one message fan out concurrently under a bounded pool; all
// outcomes are joined before the terminal status is written.
package bus

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/msgbus/observability"
	"github.com/kart-io/msgbus/pkg/connector"
	"github.com/kart-io/msgbus/pkg/errors"
	"github.com/kart-io/msgbus/pkg/logger"
	"github.com/kart-io/msgbus/pkg/message"
	"github.com/kart-io/msgbus/pkg/utils/idgen"
)

// Resolver turns a sender and category into the channel to recipient-address
// map for a dispatch.
type Resolver interface {
	Resolve(ctx context.Context, sender, category string, overrides map[string][]string) (map[string][]string, error)
}

// ConnectorSource supplies a configured connector per channel.
type ConnectorSource interface {
	Get(channel string) (connector.Connector, error)
}

const defaultMaxConcurrent = 4

// Dispatcher routes one message to all its resolved channels.
type Dispatcher struct {
	resolver      Resolver
	connectors    ConnectorSource
	messages      message.Store
	deliveryLogs  message.DeliveryLogStore
	telemetry     *observability.TelemetryProvider
	logger        logger.Logger
	maxConcurrent int
	now           func() time.Time
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithMaxConcurrent bounds the per-message channel fan-out.
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxConcurrent = n
		}
	}
}

// WithDeliveryLog enables per-recipient delivery logging.
func WithDeliveryLog(store message.DeliveryLogStore) Option {
	return func(d *Dispatcher) { d.deliveryLogs = store }
}

// WithTelemetry attaches tracing and metrics.
func WithTelemetry(tp *observability.TelemetryProvider) Option {
	return func(d *Dispatcher) { d.telemetry = tp }
}

// WithClock overrides the dispatcher's clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher over the given resolver, connector
// source, and message store.
func NewDispatcher(resolver Resolver, connectors ConnectorSource, messages message.Store, log logger.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = logger.Discard
	}
	d := &Dispatcher{
		resolver:      resolver,
		connectors:    connectors,
		messages:      messages,
		logger:        log,
		maxConcurrent: defaultMaxConcurrent,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch persists the message, resolves its audience, fans out across
// channels, joins all outcomes, and writes the terminal status. The message
// completes if at least one channel delivered; it fails otherwise.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *message.Message, overrides map[string][]string) (*Receipt, error) {
	start := d.now()

	if msg.UUID == "" {
		msg.UUID = idgen.NewUUID()
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	if err := d.messages.Create(ctx, msg); err != nil {
		return nil, errors.Wrapf(err, errors.ErrStore, "persist message uuid=%s", msg.UUID)
	}

	endSpan := func(error) {}
	if d.telemetry != nil {
		var s trace.Span
		ctx, s = d.telemetry.TraceDispatch(ctx, msg.UUID, msg.Sender, msg.Category)
		span := s
		endSpan = func(err error) {
			if err != nil {
				d.telemetry.SetSpanError(span, err)
			} else {
				d.telemetry.SetSpanSuccess(span)
			}
			span.End()
		}
	}

	resolved, err := d.resolver.Resolve(ctx, msg.Sender, msg.Category, overrides)
	if err != nil {
		d.finish(ctx, msg, nil, start)
		endSpan(err)
		return nil, err
	}

	channels := make([]string, 0, len(resolved))
	for ch := range resolved {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	outcomes := d.fanOut(ctx, msg, channels, resolved)

	receipt := &Receipt{
		MessageUUID: msg.UUID,
		TaskID:      idgen.NewUUID(),
		Outcomes:    outcomes,
	}

	d.finish(ctx, msg, receipt, start)
	receipt.Status = string(msg.Status)

	d.appendDeliveryLogs(ctx, msg, receipt)
	if msg.Status == message.StatusFailed {
		endSpan(errors.New(errors.ErrInternal, "all channels failed"))
	} else {
		endSpan(nil)
	}
	return receipt, nil
}

// fanOut runs all channel sends under the bounded pool and joins them.
func (d *Dispatcher) fanOut(ctx context.Context, msg *message.Message, channels []string, resolved map[string][]string) []Outcome {
	outcomes := make([]Outcome, len(channels))
	sem := make(chan struct{}, d.maxConcurrent)
	var wg sync.WaitGroup

	for i, ch := range channels {
		wg.Add(1)
		go func(idx int, channel string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[idx] = Outcome{
					Channel:    channel,
					Status:     OutcomeTimeout,
					Detail:     "deadline exceeded before send started",
					Recipients: resolved[channel],
				}
				return
			}

			outcomes[idx] = d.sendChannel(ctx, msg, channel, resolved[channel])
		}(i, ch)
	}
	wg.Wait()
	return outcomes
}

// sendChannel runs one channel's scoped connect/send/disconnect cycle.
func (d *Dispatcher) sendChannel(ctx context.Context, msg *message.Message, channel string, recipients []string) Outcome {
	outcome := Outcome{Channel: channel, Recipients: recipients}

	if len(recipients) == 0 {
		d.logger.Warn("Channel resolved to no recipients, skipping", "channel", channel, "message_uuid", msg.UUID)
		outcome.Status = OutcomeWarning
		outcome.Detail = "no recipients resolved"
		return outcome
	}

	span := func(error) {}
	if d.telemetry != nil {
		var s trace.Span
		ctx, s = d.telemetry.TraceChannelSend(ctx, msg.UUID, channel, len(recipients))
		span = func(err error) {
			if err != nil {
				d.telemetry.SetSpanError(s, err)
			} else {
				d.telemetry.SetSpanSuccess(s)
			}
			s.End()
		}
	}

	conn, err := d.connectors.Get(channel)
	if err != nil {
		span(err)
		return d.failedOutcome(ctx, outcome, channel, err)
	}

	if err := conn.Connect(ctx); err != nil {
		span(err)
		return d.failedOutcome(ctx, outcome, channel, err)
	}
	// Release the session on every exit path, even after the caller's
	// deadline has expired.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := conn.Disconnect(releaseCtx); err != nil {
			d.logger.Warn("Failed to release connector", "channel", channel, "error", err)
		}
	}()

	if err := conn.Send(ctx, msg, recipients); err != nil {
		span(err)
		return d.failedOutcome(ctx, outcome, channel, err)
	}

	span(nil)
	d.logger.Info("Channel delivered", "channel", channel, "message_uuid", msg.UUID, "recipients", len(recipients))
	outcome.Status = OutcomeOK
	return outcome
}

// failedOutcome classifies a channel failure as timeout or error.
func (d *Dispatcher) failedOutcome(ctx context.Context, outcome Outcome, channel string, err error) Outcome {
	outcome.Detail = err.Error()
	code, _ := errors.CodeOf(err)
	if stderrors.Is(err, context.DeadlineExceeded) || code == errors.ErrTimeout {
		outcome.Status = OutcomeTimeout
	} else {
		outcome.Status = OutcomeError
	}

	d.logger.Error("Channel send failed", "channel", channel, "status", outcome.Status, "error", err)
	if d.telemetry != nil {
		d.telemetry.RecordChannelFailure(ctx, channel, string(errors.GetCode(err)))
	}
	return outcome
}

// finish writes the message's terminal status from the joined outcomes.
func (d *Dispatcher) finish(ctx context.Context, msg *message.Message, receipt *Receipt, start time.Time) {
	now := d.now()

	if receipt != nil && receipt.Succeeded() {
		msg.MarkCompleted(now)
	} else {
		msg.MarkFailed()
	}

	if err := d.messages.UpdateStatus(ctx, msg.UUID, msg.Status, msg.SentAt); err != nil {
		d.logger.Error("Failed to persist message status", "message_uuid", msg.UUID, "status", msg.Status, "error", err)
	}

	if d.telemetry != nil {
		d.telemetry.RecordDispatch(ctx, string(msg.Status), now.Sub(start))
	}
	d.logger.Info("Dispatch finished", "message_uuid", msg.UUID, "status", msg.Status, "duration", now.Sub(start))
}

// appendDeliveryLogs records one row per recipient per channel.
func (d *Dispatcher) appendDeliveryLogs(ctx context.Context, msg *message.Message, receipt *Receipt) {
	if d.deliveryLogs == nil {
		return
	}

	now := d.now()
	var rows []*message.DeliveryLog
	for _, o := range receipt.Outcomes {
		if len(o.Recipients) == 0 {
			rows = append(rows, &message.DeliveryLog{
				UUID:      msg.UUID,
				TaskID:    receipt.TaskID,
				Recipient: "",
				Channel:   o.Channel,
				Status:    string(o.Status),
				UpdatedAt: now,
			})
			continue
		}
		for _, r := range o.Recipients {
			rows = append(rows, &message.DeliveryLog{
				UUID:      msg.UUID,
				TaskID:    receipt.TaskID,
				Recipient: r,
				Channel:   o.Channel,
				Status:    string(o.Status),
				UpdatedAt: now,
			})
		}
	}
	if err := d.deliveryLogs.Append(ctx, rows); err != nil {
		d.logger.Error("Failed to append delivery log", "message_uuid", msg.UUID, "error", err)
	}
}
