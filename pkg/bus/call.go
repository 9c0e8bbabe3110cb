package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	buserrors "github.com/odvcencio/meshbus/pkg/errors"
	"github.com/odvcencio/meshbus/pkg/retry"
)

// callConfig carries Call's per-call overrides.
type callConfig struct {
	timeout     time.Duration
	backoffBase time.Duration
	backoffMax  time.Duration
	requestID   string
}

// CallOption configures a single Call.
type CallOption func(*callConfig)

// WithCallDeadline overrides this call's timeout.
func WithCallDeadline(d time.Duration) CallOption {
	return func(c *callConfig) { c.timeout = d }
}

// WithCallRetryBackoff overrides this call's admission-retry backoff
// bounds (spec.md §6's "backoff"/"backoff_max" per-call options),
// leaving the Bus-wide default set by WithCallBackoff untouched for
// every other call.
func WithCallRetryBackoff(base, max time.Duration) CallOption {
	return func(c *callConfig) { c.backoffBase = base; c.backoffMax = max }
}

// WithRequestID stamps id onto this call's outgoing message instead of
// a freshly generated uuid (spec.md §6's "request_id" per-call option),
// letting a caller correlate a call with an externally issued
// identifier.
func WithRequestID(id string) CallOption {
	return func(c *callConfig) { c.requestID = id }
}

// Call performs an admission-signalled RPC against topic (spec.md
// §4.3): a fresh reply endpoint is bound first, then PublishOne is
// retried with exponential backoff (bus-configured base/max, default
// 10ms-200ms) until either some endpoint is bound at topic and accepts
// the message, or the deadline passes. Once accepted, Call races the
// reply against the same deadline. The temporary reply endpoint is
// unbound on every terminal outcome.
func (c *Connection) Call(ctx context.Context, topic Topic, payload any, opts ...CallOption) (Message, error) {
	c.checkConnected()

	ctx, span := c.bus.tracer.Start(ctx, "bus.Call")
	defer span.End()
	span.SetAttributes(attribute.String("bus.topic", topic.String()))

	cfg := callConfig{
		timeout:     c.bus.cfg.CallTimeout,
		backoffBase: c.bus.cfg.CallBackoffBase,
		backoffMax:  c.bus.cfg.CallBackoffMax,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	deadline := time.Now().Add(cfg.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	reply := freshReplyTopic()
	ep, err := c.Bind(reply)
	if err != nil {
		return Message{}, err
	}
	defer ep.Unbind()

	requestID := cfg.requestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	msg := Message{Topic: topic, Payload: payload, ReplyTo: reply, ID: requestID}

	backoff := retry.Backoff{
		Base:       cfg.backoffBase,
		Max:        cfg.backoffMax,
		Multiplier: 2,
	}
	// Admission is retried on every outcome a full/unrouted/closing
	// endpoint can produce (retry/backoff.go's doc comment: "retrying on
	// full/no_route/closed"); anything else aborts the loop immediately.
	admissionRetriable := func(err error) bool {
		return buserrors.IsCode(err, buserrors.CodeNoRoute) ||
			buserrors.IsCode(err, buserrors.CodeFull) ||
			buserrors.IsCode(err, buserrors.CodeClosed)
	}

	admitErr := backoff.Run(ctx, deadline, admissionRetriable, func() (bool, error) {
		perr := c.publishOneMsg(topic, msg)
		return perr == nil, perr
	})
	if admitErr != nil {
		terminal := callTerminalError(admitErr)
		span.RecordError(terminal)
		c.bus.metrics.RepliesTotal.WithLabelValues(callOutcome(terminal)).Inc()
		return Message{}, terminal
	}

	rctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	resp, rerr := ep.Recv(rctx)
	if rerr != nil {
		terminal := callTerminalError(rerr)
		span.RecordError(terminal)
		c.bus.metrics.RepliesTotal.WithLabelValues(callOutcome(terminal)).Inc()
		return Message{}, terminal
	}

	c.bus.metrics.RepliesTotal.WithLabelValues("ok").Inc()
	return resp, nil
}

// callTerminalError maps a raw backoff/receive error to the error the
// caller sees: a deadline that elapsed while retrying admission reads
// as a timeout, not as the last no_route/full/closed it happened to
// observe.
func callTerminalError(err error) error {
	switch {
	case err == context.DeadlineExceeded:
		return buserrors.New(buserrors.CodeTimeout, "call timed out")
	case err == context.Canceled:
		return buserrors.New(buserrors.CodeCancelled, "call was cancelled")
	case buserrors.IsCode(err, buserrors.CodeNoRoute),
		buserrors.IsCode(err, buserrors.CodeFull),
		buserrors.IsCode(err, buserrors.CodeClosed):
		return buserrors.New(buserrors.CodeTimeout, "call timed out waiting for an endpoint to accept the request")
	default:
		return err
	}
}

func callOutcome(err error) string {
	switch buserrors.GetCode(err) {
	case buserrors.CodeTimeout:
		return "timeout"
	case buserrors.CodeCancelled:
		return "cancelled"
	default:
		return "error"
	}
}
