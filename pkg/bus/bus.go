// Package bus provides an in-process publish/subscribe and
// admission-signalled point-to-point message bus addressed by
// structured topics rather than flat subject strings, with bounded
// per-subscriber mailboxes, scope-bound connection lifecycles, and
// request/reply helpers built on top.
package bus

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	buserrors "github.com/odvcencio/meshbus/pkg/errors"
	"github.com/odvcencio/meshbus/pkg/logging"
	"github.com/odvcencio/meshbus/pkg/metrics"
)

// Config holds the tunables a Bus is constructed with. Prefer the
// With* options over constructing Config directly; it is exported so
// tests and diagnostics can inspect the resolved values.
type Config struct {
	// QueueLength is the default mailbox capacity for new subscriptions
	// and endpoints that do not override it.
	QueueLength int

	// FullPolicy is the default overflow policy for new mailboxes.
	FullPolicy FullPolicy

	// SingleWildcard and MultiWildcard name the tokens treated as the
	// single-level and multi-level wildcard in patterns.
	SingleWildcard string
	MultiWildcard  string

	// CallTimeout is Call's default deadline when no WithCallDeadline
	// option overrides it.
	CallTimeout time.Duration

	// CallBackoffBase and CallBackoffMax bound Call's admission retry
	// backoff (spec.md §4.3).
	CallBackoffBase time.Duration
	CallBackoffMax  time.Duration
}

// DefaultConfig returns a Config with sensible defaults: a queue length
// of 64, drop-oldest overflow, "+"/"#" wildcards, a 1s call timeout, and
// a 10ms-200ms admission retry backoff.
func DefaultConfig() Config {
	return Config{
		QueueLength:     64,
		FullPolicy:      DropOldest,
		SingleWildcard:  "+",
		MultiWildcard:   "#",
		CallTimeout:     time.Second,
		CallBackoffBase: 10 * time.Millisecond,
		CallBackoffMax:  200 * time.Millisecond,
	}
}

// Option configures a Bus at construction time.
type Option func(*Config)

// WithQueueLength overrides the default mailbox capacity.
func WithQueueLength(n int) Option {
	return func(c *Config) { c.QueueLength = n }
}

// WithFullPolicy overrides the default mailbox overflow policy.
func WithFullPolicy(p FullPolicy) Option {
	return func(c *Config) { c.FullPolicy = p }
}

// WithWildcards overrides the single- and multi-level wildcard tokens.
func WithWildcards(single, multi string) Option {
	return func(c *Config) { c.SingleWildcard = single; c.MultiWildcard = multi }
}

// WithCallTimeout overrides Call's default deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Config) { c.CallTimeout = d }
}

// WithCallBackoff overrides Call's admission retry backoff bounds.
func WithCallBackoff(base, max time.Duration) Option {
	return func(c *Config) { c.CallBackoffBase = base; c.CallBackoffMax = max }
}

// Bus is the root of a topic-addressed pub/sub and point-to-point
// message space. A Bus owns the pattern-store trie indexing active
// subscriptions, the literal-store trie indexing retained messages, and
// the endpoint table enforcing at-most-one-open-endpoint-per-topic
// (P7/I3). Zero value is not usable; construct with New.
type Bus struct {
	cfg Config

	subs      *Trie // PatternStore: pattern -> *Subscription
	retained  *Trie // LiteralStore: concrete topic -> Message
	endpoints *endpointTable

	metrics *metrics.Collectors
	logger  *logging.Logger
	tracer  trace.Tracer

	root *Scope
}

// New constructs a Bus. The returned Bus's root Scope is bound to ctx:
// cancelling ctx disconnects every Connection the Bus has ever created.
// New panics with a CodeInvalidPolicy error if the configured FullPolicy
// is not DropOldest or RejectNewest.
func New(ctx context.Context, opts ...Option) *Bus {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.FullPolicy != DropOldest && cfg.FullPolicy != RejectNewest {
		panic(buserrors.New(buserrors.CodeInvalidPolicy, "unsupported default full-policy").
			WithContext("policy", int(cfg.FullPolicy)))
	}

	b := &Bus{
		cfg:       cfg,
		subs:      NewTrie(PatternStore, cfg.SingleWildcard, cfg.MultiWildcard),
		retained:  NewTrie(LiteralStore, cfg.SingleWildcard, cfg.MultiWildcard),
		endpoints: newEndpointTable(),
		metrics:   metrics.New(nil),
		logger:    logging.New(nil),
		tracer:    otel.Tracer("github.com/odvcencio/meshbus/pkg/bus"),
		root:      NewScope(ctx),
	}
	return b
}

// WithBusMetrics registers b's Prometheus collectors against reg,
// replacing any previously registered set. Call this once, immediately
// after New, before any publishing begins.
func (b *Bus) WithBusMetrics(reg prometheus.Registerer) *Bus {
	b.metrics = metrics.New(reg)
	return b
}

// WithBusLogger sets b's structured event logger.
func (b *Bus) WithBusLogger(l *logging.Logger) *Bus {
	if l != nil {
		b.logger = l
	}
	return b
}

// WithBusTracer sets b's OpenTelemetry tracer. A Bus that is never given
// one uses a no-op tracer, so instrumentation points are always safe to
// call.
func (b *Bus) WithBusTracer(t trace.Tracer) *Bus {
	if t != nil {
		b.tracer = t
	}
	return b
}

// Connect creates a new Connection scoped to ctx: cancelling ctx (or
// calling the returned Connection's Disconnect) releases every
// subscription and endpoint the Connection ever created (spec.md §5).
func (b *Bus) Connect(ctx context.Context) *Connection {
	scope := NewScope(ctx)
	b.root.Defer(scope.Close)
	return newConnection(b, scope)
}

// Close disconnects every Connection the Bus has ever created and
// releases its resources. A Bus is not usable after Close.
func (b *Bus) Close() {
	b.root.Close()
}

func (b *Bus) validatePattern(t Topic) error {
	return ValidatePattern(t, b.cfg.SingleWildcard, b.cfg.MultiWildcard)
}

func (b *Bus) validateConcrete(t Topic) error {
	return ValidateConcrete(t, b.cfg.SingleWildcard, b.cfg.MultiWildcard)
}

func (b *Bus) canonicalKey(t Topic) string {
	key, err := CanonicalKey(t)
	if err != nil {
		panic(buserrors.Wrap(err, buserrors.CodeInvalidTopic, "topic could not be canonicalized"))
	}
	return key
}
