package bus

import (
	"sync"

	"github.com/google/uuid"

	buserrors "github.com/odvcencio/meshbus/pkg/errors"
	"github.com/odvcencio/meshbus/pkg/logging"
)

// Connection is a scope-bound handle onto a Bus: every Subscription and
// Endpoint it creates is released automatically when the Connection's
// scope closes, whether that is via an explicit Disconnect, the parent
// context being cancelled, or the owning Bus closing (spec.md §5).
//
// Every operation other than Disconnect panics with a CodeDisconnected
// *errors.Error if called after the Connection has disconnected — per
// spec.md §7, using a disconnected connection is a programmer fault,
// not a delivery outcome.
type Connection struct {
	bus   *Bus
	scope *Scope

	mu           sync.Mutex
	disconnected bool
}

func newConnection(bus *Bus, scope *Scope) *Connection {
	c := &Connection{bus: bus, scope: scope}
	return c
}

func (c *Connection) checkConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	disconnected := c.disconnected
	select {
	case <-c.scope.Done():
		// The scope also closes when its parent context is cancelled or
		// the Bus closes, which disconnects the Connection just the same.
		disconnected = true
	default:
	}
	if disconnected {
		panic(buserrors.New(buserrors.CodeDisconnected, "operation attempted on a disconnected connection"))
	}
}

// subOptions configures a single Subscribe/Bind call, overriding the
// Bus-wide defaults.
type subOptions struct {
	queueLength int
	fullPolicy  FullPolicy
}

// SubOption configures Subscribe or Bind.
type SubOption func(*subOptions)

// WithSubQueueLength overrides this subscription/endpoint's mailbox
// capacity.
func WithSubQueueLength(n int) SubOption {
	return func(o *subOptions) { o.queueLength = n }
}

// WithSubFullPolicy overrides this subscription's overflow policy. Bind
// ignores it: an endpoint's overflow policy is always reject_newest.
func WithSubFullPolicy(p FullPolicy) SubOption {
	return func(o *subOptions) { o.fullPolicy = p }
}

func (c *Connection) resolveSubOptions(opts []SubOption) subOptions {
	o := subOptions{queueLength: c.bus.cfg.QueueLength, fullPolicy: c.bus.cfg.FullPolicy}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Publish delivers payload to every open Subscription whose pattern
// matches topic. Publish never blocks on a slow or full subscriber: a
// subscriber whose mailbox is full loses the message to its configured
// FullPolicy, and that loss is never raised to the publisher (spec.md
// §4, best-effort fanout).
func (c *Connection) Publish(topic Topic, payload any) error {
	c.checkConnected()
	return c.publishTo(topic, Message{Topic: topic, Payload: payload, ID: uuid.NewString()})
}

// publishTo fans msg out to every Subscription whose pattern matches
// topic. Shared by Publish and the request/reply helpers, which need to
// stamp a ReplyTo onto the outgoing message. topic must be concrete; an
// invalid topic is a programmer fault (spec.md §7) and panics rather
// than returning an error.
func (c *Connection) publishTo(topic Topic, msg Message) error {
	if err := c.bus.validateConcrete(topic); err != nil {
		panic(err)
	}
	if err := c.bus.subs.Each(topic, func(v any) {
		sub := v.(*Subscription)
		sub.mailbox.TrySend(msg)
	}); err != nil {
		panic(err)
	}
	c.bus.metrics.PublishedTotal.Inc()
	return nil
}

// Retain delivers payload to every matching Subscription exactly as
// Publish does, then stores it as the most recent retained message for
// topic, replacing whatever was retained there before. A nil payload and an
// invalid topic are both programmer faults (spec.md §7, §9's open
// question on nil-as-Unretain, decided) and panic rather than being
// returned: callers that mean "forget this topic" must call Unretain
// explicitly.
func (c *Connection) Retain(topic Topic, payload any) error {
	c.checkConnected()
	if payload == nil {
		panic(buserrors.New(buserrors.CodeInvalidTopic, "retain requires a non-nil payload; call Unretain to clear a topic"))
	}
	if err := c.bus.validateConcrete(topic); err != nil {
		panic(err)
	}
	msg := Message{Topic: topic, Payload: payload, ID: uuid.NewString()}
	if err := c.publishTo(topic, msg); err != nil {
		return err
	}
	if err := c.bus.retained.Set(topic, msg); err != nil {
		panic(err)
	}
	return nil
}

// Unretain removes topic's retained message, if any.
func (c *Connection) Unretain(topic Topic) error {
	c.checkConnected()
	if err := c.bus.validateConcrete(topic); err != nil {
		panic(err)
	}
	c.bus.retained.Delete(topic)
	return nil
}

// Retained returns every currently retained message whose topic matches
// query, which may itself contain wildcards (spec.md §4.1 literal-store
// direction). An invalid query panics rather than returning an error.
func (c *Connection) Retained(query Topic) ([]Message, error) {
	c.checkConnected()
	var out []Message
	if err := c.bus.retained.Each(query, func(v any) {
		out = append(out, v.(Message))
	}); err != nil {
		panic(err)
	}
	return out, nil
}

// Subscribe registers pattern for lane-A (pub/sub) delivery. pattern
// may contain wildcards; a multi-level wildcard, if present, must be
// the last token (I1). Subscribe replays every currently retained
// message whose topic matches pattern into the new mailbox before
// returning, via the same non-blocking enqueue publish itself uses: an
// overloaded new subscriber drops replayed messages exactly as it would
// drop live ones.
func (c *Connection) Subscribe(pattern Topic, opts ...SubOption) (*Subscription, error) {
	c.checkConnected()
	if err := c.bus.validatePattern(pattern); err != nil {
		panic(err)
	}

	o := c.resolveSubOptions(opts)
	mailbox := NewMailbox(o.queueLength, o.fullPolicy)
	sub := newSubscription(c, pattern, mailbox)
	mailbox.OnDrop(func() {
		c.bus.metrics.DroppedTotal.WithLabelValues(policyLabel(o.fullPolicy)).Inc()
		c.bus.logger.Warn(logging.CategorySubscription, "dropped", "", map[string]any{"pattern": pattern.String()})
	})

	if err := c.bus.subs.Insert(pattern, sub); err != nil {
		panic(err)
	}
	// A scope teardown (Disconnect, or the scope's parent ctx being
	// cancelled) reports "disconnected" to any waiting receiver, not
	// "unsubscribed" - that reason is reserved for an explicit
	// Subscription.Unsubscribe call.
	c.scope.Defer(func() { sub.closeAs(CloseDisconnected) })
	c.bus.metrics.SubscriptionsActive.Inc()
	c.bus.logger.Debug(logging.CategorySubscription, "subscribed", "", map[string]any{"pattern": pattern.String()})

	c.bus.retained.Each(pattern, func(v any) {
		mailbox.TrySend(v.(Message))
	})
	return sub, nil
}

// Bind registers the calling connection as the lane-B (point-to-point)
// endpoint for topic, which must be concrete. At most one endpoint may
// be bound to a given topic at a time (P7/I3); Bind panics with a
// CodeAlreadyBound error if another endpoint already holds it. An endpoint's
// overflow policy is always reject_newest; only its queue length is
// configurable (§6 per-bind options).
func (c *Connection) Bind(topic Topic, opts ...SubOption) (*Endpoint, error) {
	c.checkConnected()
	if err := c.bus.validateConcrete(topic); err != nil {
		panic(err)
	}
	key := c.bus.canonicalKey(topic)

	o := c.resolveSubOptions(opts)
	o.fullPolicy = RejectNewest
	mailbox := NewMailbox(o.queueLength, o.fullPolicy)
	ep := newEndpoint(c, topic, key, mailbox)
	mailbox.OnDrop(func() {
		c.bus.metrics.DroppedTotal.WithLabelValues(policyLabel(o.fullPolicy)).Inc()
		c.bus.logger.Warn(logging.CategoryEndpoint, "dropped", "", map[string]any{"topic": topic.String()})
	})

	if err := c.bus.endpoints.bind(key, ep); err != nil {
		panic(err)
	}
	// See the matching comment in Subscribe: scope teardown reports
	// "disconnected", reserving "unbound" for an explicit Endpoint.Unbind.
	c.scope.Defer(func() { ep.closeAs(CloseDisconnected) })
	c.bus.metrics.EndpointsActive.Inc()
	c.bus.logger.Debug(logging.CategoryEndpoint, "bound", "", map[string]any{"topic": topic.String()})
	return ep, nil
}

// PublishOne delivers payload to the single endpoint currently bound to
// topic. It fails with CodeNoRoute if no endpoint is bound there.
func (c *Connection) PublishOne(topic Topic, payload any) error {
	c.checkConnected()
	return c.publishOneMsg(topic, Message{Topic: topic, Payload: payload, ID: uuid.NewString()})
}

// publishOneMsg is PublishOne's implementation, taking a fully formed
// Message so Call can stamp a ReplyTo onto it. An invalid topic panics
// (spec.md §7); a missing, full, or closed endpoint are delivery
// outcomes and come back as ordinary errors (CodeNoRoute/CodeFull/
// CodeClosed) so Call's admission loop can tell them apart and retry.
func (c *Connection) publishOneMsg(topic Topic, msg Message) error {
	if err := c.bus.validateConcrete(topic); err != nil {
		panic(err)
	}
	key := c.bus.canonicalKey(topic)

	ep, ok := c.bus.endpoints.lookup(key)
	if !ok {
		return buserrors.New(buserrors.CodeNoRoute, "no endpoint bound to this topic").WithContext("topic", topic.String())
	}

	switch ep.mailbox.TrySend(msg) {
	case SendAccepted, SendDroppedOldest:
		c.bus.metrics.PublishedTotal.Inc()
		return nil
	case SendClosed:
		return buserrors.New(buserrors.CodeClosed, "endpoint mailbox is closed").WithContext("topic", topic.String())
	default:
		return buserrors.New(buserrors.CodeFull, "endpoint mailbox is full").WithContext("topic", topic.String())
	}
}

// Disconnect releases every Subscription and Endpoint this Connection
// ever created, in reverse creation order. Idempotent; safe to call
// more than once.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	c.mu.Unlock()

	c.scope.Close()
	c.bus.logger.Info(logging.CategoryConnection, "disconnected", "", nil)
}
