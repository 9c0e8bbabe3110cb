package bus

import (
	"context"
	"sync"

	buserrors "github.com/odvcencio/meshbus/pkg/errors"
)

// endpointTable enforces spec.md P7/I3: at most one open endpoint may
// be bound to a given concrete topic at a time.
type endpointTable struct {
	mu    sync.Mutex
	byKey map[string]*Endpoint
}

func newEndpointTable() *endpointTable {
	return &endpointTable{byKey: make(map[string]*Endpoint)}
}

func (e *endpointTable) bind(key string, ep *Endpoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.byKey[key]; exists {
		return buserrors.New(buserrors.CodeAlreadyBound, "an endpoint is already bound to this topic").
			WithContext("key", key)
	}
	e.byKey[key] = ep
	return nil
}

func (e *endpointTable) unbind(key string, ep *Endpoint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.byKey[key]; ok && cur == ep {
		delete(e.byKey, key)
	}
}

func (e *endpointTable) lookup(key string) (*Endpoint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ep, ok := e.byKey[key]
	return ep, ok
}

// Endpoint is a lane-B (point-to-point) receiver bound to a single
// concrete topic (spec.md §4.3). Only one Endpoint may be open per
// topic at a time; PublishOne delivers to the endpoint currently bound
// there, or fails with CodeNoRoute if none is bound.
type Endpoint struct {
	conn    *Connection
	topic   Topic
	key     string
	mailbox *Mailbox

	once sync.Once
}

func newEndpoint(conn *Connection, topic Topic, key string, mailbox *Mailbox) *Endpoint {
	return &Endpoint{conn: conn, topic: topic, key: key, mailbox: mailbox}
}

// Topic returns the concrete topic this Endpoint is bound to.
func (e *Endpoint) Topic() Topic {
	return e.topic
}

// Recv waits for the next message delivered via PublishOne/call_op, or
// for ctx's cancellation, or for the Endpoint to be unbound or its
// connection disconnected.
func (e *Endpoint) Recv(ctx context.Context) (Message, error) {
	msg, reason, err := e.mailbox.Recv(ctx)
	if err != nil {
		return Message{}, err
	}
	if reason != "" {
		return Message{}, closeReasonToError(reason)
	}
	return msg, nil
}

// Dropped reports how many messages this Endpoint's mailbox has
// discarded to its full-policy.
func (e *Endpoint) Dropped() int64 {
	return e.mailbox.Dropped()
}

// Unbind releases the endpoint, freeing its topic for a future Bind.
// Idempotent.
func (e *Endpoint) Unbind() {
	e.closeAs(CloseUnbound)
}

// closeAs is Unbind's implementation, parameterized over the close
// reason so the connection's own teardown (spec.md: Disconnect closes
// with reason "disconnected", not "unbound") can reuse the same
// idempotent removal path instead of racing a second close through
// Unbind.
func (e *Endpoint) closeAs(reason CloseReason) {
	e.once.Do(func() {
		e.conn.bus.endpoints.unbind(e.key, e)
		e.mailbox.Close(reason)
		e.conn.bus.metrics.EndpointsActive.Dec()
	})
}

func closeReasonToError(reason CloseReason) error {
	switch reason {
	case CloseUnsubscribed:
		return buserrors.New(buserrors.CodeUnsubscribed, "subscription was unsubscribed")
	case CloseUnbound:
		return buserrors.New(buserrors.CodeUnbound, "endpoint was unbound")
	case CloseDisconnected:
		return buserrors.New(buserrors.CodeDisconnected, "connection was disconnected")
	default:
		return buserrors.New(buserrors.CodeClosed, "mailbox was closed")
	}
}
