package bus

import (
	"context"
	"sync"
)

// Subscription is a lane-A (pub/sub) receiver registered against a
// pattern that may contain wildcards. Publish fans a message out to
// every open Subscription whose pattern matches the message's concrete
// topic; delivery to any one Subscription never affects another
// (best-effort fanout, spec.md §4).
type Subscription struct {
	conn    *Connection
	pattern Topic
	mailbox *Mailbox

	once sync.Once
}

func newSubscription(conn *Connection, pattern Topic, mailbox *Mailbox) *Subscription {
	return &Subscription{conn: conn, pattern: pattern, mailbox: mailbox}
}

// Pattern returns the pattern this Subscription was registered with.
func (s *Subscription) Pattern() Topic {
	return s.pattern
}

// Recv waits for the next delivered message, or for ctx's cancellation,
// or for the Subscription to be unsubscribed or its connection
// disconnected.
func (s *Subscription) Recv(ctx context.Context) (Message, error) {
	msg, reason, err := s.mailbox.Recv(ctx)
	if err != nil {
		return Message{}, err
	}
	if reason != "" {
		return Message{}, closeReasonToError(reason)
	}
	return msg, nil
}

// Dropped reports how many messages this Subscription's mailbox has
// discarded to its full-policy.
func (s *Subscription) Dropped() int64 {
	return s.mailbox.Dropped()
}

// Iter returns a channel yielding every message this Subscription
// receives, closed once Recv stops returning messages - because the
// Subscription was unsubscribed, its connection disconnected, or ctx
// was cancelled (spec.md §4.4 "iter()": drains until close).
func (s *Subscription) Iter(ctx context.Context) <-chan Message {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			msg, err := s.Recv(ctx)
			if err != nil {
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Payloads is Iter projected down to each message's Payload, for
// callers that have no use for the topic or reply-to metadata
// (spec.md §4.4 "payloads()").
func (s *Subscription) Payloads(ctx context.Context) <-chan any {
	out := make(chan any)
	go func() {
		defer close(out)
		for msg := range s.Iter(ctx) {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Unsubscribe releases the subscription. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.closeAs(CloseUnsubscribed)
}

// closeAs is Unsubscribe's implementation, parameterized over the close
// reason so the connection's own teardown (spec.md: Disconnect closes
// with reason "disconnected", not "unsubscribed") can reuse the same
// idempotent removal path instead of racing a second close through
// Unsubscribe.
func (s *Subscription) closeAs(reason CloseReason) {
	s.once.Do(func() {
		s.conn.bus.subs.DeleteValue(s.pattern, s)
		s.mailbox.Close(reason)
		s.conn.bus.metrics.SubscriptionsActive.Dec()
	})
}
