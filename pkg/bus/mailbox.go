package bus

import (
	"context"
	"sync"
	"sync/atomic"

	buserrors "github.com/odvcencio/meshbus/pkg/errors"
)

// FullPolicy selects what a Mailbox does when TrySend arrives at
// capacity (spec.md §4.2). "block" is deliberately absent: Publish must
// never block the publisher, so a blocking policy is rejected wherever
// a FullPolicy is configured.
type FullPolicy int

const (
	DropOldest FullPolicy = iota
	RejectNewest
)

// CloseReason names why a Mailbox stopped accepting new items. Once set
// on a Mailbox it never changes (I7): the first Close call wins.
type CloseReason string

const (
	CloseUnsubscribed CloseReason = "unsubscribed"
	CloseDisconnected CloseReason = "disconnected"
	CloseUnbound      CloseReason = "unbound"
)

// SendOutcome reports what TrySend did with a message, per spec.md
// §4.2's delivery-outcome table. PublishOne and Call's admission loop
// both need to distinguish these outcomes; Publish's best-effort fanout
// does not and may discard the value.
type SendOutcome string

const (
	SendAccepted      SendOutcome = "accepted"
	SendDroppedOldest SendOutcome = "dropped_oldest"
	SendRejected      SendOutcome = "rejected"
	SendClosed        SendOutcome = "closed"
)

// Mailbox is a bounded, non-blocking-on-send queue of Messages. Publish
// never blocks on a full Mailbox: TrySend applies the configured
// FullPolicy and returns immediately, incrementing the drop counter on
// loss. A closed Mailbox still yields any messages buffered before
// Close was called (drain-before-report); once drained, Recv reports
// the close reason forever after.
type Mailbox struct {
	mu          sync.Mutex
	ch          chan Message
	policy      FullPolicy
	dropped     atomic.Int64
	closed      bool
	closeReason CloseReason
	closedCh    chan struct{}
	onDrop      func()
}

// OnDrop registers fn to be called synchronously every time TrySend
// loses a message to the Mailbox's FullPolicy. Used by Subscription and
// Endpoint to surface drops to the bus's metrics and logger without the
// Mailbox itself depending on either.
func (m *Mailbox) OnDrop(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDrop = fn
}

// Policy returns the Mailbox's configured overflow policy.
func (m *Mailbox) Policy() FullPolicy {
	return m.policy
}

// policyLabel renders a FullPolicy as the Prometheus label value used
// by the bus's dropped-message counter.
func policyLabel(p FullPolicy) string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case RejectNewest:
		return "reject_newest"
	default:
		return "unknown"
	}
}

// NewMailbox constructs a Mailbox with the given bounded capacity and
// overflow policy. It panics if policy is not one of the supported
// FullPolicy values, since an unsupported policy (e.g. a caller's stray
// "block" constant) is a configuration error, not a runtime outcome.
func NewMailbox(capacity int, policy FullPolicy) *Mailbox {
	if policy != DropOldest && policy != RejectNewest {
		panic(buserrors.New(buserrors.CodeInvalidPolicy, "unsupported mailbox full-policy").
			WithContext("policy", int(policy)))
	}
	return &Mailbox{
		ch:       make(chan Message, capacity),
		policy:   policy,
		closedCh: make(chan struct{}),
	}
}

// TrySend enqueues msg without blocking and reports what happened to
// it. If the Mailbox is closed, the send is silently discarded (a
// closed Mailbox never reopens) and TrySend reports SendClosed. If the
// Mailbox is full, the configured FullPolicy decides what is kept, the
// drop counter is incremented, and TrySend reports SendDroppedOldest or
// SendRejected accordingly.
func (m *Mailbox) TrySend(msg Message) SendOutcome {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return SendClosed
	}

	select {
	case m.ch <- msg:
		m.mu.Unlock()
		return SendAccepted
	default:
	}

	dropped := false
	outcome := SendRejected
	switch m.policy {
	case DropOldest:
		select {
		case <-m.ch:
			m.dropped.Add(1)
			dropped = true
		default:
		}
		select {
		case m.ch <- msg:
			outcome = SendDroppedOldest
		default:
			m.dropped.Add(1)
			dropped = true
		}
	case RejectNewest:
		m.dropped.Add(1)
		dropped = true
	}
	onDrop := m.onDrop
	m.mu.Unlock()

	if dropped && onDrop != nil {
		onDrop()
	}
	return outcome
}

// Dropped reports how many messages this Mailbox has discarded to its
// FullPolicy since construction.
func (m *Mailbox) Dropped() int64 {
	return m.dropped.Load()
}

// Close marks the Mailbox closed with reason. Calling Close more than
// once is a no-op after the first call: the reason set by the first
// Close is the one Recv reports forever after (I7).
func (m *Mailbox) Close(reason CloseReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.closeReason = reason
	close(m.closedCh)
}

// Recv waits for the next buffered message, the Mailbox's close reason
// once drained, or ctx's cancellation, whichever happens first. A
// non-empty reason with a nil error means the Mailbox is closed and
// empty; any buffered message is always delivered before the reason is
// reported.
func (m *Mailbox) Recv(ctx context.Context) (Message, CloseReason, error) {
	select {
	case msg := <-m.ch:
		return msg, "", nil
	default:
	}

	select {
	case msg := <-m.ch:
		return msg, "", nil
	case <-m.closedCh:
		select {
		case msg := <-m.ch:
			return msg, "", nil
		default:
		}
		m.mu.Lock()
		reason := m.closeReason
		m.mu.Unlock()
		return Message{}, reason, nil
	case <-ctx.Done():
		return Message{}, "", ctx.Err()
	}
}
