package bus

import (
	"context"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	buserrors "github.com/odvcencio/meshbus/pkg/errors"
)

// replyTopicPrefix namespaces generated reply topics away from
// application topic space.
const replyTopicPrefix = "_reply"

func freshReplyTopic() Topic {
	return Topic{replyTopicPrefix, ulid.Make().String()}
}

// RequestSub publishes payload to topic after first subscribing to a
// freshly generated reply topic, avoiding the race where a fast
// responder's reply is published before the requester starts
// listening. The returned Subscription may receive more than one reply
// (spec.md §4.4's "request_sub": multi-reply, caller-driven lifetime);
// the caller is responsible for calling Unsubscribe once done.
func (c *Connection) RequestSub(topic Topic, payload any, opts ...SubOption) (*Subscription, error) {
	c.checkConnected()

	reply := freshReplyTopic()
	sub, err := c.Subscribe(reply, opts...)
	if err != nil {
		return nil, err
	}

	if err := c.publishTo(topic, Message{Topic: topic, Payload: payload, ReplyTo: reply, ID: uuid.NewString()}); err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	return sub, nil
}

// RequestOnce publishes payload to topic and waits for exactly one
// reply or ctx's cancellation. Its reply subscription is scoped to this
// call: qlen=1 with reject_newest (a second concurrent reply is
// discarded, not queued) and is guaranteed to be released on every
// return path, matching spec.md §4.4's "request_once_op" bracket
// pattern.
func (c *Connection) RequestOnce(ctx context.Context, topic Topic, payload any) (Message, error) {
	c.checkConnected()

	reply := freshReplyTopic()
	sub, err := c.Subscribe(reply, WithSubQueueLength(1), WithSubFullPolicy(RejectNewest))
	if err != nil {
		return Message{}, err
	}
	defer sub.Unsubscribe()

	if err := c.publishTo(topic, Message{Topic: topic, Payload: payload, ReplyTo: reply, ID: uuid.NewString()}); err != nil {
		return Message{}, err
	}

	msg, err := sub.Recv(ctx)
	if err != nil {
		switch ctx.Err() {
		case context.DeadlineExceeded:
			return Message{}, buserrors.New(buserrors.CodeTimeout, "request_once timed out waiting for a reply")
		case context.Canceled:
			return Message{}, buserrors.New(buserrors.CodeCancelled, "request_once was cancelled while waiting for a reply")
		default:
			return Message{}, err
		}
	}
	return msg, nil
}
