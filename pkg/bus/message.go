package bus

// Message is one published item as delivered to a subscriber or
// endpoint. ReplyTo is set by RequestSub/RequestOnce/Call to carry the
// topic a responder should send its answer to (with Publish for
// RequestSub/RequestOnce, with PublishOne for Call, whose reply address
// is a bound endpoint); it is empty for ordinary publishes.
type Message struct {
	Topic   Topic
	Payload any
	ReplyTo Topic
	ID      string
}
