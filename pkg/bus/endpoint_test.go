package bus

import (
	"context"
	"testing"
)

func TestEndpoint_UnbindIsIdempotentAndFreesTopicForRebind(t *testing.T) {
	b := New(context.Background())
	defer b.Close()
	conn := b.Connect(context.Background())

	ep, err := conn.Bind(topicOf("rpc", "x"))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	ep.Unbind()
	ep.Unbind() // must not panic

	ep2, err := conn.Bind(topicOf("rpc", "x"))
	if err != nil {
		t.Fatalf("rebind after Unbind should succeed, got %v", err)
	}
	defer ep2.Unbind()
}

func TestEndpoint_TopicReflectsBoundTopic(t *testing.T) {
	b := New(context.Background())
	defer b.Close()
	conn := b.Connect(context.Background())

	ep, err := conn.Bind(topicOf("rpc", "y"))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ep.Unbind()

	if ep.Topic().String() != topicOf("rpc", "y").String() {
		t.Errorf("Topic() = %v, want rpc/y", ep.Topic())
	}
}
