package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker[string]()
	ch := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish("hello")

	select {
	case got := <-ch:
		assert.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker[int]()
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(42)

	_, open := <-ch
	require.False(t, open, "channel should be closed after unsubscribe")
}

func TestBrokerSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := NewBroker[int]()
	_ = b.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
}
