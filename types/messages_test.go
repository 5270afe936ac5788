package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageBusPublishSubscribe(t *testing.T) {
	bus := NewMessageBus()
	ch := make(chan Message, 1)
	other := make(chan Message, 1)
	bus.Subscribe(RootChanged, ch)
	bus.Subscribe(ChangesApplied, other)

	bus.Publish(Message{Type: RootChanged, Data: RootEvent{RootHash: "r1"}})

	select {
	case msg := <-ch:
		assert.Equal(t, RootChanged, msg.Type)
		assert.Equal(t, "r1", msg.Data.(RootEvent).RootHash)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	assert.Len(t, other, 0)
}

func TestMessageBusDropsWhenFull(t *testing.T) {
	bus := NewMessageBus()
	ch := make(chan Message, 1)
	bus.Subscribe(RootChanged, ch)

	bus.Publish(Message{Type: RootChanged, Data: 1})
	bus.Publish(Message{Type: RootChanged, Data: 2})

	require.Len(t, ch, 1)
	assert.Equal(t, 1, (<-ch).Data)
}

func TestMessageBusUnsubscribeAndClose(t *testing.T) {
	bus := NewMessageBus()
	ch := make(chan Message, 1)
	bus.Subscribe(RootChanged, ch)
	bus.Subscribe(ReconcileDone, ch)
	bus.Unsubscribe(RootChanged, ch)

	bus.Publish(Message{Type: RootChanged})
	assert.Len(t, ch, 0)

	bus.Close()
	_, open := <-ch
	assert.False(t, open)

	// publishing after close is a no-op
	bus.Publish(Message{Type: ReconcileDone})
	bus.Close()
}
