package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_PublishSubscribe(t *testing.T) {
	b := NewBroadcaster[int](4)
	first := b.Subscribe()
	second := b.Subscribe()

	b.Publish(1)
	b.Publish(2)

	assert.Equal(t, 1, <-first)
	assert.Equal(t, 2, <-first)
	assert.Equal(t, 1, <-second)
	assert.Equal(t, 2, <-second)
}

func TestBroadcaster_SlowConsumerKeepsNewest(t *testing.T) {
	b := NewBroadcaster[int](2)
	ch := b.Subscribe()

	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}

	assert.Equal(t, 4, <-ch)
	assert.Equal(t, 5, <-ch)
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster[string](1)
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster[int](1)
	ch := b.Subscribe()

	b.Close()
	b.Close()
	b.Publish(1)

	_, ok := <-ch
	require.False(t, ok)

	late := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}
