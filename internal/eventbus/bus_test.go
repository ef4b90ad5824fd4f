package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, s *Subscription[T]) T {
	t.Helper()
	select {
	case msg, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}
	var zero T
	return zero
}

func TestEachSubscriberGetsItsOwnCursor(t *testing.T) {
	bus := New[string](4)
	ctx := context.Background()

	a := bus.Subscribe(ctx, TopicInApp)
	b := bus.Subscribe(ctx, TopicInApp)
	defer a.Close()
	defer b.Close()

	assert.Equal(t, 2, bus.Publish(TopicInApp, "one"))
	assert.Equal(t, 2, bus.Publish(TopicInApp, "two"))

	assert.Equal(t, "one", receive(t, a))
	assert.Equal(t, "two", receive(t, a))
	assert.Equal(t, "one", receive(t, b))
	assert.Equal(t, "two", receive(t, b))
}

func TestNoReplayForLateSubscribers(t *testing.T) {
	bus := New[int](4)
	bus.Publish(TopicInApp, 1)

	s := bus.Subscribe(context.Background(), TopicInApp)
	defer s.Close()
	bus.Publish(TopicInApp, 2)

	assert.Equal(t, 2, receive(t, s))
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := New[int](4)
	s := bus.Subscribe(context.Background(), "other")
	defer s.Close()

	assert.Equal(t, 0, bus.Publish(TopicInApp, 1))
	select {
	case <-s.C():
		t.Fatalf("unexpected delivery on other topic")
	default:
	}
}

func TestFullBufferDropsWithoutBlocking(t *testing.T) {
	bus := New[int](1)
	slow := bus.Subscribe(context.Background(), TopicInApp)
	fast := bus.Subscribe(context.Background(), TopicInApp)
	defer slow.Close()
	defer fast.Close()

	assert.Equal(t, 2, bus.Publish(TopicInApp, 1))
	assert.Equal(t, 1, receive(t, fast))
	assert.Equal(t, 1, bus.Publish(TopicInApp, 2))

	assert.Equal(t, 1, receive(t, slow))
	assert.Equal(t, 2, receive(t, fast))
}

func TestContextEndsSubscription(t *testing.T) {
	bus := New[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	s := bus.Subscribe(ctx, TopicInApp)
	cancel()

	select {
	case _, ok := <-s.C():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatalf("subscription did not close")
	}
	assert.Equal(t, 0, bus.Subscribers(TopicInApp))
}

func TestCloseEndsAllSubscriptions(t *testing.T) {
	bus := New[int](1)
	s := bus.Subscribe(context.Background(), TopicInApp)
	bus.Close()

	_, ok := <-s.C()
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Publish(TopicInApp, 1))

	late := bus.Subscribe(context.Background(), TopicInApp)
	_, ok = <-late.C()
	assert.False(t, ok)
	late.Close()
}
