package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversInSubscriptionOrder(t *testing.T) {
	// GIVEN three handlers on the same topic
	b := New()
	var got []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		b.Subscribe(TopicObjectCreated, func(payload any) error {
			got = append(got, name+":"+payload.(string))
			return nil
		})
	}

	// WHEN a payload is published
	require.NoError(t, b.Publish(TopicObjectCreated, "x"))

	// THEN every handler ran synchronously, in order
	assert.Equal(t, []string{"a:x", "b:x", "c:x"}, got)
}

func TestPublish_OtherTopicsNotDelivered(t *testing.T) {
	b := New()
	called := false
	b.Subscribe(TopicObjectDestroyed, func(any) error {
		called = true
		return nil
	})

	require.NoError(t, b.Publish(TopicObjectCreated, 1))
	assert.False(t, called)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := New()
	count := 0
	sub := b.Subscribe(TopicObjectCreated, func(any) error {
		count++
		return nil
	})
	require.NoError(t, b.Publish(TopicObjectCreated, nil))

	b.Unsubscribe(sub)
	require.NoError(t, b.Publish(TopicObjectCreated, nil))

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, b.Subscribers(TopicObjectCreated))
}

func TestUnsubscribe_DuringPublish_CurrentDeliveryCompletes(t *testing.T) {
	// GIVEN a handler that unsubscribes the one after it
	b := New()
	var second Subscription
	secondCalls := 0
	b.Subscribe(TopicObjectCreated, func(any) error {
		b.Unsubscribe(second)
		return nil
	})
	second = b.Subscribe(TopicObjectCreated, func(any) error {
		secondCalls++
		return nil
	})

	// WHEN published twice
	require.NoError(t, b.Publish(TopicObjectCreated, nil))
	require.NoError(t, b.Publish(TopicObjectCreated, nil))

	// THEN the in-flight delivery still reached it, the next one did not
	assert.Equal(t, 1, secondCalls)
}

func TestPublish_HandlerErrorStopsDelivery(t *testing.T) {
	b := New()
	boom := errors.New("boom")
	reached := false
	b.Subscribe(TopicObjectCreated, func(any) error { return boom })
	b.Subscribe(TopicObjectCreated, func(any) error {
		reached = true
		return nil
	})

	err := b.Publish(TopicObjectCreated, nil)
	assert.ErrorIs(t, err, boom)
	assert.False(t, reached)
}

func TestSubscribe_UniqueIDs(t *testing.T) {
	b := New()
	s1 := b.Subscribe(TopicObjectCreated, func(any) error { return nil })
	s2 := b.Subscribe(TopicObjectCreated, func(any) error { return nil })
	assert.NotEqual(t, s1.ID, s2.ID)
}
