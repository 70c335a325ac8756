package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
	closed    bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, publishedMessage{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestEventBusPublish(t *testing.T) {
	ch := &fakeChannel{}
	bus := &EventBus{exchange: "news", origin: "node-a", channel: ch}

	require.NoError(t, bus.Publish(testCtx(t), Event{Type: EventPostShared, UserID: "u1", ActorID: "u2", PostID: "p1"}))
	require.Len(t, ch.published, 1)
	got := ch.published[0]
	require.Equal(t, "news", got.exchange)
	require.Equal(t, string(EventPostShared), got.key)
	require.Equal(t, "application/json", got.msg.ContentType)

	var event Event
	require.NoError(t, json.Unmarshal(got.msg.Body, &event))
	require.Equal(t, "node-a", event.Origin)
	require.Equal(t, "u2", event.ActorID)
	require.False(t, event.At.IsZero())
	require.True(t, event.At.Equal(got.msg.Timestamp))

	// чужой origin не перезаписывается
	require.NoError(t, bus.Publish(testCtx(t), Event{Type: EventProfileUpdated, UserID: "u1", Origin: "node-b"}))
	require.NoError(t, json.Unmarshal(ch.published[1].msg.Body, &event))
	require.Equal(t, "node-b", event.Origin)

	require.NoError(t, bus.Close())
	require.True(t, ch.closed)
}

func TestEventBusPublishError(t *testing.T) {
	boom := errors.New("channel closed")
	bus := &EventBus{exchange: "news", origin: "node-a", channel: &fakeChannel{err: boom}}
	require.ErrorIs(t, bus.Publish(testCtx(t), Event{Type: EventPostCreated, UserID: "u1"}), boom)
}

func TestDeliverEvents(t *testing.T) {
	msgs := make(chan amqp.Delivery, 3)
	body, err := json.Marshal(Event{Type: EventFollowChanged, UserID: "u1", Origin: "node-b"})
	require.NoError(t, err)
	msgs <- amqp.Delivery{Body: []byte("{not json")}
	msgs <- amqp.Delivery{Body: body}
	close(msgs)

	var got []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		deliverEvents(context.Background(), msgs, func(e Event) { got = append(got, e) })
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deliverEvents did not return after channel close")
	}
	require.Len(t, got, 1)
	require.Equal(t, EventFollowChanged, got[0].Type)
	require.Equal(t, "node-b", got[0].Origin)
}

func TestDeliverEventsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		deliverEvents(ctx, make(chan amqp.Delivery), func(Event) {})
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deliverEvents did not return after cancel")
	}
}
