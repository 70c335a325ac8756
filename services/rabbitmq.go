package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	amqp "github.com/rabbitmq/amqp091-go"
)

type EventType string

const (
	EventPostCreated    EventType = "post.created"
	EventPostUpdated    EventType = "post.updated"
	EventPostDeleted    EventType = "post.deleted"
	EventPostShared     EventType = "post.shared"
	EventPostUnshared   EventType = "post.unshared"
	EventProfileUpdated EventType = "profile.updated"
	EventFollowChanged  EventType = "follow.changed"
)

// Event - доменное событие. UserID - чей профиль или пост изменился,
// ActorID - пользователь, чье действие его вызвало, Origin - экземпляр-издатель.
type Event struct {
	Type    EventType `json:"type"`
	UserID  string    `json:"user_id"`
	ActorID string    `json:"actor_id,omitempty"`
	PostID  string    `json:"post_id,omitempty"`
	Origin  string    `json:"origin"`
	At      time.Time `json:"at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher - когда RabbitMQ не настроен
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// amqpChannel - часть *amqp.Channel, нужная для публикации
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// EventBus публикует события в topic exchange и раздает их подписчикам
type EventBus struct {
	conn     *amqp.Connection
	exchange string
	origin   string

	mu      sync.Mutex
	channel amqpChannel
}

// NewEventBus подключается к RabbitMQ и объявляет exchange типа topic
func NewEventBus(url, exchange, origin string) (*EventBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // args
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	glog.Infof("RabbitMQ initialized, exchange %s", exchange)
	return &EventBus{conn: conn, exchange: exchange, origin: origin, channel: ch}, nil
}

func (b *EventBus) Origin() string {
	return b.origin
}

func (b *EventBus) Publish(ctx context.Context, event Event) error {
	if event.Origin == "" {
		event.Origin = b.origin
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	b.mu.Lock()
	err = b.channel.PublishWithContext(ctx,
		b.exchange,
		string(event.Type),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   event.At,
			Body:        body,
		},
	)
	b.mu.Unlock()

	status := "ok"
	if err != nil {
		status = "error"
	}
	eventsPublished.WithLabelValues(string(event.Type), status).Inc()
	return err
}

// Consume слушает все события в отдельной очереди экземпляра и вызывает handler.
// Возвращается сразу, чтение идет в горутине до отмены ctx.
func (b *EventBus) Consume(ctx context.Context, queueName string, handler func(Event)) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	// очередь на экземпляр: события нужны каждому экземпляру
	q, err := ch.QueueDeclare(
		queueName,
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "#", b.exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	msgs, err := ch.Consume(
		q.Name,
		"",
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	go func() {
		defer ch.Close()
		deliverEvents(ctx, msgs, handler)
	}()
	return nil
}

// deliverEvents читает доставки до отмены ctx или закрытия канала
func deliverEvents(ctx context.Context, msgs <-chan amqp.Delivery, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				glog.Warning("event consumer: delivery channel closed")
				return
			}
			var event Event
			if err := json.Unmarshal(msg.Body, &event); err != nil {
				glog.Warningf("failed to unmarshal event: %v", err)
				continue
			}
			handler(event)
		}
	}
}

func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
