package mail

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultRoutingKey is used when QueueConfig.RoutingKey is empty.
const DefaultRoutingKey = "notification.email.password_reset"

// QueueConfig describes the RabbitMQ exchange messages are published to.
type QueueConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// QueueMailer publishes messages as JSON to a durable topic exchange.
type QueueMailer struct {
	conn       *amqp.Connection
	channel    publisher
	exchange   string
	routingKey string
	now        func() time.Time
}

// DialQueueMailer connects to RabbitMQ and declares the exchange.
func DialQueueMailer(cfg QueueConfig) (*QueueMailer, error) {
	if cfg.URL == "" || cfg.Exchange == "" {
		return nil, errors.New("mail: amqp url and exchange are required")
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}

	m := newQueueMailer(ch, cfg)
	m.conn = conn
	return m, nil
}

func newQueueMailer(ch publisher, cfg QueueConfig) *QueueMailer {
	key := cfg.RoutingKey
	if key == "" {
		key = DefaultRoutingKey
	}
	return &QueueMailer{
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: key,
		now:        time.Now,
	}
}

// Send implements [Mailer].
func (m *QueueMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return m.channel.PublishWithContext(ctx, m.exchange, m.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    m.now(),
		Body:         body,
	})
}

// Close closes the connection and its channel.
func (m *QueueMailer) Close() error {
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}
