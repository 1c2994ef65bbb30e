package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultExchange is the durable topic exchange events are routed through.
	DefaultExchange  = "dtledger.events"
	exchangeKind     = "topic"
	contentTypeJSON  = "application/json"
	amqpDialTimeout  = 10 * time.Second
	amqpSchemePlain  = "amqp"
	amqpSchemeSecure = "amqps"
)

var errInvalidAMQPURL = errors.New("amqp url must use amqp:// or amqps://")

// AMQPPublisher publishes events to a RabbitMQ topic exchange keyed by event type.
type AMQPPublisher struct {
	mutex      sync.Mutex
	connection *amqp091.Connection
	channel    *amqp091.Channel
	exchange   string
	closed     bool
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(rawURL string, exchange string) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(exchange) == "" {
		exchange = DefaultExchange
	}
	connection, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(amqpDialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	publisher := &AMQPPublisher{connection: connection, exchange: exchange}
	if err := publisher.openChannel(); err != nil {
		_ = connection.Close()
		return nil, err
	}
	return publisher, nil
}

func (publisher *AMQPPublisher) openChannel() error {
	channel, err := publisher.connection.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	if err := channel.ExchangeDeclare(publisher.exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		return fmt.Errorf("amqp exchange declare: %w", err)
	}
	publisher.channel = channel
	return nil
}

// Publish routes the event with its type as routing key, reopening the channel once on failure.
func (publisher *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	message := amqp091.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp091.Persistent,
		MessageId:    event.ID,
		Type:         event.Type,
		Timestamp:    event.OccurredAt,
		Body:         body,
	}

	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	if publisher.closed {
		return ErrPublisherClosed
	}
	err = publisher.channel.PublishWithContext(ctx, publisher.exchange, event.Type, false, false, message)
	if err == nil {
		return nil
	}
	if reopenErr := publisher.openChannel(); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	return publisher.channel.PublishWithContext(ctx, publisher.exchange, event.Type, false, false, message)
}

// Close releases the channel and the connection.
func (publisher *AMQPPublisher) Close() error {
	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	if publisher.closed {
		return nil
	}
	publisher.closed = true
	var closeErr error
	if publisher.channel != nil {
		closeErr = publisher.channel.Close()
	}
	if publisher.connection != nil {
		closeErr = errors.Join(closeErr, publisher.connection.Close())
	}
	return closeErr
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errInvalidAMQPURL, err)
	}
	if parsed.Scheme != amqpSchemePlain && parsed.Scheme != amqpSchemeSecure {
		return "", errInvalidAMQPURL
	}
	return clean, nil
}
