package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"github.com/zulandar/lifeline/internal/logging"
)

// channel is the subset of *amqp.Channel used for publishing.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events as JSON to a fanout exchange.
type AMQPPublisher struct {
	exchange string
	log      logrus.FieldLogger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     channel
	closed bool
}

// DialAMQP connects to the broker at url and declares exchange as a durable
// fanout exchange.
func DialAMQP(url, exchange string, log logrus.FieldLogger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("notify: declare exchange %s: %w", exchange, err)
	}
	p := newAMQPPublisher(ch, exchange, log)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch channel, exchange string, log logrus.FieldLogger) *AMQPPublisher {
	return &AMQPPublisher{
		exchange: exchange,
		log:      logging.OrDiscard(log).WithField("component", "notify"),
		ch:       ch,
	}
}

// Publish sends ev to the exchange.
func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("notify: publisher closed")
	}
	err = p.ch.Publish(
		p.exchange,
		ev.Type,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.Timestamp,
			Type:         ev.Type,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("notify: publish %s: %w", ev.Type, err)
	}
	p.log.WithFields(logrus.Fields{
		"type":        ev.Type,
		"dispatch_id": ev.DispatchID,
	}).Debug("notify: event published")
	return nil
}

// Close closes the channel and connection. Safe to call more than once.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			firstErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("notify: close: %w", firstErr)
	}
	return nil
}
