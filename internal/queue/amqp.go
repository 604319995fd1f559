package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// AMQPConfig identifies the broker and the durable queue requests land in.
type AMQPConfig struct {
	URL         string
	QueueName   string
	MaxPriority int
}

type amqpPublisher struct {
	conn  *amqp.Connection
	mu    sync.Mutex
	ch    *amqp.Channel
	queue string
}

// NewAMQP dials the broker and declares the durable queue.
func NewAMQP(cfg AMQPConfig) (Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("queue: amqp url required")
	}
	if cfg.QueueName == "" {
		return nil, errors.New("queue: amqp queue name required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("queue: dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("queue: open amqp channel: %w", err)
	}

	var args amqp.Table
	if cfg.MaxPriority > 0 {
		args = amqp.Table{"x-max-priority": int32(cfg.MaxPriority)}
	}
	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		args,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("queue: declare amqp queue %s: %w", cfg.QueueName, err)
	}

	return &amqpPublisher{conn: conn, ch: ch, queue: q.Name}, nil
}

func (p *amqpPublisher) Publish(_ context.Context, req Request) error {
	ba, err := encode(req)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.Publish(
		"",
		p.queue,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         ba,
		})
	if err != nil {
		return fmt.Errorf("queue: amqp publish %s: %w", req.ID, err)
	}
	return nil
}

func (p *amqpPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		return fmt.Errorf("queue: close amqp channel: %w", err)
	}
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("queue: close amqp connection: %w", err)
	}
	return nil
}
