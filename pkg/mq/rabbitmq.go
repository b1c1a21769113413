// Package mq carries queued scan tasks over RabbitMQ.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/stywzn/vuln-sentinel/internal/config"
)

// ScanMessage is the body of one queued scan.
type ScanMessage struct {
	TaskID uint   `json:"task_id"`
	Target string `json:"target"`
}

// ErrBadMessage marks a body that can never be processed.
var ErrBadMessage = errors.New("bad scan message")

// Encode builds a persistent JSON publishing for msg.
func Encode(msg ScanMessage) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode scan message: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}, nil
}

// Decode parses a delivery body.
func Decode(body []byte) (ScanMessage, error) {
	var msg ScanMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if msg.TaskID == 0 || strings.TrimSpace(msg.Target) == "" {
		return msg, fmt.Errorf("%w: task_id and target are required", ErrBadMessage)
	}
	return msg, nil
}

// Client owns one connection and one channel bound to the scan queue.
// Publish is safe for concurrent use.
type Client struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	mu    sync.Mutex
}

// Dial connects and declares the durable scan queue.
func Dial(cfg config.RabbitMQConfig) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	return &Client{conn: conn, ch: ch, queue: q.Name}, nil
}

// Publish enqueues msg on the scan queue.
func (c *Client) Publish(ctx context.Context, msg ScanMessage) error {
	pub, err := Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ch.PublishWithContext(ctx, "", c.queue, false, false, pub); err != nil {
		return fmt.Errorf("publish task %d: %w", msg.TaskID, err)
	}
	return nil
}

// Consume sets the prefetch window and starts a manual-ack consumer.
func (c *Client) Consume(prefetch int) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}
	return msgs, nil
}

// Close shuts the channel and the connection.
func (c *Client) Close() error {
	chErr := c.ch.Close()
	connErr := c.conn.Close()
	return errors.Join(chErr, connErr)
}
