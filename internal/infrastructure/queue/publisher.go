// Package queue moves login events and webhook delivery jobs from the API
// processes to the worker over RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"hybridauth/internal/domain/analytics"
	"hybridauth/internal/domain/webhooks"
)

// Queue names.
const (
	LoginEventsQueue = "hybridauth.login_events"
	WebhookJobsQueue = "hybridauth.webhook_jobs"
)

// Queues lists every queue the publisher declares.
var Queues = []string{LoginEventsQueue, WebhookJobsQueue}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes persistent JSON messages on the default exchange.
type Publisher struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   channel
}

// Dial connects to the broker and declares the queues.
func Dial(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch}, nil
}

func declare(ch *amqp.Channel) error {
	for _, q := range Queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", q, err)
		}
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Enqueue implements webhooks.JobQueue.
func (p *Publisher) Enqueue(ctx context.Context, job webhooks.Job) error {
	return p.publish(ctx, WebhookJobsQueue, job)
}

// RecordLogin implements analytics.Recorder by forwarding the event to the worker.
func (p *Publisher) RecordLogin(ctx context.Context, e *analytics.LoginEvent) error {
	return p.publish(ctx, LoginEventsQueue, e)
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Inline runs jobs in-process when no broker is configured.
type Inline struct {
	Handler interface {
		HandleJob(ctx context.Context, job webhooks.Job) error
	}
}

// Enqueue handles the job synchronously.
func (q Inline) Enqueue(ctx context.Context, job webhooks.Job) error {
	return q.Handler.HandleJob(ctx, job)
}

var (
	_ webhooks.JobQueue  = (*Publisher)(nil)
	_ webhooks.JobQueue  = Inline{}
	_ analytics.Recorder = (*Publisher)(nil)
)
