package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"hybridauth/internal/domain/analytics"
	"hybridauth/internal/domain/webhooks"
	"hybridauth/pkg/logger"
)

// MessageHandler processes one message body.
type MessageHandler func(ctx context.Context, body []byte) error

// WebhookJobs decodes delivery jobs for h.
func WebhookJobs(h interface {
	HandleJob(ctx context.Context, job webhooks.Job) error
}) MessageHandler {
	return func(ctx context.Context, body []byte) error {
		var job webhooks.Job
		if err := json.Unmarshal(body, &job); err != nil {
			return fmt.Errorf("decode webhook job: %w", err)
		}
		return h.HandleJob(ctx, job)
	}
}

// LoginEvents decodes login events for r.
func LoginEvents(r analytics.Recorder) MessageHandler {
	return func(ctx context.Context, body []byte) error {
		var e analytics.LoginEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return fmt.Errorf("decode login event: %w", err)
		}
		return r.RecordLogin(ctx, &e)
	}
}

// Consumer reads the queues with a reconnect loop. Failed messages are
// rejected without requeue; webhook retries are scheduled by the deliverer.
type Consumer struct {
	url      string
	prefetch int
	log      *logger.Logger
	handlers map[string]MessageHandler
}

// NewConsumer creates a consumer for url.
func NewConsumer(url string, log *logger.Logger) *Consumer {
	return &Consumer{
		url:      url,
		prefetch: 50,
		log:      log.WithComponent("queue-consumer"),
		handlers: make(map[string]MessageHandler),
	}
}

// Handle registers h for queue. Must be called before Run.
func (c *Consumer) Handle(queue string, h MessageHandler) {
	c.handlers[queue] = h
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warnw("dial broker failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warnw("consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

type delivery struct {
	queue string
	msg   amqp.Delivery
}

func (c *Consumer) queues() []string {
	out := make([]string, 0, len(c.handlers))
	for q := range c.handlers {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.log.Warnw("set QoS failed", "error", err)
	}
	if err := declare(ch); err != nil {
		return err
	}

	merged := make(chan delivery)
	done := make(chan struct{})
	defer close(done)
	for _, q := range c.queues() {
		msgs, err := ch.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", q, err)
		}
		go func(q string, msgs <-chan amqp.Delivery) {
			for m := range msgs {
				select {
				case merged <- delivery{queue: q, msg: m}:
				case <-done:
					return
				}
			}
		}(q, msgs)
	}
	c.log.Infow("consuming", "queues", c.queues())

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr != nil {
				return amqpErr
			}
			return errors.New("channel closed")
		case d := <-merged:
			if err := c.dispatch(ctx, d.queue, d.msg.Body); err != nil {
				_ = d.msg.Nack(false, false)
				continue
			}
			_ = d.msg.Ack(false)
		}
	}
}

// dispatch runs the handler of queue and logs its failure.
func (c *Consumer) dispatch(ctx context.Context, queue string, body []byte) error {
	h, ok := c.handlers[queue]
	if !ok {
		return fmt.Errorf("no handler for %s", queue)
	}
	if err := h(ctx, body); err != nil {
		c.log.Errorw("message handling failed", "queue", queue, "error", err)
		return err
	}
	return nil
}
