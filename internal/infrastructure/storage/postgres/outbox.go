package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"hybridauth/internal/domain/events"
	"hybridauth/pkg/logger"
)

// OutboxStatus represents the state of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// maxOutboxAttempts is the number of handler failures before a row is parked as failed.
const maxOutboxAttempts = 10

// OutboxPublisher writes events to the central outbox. When called inside a
// central transaction the rows commit or roll back with it.
type OutboxPublisher struct {
	central *TxManager
}

// NewOutboxPublisher creates a new outbox publisher.
func NewOutboxPublisher(central *TxManager) *OutboxPublisher {
	return &OutboxPublisher{central: central}
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Publish implements events.Publisher.
func (p *OutboxPublisher) Publish(ctx context.Context, evs ...events.Event) error {
	if len(evs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range evs {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", e.Type, err)
		}
		batch.Queue(`
			INSERT INTO outbox_events (id, event_type, tenant_id, payload, status, occurred_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		`, e.ID, e.Type, e.TenantID, payload, OutboxStatusPending, e.OccurredAt)
	}

	sender, ok := p.central.GetQuerier(ctx).(batchSender)
	if !ok {
		return fmt.Errorf("querier does not support batches")
	}
	results := sender.SendBatch(ctx, batch)
	defer results.Close()

	for range evs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}
	return nil
}

var _ events.Publisher = (*OutboxPublisher)(nil)

// OutboxHandler processes one event taken from the outbox.
type OutboxHandler interface {
	Handle(ctx context.Context, e events.Event) error
}

// OutboxRelay drains the outbox. Several workers may run concurrently;
// rows are claimed with FOR UPDATE SKIP LOCKED inside one transaction.
type OutboxRelay struct {
	central   *TxManager
	batchSize int
	handler   OutboxHandler
	log       *logger.Logger
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(central *TxManager, batchSize int, handler OutboxHandler, log *logger.Logger) *OutboxRelay {
	return &OutboxRelay{
		central:   central,
		batchSize: batchSize,
		handler:   handler,
		log:       log.WithComponent("outbox-relay"),
	}
}

type outboxRow struct {
	ID         string
	EventType  string
	TenantID   *string
	Payload    []byte
	Attempts   int
	OccurredAt time.Time
}

// ProcessBatch claims up to batchSize due rows and hands them to the handler.
// Returns the number of rows handled successfully.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	processed := 0
	err := r.central.RunInTransaction(ctx, func(ctx context.Context) error {
		q := r.central.GetQuerier(ctx)

		rows, err := q.Query(ctx, `
			SELECT id, event_type, tenant_id, payload, attempts, occurred_at
			FROM outbox_events
			WHERE status = $1 AND (next_attempt_at IS NULL OR next_attempt_at <= now())
			ORDER BY occurred_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, OutboxStatusPending, r.batchSize)
		if err != nil {
			return fmt.Errorf("fetch outbox events: %w", err)
		}
		batch, err := pgx.CollectRows(rows, pgx.RowToStructByPos[outboxRow])
		if err != nil {
			return fmt.Errorf("scan outbox events: %w", err)
		}

		for _, row := range batch {
			e := events.Event{
				ID:         row.ID,
				Type:       events.Type(row.EventType),
				OccurredAt: row.OccurredAt,
			}
			if row.TenantID != nil {
				e.TenantID = *row.TenantID
			}
			if err := json.Unmarshal(row.Payload, &e.Payload); err != nil {
				return fmt.Errorf("decode outbox event %s: %w", row.ID, err)
			}

			if herr := r.handler.Handle(ctx, e); herr != nil {
				status := OutboxStatusPending
				if row.Attempts+1 >= maxOutboxAttempts {
					status = OutboxStatusFailed
				}
				r.log.Warnw("outbox event failed", "event_id", row.ID, "event", row.EventType,
					"attempt", row.Attempts+1, "error", herr)
				if _, err := q.Exec(ctx, `
					UPDATE outbox_events
					SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3, status = $4
					WHERE id = $1
				`, row.ID, herr.Error(), time.Now().Add(outboxBackoff(row.Attempts+1)), status); err != nil {
					return fmt.Errorf("record outbox failure: %w", err)
				}
				continue
			}

			if _, err := q.Exec(ctx, `
				UPDATE outbox_events SET status = $2, published_at = now() WHERE id = $1
			`, row.ID, OutboxStatusPublished); err != nil {
				return fmt.Errorf("mark outbox event published: %w", err)
			}
			processed++
		}
		return nil
	})
	return processed, err
}

// Purge deletes published rows older than the retention window.
func (r *OutboxRelay) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.central.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM outbox_events WHERE status = $1 AND published_at < $2
	`, OutboxStatusPublished, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}

func outboxBackoff(attempt int) time.Duration {
	d := 30 * time.Second << min(attempt-1, 6)
	return min(d, 30*time.Minute)
}
