package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is how many delivery attempts an event gets before it
	// is parked in the dead letter state.
	MaxRetryCount = 5

	EventPriceDrop  = "price_drop"
	EventNewProfile = "new_profile"

	defaultStream = "stream:profile_events"
)

// OutboxEvent is one derived-signal event waiting to be relayed to the
// Redis stream. Events are written in the same transaction as the
// observation that caused them.
type OutboxEvent struct {
	ID           uuid.UUID
	Username     string
	EventType    string
	Payload      json.RawMessage
	TargetStream string
	Status       string
	RetryCount   int
	ErrorMessage *string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	NextRetryAt  time.Time
}

// recordProfileEvents writes outbox events for signals derived from one
// upsert: first sighting of a profile, and a current-price decrease.
func (s *Store) recordProfileEvents(ctx context.Context, tx *sql.Tx, username string, oldPrice sql.NullFloat64, newPrice *float64, isNew bool, at time.Time) error {
	if isNew {
		payload, _ := json.Marshal(map[string]any{
			"username": username,
			"price":    newPrice,
		})
		if err := insertOutboxEvent(ctx, tx, username, EventNewProfile, payload, at); err != nil {
			return err
		}
		return nil
	}

	if oldPrice.Valid && newPrice != nil && *newPrice < oldPrice.Float64 {
		s.logger.Info("price drop detected", "username", username,
			"old_price", oldPrice.Float64, "new_price", *newPrice)
		payload, _ := json.Marshal(map[string]any{
			"username":  username,
			"old_price": oldPrice.Float64,
			"new_price": *newPrice,
		})
		return insertOutboxEvent(ctx, tx, username, EventPriceDrop, payload, at)
	}

	return nil
}

func insertOutboxEvent(ctx context.Context, tx *sql.Tx, username, eventType string, payload []byte, at time.Time) error {
	now := fmtTime(at)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox_events (id, aggregate_id, event_type, payload,
		                            target_stream, status, retry_count, created_at, next_retry_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		uuid.New().String(), username, eventType, string(payload),
		defaultStream, OutboxStatusPending, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// OutboxRepo is the outbox persistence surface the relay consumes.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

// OutboxRepository reads and updates outbox events on the store.
type OutboxRepository struct {
	store *Store
}

func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{store: store}
}

// GetPending retrieves events that are due for (re)delivery.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT id, aggregate_id, event_type, payload, target_stream,
		        status, retry_count, error_message, created_at, processed_at, next_retry_at
		 FROM outbox_events
		 WHERE status IN (?, ?) AND next_retry_at <= ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		OutboxStatusPending, OutboxStatusFailed, fmtTime(time.Now()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var (
			event       OutboxEvent
			id          string
			payload     string
			errMsg      sql.NullString
			createdAt   string
			processedAt sql.NullString
			nextRetryAt string
		)
		if err := rows.Scan(&id, &event.Username, &event.EventType, &payload,
			&event.TargetStream, &event.Status, &event.RetryCount,
			&errMsg, &createdAt, &processedAt, &nextRetryAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if event.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("failed to parse event id: %w", err)
		}
		event.Payload = json.RawMessage(payload)
		if errMsg.Valid {
			event.ErrorMessage = &errMsg.String
		}
		if event.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if processedAt.Valid {
			t, err := parseTime(processedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse processed_at: %w", err)
			}
			event.ProcessedAt = &t
		}
		if event.NextRetryAt, err = parseTime(nextRetryAt); err != nil {
			return nil, fmt.Errorf("failed to parse next_retry_at: %w", err)
		}
		events = append(events, &event)
	}

	return events, rows.Err()
}

// MarkProcessed marks an event as successfully delivered.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	res, err := r.store.db.ExecContext(ctx,
		`UPDATE outbox_events SET status = ?, processed_at = ? WHERE id = ?`,
		OutboxStatusProcessed, fmtTime(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("event not found: %s", id)
	}
	return nil
}

// MarkFailed bumps the retry count, schedules the next attempt with
// exponential backoff and dead-letters the event past MaxRetryCount.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	var retryCount int
	err := r.store.db.QueryRowContext(ctx,
		`SELECT retry_count FROM outbox_events WHERE id = ?`, id.String()).Scan(&retryCount)
	if err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}

	retryCount++
	status := OutboxStatusFailed
	if retryCount >= MaxRetryCount {
		status = OutboxStatusDeadLetter
	}

	_, err = r.store.db.ExecContext(ctx,
		`UPDATE outbox_events
		 SET status = ?, retry_count = ?, error_message = ?, next_retry_at = ?
		 WHERE id = ?`,
		status, retryCount, processErr.Error(),
		fmtTime(nextRetryTime(retryCount)), id.String())
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

// PendingCount returns how many events still await delivery.
func (r *OutboxRepository) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox_events WHERE status IN (?, ?)`,
		OutboxStatusPending, OutboxStatusFailed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return count, nil
}

// nextRetryTime backs off exponentially: 2s, 4s, 8s... capped at 5 minutes.
func nextRetryTime(retryCount int) time.Time {
	backoff := time.Duration(1<<retryCount) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return time.Now().Add(backoff)
}
