package database

import (
	"context"
	"fmt"
	"time"

	"slotline/internal/models"
)

const (
	OutboundPending = "pending"
	OutboundDone    = "done"
	OutboundDead    = "dead"
)

// EnqueueOutbound persists an outbound task so delivery survives restarts.
func (db *DB) EnqueueOutbound(ctx context.Context, task *models.OutboundTask) error {
	if task.NotBefore.IsZero() {
		task.NotBefore = time.Now().UTC()
	}
	task.Status = OutboundPending
	task.CreatedAt = time.Now().UTC()

	res, err := db.ExecContext(ctx,
		`INSERT INTO outbound_queue (message_id, contact_id, phone, body, not_before, attempts, priority, status, created_at)
         VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		task.MessageID, task.ContactID, task.Phone, task.Body,
		task.NotBefore.UTC(), task.Priority, task.Status, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbound task: %w", err)
	}
	task.ID, _ = res.LastInsertId()
	return nil
}

// DueOutboundTasks returns pending tasks whose not_before has passed.
func (db *DB) DueOutboundTasks(ctx context.Context, now time.Time, limit int) ([]*models.OutboundTask, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, message_id, contact_id, phone, body, not_before, attempts, priority, status, created_at
         FROM outbound_queue WHERE status = ? AND not_before <= ?
         ORDER BY priority DESC, not_before ASC LIMIT ?`,
		OutboundPending, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due outbound tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.OutboundTask
	for rows.Next() {
		var t models.OutboundTask
		err := rows.Scan(&t.ID, &t.MessageID, &t.ContactID, &t.Phone, &t.Body,
			&t.NotBefore, &t.Attempts, &t.Priority, &t.Status, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbound task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func (db *DB) GetOutboundTask(ctx context.Context, id int64) (*models.OutboundTask, error) {
	var t models.OutboundTask
	err := db.QueryRowContext(ctx,
		`SELECT id, message_id, contact_id, phone, body, not_before, attempts, priority, status, created_at
         FROM outbound_queue WHERE id = ?`, id).Scan(
		&t.ID, &t.MessageID, &t.ContactID, &t.Phone, &t.Body,
		&t.NotBefore, &t.Attempts, &t.Priority, &t.Status, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get outbound task: %w", err)
	}
	return &t, nil
}

func (db *DB) MarkOutboundDone(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE outbound_queue SET status = ? WHERE id = ?`, OutboundDone, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbound task done: %w", err)
	}
	return nil
}

func (db *DB) MarkOutboundDead(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE outbound_queue SET status = ? WHERE id = ?`, OutboundDead, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbound task dead: %w", err)
	}
	return nil
}

// DeferOutbound pushes the task's not_before without spending an attempt.
// Used for quiet-hours deferral, which is not a delivery failure.
func (db *DB) DeferOutbound(ctx context.Context, id int64, notBefore time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE outbound_queue SET not_before = ? WHERE id = ?`, notBefore.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to defer outbound task: %w", err)
	}
	return nil
}

// RescheduleOutbound bumps the attempt counter and defers the task.
func (db *DB) RescheduleOutbound(ctx context.Context, id int64, notBefore time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE outbound_queue SET attempts = attempts + 1, not_before = ? WHERE id = ?`,
		notBefore.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to reschedule outbound task: %w", err)
	}
	return nil
}
