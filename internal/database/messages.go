package database

import (
	"context"
	"fmt"
	"time"

	"slotline/internal/models"

	"github.com/google/uuid"
)

const messageColumns = `id, contact_id, direction, body, provider_sid, status, error_code, created_at, updated_at`

// RecordMessage logs one inbound or outbound message.
func (db *DB) RecordMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	_, err := db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ContactID, msg.Direction, msg.Body, msg.ProviderSID,
		msg.Status, msg.ErrorCode, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to record message: %w", err)
	}
	return nil
}

// UpdateMessageStatusBySID applies a transport delivery-status callback.
func (db *DB) UpdateMessageStatusBySID(ctx context.Context, providerSID, status, errorCode string) error {
	if providerSID == "" {
		return nil
	}
	_, err := db.ExecContext(ctx,
		`UPDATE messages SET status = ?, error_code = ?, updated_at = ? WHERE provider_sid = ?`,
		status, errorCode, time.Now().UTC(), providerSID)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return nil
}

// UpdateMessageSID stores the provider id once the transport accepts a send.
func (db *DB) UpdateMessageSID(ctx context.Context, messageID, providerSID, status string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE messages SET provider_sid = ?, status = ?, updated_at = ? WHERE id = ?`,
		providerSID, status, time.Now().UTC(), messageID)
	if err != nil {
		return fmt.Errorf("failed to update message sid: %w", err)
	}
	return nil
}

// RecentMessages returns the latest messages for a contact, newest first.
func (db *DB) RecentMessages(ctx context.Context, contactID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE contact_id = ? ORDER BY created_at DESC LIMIT ?`,
		contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var m models.Message
		err := rows.Scan(
			&m.ID, &m.ContactID, &m.Direction, &m.Body, &m.ProviderSID,
			&m.Status, &m.ErrorCode, &m.CreatedAt, &m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
