package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"slotline/internal/models"
)

// GetConversation loads the contact's conversation row, or returns a fresh
// idle state when the contact has never talked to us before.
func (db *DB) GetConversation(ctx context.Context, contactID string) (*models.ConversationState, error) {
	var (
		state         models.ConversationState
		contextRaw    []byte
		historyRaw    []byte
		lastMessageAt sql.NullTime
		expiresAt     sql.NullTime
	)
	err := db.QueryRowContext(ctx,
		`SELECT contact_id, current_state, context, history, last_message_at, expires_at, updated_at
         FROM conversation_states WHERE contact_id = ?`, contactID).Scan(
		&state.ContactID, &state.CurrentState, &contextRaw, &historyRaw,
		&lastMessageAt, &expiresAt, &state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.ConversationState{
			ContactID:    contactID,
			CurrentState: models.StateIdle,
			Context:      &models.IdleContext{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	state.Context, err = models.DecodeContext(state.CurrentState, contextRaw)
	if err != nil {
		return nil, err
	}
	if len(historyRaw) > 0 {
		if err := json.Unmarshal(historyRaw, &state.History); err != nil {
			return nil, fmt.Errorf("failed to decode history: %w", err)
		}
	}
	if lastMessageAt.Valid {
		state.LastMessageAt = lastMessageAt.Time
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		state.ExpiresAt = &t
	}
	return &state, nil
}

// SaveConversation upserts the full conversation row. The row is the single
// source of truth for orchestrator state; nothing is cached across turns.
func (db *DB) SaveConversation(ctx context.Context, state *models.ConversationState) error {
	contextRaw, err := models.EncodeContext(state.Context)
	if err != nil {
		return err
	}
	historyRaw, err := json.Marshal(state.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	var expiresAt any
	if state.ExpiresAt != nil {
		expiresAt = state.ExpiresAt.UTC()
	}
	state.UpdatedAt = time.Now().UTC()

	_, err = db.ExecContext(ctx,
		`INSERT INTO conversation_states (contact_id, current_state, context, history, last_message_at, expires_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(contact_id) DO UPDATE SET
             current_state = excluded.current_state,
             context = excluded.context,
             history = excluded.history,
             last_message_at = excluded.last_message_at,
             expires_at = excluded.expires_at,
             updated_at = excluded.updated_at`,
		state.ContactID, state.CurrentState, string(contextRaw), string(historyRaw),
		state.LastMessageAt.UTC(), expiresAt, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// ResetExpiredConversations flips non-idle conversations whose expiry has
// passed back to idle and returns the affected contact ids. Rows whose
// last_message_at is newer than activeSince are skipped so a sweep never
// clobbers a conversation that is actively progressing.
func (db *DB) ResetExpiredConversations(ctx context.Context, now, activeSince time.Time) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT contact_id FROM conversation_states
         WHERE current_state != ? AND expires_at IS NOT NULL AND expires_at < ?
           AND (last_message_at IS NULL OR last_message_at < ?)`,
		models.StateIdle, now.UTC(), activeSince.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to find expired conversations: %w", err)
	}
	defer rows.Close()

	var contactIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired conversation: %w", err)
		}
		contactIDs = append(contactIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range contactIDs {
		// Reset-to-idle is idempotent, so last-writer-wins with an in-flight
		// turn for the same contact is acceptable.
		_, err := db.ExecContext(ctx,
			`UPDATE conversation_states
             SET current_state = ?, context = '{}', expires_at = NULL, updated_at = ?
             WHERE contact_id = ? AND (last_message_at IS NULL OR last_message_at < ?)`,
			models.StateIdle, time.Now().UTC(), id, activeSince.UTC())
		if err != nil {
			return nil, fmt.Errorf("failed to reset conversation %s: %w", id, err)
		}
	}
	return contactIDs, nil
}

// ListConversations returns recent conversation rows for the admin surface.
func (db *DB) ListConversations(ctx context.Context, limit int) ([]*models.ConversationState, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT contact_id FROM conversation_states ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	states := make([]*models.ConversationState, 0, len(ids))
	for _, id := range ids {
		state, err := db.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}
