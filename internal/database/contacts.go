package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotline/internal/models"

	"github.com/google/uuid"
)

const contactColumns = `id, phone_number, first_name, last_name, timezone, opt_in_status, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*models.Contact, error) {
	var c models.Contact
	err := row.Scan(
		&c.ID, &c.PhoneNumber, &c.FirstName, &c.LastName,
		&c.Timezone, &c.OptInStatus, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreateContactByPhone lazily registers an unknown phone number with a
// pending opt-in status. The unique constraint on phone_number resolves the
// race between two first messages from the same number.
func (db *DB) GetOrCreateContactByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	contact, err := db.GetContactByPhone(ctx, phone)
	if err == nil {
		return contact, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	c := &models.Contact{
		ID:          uuid.New().String(),
		PhoneNumber: phone,
		Timezone:    "UTC",
		OptInStatus: models.OptInPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO contacts (`+contactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(phone_number) DO NOTHING`,
		c.ID, c.PhoneNumber, c.FirstName, c.LastName, c.Timezone, c.OptInStatus, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create contact: %w", err)
	}

	// Re-read to pick up the winner of a concurrent insert.
	return db.GetContactByPhone(ctx, phone)
}

func (db *DB) GetContactByPhone(ctx context.Context, phone string) (*models.Contact, error) {
	contact, err := scanContact(db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE phone_number = ?`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact by phone: %w", err)
	}
	return contact, nil
}

func (db *DB) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	contact, err := scanContact(db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return contact, nil
}

func (db *DB) UpdateOptInStatus(ctx context.Context, contactID, status string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE contacts SET opt_in_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), contactID)
	if err != nil {
		return fmt.Errorf("failed to update opt-in status: %w", err)
	}
	return nil
}

func (db *DB) UpdateContactName(ctx context.Context, contactID, firstName, lastName string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE contacts SET first_name = ?, last_name = ?, updated_at = ? WHERE id = ?`,
		firstName, lastName, time.Now().UTC(), contactID)
	if err != nil {
		return fmt.Errorf("failed to update contact name: %w", err)
	}
	return nil
}
