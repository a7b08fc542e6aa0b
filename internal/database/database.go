package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

// NewDB opens (and creates if needed) the sqlite database at path.
// _txlock=immediate makes every write transaction take the database write
// lock up front, which is the row-lock primitive the booking engine relies
// on; _busy_timeout bounds lock waits so a contended booking fails instead
// of blocking forever.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	// Создаем директорию для БД, если её нет
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if logger != nil {
		logger.Info().Str("path", path).Msg("database initialized")
	}
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS contacts (
            id TEXT PRIMARY KEY,
            phone_number TEXT UNIQUE NOT NULL,
            first_name TEXT NOT NULL DEFAULT '',
            last_name TEXT NOT NULL DEFAULT '',
            timezone TEXT NOT NULL DEFAULT 'UTC',
            opt_in_status TEXT NOT NULL DEFAULT 'pending',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS availability_slots (
            id TEXT PRIMARY KEY,
            provider_id TEXT NOT NULL DEFAULT '',
            start_time DATETIME NOT NULL,
            end_time DATETIME NOT NULL,
            buffer_minutes INTEGER NOT NULL DEFAULT 0,
            slot_type TEXT NOT NULL DEFAULT 'standard',
            is_available BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            CHECK (start_time < end_time)
        )`,

		`CREATE TABLE IF NOT EXISTS appointments (
            id TEXT PRIMARY KEY,
            contact_id TEXT NOT NULL REFERENCES contacts(id),
            slot_id TEXT NOT NULL REFERENCES availability_slots(id),
            status TEXT NOT NULL DEFAULT 'confirmed',
            booked_at DATETIME NOT NULL,
            cancelled_at DATETIME,
            cancellation_reason TEXT NOT NULL DEFAULT '',
            rescheduled_from_id TEXT NOT NULL DEFAULT '',
            notes TEXT NOT NULL DEFAULT '',
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,

		// Backstop against lock-discipline bugs: a slot may carry at most one
		// appointment that occupies it, no matter what the transaction above
		// it did. Confirmed is the only occupying status — a row becomes
		// rescheduled only in the transaction that frees its slot.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_appointments_occupied_slot
            ON appointments(slot_id) WHERE status = 'confirmed'`,

		`CREATE TABLE IF NOT EXISTS conversation_states (
            contact_id TEXT PRIMARY KEY REFERENCES contacts(id),
            current_state TEXT NOT NULL DEFAULT 'idle',
            context TEXT NOT NULL DEFAULT '{}',
            history TEXT NOT NULL DEFAULT '[]',
            last_message_at DATETIME,
            expires_at DATETIME,
            updated_at DATETIME NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            contact_id TEXT NOT NULL REFERENCES contacts(id),
            direction TEXT NOT NULL,
            body TEXT NOT NULL,
            provider_sid TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT '',
            error_code TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS outbound_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            message_id TEXT NOT NULL,
            contact_id TEXT NOT NULL,
            phone TEXT NOT NULL,
            body TEXT NOT NULL,
            not_before DATETIME NOT NULL,
            attempts INTEGER NOT NULL DEFAULT 0,
            priority BOOLEAN NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'pending',
            created_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_slots_available ON availability_slots(start_time) WHERE is_available = 1`,
		`CREATE INDEX IF NOT EXISTS idx_slots_provider ON availability_slots(provider_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_contact ON appointments(contact_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_expires ON conversation_states(expires_at) WHERE current_state != 'idle'`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sid ON messages(provider_sid)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_contact ON messages(contact_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outbound_pending ON outbound_queue(not_before) WHERE status = 'pending'`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
