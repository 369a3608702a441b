package database

import "fmt"

// Schema DDL shared by SQLite and PostgreSQL. Identifiers and types stay in
// the common subset of both dialects; JSON-valued columns (port lists) are
// stored as TEXT.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		user_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		password_salt TEXT NOT NULL,
		role TEXT NOT NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		create_time TIMESTAMP NOT NULL,
		update_time TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_name
		ON users (user_name) WHERE is_deleted = FALSE`,

	`CREATE TABLE IF NOT EXISTS com_allocations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		com_ports TEXT NOT NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		create_time TIMESTAMP NOT NULL,
		update_time TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_allocations_user
		ON com_allocations (user_id)`,

	`CREATE TABLE IF NOT EXISTS device_com_snapshots (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL UNIQUE,
		ports TEXT NOT NULL,
		update_time TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS sms_messages (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		com_port TEXT NOT NULL,
		sender_number TEXT NOT NULL,
		message_content TEXT NOT NULL,
		received_time TIMESTAMP NOT NULL,
		sms_timestamp TEXT NOT NULL DEFAULT '',
		operator TEXT NOT NULL DEFAULT '',
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sms_port
		ON sms_messages (device_id, com_port)`,
	`CREATE INDEX IF NOT EXISTS idx_sms_received
		ON sms_messages (received_time)`,

	`CREATE TABLE IF NOT EXISTS call_hangups (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		com_port TEXT NOT NULL,
		caller_number TEXT NOT NULL DEFAULT '',
		hangup_time TIMESTAMP NOT NULL,
		reason TEXT NOT NULL,
		raw_line TEXT NOT NULL DEFAULT '',
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_hangups_port
		ON call_hangups (device_id, com_port)`,
	`CREATE INDEX IF NOT EXISTS idx_hangups_time
		ON call_hangups (hangup_time)`,

	`CREATE TABLE IF NOT EXISTS message_read_receipts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		message_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		read_time_utc TIMESTAMP NOT NULL,
		UNIQUE (user_id, message_type, source_id)
	)`,

	`CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		create_time TIMESTAMP NOT NULL,
		update_time TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notes_user
		ON notes (user_id)`,
}

// Migrate creates the schema. Every statement is idempotent, so Migrate is
// safe to run on every start.
func (db *DB) Migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
