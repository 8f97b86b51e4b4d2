package storage

import (
	"context"
	"database/sql"
)

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			phone TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			avatar_url TEXT,
			is_private INTEGER NOT NULL DEFAULT 1,
			is_online INTEGER NOT NULL DEFAULT 0,
			session_token TEXT,
			last_seen_ms BIGINT,
			created_at_ms BIGINT NOT NULL,
			updated_at_ms BIGINT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_phone ON users(phone);`,

		`CREATE TABLE IF NOT EXISTS auth_tokens (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			device_info TEXT,
			created_at_ms BIGINT NOT NULL,
			expires_at_ms BIGINT NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_auth_tokens_user ON auth_tokens(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_auth_tokens_expires ON auth_tokens(expires_at_ms);`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT,
			file_path TEXT,
			blob_file_id TEXT,
			blob_file_url TEXT,
			is_delivered INTEGER NOT NULL DEFAULT 0,
			delivered_at_ms BIGINT,
			is_read INTEGER NOT NULL DEFAULT 0,
			read_at_ms BIGINT,
			created_at_ms BIGINT NOT NULL,
			FOREIGN KEY(sender_id) REFERENCES users(id),
			FOREIGN KEY(receiver_id) REFERENCES users(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender_created ON messages(sender_id, created_at_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver_created ON messages(receiver_id, created_at_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_receiver_undelivered ON messages(receiver_id, is_delivered);`,

		`CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			caller_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'initiated',
			started_at_ms BIGINT NOT NULL,
			ended_at_ms BIGINT,
			duration_secs BIGINT NOT NULL DEFAULT 0,
			FOREIGN KEY(caller_id) REFERENCES users(id),
			FOREIGN KEY(receiver_id) REFERENCES users(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_caller_started ON calls(caller_id, started_at_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_calls_receiver_started ON calls(receiver_id, started_at_ms);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
