package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// applyMigrations adds columns that post-date the original schema. Additive
// only; deployments that predate delivery receipts upgrade in place.
func applyMigrations(ctx context.Context, db *sql.DB, driver string) error {
	if err := ensureColumn(ctx, db, driver, "messages", "is_delivered", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(ctx, db, driver, "messages", "delivered_at_ms", "BIGINT"); err != nil {
		return err
	}
	if err := ensureColumn(ctx, db, driver, "messages", "blob_file_id", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(ctx, db, driver, "messages", "blob_file_url", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(ctx, db, driver, "users", "session_token", "TEXT"); err != nil {
		return err
	}
	return nil
}

func ensureColumn(ctx context.Context, db *sql.DB, driver, table, column, definition string) error {
	exists, err := columnExists(ctx, db, driver, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", table, column, definition)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		// Another process may have added the column between check and alter.
		if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			return nil
		}
		return err
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, driver, table, column string) (bool, error) {
	switch driver {
	case "sqlite":
		rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s);", table))
		if err != nil {
			return false, err
		}
		defer rows.Close()

		for rows.Next() {
			var cid int
			var name, ctype string
			var notnull, pk int
			var dflt sql.NullString
			if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
				return false, err
			}
			if name == column {
				return true, nil
			}
		}
		return false, rows.Err()
	default:
		q := `SELECT COUNT(*) FROM information_schema.columns WHERE table_name = $1 AND column_name = $2;`
		var n int
		if err := db.QueryRowContext(ctx, q, table, column).Scan(&n); err != nil {
			return false, err
		}
		return n > 0, nil
	}
}
