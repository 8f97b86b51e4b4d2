package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const userColumns = `id, phone, name, password_hash, avatar_url, is_private, is_online, session_token, last_seen_ms, created_at_ms, updated_at_ms`

func (s *Store) CreateUser(ctx context.Context, phone, name, passwordHash string, nowMs int64) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, fmt.Errorf("db not initialized")
	}

	user := UserRow{
		ID:           uuid.NewString(),
		Phone:        phone,
		Name:         name,
		PasswordHash: passwordHash,
		IsPrivate:    true,
		CreatedAtMs:  nowMs,
		UpdatedAtMs:  nowMs,
	}

	q := `INSERT INTO users (id, phone, name, password_hash, is_private, is_online, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, 1, 0, ?, ?);`
	if _, err := s.db.ExecContext(ctx, s.rebind(q),
		user.ID, user.Phone, user.Name, user.PasswordHash, nowMs, nowMs,
	); err != nil {
		if isUniqueViolation(err) {
			return UserRow{}, ErrPhoneExists
		}
		return UserRow{}, err
	}

	return user, nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT ` + userColumns + ` FROM users WHERE id = ?;`
	return s.scanUserRow(s.db.QueryRowContext(ctx, s.rebind(q), userID))
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT ` + userColumns + ` FROM users WHERE phone = ?;`
	return s.scanUserRow(s.db.QueryRowContext(ctx, s.rebind(q), phone))
}

func (s *Store) SearchUsers(ctx context.Context, query, excludeUserID string, limit int) ([]UserRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if limit <= 0 {
		limit = 10
	}

	q := `SELECT ` + userColumns + ` FROM users
		WHERE (phone LIKE ? OR name LIKE ?) AND id <> ?
		LIMIT ?;`

	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, s.rebind(q), pattern, pattern, excludeUserID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []UserRow
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (s *Store) UpdateUserName(ctx context.Context, userID, name string, nowMs int64) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, fmt.Errorf("db not initialized")
	}

	q := `UPDATE users SET name = ?, updated_at_ms = ? WHERE id = ?;`
	result, err := s.db.ExecContext(ctx, s.rebind(q), name, nowMs, userID)
	if err != nil {
		return UserRow{}, err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return UserRow{}, fmt.Errorf("%w: user", ErrNotFound)
	}

	return s.GetUserByID(ctx, userID)
}

// SetUserPresence writes the durable copy of the presence state: online
// flag, current session token (nil clears it) and last-seen timestamp.
func (s *Store) SetUserPresence(ctx context.Context, userID string, online bool, sessionToken *string, lastSeenMs, nowMs int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}

	q := `UPDATE users SET is_online = ?, session_token = ?, last_seen_ms = ?, updated_at_ms = ? WHERE id = ?;`

	var tokenVal any
	if sessionToken != nil {
		tokenVal = *sessionToken
	}

	result, err := s.db.ExecContext(ctx, s.rebind(q), boolToInt(online), tokenVal, lastSeenMs, nowMs, userID)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: user", ErrNotFound)
	}
	return nil
}

// TouchUserOffline flips only the online flag and last-seen, keeping any
// session token (transport disconnect, not logout).
func (s *Store) TouchUserOffline(ctx context.Context, userID string, lastSeenMs, nowMs int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db not initialized")
	}

	q := `UPDATE users SET is_online = 0, last_seen_ms = ?, updated_at_ms = ? WHERE id = ?;`
	_, err := s.db.ExecContext(ctx, s.rebind(q), lastSeenMs, nowMs, userID)
	return err
}

// ListContacts returns the users this user has exchanged messages with,
// most recent conversation first.
func (s *Store) ListContacts(ctx context.Context, userID string) ([]UserRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	q := `SELECT ` + prefixColumns("u", userColumns) + `, MAX(m.created_at_ms) AS last_message_ms
		FROM users u
		JOIN messages m ON (m.sender_id = u.id OR m.receiver_id = u.id)
		WHERE (m.sender_id = ? OR m.receiver_id = ?) AND u.id <> ?
		GROUP BY ` + prefixColumns("u", userColumns) + `
		ORDER BY last_message_ms DESC;`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []UserRow
	for rows.Next() {
		var user UserRow
		var avatar, token sql.NullString
		var lastSeen, lastMsg sql.NullInt64
		var isPrivate, isOnline int
		if err := rows.Scan(
			&user.ID, &user.Phone, &user.Name, &user.PasswordHash, &avatar,
			&isPrivate, &isOnline, &token, &lastSeen,
			&user.CreatedAtMs, &user.UpdatedAtMs, &lastMsg,
		); err != nil {
			return nil, err
		}
		applyUserNullables(&user, avatar, token, lastSeen, isPrivate, isOnline)
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanUserRow(row *sql.Row) (UserRow, error) {
	user, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return UserRow{}, fmt.Errorf("%w: user", ErrNotFound)
		}
		return UserRow{}, err
	}
	return user, nil
}

func scanUser(row rowScanner) (UserRow, error) {
	var user UserRow
	var avatar, token sql.NullString
	var lastSeen sql.NullInt64
	var isPrivate, isOnline int
	if err := row.Scan(
		&user.ID, &user.Phone, &user.Name, &user.PasswordHash, &avatar,
		&isPrivate, &isOnline, &token, &lastSeen,
		&user.CreatedAtMs, &user.UpdatedAtMs,
	); err != nil {
		return UserRow{}, err
	}
	applyUserNullables(&user, avatar, token, lastSeen, isPrivate, isOnline)
	return user, nil
}

func applyUserNullables(user *UserRow, avatar, token sql.NullString, lastSeen sql.NullInt64, isPrivate, isOnline int) {
	if avatar.Valid {
		user.AvatarURL = &avatar.String
	}
	if token.Valid && token.String != "" {
		user.SessionToken = &token.String
	}
	if lastSeen.Valid {
		user.LastSeenMs = &lastSeen.Int64
	}
	user.IsPrivate = isPrivate != 0
	user.IsOnline = isOnline != 0
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + "." + p
	}
	return strings.Join(parts, ", ")
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique_violation")
}
