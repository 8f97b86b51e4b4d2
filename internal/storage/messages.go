package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const messageColumns = `id, sender_id, receiver_id, type, content, file_path, blob_file_id, blob_file_url, is_delivered, delivered_at_ms, is_read, read_at_ms, created_at_ms`

func (s *Store) CreateMessage(ctx context.Context, senderID, receiverID, msgType string, content, filePath, blobFileID, blobFileURL *string, nowMs int64) (MessageRow, error) {
	if s == nil || s.db == nil {
		return MessageRow{}, fmt.Errorf("db not initialized")
	}
	if senderID == "" || receiverID == "" {
		return MessageRow{}, fmt.Errorf("missing required fields")
	}
	if senderID == receiverID {
		return MessageRow{}, ErrCannotMessageSelf
	}

	msg := MessageRow{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Type:        msgType,
		Content:     content,
		FilePath:    filePath,
		BlobFileID:  blobFileID,
		BlobFileURL: blobFileURL,
		CreatedAtMs: nowMs,
	}

	q := `INSERT INTO messages (id, sender_id, receiver_id, type, content, file_path, blob_file_id, blob_file_url, is_delivered, is_read, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?);`
	if _, err := s.db.ExecContext(ctx, s.rebind(q),
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Type,
		nullableString(content), nullableString(filePath), nullableString(blobFileID), nullableString(blobFileURL),
		nowMs,
	); err != nil {
		return MessageRow{}, err
	}

	return msg, nil
}

func (s *Store) GetMessageByID(ctx context.Context, messageID string) (MessageRow, error) {
	if s == nil || s.db == nil {
		return MessageRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?;`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, s.rebind(q), messageID))
	if err != nil {
		if err == sql.ErrNoRows {
			return MessageRow{}, fmt.Errorf("%w: message", ErrNotFound)
		}
		return MessageRow{}, err
	}
	return msg, nil
}

// ListConversation returns the messages between userID and peerID in both
// directions, oldest first within the page. Cursor pagination via beforeID.
func (s *Store) ListConversation(ctx context.Context, userID, peerID string, limit int, beforeID string) ([]MessageRow, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("db not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	var q string
	var args []any

	if beforeID != "" {
		var beforeCreatedAt int64
		subQ := `SELECT created_at_ms FROM messages WHERE id = ?;`
		if err := s.db.QueryRowContext(ctx, s.rebind(subQ), beforeID).Scan(&beforeCreatedAt); err != nil {
			if err == sql.ErrNoRows {
				return nil, false, fmt.Errorf("%w: message", ErrNotFound)
			}
			return nil, false, err
		}

		q = `SELECT ` + messageColumns + ` FROM messages
			WHERE ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
				AND created_at_ms < ?
			ORDER BY created_at_ms DESC
			LIMIT ?;`
		args = []any{userID, peerID, peerID, userID, beforeCreatedAt, limit + 1}
	} else {
		q = `SELECT ` + messageColumns + ` FROM messages
			WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
			ORDER BY created_at_ms DESC
			LIMIT ?;`
		args = []any{userID, peerID, peerID, userID, limit + 1}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var messages []MessageRow
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, false, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, hasMore, nil
}

// MarkMessageDelivered records the delivered transition. Only the receiver
// may report delivery. Returns changed=false when the message was already
// delivered; the stored timestamp is never overwritten.
func (s *Store) MarkMessageDelivered(ctx context.Context, messageID, actorID string, nowMs int64) (MessageRow, bool, error) {
	msg, err := s.GetMessageByID(ctx, messageID)
	if err != nil {
		return MessageRow{}, false, err
	}
	if msg.ReceiverID != actorID {
		return MessageRow{}, false, ErrAccessDenied
	}
	if msg.IsDelivered {
		return msg, false, nil
	}

	q := `UPDATE messages SET is_delivered = 1, delivered_at_ms = ? WHERE id = ? AND is_delivered = 0;`
	res, err := s.db.ExecContext(ctx, s.rebind(q), nowMs, messageID)
	if err != nil {
		return MessageRow{}, false, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Lost a race with another delivery report; state is already correct.
		msg, err := s.GetMessageByID(ctx, messageID)
		return msg, false, err
	}

	msg.IsDelivered = true
	msg.DeliveredAtMs = &nowMs
	return msg, true, nil
}

// MarkMessageRead records the read transition, promoting delivered first
// when needed. Both fields move in one statement so a failure can never
// leave is_read set without is_delivered.
func (s *Store) MarkMessageRead(ctx context.Context, messageID, actorID string, nowMs int64) (MessageRow, bool, error) {
	msg, err := s.GetMessageByID(ctx, messageID)
	if err != nil {
		return MessageRow{}, false, err
	}
	if msg.ReceiverID != actorID {
		return MessageRow{}, false, ErrAccessDenied
	}
	if msg.IsRead {
		return msg, false, nil
	}

	q := `UPDATE messages
		SET is_delivered = 1,
			delivered_at_ms = COALESCE(delivered_at_ms, ?),
			is_read = 1,
			read_at_ms = ?
		WHERE id = ? AND is_read = 0;`
	res, err := s.db.ExecContext(ctx, s.rebind(q), nowMs, nowMs, messageID)
	if err != nil {
		return MessageRow{}, false, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		msg, err := s.GetMessageByID(ctx, messageID)
		return msg, false, err
	}

	if !msg.IsDelivered {
		msg.IsDelivered = true
		msg.DeliveredAtMs = &nowMs
	}
	msg.IsRead = true
	msg.ReadAtMs = &nowMs
	return msg, true, nil
}

// MarkConversationDelivered marks every undelivered message from peerID to
// receiverID as delivered and returns their ids. Runs in one transaction:
// the recipient fetching the conversation is the implicit delivery receipt.
func (s *Store) MarkConversationDelivered(ctx context.Context, receiverID, peerID string, nowMs int64) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	selQ := `SELECT id FROM messages
		WHERE sender_id = ? AND receiver_id = ? AND is_delivered = 0;`
	rows, err := tx.QueryContext(ctx, s.rebind(selQ), peerID, receiverID)
	if err != nil {
		return nil, err
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	updQ := `UPDATE messages SET is_delivered = 1, delivered_at_ms = ?
		WHERE id IN (` + placeholders + `) AND is_delivered = 0;`

	args := make([]any, 0, len(ids)+1)
	args = append(args, nowMs)
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(updQ), args...); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func scanMessage(row rowScanner) (MessageRow, error) {
	var msg MessageRow
	var content, filePath, blobID, blobURL sql.NullString
	var deliveredAt, readAt sql.NullInt64
	var delivered, read int
	if err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Type,
		&content, &filePath, &blobID, &blobURL,
		&delivered, &deliveredAt, &read, &readAt,
		&msg.CreatedAtMs,
	); err != nil {
		return MessageRow{}, err
	}
	if content.Valid {
		msg.Content = &content.String
	}
	if filePath.Valid {
		msg.FilePath = &filePath.String
	}
	if blobID.Valid {
		msg.BlobFileID = &blobID.String
	}
	if blobURL.Valid {
		msg.BlobFileURL = &blobURL.String
	}
	if deliveredAt.Valid {
		msg.DeliveredAtMs = &deliveredAt.Int64
	}
	if readAt.Valid {
		msg.ReadAtMs = &readAt.Int64
	}
	msg.IsDelivered = delivered != 0
	msg.IsRead = read != 0
	return msg, nil
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
