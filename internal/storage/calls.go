package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const callColumns = `id, caller_id, receiver_id, type, status, started_at_ms, ended_at_ms, duration_secs`

func (s *Store) CreateCall(ctx context.Context, callerID, receiverID, callType string, nowMs int64) (CallRow, error) {
	if s == nil || s.db == nil {
		return CallRow{}, fmt.Errorf("db not initialized")
	}
	if callerID == "" || receiverID == "" {
		return CallRow{}, fmt.Errorf("missing required fields")
	}
	if callerID == receiverID {
		return CallRow{}, ErrCannotMessageSelf
	}

	call := CallRow{
		ID:          uuid.NewString(),
		CallerID:    callerID,
		ReceiverID:  receiverID,
		Type:        callType,
		Status:      CallStatusInitiated,
		StartedAtMs: nowMs,
	}

	q := `INSERT INTO calls (id, caller_id, receiver_id, type, status, started_at_ms, duration_secs)
		VALUES (?, ?, ?, ?, ?, ?, 0);`
	if _, err := s.db.ExecContext(ctx, s.rebind(q),
		call.ID, call.CallerID, call.ReceiverID, call.Type, call.Status, call.StartedAtMs,
	); err != nil {
		return CallRow{}, err
	}

	return call, nil
}

func (s *Store) GetCallByID(ctx context.Context, callID string) (CallRow, error) {
	if s == nil || s.db == nil {
		return CallRow{}, fmt.Errorf("db not initialized")
	}

	q := `SELECT ` + callColumns + ` FROM calls WHERE id = ?;`

	var call CallRow
	var endedAt sql.NullInt64
	if err := s.db.QueryRowContext(ctx, s.rebind(q), callID).Scan(
		&call.ID, &call.CallerID, &call.ReceiverID, &call.Type, &call.Status,
		&call.StartedAtMs, &endedAt, &call.DurationSecs,
	); err != nil {
		if err == sql.ErrNoRows {
			return CallRow{}, fmt.Errorf("%w: call", ErrNotFound)
		}
		return CallRow{}, err
	}
	if endedAt.Valid {
		call.EndedAtMs = &endedAt.Int64
	}

	return call, nil
}

// AnswerCall: receiver only, initiated -> answered.
func (s *Store) AnswerCall(ctx context.Context, callID, userID string, nowMs int64) (CallRow, error) {
	call, err := s.GetCallByID(ctx, callID)
	if err != nil {
		return CallRow{}, err
	}
	if call.ReceiverID != userID {
		return CallRow{}, ErrAccessDenied
	}
	if call.Status != CallStatusInitiated {
		return CallRow{}, ErrInvalidState
	}

	q := `UPDATE calls SET status = ? WHERE id = ? AND status = ?;`
	res, err := s.db.ExecContext(ctx, s.rebind(q), CallStatusAnswered, callID, CallStatusInitiated)
	if err != nil {
		return CallRow{}, err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return CallRow{}, ErrInvalidState
	}

	call.Status = CallStatusAnswered
	return call, nil
}

// RejectCall: receiver only, initiated -> missed.
func (s *Store) RejectCall(ctx context.Context, callID, userID string, nowMs int64) (CallRow, error) {
	call, err := s.GetCallByID(ctx, callID)
	if err != nil {
		return CallRow{}, err
	}
	if call.ReceiverID != userID {
		return CallRow{}, ErrAccessDenied
	}
	if call.Status != CallStatusInitiated {
		return CallRow{}, ErrInvalidState
	}

	q := `UPDATE calls SET status = ?, ended_at_ms = ? WHERE id = ? AND status = ?;`
	res, err := s.db.ExecContext(ctx, s.rebind(q), CallStatusMissed, nowMs, callID, CallStatusInitiated)
	if err != nil {
		return CallRow{}, err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return CallRow{}, ErrInvalidState
	}

	call.Status = CallStatusMissed
	call.EndedAtMs = &nowMs
	return call, nil
}

// EndCall: caller or receiver. An unanswered call becomes missed with zero
// duration; an answered call becomes ended with duration counted from the
// call start in whole seconds. Ending a finished call is a state error.
func (s *Store) EndCall(ctx context.Context, callID, userID string, nowMs int64) (CallRow, error) {
	call, err := s.GetCallByID(ctx, callID)
	if err != nil {
		return CallRow{}, err
	}
	if call.CallerID != userID && call.ReceiverID != userID {
		return CallRow{}, ErrAccessDenied
	}

	var newStatus string
	var duration int64
	switch call.Status {
	case CallStatusInitiated:
		newStatus = CallStatusMissed
	case CallStatusAnswered:
		newStatus = CallStatusEnded
		duration = (nowMs - call.StartedAtMs) / 1000
		if duration < 0 {
			duration = 0
		}
	default:
		return CallRow{}, ErrInvalidState
	}

	q := `UPDATE calls SET status = ?, ended_at_ms = ?, duration_secs = ? WHERE id = ? AND status = ?;`
	res, err := s.db.ExecContext(ctx, s.rebind(q), newStatus, nowMs, duration, callID, call.Status)
	if err != nil {
		return CallRow{}, err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return CallRow{}, ErrInvalidState
	}

	call.Status = newStatus
	call.EndedAtMs = &nowMs
	call.DurationSecs = duration
	return call, nil
}

func (s *Store) ListCallsForUser(ctx context.Context, userID string, limit int) ([]CallRow, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + callColumns + ` FROM calls
		WHERE caller_id = ? OR receiver_id = ?
		ORDER BY started_at_ms DESC
		LIMIT ?;`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []CallRow
	for rows.Next() {
		var call CallRow
		var endedAt sql.NullInt64
		if err := rows.Scan(
			&call.ID, &call.CallerID, &call.ReceiverID, &call.Type, &call.Status,
			&call.StartedAtMs, &endedAt, &call.DurationSecs,
		); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			call.EndedAtMs = &endedAt.Int64
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return calls, nil
}
