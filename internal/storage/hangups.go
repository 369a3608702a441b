package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/modemfleet/internal/domain"
)

const hangupColumns = "id, device_id, com_port, caller_number, hangup_time, reason, raw_line, is_deleted"

// InsertHangup persists a call-hangup record.
func (s *SQLStorage) InsertHangup(ctx context.Context, h *domain.CallHangupRecord) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.HangupTime.IsZero() {
		h.HangupTime = time.Now().UTC()
	}
	if h.Reason == "" {
		h.Reason = domain.HangupUnknown
	}
	_, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`INSERT INTO call_hangups (`+hangupColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		h.ID, h.DeviceID, h.ComPort, h.CallerNumber, utc(h.HangupTime),
		h.Reason, h.RawLine, h.IsDeleted)
	if err != nil {
		return fmt.Errorf("insert hangup: %w", err)
	}
	return nil
}

// ListHangups pages hangup records visible under the scope, newest first,
// with isRead enrichment.
func (s *SQLStorage) ListHangups(ctx context.Context, userID string, scope Scope, f EventFilter, page PageRequest) (domain.Page[domain.CallHangupRecord], error) {
	page = page.clamp()
	out := domain.Page[domain.CallHangupRecord]{PageNumber: page.Number, PageSize: page.Size, Data: []domain.CallHangupRecord{}}
	if scope.Empty() {
		return out, nil
	}

	var c condSet
	if !scope.Admin || !f.IncludeDeleted {
		c.add("is_deleted = FALSE")
	}
	c.addScope(scope)
	c.addEventFilter(f, "caller_number", "hangup_time")

	err := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(
		`SELECT COUNT(*) FROM call_hangups`+c.where()), c.args...).Scan(&out.TotalCount)
	if err != nil {
		return out, fmt.Errorf("count hangups: %w", err)
	}

	args := append(append([]any{}, c.args...), page.Size, page.offset())
	rows, err := s.db.Conn().QueryContext(ctx, s.db.Rebind(
		`SELECT `+hangupColumns+` FROM call_hangups`+c.where()+
			` ORDER BY hangup_time DESC LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return out, fmt.Errorf("list hangups: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var h domain.CallHangupRecord
		err := rows.Scan(&h.ID, &h.DeviceID, &h.ComPort, &h.CallerNumber,
			&h.HangupTime, &h.Reason, &h.RawLine, &h.IsDeleted)
		if err != nil {
			return out, fmt.Errorf("scan hangup: %w", err)
		}
		out.Data = append(out.Data, h)
		ids = append(ids, h.ID)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	read, err := s.receiptSet(ctx, userID, domain.MessageTypeHangup, ids)
	if err != nil {
		return out, err
	}
	for i := range out.Data {
		out.Data[i].IsRead = read[out.Data[i].ID]
	}
	return out, nil
}

// SoftDeleteHangup hides a record from default queries.
func (s *SQLStorage) SoftDeleteHangup(ctx context.Context, id string) error {
	res, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`UPDATE call_hangups SET is_deleted = TRUE WHERE id = ? AND is_deleted = FALSE`), id)
	if err != nil {
		return fmt.Errorf("delete hangup %s: %w", id, err)
	}
	return requireRow(res)
}

// HardDeleteHangup removes a record permanently.
func (s *SQLStorage) HardDeleteHangup(ctx context.Context, id string) error {
	res, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`DELETE FROM call_hangups WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("hard delete hangup %s: %w", id, err)
	}
	return requireRow(res)
}
