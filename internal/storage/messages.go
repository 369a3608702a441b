package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/modemfleet/internal/domain"
)

const smsColumns = "id, device_id, com_port, sender_number, message_content, received_time, sms_timestamp, operator, is_deleted"

// InsertSms persists a received message.
func (s *SQLStorage) InsertSms(ctx context.Context, m *domain.SmsMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ReceivedTime.IsZero() {
		m.ReceivedTime = time.Now().UTC()
	}
	_, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`INSERT INTO sms_messages (`+smsColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.DeviceID, m.ComPort, m.SenderNumber, m.MessageContent,
		utc(m.ReceivedTime), m.SmsTimestamp, m.Operator, m.IsDeleted)
	if err != nil {
		return fmt.Errorf("insert sms: %w", err)
	}
	return nil
}

// ListSms pages messages visible under the scope, newest first, with
// isRead enrichment for the requesting user.
func (s *SQLStorage) ListSms(ctx context.Context, userID string, scope Scope, f EventFilter, page PageRequest) (domain.Page[domain.SmsMessage], error) {
	page = page.clamp()
	out := domain.Page[domain.SmsMessage]{PageNumber: page.Number, PageSize: page.Size, Data: []domain.SmsMessage{}}
	if scope.Empty() {
		return out, nil
	}

	var c condSet
	if !scope.Admin || !f.IncludeDeleted {
		c.add("is_deleted = FALSE")
	}
	c.addScope(scope)
	c.addEventFilter(f, "sender_number", "received_time")

	err := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(
		`SELECT COUNT(*) FROM sms_messages`+c.where()), c.args...).Scan(&out.TotalCount)
	if err != nil {
		return out, fmt.Errorf("count sms: %w", err)
	}

	args := append(append([]any{}, c.args...), page.Size, page.offset())
	rows, err := s.db.Conn().QueryContext(ctx, s.db.Rebind(
		`SELECT `+smsColumns+` FROM sms_messages`+c.where()+
			` ORDER BY received_time DESC LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return out, fmt.Errorf("list sms: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var m domain.SmsMessage
		err := rows.Scan(&m.ID, &m.DeviceID, &m.ComPort, &m.SenderNumber,
			&m.MessageContent, &m.ReceivedTime, &m.SmsTimestamp, &m.Operator, &m.IsDeleted)
		if err != nil {
			return out, fmt.Errorf("scan sms: %w", err)
		}
		out.Data = append(out.Data, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	read, err := s.receiptSet(ctx, userID, domain.MessageTypeSms, ids)
	if err != nil {
		return out, err
	}
	for i := range out.Data {
		out.Data[i].IsRead = read[out.Data[i].ID]
	}
	return out, nil
}

// SoftDeleteSms hides a message from default queries.
func (s *SQLStorage) SoftDeleteSms(ctx context.Context, id string) error {
	res, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`UPDATE sms_messages SET is_deleted = TRUE WHERE id = ? AND is_deleted = FALSE`), id)
	if err != nil {
		return fmt.Errorf("delete sms %s: %w", id, err)
	}
	return requireRow(res)
}

// HardDeleteSms removes a message row permanently.
func (s *SQLStorage) HardDeleteSms(ctx context.Context, id string) error {
	res, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`DELETE FROM sms_messages WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("hard delete sms %s: %w", id, err)
	}
	return requireRow(res)
}
