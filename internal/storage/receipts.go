package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modemfleet/internal/domain"
)

// MarkRead inserts a read receipt. Re-marking an already-read message is a
// silent success; the unique key keeps exactly one row.
func (s *SQLStorage) MarkRead(ctx context.Context, userID string, mt domain.MessageType, sourceID string) error {
	_, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`INSERT INTO message_read_receipts (id, user_id, message_type, source_id, read_time_utc)
		 VALUES (?, ?, ?, ?, ?)`),
		uuid.NewString(), userID, mt, sourceID, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// MarkAllRead bulk-inserts receipts for every visible, not-yet-read row of
// the given type, optionally constrained to a device and port. Returns the
// number of rows marked.
func (s *SQLStorage) MarkAllRead(ctx context.Context, userID string, mt domain.MessageType, scope Scope, f EventFilter) (int, error) {
	if scope.Empty() {
		return 0, nil
	}

	table := "sms_messages"
	if mt == domain.MessageTypeHangup {
		table = "call_hangups"
	}

	var c condSet
	c.add("is_deleted = FALSE")
	c.addScope(scope)
	if f.DeviceID != "" {
		c.add("UPPER(TRIM(device_id)) = ?", Normalize(f.DeviceID))
	}
	if f.ComPort != "" {
		c.add("UPPER(TRIM(com_port)) = ?", Normalize(f.ComPort))
	}
	c.add(`id NOT IN (SELECT source_id FROM message_read_receipts
		WHERE user_id = ? AND message_type = ?)`, userID, mt)

	rows, err := s.db.Conn().QueryContext(ctx, s.db.Rebind(
		`SELECT id FROM `+table+c.where()), c.args...)
	if err != nil {
		return 0, fmt.Errorf("select unread %s: %w", mt, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan unread id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin mark-all-read: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.db.Rebind(
		`INSERT INTO message_read_receipts (id, user_id, message_type, source_id, read_time_utc)
		 VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		return 0, fmt.Errorf("prepare receipt insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	marked := 0
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), userID, mt, id, now); err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return 0, fmt.Errorf("insert receipt for %s: %w", id, err)
		}
		marked++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit mark-all-read: %w", err)
	}
	return marked, nil
}

// UnreadCounts computes visible-minus-read per message type.
func (s *SQLStorage) UnreadCounts(ctx context.Context, userID string, scope Scope) (domain.UnreadCounts, error) {
	var counts domain.UnreadCounts
	if scope.Empty() {
		return counts, nil
	}

	count := func(table string, mt domain.MessageType) (int, error) {
		var c condSet
		c.add("is_deleted = FALSE")
		c.addScope(scope)
		c.add(`id NOT IN (SELECT source_id FROM message_read_receipts
			WHERE user_id = ? AND message_type = ?)`, userID, mt)
		var n int
		err := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(
			`SELECT COUNT(*) FROM `+table+c.where()), c.args...).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("count unread %s: %w", mt, err)
		}
		return n, nil
	}

	var err error
	if counts.Sms, err = count("sms_messages", domain.MessageTypeSms); err != nil {
		return counts, err
	}
	if counts.Hangup, err = count("call_hangups", domain.MessageTypeHangup); err != nil {
		return counts, err
	}
	return counts, nil
}

// receiptSet returns which of the given source ids the user has read.
// Fetched once per page so listings stay one query per enrichment.
func (s *SQLStorage) receiptSet(ctx context.Context, userID string, mt domain.MessageType, ids []string) (map[string]bool, error) {
	read := make(map[string]bool, len(ids))
	if userID == "" || len(ids) == 0 {
		return read, nil
	}

	ph := make([]string, len(ids))
	args := []any{userID, mt}
	for i, id := range ids {
		ph[i] = "?"
		args = append(args, id)
	}
	rows, err := s.db.Conn().QueryContext(ctx, s.db.Rebind(
		`SELECT source_id FROM message_read_receipts
		 WHERE user_id = ? AND message_type = ? AND source_id IN (`+strings.Join(ph, ",")+`)`),
		args...)
	if err != nil {
		return nil, fmt.Errorf("fetch receipts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		read[id] = true
	}
	return read, rows.Err()
}
