package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/modemfleet/internal/domain"
)

const allocationColumns = "id, user_id, device_id, com_ports, is_deleted, create_time, update_time"

func scanAllocation(row interface{ Scan(...any) error }) (*domain.ComAllocation, error) {
	var a domain.ComAllocation
	var portsJSON string
	err := row.Scan(&a.ID, &a.UserID, &a.DeviceID, &portsJSON,
		&a.IsDeleted, &a.CreateTime, &a.UpdateTime)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(portsJSON), &a.ComPorts); err != nil {
		return nil, fmt.Errorf("decode com_ports for allocation %s: %w", a.ID, err)
	}
	return &a, nil
}

// CreateAllocation grants a user access to ports of a device.
func (s *SQLStorage) CreateAllocation(ctx context.Context, a *domain.ComAllocation) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if a.CreateTime.IsZero() {
		a.CreateTime = now
	}
	a.UpdateTime = now

	ports, err := json.Marshal(a.ComPorts)
	if err != nil {
		return fmt.Errorf("encode com_ports: %w", err)
	}
	_, err = s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`INSERT INTO com_allocations (`+allocationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.UserID, a.DeviceID, string(ports), a.IsDeleted,
		utc(a.CreateTime), utc(a.UpdateTime))
	if err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

// GetAllocation returns a non-deleted allocation.
func (s *SQLStorage) GetAllocation(ctx context.Context, id string) (*domain.ComAllocation, error) {
	row := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(
		`SELECT `+allocationColumns+` FROM com_allocations WHERE id = ? AND is_deleted = FALSE`), id)
	a, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get allocation %s: %w", id, err)
	}
	return a, nil
}

// ListAllocations pages the non-deleted allocations, optionally restricted
// to one user.
func (s *SQLStorage) ListAllocations(ctx context.Context, userID string, page PageRequest) (domain.Page[domain.ComAllocation], error) {
	page = page.clamp()
	out := domain.Page[domain.ComAllocation]{PageNumber: page.Number, PageSize: page.Size, Data: []domain.ComAllocation{}}

	var c condSet
	c.add("is_deleted = FALSE")
	if userID != "" {
		c.add("user_id = ?", userID)
	}

	err := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(
		`SELECT COUNT(*) FROM com_allocations`+c.where()), c.args...).Scan(&out.TotalCount)
	if err != nil {
		return out, fmt.Errorf("count allocations: %w", err)
	}

	args := append(append([]any{}, c.args...), page.Size, page.offset())
	rows, err := s.db.Conn().QueryContext(ctx, s.db.Rebind(
		`SELECT `+allocationColumns+` FROM com_allocations`+c.where()+
			` ORDER BY create_time DESC LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return out, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return out, fmt.Errorf("scan allocation: %w", err)
		}
		out.Data = append(out.Data, *a)
	}
	return out, rows.Err()
}

// AllocationsForUser returns every non-deleted allocation of one user,
// unpaged, for scope building.
func (s *SQLStorage) AllocationsForUser(ctx context.Context, userID string) ([]domain.ComAllocation, error) {
	rows, err := s.db.Conn().QueryContext(ctx, s.db.Rebind(
		`SELECT `+allocationColumns+` FROM com_allocations
		 WHERE user_id = ? AND is_deleted = FALSE`), userID)
	if err != nil {
		return nil, fmt.Errorf("allocations for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.ComAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateAllocation rewrites the device and port set of an allocation.
func (s *SQLStorage) UpdateAllocation(ctx context.Context, a *domain.ComAllocation) error {
	a.UpdateTime = time.Now().UTC()
	ports, err := json.Marshal(a.ComPorts)
	if err != nil {
		return fmt.Errorf("encode com_ports: %w", err)
	}
	res, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`UPDATE com_allocations SET user_id = ?, device_id = ?, com_ports = ?, update_time = ?
		 WHERE id = ? AND is_deleted = FALSE`),
		a.UserID, a.DeviceID, string(ports), utc(a.UpdateTime), a.ID)
	if err != nil {
		return fmt.Errorf("update allocation %s: %w", a.ID, err)
	}
	return requireRow(res)
}

// SoftDeleteAllocation hides an allocation; the user's scope shrinks on the
// next query.
func (s *SQLStorage) SoftDeleteAllocation(ctx context.Context, id string) error {
	res, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`UPDATE com_allocations SET is_deleted = TRUE, update_time = ?
		 WHERE id = ? AND is_deleted = FALSE`),
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("delete allocation %s: %w", id, err)
	}
	return requireRow(res)
}
