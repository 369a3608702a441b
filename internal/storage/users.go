package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modemfleet/internal/domain"
)

const userColumns = "id, user_name, password_hash, password_salt, role, is_deleted, create_time, update_time"

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.UserName, &u.PasswordHash, &u.PasswordSalt,
		&u.Role, &u.IsDeleted, &u.CreateTime, &u.UpdateTime)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new account. A duplicate non-deleted user name
// returns ErrConflict.
func (s *SQLStorage) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if u.CreateTime.IsZero() {
		u.CreateTime = now
	}
	u.UpdateTime = now

	_, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.UserName, u.PasswordHash, u.PasswordSalt, u.Role, u.IsDeleted,
		utc(u.CreateTime), utc(u.UpdateTime))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user name %q: %w", u.UserName, ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID returns a non-deleted user.
func (s *SQLStorage) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	row := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(
		`SELECT `+userColumns+` FROM users WHERE id = ? AND is_deleted = FALSE`), id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByName returns a non-deleted user by login name.
func (s *SQLStorage) GetUserByName(ctx context.Context, name string) (*domain.User, error) {
	row := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(
		`SELECT `+userColumns+` FROM users WHERE user_name = ? AND is_deleted = FALSE`), name)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", name, err)
	}
	return u, nil
}

// ListUsers returns non-deleted accounts ordered by name.
func (s *SQLStorage) ListUsers(ctx context.Context, page PageRequest) (domain.Page[domain.User], error) {
	page = page.clamp()
	out := domain.Page[domain.User]{PageNumber: page.Number, PageSize: page.Size, Data: []domain.User{}}

	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE is_deleted = FALSE`).Scan(&out.TotalCount)
	if err != nil {
		return out, fmt.Errorf("count users: %w", err)
	}

	rows, err := s.db.Conn().QueryContext(ctx, s.db.Rebind(
		`SELECT `+userColumns+` FROM users WHERE is_deleted = FALSE
		 ORDER BY user_name LIMIT ? OFFSET ?`), page.Size, page.offset())
	if err != nil {
		return out, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return out, fmt.Errorf("scan user: %w", err)
		}
		out.Data = append(out.Data, *u)
	}
	return out, rows.Err()
}

// UpdateUser rewrites the mutable fields of an account.
func (s *SQLStorage) UpdateUser(ctx context.Context, u *domain.User) error {
	u.UpdateTime = time.Now().UTC()
	res, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`UPDATE users SET user_name = ?, password_hash = ?, password_salt = ?,
		 role = ?, update_time = ? WHERE id = ? AND is_deleted = FALSE`),
		u.UserName, u.PasswordHash, u.PasswordSalt, u.Role, utc(u.UpdateTime), u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user name %q: %w", u.UserName, ErrConflict)
		}
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}
	return requireRow(res)
}

// SoftDeleteUser hides an account from default queries.
func (s *SQLStorage) SoftDeleteUser(ctx context.Context, id string) error {
	res, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`UPDATE users SET is_deleted = TRUE, update_time = ? WHERE id = ? AND is_deleted = FALSE`),
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	return requireRow(res)
}

// requireRow maps zero affected rows to ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation recognizes unique-constraint errors from both drivers
// without importing their error types here.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
