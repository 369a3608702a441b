package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/modemfleet/internal/domain"
)

const noteColumns = "id, user_id, title, content, is_deleted, create_time, update_time"

func scanNote(row interface{ Scan(...any) error }) (*domain.Note, error) {
	var n domain.Note
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Content,
		&n.IsDeleted, &n.CreateTime, &n.UpdateTime)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// CreateNote inserts a note owned by a user.
func (s *SQLStorage) CreateNote(ctx context.Context, n *domain.Note) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if n.CreateTime.IsZero() {
		n.CreateTime = now
	}
	n.UpdateTime = now

	_, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`INSERT INTO notes (`+noteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.UserID, n.Title, n.Content, n.IsDeleted,
		utc(n.CreateTime), utc(n.UpdateTime))
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// GetNote returns a non-deleted note. Ownership is enforced here: a note of
// another user is a not-found, never a forbidden leak.
func (s *SQLStorage) GetNote(ctx context.Context, userID, id string) (*domain.Note, error) {
	row := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(
		`SELECT `+noteColumns+` FROM notes
		 WHERE id = ? AND user_id = ? AND is_deleted = FALSE`), id, userID)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get note %s: %w", id, err)
	}
	return n, nil
}

// ListNotes pages a user's notes, most recently updated first.
func (s *SQLStorage) ListNotes(ctx context.Context, userID string, page PageRequest) (domain.Page[domain.Note], error) {
	page = page.clamp()
	out := domain.Page[domain.Note]{PageNumber: page.Number, PageSize: page.Size, Data: []domain.Note{}}

	err := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(
		`SELECT COUNT(*) FROM notes WHERE user_id = ? AND is_deleted = FALSE`),
		userID).Scan(&out.TotalCount)
	if err != nil {
		return out, fmt.Errorf("count notes: %w", err)
	}

	rows, err := s.db.Conn().QueryContext(ctx, s.db.Rebind(
		`SELECT `+noteColumns+` FROM notes WHERE user_id = ? AND is_deleted = FALSE
		 ORDER BY update_time DESC LIMIT ? OFFSET ?`),
		userID, page.Size, page.offset())
	if err != nil {
		return out, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return out, fmt.Errorf("scan note: %w", err)
		}
		out.Data = append(out.Data, *n)
	}
	return out, rows.Err()
}

// UpdateNote rewrites a note's title and content.
func (s *SQLStorage) UpdateNote(ctx context.Context, n *domain.Note) error {
	n.UpdateTime = time.Now().UTC()
	res, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`UPDATE notes SET title = ?, content = ?, update_time = ?
		 WHERE id = ? AND user_id = ? AND is_deleted = FALSE`),
		n.Title, n.Content, utc(n.UpdateTime), n.ID, n.UserID)
	if err != nil {
		return fmt.Errorf("update note %s: %w", n.ID, err)
	}
	return requireRow(res)
}

// SoftDeleteNote hides a note.
func (s *SQLStorage) SoftDeleteNote(ctx context.Context, userID, id string) error {
	res, err := s.db.Conn().ExecContext(ctx, s.db.Rebind(
		`UPDATE notes SET is_deleted = TRUE, update_time = ?
		 WHERE id = ? AND user_id = ? AND is_deleted = FALSE`),
		time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("delete note %s: %w", id, err)
	}
	return requireRow(res)
}
