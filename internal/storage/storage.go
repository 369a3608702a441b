// Package storage implements the server-side stores over the shared
// relational database: users, COM allocations, device snapshots, SMS and
// call-hangup records, read receipts, and notes. All list operations apply
// the per-user visibility scope before any query-parameter filter.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/modemfleet/internal/database"
	"github.com/modemfleet/internal/domain"
)

var (
	// ErrNotFound is returned when the addressed row does not exist or
	// is soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on unique-constraint violations, e.g. a
	// duplicate user name.
	ErrConflict = errors.New("conflict")
)

// EventFilter narrows SMS or hangup listings after visibility is applied.
// Zero values mean "no constraint".
type EventFilter struct {
	DeviceID       string
	ComPort        string
	Number         string // contains-match on sender/caller
	StartTime      time.Time
	EndTime        time.Time
	IncludeDeleted bool // honored for admin queries only
}

// PageRequest is a 1-based page selection. Size is clamped to [1, 200].
type PageRequest struct {
	Number int
	Size   int
}

const maxPageSize = 200

func (p PageRequest) clamp() PageRequest {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 1
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

func (p PageRequest) offset() int { return (p.Number - 1) * p.Size }

// Storage is the persistence surface used by the API and the hub.
type Storage interface {
	// Users.
	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByName(ctx context.Context, name string) (*domain.User, error)
	ListUsers(ctx context.Context, page PageRequest) (domain.Page[domain.User], error)
	UpdateUser(ctx context.Context, u *domain.User) error
	SoftDeleteUser(ctx context.Context, id string) error

	// COM allocations.
	CreateAllocation(ctx context.Context, a *domain.ComAllocation) error
	GetAllocation(ctx context.Context, id string) (*domain.ComAllocation, error)
	ListAllocations(ctx context.Context, userID string, page PageRequest) (domain.Page[domain.ComAllocation], error)
	AllocationsForUser(ctx context.Context, userID string) ([]domain.ComAllocation, error)
	UpdateAllocation(ctx context.Context, a *domain.ComAllocation) error
	SoftDeleteAllocation(ctx context.Context, id string) error

	// ScopeFor computes the visibility scope for a user.
	ScopeFor(ctx context.Context, user *domain.User) (Scope, error)

	// Device snapshots.
	UpsertSnapshot(ctx context.Context, deviceID string, ports []domain.PortInfo) (*domain.DeviceComSnapshot, error)
	GetSnapshot(ctx context.Context, deviceID string) (*domain.DeviceComSnapshot, error)
	ListSnapshots(ctx context.Context) ([]domain.DeviceComSnapshot, error)

	// SMS records.
	InsertSms(ctx context.Context, m *domain.SmsMessage) error
	ListSms(ctx context.Context, userID string, scope Scope, f EventFilter, page PageRequest) (domain.Page[domain.SmsMessage], error)
	SoftDeleteSms(ctx context.Context, id string) error
	HardDeleteSms(ctx context.Context, id string) error

	// Call-hangup records.
	InsertHangup(ctx context.Context, h *domain.CallHangupRecord) error
	ListHangups(ctx context.Context, userID string, scope Scope, f EventFilter, page PageRequest) (domain.Page[domain.CallHangupRecord], error)
	SoftDeleteHangup(ctx context.Context, id string) error
	HardDeleteHangup(ctx context.Context, id string) error

	// Read receipts.
	MarkRead(ctx context.Context, userID string, mt domain.MessageType, sourceID string) error
	MarkAllRead(ctx context.Context, userID string, mt domain.MessageType, scope Scope, f EventFilter) (int, error)
	UnreadCounts(ctx context.Context, userID string, scope Scope) (domain.UnreadCounts, error)

	// Notes.
	CreateNote(ctx context.Context, n *domain.Note) error
	GetNote(ctx context.Context, userID, id string) (*domain.Note, error)
	ListNotes(ctx context.Context, userID string, page PageRequest) (domain.Page[domain.Note], error)
	UpdateNote(ctx context.Context, n *domain.Note) error
	SoftDeleteNote(ctx context.Context, userID, id string) error
}

// SQLStorage implements Storage over database/sql.
type SQLStorage struct {
	db *database.DB
}

// New creates the SQL-backed storage.
func New(db *database.DB) *SQLStorage {
	return &SQLStorage{db: db}
}

var _ Storage = (*SQLStorage)(nil)
