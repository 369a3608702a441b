package storage

import (
	"context"
	"strings"

	"github.com/modemfleet/internal/domain"
)

// Scope is the visibility envelope computed from a user's allocations.
// Event rows are visible when their normalized deviceId is in DeviceIDs and
// their normalized comPort is in ComPorts. Admin scopes bypass both sets.
type Scope struct {
	Admin     bool
	DeviceIDs []string
	ComPorts  []string
}

// AdminScope sees every non-deleted row.
func AdminScope() Scope { return Scope{Admin: true} }

// Empty reports whether the scope can never match a row. Unknown users and
// users without allocations get an empty page, not an error.
func (s Scope) Empty() bool {
	return !s.Admin && (len(s.DeviceIDs) == 0 || len(s.ComPorts) == 0)
}

// Normalize maps a device id or port name to its comparison form.
func Normalize(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

// BuildScope computes the scope from a user's non-deleted allocations.
func BuildScope(user *domain.User, allocs []domain.ComAllocation) Scope {
	if user != nil && user.IsAdmin() {
		return AdminScope()
	}

	deviceSet := make(map[string]struct{})
	portSet := make(map[string]struct{})
	var devices, ports []string
	for _, a := range allocs {
		if a.IsDeleted {
			continue
		}
		if d := Normalize(a.DeviceID); d != "" {
			if _, ok := deviceSet[d]; !ok {
				deviceSet[d] = struct{}{}
				devices = append(devices, d)
			}
		}
		for _, p := range a.ComPorts {
			if p = Normalize(p); p != "" {
				if _, ok := portSet[p]; !ok {
					portSet[p] = struct{}{}
					ports = append(ports, p)
				}
			}
		}
	}
	return Scope{DeviceIDs: devices, ComPorts: ports}
}

// ScopeFor loads the user's allocations and builds the visibility scope.
func (s *SQLStorage) ScopeFor(ctx context.Context, user *domain.User) (Scope, error) {
	if user == nil {
		return Scope{}, nil
	}
	if user.IsAdmin() {
		return AdminScope(), nil
	}
	allocs, err := s.AllocationsForUser(ctx, user.ID)
	if err != nil {
		return Scope{}, err
	}
	return BuildScope(user, allocs), nil
}
